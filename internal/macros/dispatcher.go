// Package macros runs the ?commands helpers type into question threads.
package macros

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/transcript"
)

// Lifecycle is the part of the ticket service macros call back into.
type Lifecycle interface {
	Resolve(ctx context.Context, questionKey, resolverChatID string, opts service.ResolveOptions) service.ResolveOutcome
	Reopen(ctx context.Context, ticket *domain.Ticket, helper *domain.User) error
	ReplyToTicket(ctx context.Context, ticket *domain.Ticket, text string) error
	DeleteThreadBotReplies(ctx context.Context, ticket *domain.Ticket) (int, error)
	Transcript() *transcript.Transcript
}

// Invocation is one macro call.
type Invocation struct {
	Ticket *domain.Ticket
	Helper *domain.User
	Text   string
}

// Macro is a registry entry. Macros refuse CLOSED tickets unless
// CanRunOnClosed is set.
type Macro struct {
	Name           string
	Aliases        []string
	CanRunOnClosed bool
	Run            func(ctx context.Context, d *Dispatcher, inv Invocation) error
}

func (m Macro) matches(name string) bool {
	if strings.EqualFold(m.Name, name) {
		return true
	}
	for _, alias := range m.Aliases {
		if strings.EqualFold(alias, name) {
			return true
		}
	}
	return false
}

// Dispatcher resolves macro names against the registry and runs them.
type Dispatcher struct {
	lifecycle  Lifecycle
	users      repository.UserRepository
	gateway    chat.Gateway
	notifier   service.Heartbeater
	dispatcher events.Dispatcher
	slack      config.SlackConfig
	registry   []Macro
	logger     *zap.Logger
}

// Dependencies bundles collaborators for the dispatcher.
type Dependencies struct {
	Lifecycle  Lifecycle
	UserRepo   repository.UserRepository
	Gateway    chat.Gateway
	Notifier   service.Heartbeater
	Dispatcher events.Dispatcher
	Slack      config.SlackConfig
	// Registry overrides the built-in macros.
	Registry []Macro
	Logger   *zap.Logger
}

// NewDispatcher constructs a dispatcher over the built-in macros.
func NewDispatcher(deps Dependencies) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := deps.Registry
	if registry == nil {
		registry = Builtins()
	}
	return &Dispatcher{
		lifecycle:  deps.Lifecycle,
		users:      deps.UserRepo,
		gateway:    deps.Gateway,
		notifier:   deps.Notifier,
		dispatcher: deps.Dispatcher,
		slack:      deps.Slack,
		registry:   registry,
		logger:     logger,
	}
}

// Lookup finds a macro by name or alias, ignoring case.
func (d *Dispatcher) Lookup(name string) (Macro, bool) {
	for _, m := range d.registry {
		if m.matches(name) {
			return m, true
		}
	}
	return Macro{}, false
}

// Run executes the macro called name on ticket. Once the macro succeeds the
// helper's trigger message is deleted with the user token. Unknown names are
// answered with an ephemeral notice and reported to operators.
func (d *Dispatcher) Run(ctx context.Context, name string, ticket *domain.Ticket, helper *domain.User, text, triggerKey string) error {
	logger := d.logger.With(
		zap.String("macro", name),
		zap.Int64("ticket_id", ticket.ID),
		zap.String("user", helper.ChatUserID))

	macro, ok := d.Lookup(name)
	if !ok {
		logger.Info("unknown macro")
		if err := d.gateway.PostEphemeral(ctx, d.slack.HelpChannel, helper.ChatUserID, ticket.QuestionMessageKey,
			fmt.Sprintf("`?%s` is not a valid macro.", name)); err != nil {
			logger.Warn("failed to send unknown macro notice", zap.Error(err))
		}
		if d.notifier != nil {
			d.notifier.Heartbeat(ctx, fmt.Sprintf("Macro %s not found from <@%s>.", name, helper.ChatUserID),
				fmt.Sprintf("Ticket ID: %d", ticket.ID),
				fmt.Sprintf("Helper ID: %d", helper.ID))
		}
		return nil
	}

	if ticket.IsClosed() && !macro.CanRunOnClosed {
		logger.Info("macro cannot run on a closed ticket")
		return nil
	}

	if err := macro.Run(ctx, d, Invocation{Ticket: ticket, Helper: helper, Text: text}); err != nil {
		return fmt.Errorf("macro %s: %w", macro.Name, err)
	}

	if triggerKey != "" {
		if err := d.gateway.DeleteMessageAsUser(ctx, d.slack.HelpChannel, triggerKey); err != nil && !chat.IsNotFound(err) {
			logger.Warn("failed to delete macro trigger", zap.String("key", triggerKey), zap.Error(err))
		}
	}

	logger.Info("macro ran")
	if d.dispatcher != nil {
		event := events.New(events.EventMacroRun, ticket.ID,
			events.Actor{UserID: helper.ID, ChatUserID: helper.ChatUserID},
			events.MacroRunPayload{Name: macro.Name})
		if err := d.dispatcher.Publish(ctx, event); err != nil {
			logger.Warn("failed to publish macro event", zap.Error(err))
		}
	}
	return nil
}

var _ service.MacroRunner = (*Dispatcher)(nil)
