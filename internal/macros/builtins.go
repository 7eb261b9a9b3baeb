package macros

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/transcript"
)

// fallbackName is used when no profile name can be found.
const fallbackName = "there"

// Builtins returns the default registry in dispatch order.
func Builtins() []Macro {
	// The templated macros already tell the asker the thread is resolved.
	quiet := service.ResolveOptions{AddReaction: true}
	return []Macro{
		{Name: "resolve", Aliases: []string{"close"}, Run: resolveMacro},
		{Name: "hii", Run: helloMacro},
		templated("faq", func(t *transcript.Transcript) string { return t.FAQMacro }, quiet),
		templated("identity", func(t *transcript.Transcript) string { return t.IdentityMacro }, quiet),
		templated("fraud", func(t *transcript.Transcript) string { return t.FraudMacro }, service.DefaultResolveOptions()),
		templated("shipcertqueue", func(t *transcript.Transcript) string { return t.ShipCertQueueMacro }, service.DefaultResolveOptions()),
		templated("banned", func(t *transcript.Transcript) string { return t.BannedMacro }, quiet),
		{Name: "thread", Run: threadMacro},
		{Name: "reopen", CanRunOnClosed: true, Run: reopenMacro},
	}
}

func resolveMacro(ctx context.Context, d *Dispatcher, inv Invocation) error {
	d.lifecycle.Resolve(ctx, inv.Ticket.QuestionMessageKey, inv.Helper.ChatUserID, service.DefaultResolveOptions())
	return nil
}

func reopenMacro(ctx context.Context, d *Dispatcher, inv Invocation) error {
	return d.lifecycle.Reopen(ctx, inv.Ticket, inv.Helper)
}

// threadMacro clears the bot's replies from a duplicate question and closes
// it without announcing anything.
func threadMacro(ctx context.Context, d *Dispatcher, inv Invocation) error {
	removed, err := d.lifecycle.DeleteThreadBotReplies(ctx, inv.Ticket)
	if err != nil {
		return err
	}
	d.logger.Debug("removed bot replies", zap.Int64("ticket_id", inv.Ticket.ID), zap.Int("count", removed))
	d.lifecycle.Resolve(ctx, inv.Ticket.QuestionMessageKey, inv.Helper.ChatUserID, service.ResolveOptions{})
	return nil
}

func helloMacro(ctx context.Context, d *Dispatcher, inv Invocation) error {
	tr := d.lifecycle.Transcript()
	if tr.HelloMacro == "" {
		return nil
	}
	name := d.profileName(ctx, inv.Helper.ChatUserID)
	return d.lifecycle.ReplyToTicket(ctx, inv.Ticket, tr.Render(tr.HelloMacro, transcript.Params{
		UserName:    name,
		UserID:      inv.Helper.ChatUserID,
		HelpChannel: d.slack.HelpChannel,
	}))
}

// templated builds a macro that greets the asker with a canned reply and
// resolves the ticket with opts. An empty template disables it.
func templated(name string, template func(*transcript.Transcript) string, opts service.ResolveOptions) Macro {
	return Macro{
		Name: name,
		Run: func(ctx context.Context, d *Dispatcher, inv Invocation) error {
			tr := d.lifecycle.Transcript()
			text := template(tr)
			if text == "" {
				d.logger.Info("macro has no template for this program", zap.String("macro", name))
				return nil
			}

			opener, err := d.users.GetByID(ctx, inv.Ticket.OpenedByID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) && d.notifier != nil {
					d.notifier.Heartbeat(ctx, fmt.Sprintf("Macro %s skipped ticket %d: its author is not in the database.", name, inv.Ticket.ID),
						fmt.Sprintf("Ticket ID: %d", inv.Ticket.ID),
						"Question TS: "+inv.Ticket.QuestionMessageKey)
				}
				return fmt.Errorf("load ticket opener: %w", err)
			}

			reply := tr.Render(text, transcript.Params{
				UserName:    d.profileName(ctx, opener.ChatUserID),
				UserID:      opener.ChatUserID,
				HelperID:    inv.Helper.ChatUserID,
				HelpChannel: d.slack.HelpChannel,
			})
			if err := d.lifecycle.ReplyToTicket(ctx, inv.Ticket, reply); err != nil {
				return err
			}
			d.lifecycle.Resolve(ctx, inv.Ticket.QuestionMessageKey, inv.Helper.ChatUserID, opts)
			return nil
		},
	}
}

func (d *Dispatcher) profileName(ctx context.Context, chatUserID string) string {
	profile, err := d.gateway.UserProfile(ctx, chatUserID)
	if err != nil {
		if !chat.IsNotFound(err) {
			d.logger.Warn("failed to load profile", zap.String("user", chatUserID), zap.Error(err))
		}
		return fallbackName
	}
	return profile.Name(fallbackName)
}
