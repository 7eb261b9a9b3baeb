package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/titlegen"
	"github.com/spec-kit/helpdesk/internal/transcript"
)

// Message subtypes that still count as user messages.
const (
	SubtypeFileShare       = "file_share"
	SubtypeMeMessage       = "me_message"
	SubtypeThreadBroadcast = "thread_broadcast"
)

var allowedSubtypes = map[string]bool{
	SubtypeFileShare:       true,
	SubtypeMeMessage:       true,
	SubtypeThreadBroadcast: true,
}

// threadReplyLimit bounds how many replies are read from one thread.
const threadReplyLimit = 1000

// TitleGenerator summarises a question into a ticket title. It must not fail.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, text string) string
}

// Heartbeater receives operator notifications.
type Heartbeater interface {
	Heartbeat(ctx context.Context, summary string, details ...string)
}

// ThreadQueue defers deletion of whole backend threads.
type ThreadQueue interface {
	EnqueueThreadDeletion(ctx context.Context, item persistence.ThreadDeletion) error
}

// MacroRunner executes a helper macro typed into a ticket thread.
type MacroRunner interface {
	Run(ctx context.Context, name string, ticket *domain.Ticket, helper *domain.User, text, triggerKey string) error
}

// MessageEvent is a message posted in a channel the bot listens to.
type MessageEvent struct {
	Channel   string
	User      string
	Text      string
	Key       string
	ThreadKey string
	Subtype   string
	BotID     string
}

// TicketService drives the ticket lifecycle in response to chat activity.
type TicketService struct {
	tickets     repository.TicketRepository
	users       repository.UserRepository
	botMessages repository.BotMessageRepository
	gateway     chat.Gateway
	titles      TitleGenerator
	notifier    Heartbeater
	queue       ThreadQueue
	dispatcher  events.Dispatcher
	transcript  *transcript.Transcript
	caps        *Capabilities
	slack       config.SlackConfig
	policy      config.PolicyConfig
	logger      *zap.Logger
	mirror      mirrorRenderer
	macros      MacroRunner
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo     repository.TicketRepository
	UserRepo       repository.UserRepository
	BotMessageRepo repository.BotMessageRepository
	TagRepo        repository.TagRepository
	Gateway        chat.Gateway
	Titles         TitleGenerator
	Notifier       Heartbeater
	Queue          ThreadQueue
	Dispatcher     events.Dispatcher
	Transcript     *transcript.Transcript
	Capabilities   *Capabilities
	Slack          config.SlackConfig
	Policy         config.PolicyConfig
	Logger         *zap.Logger
	Clock          func() time.Time
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = logHeartbeat{logger: logger}
	}
	caps := deps.Capabilities
	if caps == nil {
		caps = &Capabilities{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	tr := deps.Transcript
	if tr == nil {
		tr, _ = transcript.Load("default", "")
	}

	return &TicketService{
		tickets:     deps.TicketRepo,
		users:       deps.UserRepo,
		botMessages: deps.BotMessageRepo,
		gateway:     deps.Gateway,
		titles:      deps.Titles,
		notifier:    notifier,
		queue:       deps.Queue,
		dispatcher:  deps.Dispatcher,
		transcript:  tr,
		caps:        caps,
		slack:       deps.Slack,
		policy:      deps.Policy,
		logger:      logger,
		mirror: mirrorRenderer{
			tickets: deps.TicketRepo,
			users:   deps.UserRepo,
			tags:    deps.TagRepo,
			slack:   deps.Slack,
		},
		now:   clock,
		sleep: sleepContext,
	}
}

// SetMacroRunner installs the macro dispatcher. Macros call back into the
// service, so they are wired after construction.
func (s *TicketService) SetMacroRunner(m MacroRunner) {
	s.macros = m
}

// Transcript returns the copy the service posts with.
func (s *TicketService) Transcript() *transcript.Transcript {
	return s.transcript
}

// HandleMessage routes a help channel message: top level messages open
// tickets, thread replies update the ticket they belong to.
func (s *TicketService) HandleMessage(ctx context.Context, ev MessageEvent) error {
	if ev.Subtype != "" && !allowedSubtypes[ev.Subtype] {
		return nil
	}
	if ev.BotID != "" {
		s.logger.Debug("ignoring bot message", zap.String("bot_id", ev.BotID))
		return nil
	}
	if ev.Channel != s.slack.HelpChannel || ev.User == "" {
		return nil
	}

	user, err := s.users.GetByChatID(ctx, ev.User)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("lookup message author: %w", err)
		}
		user = nil
	}

	if ev.Subtype == SubtypeThreadBroadcast && !(user != nil && user.Helper) {
		s.moderateBroadcast(ctx, ev)
	}

	if ev.ThreadKey != "" {
		return s.handleThreadReply(ctx, ev, user)
	}
	return s.openTicket(ctx, ev, user)
}

// moderateBroadcast removes a non-helper's "also send to channel" copy and
// tells them why.
func (s *TicketService) moderateBroadcast(ctx context.Context, ev MessageEvent) {
	if err := s.gateway.DeleteMessageAsUser(ctx, ev.Channel, ev.Key); err != nil && !chat.IsNotFound(err) {
		s.logger.Warn("failed to delete thread broadcast", zap.String("key", ev.Key), zap.Error(err))
	}
	threadKey := ev.ThreadKey
	if threadKey == "" {
		threadKey = ev.Key
	}
	if err := s.gateway.PostEphemeral(ctx, ev.Channel, ev.User, threadKey, s.transcript.ThreadBroadcastDelete); err != nil {
		s.logger.Warn("failed to explain broadcast removal", zap.String("user", ev.User), zap.Error(err))
	}
}

func (s *TicketService) handleThreadReply(ctx context.Context, ev MessageEvent, user *domain.User) error {
	ticket, err := s.tickets.GetByQuestionKey(ctx, ev.ThreadKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	if user != nil && user.Helper && s.macros != nil {
		if name, ok := macroName(ev.Text); ok {
			return s.macros.Run(ctx, name, ticket, user, ev.Text, ev.Key)
		}
	}

	now := s.now()
	participant := domain.ParticipantOther
	switch {
	case user != nil && user.ID == ticket.OpenedByID:
		participant = domain.ParticipantAuthor
	case user != nil && user.Helper:
		participant = domain.ParticipantHelper
	}
	if _, err := s.tickets.Update(ctx, ticket.ID, repository.TicketPatch{
		LastMessageAt: &now,
		LastMessageBy: &participant,
	}); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("record thread activity: %w", err)
	}

	if user == nil || !user.Helper || ticket.IsClosed() {
		return nil
	}

	inProgress := domain.TicketStatusInProgress
	closed := domain.TicketStatusClosed
	updated, err := s.tickets.Update(ctx, ticket.ID, repository.TicketPatch{
		Status:            &inProgress,
		AssignedToID:      &user.ID,
		AssignedAtIfUnset: &now,
		RequireNotStatus:  &closed,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("assign ticket: %w", err)
	}

	s.publish(ctx, events.New(events.EventTicketAssigned, updated.ID, actorOf(user), events.TicketAssignedPayload{
		HelperID:    user.ID,
		FirstAssign: assignedAt(updated, now),
	}))
	return nil
}

// assignedAt reports whether the stored first assignment time is now, which
// only holds for the write that won the COALESCE. Postgres keeps microseconds.
func assignedAt(t *domain.Ticket, now time.Time) bool {
	return t.AssignedAt != nil && t.AssignedAt.Truncate(time.Microsecond).Equal(now.Truncate(time.Microsecond))
}

// macroName extracts "name" from a message starting with "?name".
func macroName(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "?") {
		return "", false
	}
	return strings.TrimLeft(strings.ToLower(fields[0]), "?"), true
}

// openTicket runs the creation saga for a new question. Every chat side
// effect made before the ticket row exists is undone when a later step fails.
func (s *TicketService) openTicket(ctx context.Context, ev MessageEvent, user *domain.User) error {
	titleCh := make(chan string, 1)
	go func() {
		if s.titles == nil {
			titleCh <- titlegen.DisabledTitle
			return
		}
		titleCh <- s.titles.GenerateTitle(ctx, ev.Text)
	}()

	profile, err := s.gateway.UserProfile(ctx, ev.User)
	if err != nil {
		s.logger.Warn("unable to load author profile", zap.String("user", ev.User), zap.Error(err))
		profile = nil
	}

	pastTickets := 0
	if user != nil {
		pastTickets, err = s.tickets.Count(ctx, repository.TicketFilter{OpenedByID: &user.ID})
		if err != nil {
			return fmt.Errorf("count past tickets: %w", err)
		}
	} else {
		username := ""
		if profile != nil {
			username = profile.Handle
		}
		if username == "" {
			s.notifier.Heartbeat(ctx, fmt.Sprintf("SOMETHING HAS GONE TERRIBLY WRONG <@%s> has no username found - <@%s>",
				ev.User, s.slack.MaintainerID))
		}
		user, err = s.users.Upsert(ctx, ev.User, username)
		if err != nil {
			return fmt.Errorf("register author: %w", err)
		}
	}

	displayName := profile.Name("Explorer")
	draft := &domain.Ticket{
		QuestionMessageKey: ev.Key,
		Description:        ev.Text,
		Status:             domain.TicketStatusOpen,
		OpenedByID:         user.ID,
	}

	backend, err := s.mirror.message(ctx, draft, ev.User, "", pastTickets)
	if err != nil {
		return err
	}
	backend.Username = displayName
	if profile != nil {
		backend.IconURL = profile.AvatarURL
	}
	backendKey, err := s.gateway.PostMessage(ctx, backend)
	if err == nil && backendKey == "" {
		err = errors.New("no message key returned")
	}
	if err != nil {
		s.logger.Error("failed to post backend mirror", zap.String("question", ev.Key), zap.Error(err))
		s.notifier.Heartbeat(ctx, fmt.Sprintf("Failed to post the backend message for question %s: %v", ev.Key, err))
		return fmt.Errorf("post backend mirror: %w", err)
	}

	template := s.transcript.TicketCreate
	if pastTickets == 0 {
		template = s.transcript.FirstTicketCreate
	}
	text := s.transcript.Render(template, transcript.Params{
		UserName:    displayName,
		UserID:      ev.User,
		HelpChannel: s.slack.HelpChannel,
	})
	backendURL := chat.Permalink(s.slack.WorkspaceURL, s.slack.TicketChannel, backendKey)
	replyKey, err := s.gateway.PostMessage(ctx, chat.OutgoingMessage{
		Channel:   ev.Channel,
		Text:      text,
		Blocks:    chat.ReplyBlocks(text, s.transcript.ResolveTicketButton, ev.Key, backendURL),
		ThreadKey: ev.Key,
		Unfurl:    true,
	})
	if err == nil && replyKey == "" {
		err = errors.New("no message key returned")
	}
	if err != nil {
		s.logger.Error("failed to post ticket reply", zap.String("question", ev.Key), zap.Error(err))
		s.deleteQuietly(ctx, s.slack.TicketChannel, backendKey)
		s.notifier.Heartbeat(ctx, fmt.Sprintf("Failed to reply to question %s: %v", ev.Key, err))
		return fmt.Errorf("post ticket reply: %w", err)
	}

	var title string
	select {
	case title = <-titleCh:
	case <-ctx.Done():
		title = titlegen.FallbackTitle
	}

	draft.BackendMessageKey = backendKey
	draft.Title = &title
	reply := &domain.BotMessage{ChannelID: ev.Channel, MessageKey: replyKey}
	if err := s.tickets.Create(ctx, draft, reply); err != nil {
		s.deleteQuietly(ctx, ev.Channel, replyKey)
		s.deleteQuietly(ctx, s.slack.TicketChannel, backendKey)
		if errors.Is(err, repository.ErrDuplicateTicket) {
			s.logger.Info("ticket already exists for question", zap.String("question", ev.Key))
			return nil
		}
		s.notifier.Heartbeat(ctx, fmt.Sprintf("Failed to save ticket for question %s: %v", ev.Key, err))
		return fmt.Errorf("create ticket: %w", err)
	}

	if err := s.gateway.AddReaction(ctx, ev.Channel, ev.Key, chat.ReactionPending); err != nil {
		switch {
		case chat.IsNotFound(err):
			s.logger.Info("question deleted while the ticket was being created", zap.Int64("ticket_id", draft.ID))
			return s.Teardown(ctx, draft, "question deleted during creation")
		case errors.Is(err, chat.ErrAlreadyReacted):
		default:
			s.logger.Warn("failed to mark question as pending", zap.Int64("ticket_id", draft.ID), zap.Error(err))
		}
	}

	s.publish(ctx, events.New(events.EventTicketCreated, draft.ID, actorOf(user), events.TicketCreatedPayload{
		QuestionKey: ev.Key,
		BackendKey:  backendKey,
		PastTickets: pastTickets,
		Title:       title,
	}))
	return nil
}

// ReplyToTicket posts text into the question thread and records it so the
// message is removed if the ticket is torn down.
func (s *TicketService) ReplyToTicket(ctx context.Context, ticket *domain.Ticket, text string) error {
	key, err := s.gateway.PostMessage(ctx, chat.OutgoingMessage{
		Channel:   s.slack.HelpChannel,
		Text:      text,
		ThreadKey: ticket.QuestionMessageKey,
		Unfurl:    true,
	})
	if err != nil {
		return fmt.Errorf("reply to ticket %d: %w", ticket.ID, err)
	}
	return s.botMessages.Create(ctx, &domain.BotMessage{
		TicketID:   ticket.ID,
		ChannelID:  s.slack.HelpChannel,
		MessageKey: key,
	})
}

// LookupUser returns the known user for a chat id, or nil.
func (s *TicketService) LookupUser(ctx context.Context, chatUserID string) (*domain.User, error) {
	user, err := s.users.GetByChatID(ctx, chatUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// deleteMessage deletes one message, treating an already deleted message as
// success.
func (s *TicketService) deleteMessage(ctx context.Context, channel, key string) error {
	if err := s.gateway.DeleteMessage(ctx, channel, key); err != nil && !chat.IsNotFound(err) {
		return err
	}
	return nil
}

func (s *TicketService) deleteQuietly(ctx context.Context, channel, key string) {
	if err := s.deleteMessage(ctx, channel, key); err != nil {
		s.logger.Warn("failed to delete message", zap.String("channel", channel), zap.String("key", key), zap.Error(err))
	}
}

func (s *TicketService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func actorOf(user *domain.User) events.Actor {
	if user == nil {
		return events.Actor{}
	}
	return events.Actor{UserID: user.ID, ChatUserID: user.ChatUserID}
}

type logHeartbeat struct {
	logger *zap.Logger
}

func (l logHeartbeat) Heartbeat(_ context.Context, summary string, details ...string) {
	l.logger.Info("heartbeat", zap.String("summary", summary), zap.Strings("details", details))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
