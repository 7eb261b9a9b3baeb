package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/titlegen"
)

const questionKey = "1718020800.000100"

func TestHandleMessage_CreatesTicket(t *testing.T) {
	h := newHarness(t)
	ticket := h.ask(t, questionKey, "how do i ship my project?")

	backend := h.gw.PostedTo(ticketChannel)
	require.Len(t, backend, 1)
	assert.Equal(t, "Asker", backend[0].Username)
	assert.Equal(t, "https://img/asker.png", backend[0].IconURL)
	assert.Contains(t, backend[0].Text, "<@UASK>")

	replies := h.gw.PostedTo(helpChannel)
	require.Len(t, replies, 1)
	assert.Equal(t, questionKey, replies[0].ThreadKey)
	assert.Contains(t, replies[0].Text, "oh, hey Asker it looks like this is your first time here")

	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, backend[0].Key, ticket.BackendMessageKey)
	require.NotNil(t, ticket.Title)
	assert.Equal(t, "Shipping question", *ticket.Title)

	msgs, err := h.store.BotMessages().ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, replies[0].Key, msgs[0].MessageKey)

	require.Len(t, h.gw.Added, 1)
	assert.Equal(t, chat.ReactionPending, h.gw.Added[0].Name)
	assert.Equal(t, questionKey, h.gw.Added[0].Key)

	user, err := h.store.Users().GetByChatID(context.Background(), askerID)
	require.NoError(t, err)
	assert.Equal(t, "asker", user.Username)
	assert.Equal(t, user.ID, ticket.OpenedByID)
}

func TestHandleMessage_ReturningAuthorGetsShortReply(t *testing.T) {
	h := newHarness(t)
	h.ask(t, questionKey, "first")
	h.ask(t, "1718020900.000100", "second")

	replies := h.gw.PostedTo(helpChannel)
	require.Len(t, replies, 2)
	assert.Contains(t, replies[1].Text, "someone should be along to help you soon")
	assert.NotContains(t, replies[1].Text, "first time")
}

func TestHandleMessage_Ignored(t *testing.T) {
	cases := []struct {
		name string
		ev   MessageEvent
	}{
		{"disallowed subtype", MessageEvent{Channel: helpChannel, User: askerID, Key: questionKey, Subtype: "channel_join"}},
		{"bot message", MessageEvent{Channel: helpChannel, User: askerID, Key: questionKey, BotID: "B1"}},
		{"other channel", MessageEvent{Channel: "CRANDOM", User: askerID, Key: questionKey}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.svc.HandleMessage(context.Background(), tc.ev))
			assert.Empty(t, h.gw.Posted)
			assert.Equal(t, 0, h.ticketCount(t))
		})
	}
}

func TestHandleMessage_ConcurrentDuplicatesLeaveOneTicket(t *testing.T) {
	h := newHarness(t)
	ev := MessageEvent{Channel: helpChannel, User: askerID, Text: "help", Key: questionKey}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.svc.HandleMessage(context.Background(), ev)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, h.ticketCount(t))
	assert.Len(t, h.gw.Posted, 4)

	ticket := h.ticket(t, questionKey)
	deleted := h.gw.DeletedKeys()
	assert.Len(t, deleted, 2)
	assert.NotContains(t, deleted, ticket.BackendMessageKey)

	msgs, err := h.store.BotMessages().ListByTicket(context.Background(), ticket.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.NotContains(t, deleted, msgs[0].MessageKey)
}

func TestHandleMessage_ReplyFailureRemovesMirror(t *testing.T) {
	h := newHarness(t)
	h.gw.PostErr = func(msg chat.OutgoingMessage) error {
		if msg.Channel == helpChannel {
			return errors.New("channel_is_archived")
		}
		return nil
	}

	err := h.svc.HandleMessage(context.Background(), MessageEvent{Channel: helpChannel, User: askerID, Text: "help", Key: questionKey})
	require.Error(t, err)

	backend := h.gw.PostedTo(ticketChannel)
	require.Len(t, backend, 1)
	assert.Equal(t, []string{backend[0].Key}, h.gw.DeletedKeys())
	assert.Equal(t, 0, h.ticketCount(t))
	assert.Contains(t, h.notifier.summaries()[0], "Failed to reply to question")
}

func TestHandleMessage_QuestionDeletedDuringCreation(t *testing.T) {
	h := newHarness(t)
	h.gw.AddReactionErr = func(name string) error {
		if name == chat.ReactionPending {
			return fmt.Errorf("%w: message_not_found", chat.ErrNotFound)
		}
		return nil
	}

	require.NoError(t, h.svc.HandleMessage(context.Background(), MessageEvent{Channel: helpChannel, User: askerID, Text: "help", Key: questionKey}))

	assert.Equal(t, 0, h.ticketCount(t))
	reply := h.gw.PostedTo(helpChannel)[0].Key
	backend := h.gw.PostedTo(ticketChannel)[0].Key
	assert.Equal(t, []string{reply, backend}, h.gw.DeletedKeys())
}

func TestHandleMessage_TitleFailureStillCreatesTicket(t *testing.T) {
	notifier := &recordingNotifier{}
	generator := titlegen.New(config.AIConfig{
		APIKey:         "test",
		BaseURL:        "http://127.0.0.1:1/v1",
		Model:          "test-model",
		TimeoutSeconds: 2,
	}, titlegen.Dependencies{Reporter: notifier})

	h := newHarness(t, withTitles(generator))
	ticket := h.ask(t, questionKey, "my build is broken")

	require.NotNil(t, ticket.Title)
	assert.Equal(t, titlegen.FallbackTitle, *ticket.Title)
	require.NotEmpty(t, notifier.summaries())
	assert.Contains(t, notifier.summaries()[0], "Failed to get AI response")
}

func TestHandleMessage_HelperReplyAssignsOnce(t *testing.T) {
	h := newHarness(t)
	helper := h.helper(t, helperID)
	h.ask(t, questionKey, "help")

	h.reply(t, helperID, questionKey, "looking into it")
	first := h.ticket(t, questionKey)
	assert.Equal(t, domain.TicketStatusInProgress, first.Status)
	require.NotNil(t, first.AssignedToID)
	assert.Equal(t, helper.ID, *first.AssignedToID)
	require.NotNil(t, first.AssignedAt)
	assert.True(t, first.AssignedAt.Equal(h.clock.Now()))
	require.NotNil(t, first.LastMessageBy)
	assert.Equal(t, domain.ParticipantHelper, *first.LastMessageBy)

	h.reply(t, helperID, questionKey, "still looking")
	second := h.ticket(t, questionKey)
	assert.True(t, second.AssignedAt.Equal(*first.AssignedAt))
	assert.True(t, second.LastMessageAt.After(*first.LastMessageAt))
}

// snapshotTickets serves the first ticket read after arm to every later read,
// as two replies handled side by side would both see it.
type snapshotTickets struct {
	repository.TicketRepository
	mu       sync.Mutex
	armed    bool
	snapshot *domain.Ticket
}

func (s *snapshotTickets) arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
}

func (s *snapshotTickets) GetByQuestionKey(ctx context.Context, key string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed && s.snapshot != nil {
		copied := *s.snapshot
		return &copied, nil
	}
	ticket, err := s.TicketRepository.GetByQuestionKey(ctx, key)
	if err == nil && s.armed {
		copied := *ticket
		s.snapshot = &copied
	}
	return ticket, err
}

func TestHandleMessage_OnlyWinningReplyIsFirstAssignment(t *testing.T) {
	var tickets *snapshotTickets
	h := newHarness(t, func(d *TicketDependencies) {
		tickets = &snapshotTickets{TicketRepository: d.TicketRepo}
		d.TicketRepo = tickets
	})
	h.helper(t, helperID)
	h.helper(t, "UHELP2")
	h.ask(t, questionKey, "help")

	var mu sync.Mutex
	var firsts []bool
	h.dispatcher.Subscribe(events.EventTicketAssigned, func(_ context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		firsts = append(firsts, e.Payload.(events.TicketAssignedPayload).FirstAssign)
		return nil
	})

	tickets.arm()
	h.reply(t, helperID, questionKey, "on it")
	h.reply(t, "UHELP2", questionKey, "me too")

	assert.Equal(t, []bool{true, false}, firsts)
}

func TestHandleMessage_NonHelperRepliesRecordActivity(t *testing.T) {
	h := newHarness(t)
	h.ask(t, questionKey, "help")

	h.reply(t, askerID, questionKey, "any update?")
	ticket := h.ticket(t, questionKey)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Nil(t, ticket.AssignedToID)
	require.NotNil(t, ticket.LastMessageBy)
	assert.Equal(t, domain.ParticipantAuthor, *ticket.LastMessageBy)

	h.reply(t, "USTRANGER", questionKey, "same problem here")
	ticket = h.ticket(t, questionKey)
	assert.Equal(t, domain.ParticipantOther, *ticket.LastMessageBy)
}

func TestHandleMessage_ReplyToClosedTicketDoesNotReassign(t *testing.T) {
	h := newHarness(t)
	h.helper(t, helperID)
	h.ask(t, questionKey, "help")
	require.Equal(t, ResolveClosed, h.svc.Resolve(context.Background(), questionKey, askerID, DefaultResolveOptions()))

	h.reply(t, helperID, questionKey, "glad it worked")
	ticket := h.ticket(t, questionKey)
	assert.Equal(t, domain.TicketStatusClosed, ticket.Status)
	assert.Nil(t, ticket.AssignedToID)
}

type recordedMacro struct {
	name    string
	trigger string
}

type recordingMacros struct {
	calls []recordedMacro
}

func (r *recordingMacros) Run(_ context.Context, name string, _ *domain.Ticket, _ *domain.User, _, triggerKey string) error {
	r.calls = append(r.calls, recordedMacro{name: name, trigger: triggerKey})
	return nil
}

func TestHandleMessage_HelperMacroIsDispatched(t *testing.T) {
	h := newHarness(t)
	macros := &recordingMacros{}
	h.svc.SetMacroRunner(macros)
	h.helper(t, helperID)
	h.ask(t, questionKey, "help")

	trigger := h.gw.NextKey()
	require.NoError(t, h.svc.HandleMessage(context.Background(), MessageEvent{
		Channel: helpChannel, User: helperID, Text: "?FAQ please", Key: trigger, ThreadKey: questionKey,
	}))

	require.Len(t, macros.calls, 1)
	assert.Equal(t, recordedMacro{name: "faq", trigger: trigger}, macros.calls[0])
	assert.Nil(t, h.ticket(t, questionKey).LastMessageAt)

	h.reply(t, askerID, questionKey, "?faq")
	assert.Len(t, macros.calls, 1)
}

func TestHandleMessage_BroadcastModeration(t *testing.T) {
	h := newHarness(t)
	h.helper(t, helperID)
	h.ask(t, questionKey, "help")

	broadcast := h.gw.NextKey()
	require.NoError(t, h.svc.HandleMessage(context.Background(), MessageEvent{
		Channel: helpChannel, User: askerID, Text: "bump", Key: broadcast, ThreadKey: questionKey, Subtype: SubtypeThreadBroadcast,
	}))

	require.Len(t, h.gw.Deleted, 1)
	assert.Equal(t, broadcast, h.gw.Deleted[0].Key)
	assert.True(t, h.gw.Deleted[0].AsUser)
	require.Len(t, h.gw.Ephemerals, 1)
	assert.Equal(t, questionKey, h.gw.Ephemerals[0].ThreadKey)
	assert.Equal(t, h.svc.Transcript().ThreadBroadcastDelete, h.gw.Ephemerals[0].Text)

	require.NoError(t, h.svc.HandleMessage(context.Background(), MessageEvent{
		Channel: helpChannel, User: helperID, Text: "fyi all", Key: h.gw.NextKey(), ThreadKey: questionKey, Subtype: SubtypeThreadBroadcast,
	}))
	assert.Len(t, h.gw.Deleted, 1)
}

func TestMacroName(t *testing.T) {
	cases := map[string]struct {
		name string
		ok   bool
	}{
		"?faq":            {"faq", true},
		"  ?Resolve now":  {"resolve", true},
		"??thread":        {"thread", true},
		"?":               {"", true},
		"what is ?faq":    {"", false},
		"":                {"", false},
		"thanks so much!": {"", false},
	}
	for text, want := range cases {
		name, ok := macroName(text)
		assert.Equal(t, want.ok, ok, text)
		assert.Equal(t, want.name, name, text)
	}
}

func TestNewTicketService_Defaults(t *testing.T) {
	svc := NewTicketService(TicketDependencies{})
	require.NotNil(t, svc.Transcript())
	assert.NotNil(t, svc.now)
	assert.False(t, svc.caps.WorkspaceAdmin)
	assert.WithinDuration(t, time.Now(), svc.now(), time.Minute)
}
