package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/chat/chattest"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/repository/memory"
	"github.com/spec-kit/helpdesk/internal/transcript"
)

const (
	helpChannel   = "CHELP"
	ticketChannel = "CTICKET"
	askerID       = "UASK"
	helperID      = "UHELP"
)

var testSlack = config.SlackConfig{
	HelpChannel:   helpChannel,
	TicketChannel: ticketChannel,
	BTSChannel:    "CBTS",
	MaintainerID:  "UMAINT",
	WorkspaceURL:  "https://example.slack.com",
}

type heartbeat struct {
	Summary string
	Details []string
}

type recordingNotifier struct {
	mu    sync.Mutex
	beats []heartbeat
}

func (r *recordingNotifier) Heartbeat(_ context.Context, summary string, details ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beats = append(r.beats, heartbeat{Summary: summary, Details: details})
}

func (r *recordingNotifier) summaries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.beats))
	for _, b := range r.beats {
		out = append(out, b.Summary)
	}
	return out
}

type recordingQueue struct {
	mu    sync.Mutex
	items []persistence.ThreadDeletion
}

func (q *recordingQueue) EnqueueThreadDeletion(_ context.Context, item persistence.ThreadDeletion) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

type fixedTitles string

func (f fixedTitles) GenerateTitle(context.Context, string) string { return string(f) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store      *memory.Store
	gw         *chattest.Gateway
	notifier   *recordingNotifier
	queue      *recordingQueue
	clock      *clock
	dispatcher events.Dispatcher
	svc        *TicketService
}

type harnessOption func(*TicketDependencies)

func withPolicy(p config.PolicyConfig) harnessOption {
	return func(d *TicketDependencies) { d.Policy = p }
}

func withAdmin() harnessOption {
	return func(d *TicketDependencies) { d.Capabilities = &Capabilities{WorkspaceAdmin: true} }
}

func withTitles(g TitleGenerator) harnessOption {
	return func(d *TicketDependencies) { d.Titles = g }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:    memory.New(),
		gw:       chattest.New(),
		notifier: &recordingNotifier{},
		queue:    &recordingQueue{},
		clock:    &clock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)},
	}
	h.store.SetClock(h.clock.Now)
	h.dispatcher = events.NewInMemoryDispatcher(nil)

	tr, err := transcript.Load("default", "")
	require.NoError(t, err)

	deps := TicketDependencies{
		TicketRepo:     h.store.Tickets(),
		UserRepo:       h.store.Users(),
		BotMessageRepo: h.store.BotMessages(),
		TagRepo:        h.store.Tags(),
		Gateway:        h.gw,
		Titles:         fixedTitles("Shipping question"),
		Notifier:       h.notifier,
		Queue:          h.queue,
		Dispatcher:     h.dispatcher,
		Transcript:     tr,
		Slack:          testSlack,
		Policy:         config.PolicyConfig{AllowSelfResolve: true, StaleAfterHours: 72},
		Clock:          h.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.svc = NewTicketService(deps)

	h.gw.Profiles[askerID] = &chat.Profile{UserID: askerID, Handle: "asker", DisplayName: "Asker", AvatarURL: "https://img/asker.png"}
	h.gw.Profiles[helperID] = &chat.Profile{UserID: helperID, Handle: "helper", DisplayName: "Helper"}
	return h
}

func (h *harness) helper(t *testing.T, chatID string) *domain.User {
	t.Helper()
	user, err := h.store.Users().SetRoles(context.Background(), chatID, true, false)
	require.NoError(t, err)
	return user
}

// ask posts a new question and returns the ticket it created.
func (h *harness) ask(t *testing.T, key, text string) *domain.Ticket {
	t.Helper()
	require.NoError(t, h.svc.HandleMessage(context.Background(), MessageEvent{
		Channel: helpChannel,
		User:    askerID,
		Text:    text,
		Key:     key,
	}))
	ticket, err := h.store.Tickets().GetByQuestionKey(context.Background(), key)
	require.NoError(t, err)
	return ticket
}

func (h *harness) reply(t *testing.T, user, threadKey, text string) {
	t.Helper()
	h.clock.Advance(time.Minute)
	require.NoError(t, h.svc.HandleMessage(context.Background(), MessageEvent{
		Channel:   helpChannel,
		User:      user,
		Text:      text,
		Key:       h.gw.NextKey(),
		ThreadKey: threadKey,
	}))
}

func (h *harness) ticket(t *testing.T, key string) *domain.Ticket {
	t.Helper()
	ticket, err := h.store.Tickets().GetByQuestionKey(context.Background(), key)
	require.NoError(t, err)
	return ticket
}

func (h *harness) ticketCount(t *testing.T) int {
	t.Helper()
	n, err := h.store.Tickets().Count(context.Background(), repository.TicketFilter{})
	require.NoError(t, err)
	return n
}
