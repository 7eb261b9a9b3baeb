package slackapi

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/chat/chattest"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/service"
)

type resolveCall struct {
	questionKey string
	resolver    string
	opts        service.ResolveOptions
}

type fakeTickets struct {
	mu        sync.Mutex
	messages  []service.MessageEvent
	deletions []service.DeletionEvent
	resolves  []resolveCall
}

func (f *fakeTickets) HandleMessage(_ context.Context, ev service.MessageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, ev)
	return nil
}

func (f *fakeTickets) HandleDeletion(_ context.Context, ev service.DeletionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletions = append(f.deletions, ev)
	return nil
}

func (f *fakeTickets) Resolve(_ context.Context, questionKey, resolverChatID string, opts service.ResolveOptions) service.ResolveOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolves = append(f.resolves, resolveCall{questionKey, resolverChatID, opts})
	return service.ResolveClosed
}

type fakeTags struct {
	questionTag  []string
	categoryTags [][]string
	queries      []string
	err          error
	found        []domain.Tag
}

func (f *fakeTags) AssignQuestionTag(_ context.Context, backendKey, _ string, value string) error {
	f.questionTag = append(f.questionTag, backendKey+"="+value)
	return f.err
}

func (f *fakeTags) SetCategoryTags(_ context.Context, _, _ string, values []string) error {
	f.categoryTags = append(f.categoryTags, values)
	return f.err
}

func (f *fakeTags) SearchCategoryTags(_ context.Context, query string) ([]domain.Tag, error) {
	f.queries = append(f.queries, query)
	return f.found, f.err
}

type memoryDeduper struct {
	seen map[string]bool
	err  error
}

func (d *memoryDeduper) MarkEventSeen(_ context.Context, eventID string, _ time.Duration) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

func callback(t *testing.T, eventID string, inner map[string]any) slackevents.EventsAPIEvent {
	t.Helper()
	raw, err := json.Marshal(inner)
	require.NoError(t, err)
	msg := json.RawMessage(raw)
	return slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		Data: &slackevents.EventsAPICallbackEvent{EventID: eventID, InnerEvent: &msg},
	}
}

func TestHandleEventsAPI_Message(t *testing.T) {
	tickets := &fakeTickets{}
	r := NewRouter(Dependencies{Tickets: tickets})

	err := r.HandleEventsAPI(context.Background(), callback(t, "Ev1", map[string]any{
		"type": "message", "channel": "CHELP", "user": "UASK", "text": "help",
		"ts": "1718020800.000100", "thread_ts": "1718020700.000100",
	}))
	require.NoError(t, err)

	require.Len(t, tickets.messages, 1)
	assert.Equal(t, service.MessageEvent{
		Channel: "CHELP", User: "UASK", Text: "help", Key: "1718020800.000100", ThreadKey: "1718020700.000100",
	}, tickets.messages[0])
}

func TestHandleEventsAPI_Deletions(t *testing.T) {
	tickets := &fakeTickets{}
	r := NewRouter(Dependencies{Tickets: tickets})
	ctx := context.Background()

	require.NoError(t, r.HandleEventsAPI(ctx, callback(t, "Ev1", map[string]any{
		"type": "message", "subtype": "message_deleted", "channel": "CHELP",
		"previous_message": map[string]any{"ts": "1.1", "user": "UASK", "text": "help"},
	})))
	require.NoError(t, r.HandleEventsAPI(ctx, callback(t, "Ev2", map[string]any{
		"type": "message", "subtype": "message_changed", "channel": "CHELP",
		"message":          map[string]any{"ts": "2.2", "subtype": "tombstone"},
		"previous_message": map[string]any{"ts": "2.2", "user": "UASK"},
	})))
	require.NoError(t, r.HandleEventsAPI(ctx, callback(t, "Ev3", map[string]any{
		"type": "message", "subtype": "message_changed", "channel": "CHELP",
		"message":          map[string]any{"ts": "3.3", "text": "edited"},
		"previous_message": map[string]any{"ts": "3.3", "user": "UASK"},
	})))

	assert.Empty(t, tickets.messages)
	require.Len(t, tickets.deletions, 2)
	assert.Equal(t, service.DeletionEvent{
		Channel: "CHELP", Subtype: "message_deleted",
		Previous: &chat.Message{Key: "1.1", User: "UASK", Text: "help"},
	}, tickets.deletions[0])
	assert.Equal(t, "message_changed", tickets.deletions[1].Subtype)
	assert.Equal(t, "2.2", tickets.deletions[1].Previous.Key)
}

func TestHandleEventsAPI_DropsRedeliveries(t *testing.T) {
	tickets := &fakeTickets{}
	r := NewRouter(Dependencies{Tickets: tickets, Deduper: &memoryDeduper{seen: map[string]bool{}}})
	ev := callback(t, "Ev1", map[string]any{"type": "message", "channel": "CHELP", "user": "UASK", "ts": "1.1"})

	require.NoError(t, r.HandleEventsAPI(context.Background(), ev))
	require.NoError(t, r.HandleEventsAPI(context.Background(), ev))

	assert.Len(t, tickets.messages, 1)
}

func TestHandleEventsAPI_DedupeFailureLetsEventThrough(t *testing.T) {
	tickets := &fakeTickets{}
	r := NewRouter(Dependencies{Tickets: tickets, Deduper: &memoryDeduper{err: errors.New("redis down")}})
	ev := callback(t, "Ev1", map[string]any{"type": "message", "channel": "CHELP", "user": "UASK", "ts": "1.1"})

	require.NoError(t, r.HandleEventsAPI(context.Background(), ev))
	require.NoError(t, r.HandleEventsAPI(context.Background(), ev))

	assert.Len(t, tickets.messages, 2)
}

func TestHandleEventsAPI_IgnoresOtherEvents(t *testing.T) {
	tickets := &fakeTickets{}
	r := NewRouter(Dependencies{Tickets: tickets})

	require.NoError(t, r.HandleEventsAPI(context.Background(), callback(t, "Ev1", map[string]any{
		"type": "reaction_added", "user": "UASK",
	})))
	require.NoError(t, r.HandleEventsAPI(context.Background(), slackevents.EventsAPIEvent{
		Type: slackevents.URLVerification,
		Data: &slackevents.EventsAPIURLVerificationEvent{Challenge: "abc"},
	}))

	assert.Empty(t, tickets.messages)
	assert.Empty(t, tickets.deletions)
}

func blockActions(actions ...*slack.BlockAction) slack.InteractionCallback {
	cb := slack.InteractionCallback{Type: slack.InteractionTypeBlockActions}
	cb.User.ID = "UHELP"
	cb.Channel.ID = "CTICKET"
	cb.Container.MessageTs = "1718020801.000200"
	cb.ActionCallback.BlockActions = actions
	return cb
}

func TestHandleInteraction_ResolveButton(t *testing.T) {
	tickets := &fakeTickets{}
	r := NewRouter(Dependencies{Tickets: tickets})

	err := r.HandleInteraction(context.Background(),
		blockActions(&slack.BlockAction{ActionID: chat.ActionMarkResolved, Value: "1718020800.000100"}))
	require.NoError(t, err)

	assert.Equal(t, []resolveCall{{"1718020800.000100", "UHELP", service.DefaultResolveOptions()}}, tickets.resolves)
}

func TestHandleInteraction_TagSelects(t *testing.T) {
	tags := &fakeTags{}
	r := NewRouter(Dependencies{Tags: tags})

	err := r.HandleInteraction(context.Background(), blockActions(
		&slack.BlockAction{ActionID: chat.ActionQuestionTag, SelectedOption: slack.OptionBlockObject{Value: "7"}},
		&slack.BlockAction{ActionID: chat.ActionTeamTags, SelectedOptions: []slack.OptionBlockObject{{Value: "3"}, {Value: "4"}}},
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"1718020801.000200=7"}, tags.questionTag)
	assert.Equal(t, [][]string{{"3", "4"}}, tags.categoryTags)
}

func TestHandleInteraction_NonHelperGetsEphemeral(t *testing.T) {
	gw := chattest.New()
	r := NewRouter(Dependencies{Tags: &fakeTags{err: service.ErrNotHelper}, Gateway: gw})

	err := r.HandleInteraction(context.Background(), blockActions(
		&slack.BlockAction{ActionID: chat.ActionQuestionTag, SelectedOption: slack.OptionBlockObject{Value: "7"}}))
	require.NoError(t, err)

	require.Len(t, gw.Ephemerals, 1)
	assert.Equal(t, chattest.Ephemeral{
		Channel: "CTICKET", User: "UHELP", Text: "You are not authorized to assign tags.",
	}, gw.Ephemerals[0])
}

func TestHandleInteraction_ReportsFailures(t *testing.T) {
	boom := errors.New("boom")
	r := NewRouter(Dependencies{Tags: &fakeTags{err: boom}})

	err := r.HandleInteraction(context.Background(), blockActions(
		&slack.BlockAction{ActionID: chat.ActionTeamTags}))
	assert.ErrorIs(t, err, boom)
}

func TestOptions(t *testing.T) {
	tags := &fakeTags{found: []domain.Tag{{ID: 3, Name: "Shipping"}, {ID: 9, Name: "Reshipment"}}}
	r := NewRouter(Dependencies{Tags: tags})

	resp, err := r.Options(context.Background(), slack.InteractionCallback{
		Type: slack.InteractionTypeBlockSuggestion, ActionID: chat.ActionTeamTags, Value: "ship",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ship"}, tags.queries)
	require.Len(t, resp.Options, 2)
	assert.Equal(t, "3", resp.Options[0].Value)
	assert.Equal(t, "Reshipment", resp.Options[1].Text.Text)

	resp, err = r.Options(context.Background(), slack.InteractionCallback{ActionID: "something-else"})
	require.NoError(t, err)
	assert.Empty(t, resp.Options)
}

func TestGo_WaitsAndRecovers(t *testing.T) {
	r := NewRouter(Dependencies{HandlerTimeout: time.Second})
	var ran bool
	r.Go("test", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		ran = ok
		return errors.New("logged")
	})
	r.Go("panic", func(context.Context) error { panic("boom") })
	r.Wait()

	assert.True(t, ran)
}
