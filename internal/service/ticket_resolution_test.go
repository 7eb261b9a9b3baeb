package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/persistence"
)

func TestResolve_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	helper := h.helper(t, helperID)
	created := h.ask(t, questionKey, "help")

	var resolved []events.Event
	h.dispatcher.Subscribe(events.EventTicketResolved, func(_ context.Context, e events.Event) error {
		resolved = append(resolved, e)
		return nil
	})

	require.Equal(t, ResolveClosed, h.svc.Resolve(context.Background(), questionKey, helperID, DefaultResolveOptions()))
	closed := h.ticket(t, questionKey)
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedByID)
	assert.Equal(t, helper.ID, *closed.ClosedByID)
	require.NotNil(t, closed.ClosedAt)

	posts := len(h.gw.Posted)
	h.clock.Advance(time.Hour)
	assert.Equal(t, ResolveSkipped, h.svc.Resolve(context.Background(), questionKey, helperID, DefaultResolveOptions()))

	again := h.ticket(t, questionKey)
	assert.True(t, again.ClosedAt.Equal(*closed.ClosedAt))
	assert.Len(t, h.gw.Posted, posts)
	assert.Len(t, resolved, 1)

	replies := h.gw.PostedTo(helpChannel)
	assert.Contains(t, replies[len(replies)-1].Text, "marked as resolved by <@UHELP>")

	var added []string
	for _, r := range h.gw.Added {
		added = append(added, r.Name)
	}
	assert.Equal(t, []string{chat.ReactionPending, chat.ReactionResolved}, added)
	require.Len(t, h.gw.Removed, 1)
	assert.Equal(t, chat.ReactionPending, h.gw.Removed[0].Name)

	assert.Contains(t, h.gw.DeletedKeys(), created.BackendMessageKey)
	assert.Empty(t, h.queue.items)
}

func TestResolve_QueuesBackendThreadWithAdminToken(t *testing.T) {
	h := newHarness(t, withAdmin())
	h.helper(t, helperID)
	created := h.ask(t, questionKey, "help")

	require.Equal(t, ResolveClosed, h.svc.Resolve(context.Background(), questionKey, helperID, DefaultResolveOptions()))

	assert.Equal(t, []persistence.ThreadDeletion{{Channel: ticketChannel, ThreadKey: created.BackendMessageKey}}, h.queue.items)
	assert.NotContains(t, h.gw.DeletedKeys(), created.BackendMessageKey)
}

func TestResolve_AuthorClosingAssignedTicketCreditsHelper(t *testing.T) {
	h := newHarness(t)
	helper := h.helper(t, helperID)
	h.ask(t, questionKey, "help")
	h.reply(t, helperID, questionKey, "try restarting")

	require.Equal(t, ResolveClosed, h.svc.Resolve(context.Background(), questionKey, askerID, DefaultResolveOptions()))

	closed := h.ticket(t, questionKey)
	require.NotNil(t, closed.ClosedByID)
	assert.Equal(t, helper.ID, *closed.ClosedByID)
	replies := h.gw.PostedTo(helpChannel)
	assert.Contains(t, replies[len(replies)-1].Text, "<@UHELP>")
}

func TestResolve_Policy(t *testing.T) {
	cases := []struct {
		name     string
		policy   config.PolicyConfig
		resolver string
		assign   bool
		want     ResolveOutcome
	}{
		{"author with self resolve", config.PolicyConfig{AllowSelfResolve: true}, askerID, false, ResolveClosed},
		{"author without self resolve", config.PolicyConfig{}, askerID, false, ResolveDenied},
		{"helper on unassigned ticket", config.PolicyConfig{}, "UOTHERHELP", false, ResolveClosed},
		{"other helper on assigned ticket", config.PolicyConfig{}, "UOTHERHELP", true, ResolveDenied},
		{"other helper when any helper may resolve", config.PolicyConfig{AnyHelperResolve: true}, "UOTHERHELP", true, ResolveClosed},
		{"admin", config.PolicyConfig{}, "UADMIN", true, ResolveClosed},
		{"stranger", config.PolicyConfig{AllowSelfResolve: true}, "USTRANGER", false, ResolveDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, withPolicy(tc.policy))
			h.helper(t, helperID)
			h.helper(t, "UOTHERHELP")
			_, err := h.store.Users().SetRoles(ctx, "UADMIN", false, true)
			require.NoError(t, err)
			_, err = h.store.Users().Upsert(ctx, "USTRANGER", "stranger")
			require.NoError(t, err)

			h.ask(t, questionKey, "help")
			if tc.assign {
				h.reply(t, helperID, questionKey, "on it")
			}

			assert.Equal(t, tc.want, h.svc.Resolve(ctx, questionKey, tc.resolver, DefaultResolveOptions()))
			ticket := h.ticket(t, questionKey)
			if tc.want == ResolveDenied {
				assert.NotEqual(t, domain.TicketStatusClosed, ticket.Status)
				assert.Contains(t, h.notifier.summaries(), fmt.Sprintf(
					"User %s attempted to resolve ticket with ts %s without permission.", tc.resolver, questionKey))
			} else {
				assert.Equal(t, domain.TicketStatusClosed, ticket.Status)
			}
		})
	}
}

func TestResolve_ClosedTicketIsSkippedBeforeAuthorization(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, withPolicy(config.PolicyConfig{}))
	h.helper(t, helperID)
	h.ask(t, questionKey, "help")
	require.Equal(t, ResolveClosed, h.svc.Resolve(ctx, questionKey, helperID, DefaultResolveOptions()))
	beats := len(h.notifier.beats)

	assert.Equal(t, ResolveSkipped, h.svc.Resolve(ctx, questionKey, askerID, DefaultResolveOptions()))
	assert.Len(t, h.notifier.beats, beats)
	assert.NotContains(t, h.notifier.summaries(), fmt.Sprintf(
		"User %s attempted to resolve ticket with ts %s without permission.", askerID, questionKey))
}

func TestResolve_UnknownResolver(t *testing.T) {
	h := newHarness(t)
	h.ask(t, questionKey, "help")

	assert.Equal(t, ResolveSkipped, h.svc.Resolve(context.Background(), questionKey, "UNOBODY", DefaultResolveOptions()))
	assert.Equal(t, domain.TicketStatusOpen, h.ticket(t, questionKey).Status)

	beats := h.notifier.beats
	require.Len(t, beats, 1)
	assert.Equal(t, "User UNOBODY attempted to resolve ticket with ts "+questionKey+" but isn't in the database.", beats[0].Summary)
	assert.Equal(t, []string{"Ticket TS: " + questionKey, "Resolver ID: UNOBODY"}, beats[0].Details)
}

func TestResolve_UnknownTicket(t *testing.T) {
	h := newHarness(t)
	h.helper(t, helperID)
	assert.Equal(t, ResolveSkipped, h.svc.Resolve(context.Background(), "1.000001", helperID, DefaultResolveOptions()))
	assert.Empty(t, h.gw.Posted)
}

func TestResolve_WithoutMessageOrReaction(t *testing.T) {
	h := newHarness(t)
	h.helper(t, helperID)
	h.ask(t, questionKey, "help")
	posts := len(h.gw.Posted)

	assert.Equal(t, ResolveClosed, h.svc.Resolve(context.Background(), questionKey, helperID, ResolveOptions{}))
	assert.Len(t, h.gw.Posted, posts)
	assert.Len(t, h.gw.Added, 1)
	assert.Len(t, h.gw.Removed, 1)
}

func TestReopen_RoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	helper := h.helper(t, helperID)
	created := h.ask(t, questionKey, "help")
	require.Equal(t, ResolveClosed, h.svc.Resolve(ctx, questionKey, helperID, DefaultResolveOptions()))
	closed := h.ticket(t, questionKey)

	require.NoError(t, h.svc.Reopen(ctx, closed, helper))

	reopened := h.ticket(t, questionKey)
	assert.Equal(t, domain.TicketStatusOpen, reopened.Status)
	assert.Nil(t, reopened.ClosedByID)
	assert.Nil(t, reopened.ClosedAt)
	require.NotNil(t, reopened.ReopenedByID)
	assert.Equal(t, helper.ID, *reopened.ReopenedByID)
	assert.NotEmpty(t, reopened.BackendMessageKey)
	assert.NotEqual(t, created.BackendMessageKey, reopened.BackendMessageKey)

	backend := h.gw.PostedTo(ticketChannel)
	require.Len(t, backend, 2)
	assert.Equal(t, reopened.BackendMessageKey, backend[1].Key)
	assert.Contains(t, backend[1].Text, "Reopened ticket from <@UASK>")

	replies := h.gw.PostedTo(helpChannel)
	assert.Contains(t, replies[len(replies)-1].Text, "reopened by <@UHELP>")
	assert.Contains(t, h.notifier.summaries(), fmt.Sprintf("Ticket %d reopened by <@UHELP>", reopened.ID))

	last := h.gw.Added[len(h.gw.Added)-1]
	assert.Equal(t, chat.ReactionPending, last.Name)

	posts := len(h.gw.Posted)
	require.NoError(t, h.svc.Reopen(ctx, reopened, helper))
	assert.Len(t, h.gw.Posted, posts)
}

func TestReopen_ThenResolveAgain(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	helper := h.helper(t, helperID)
	h.ask(t, questionKey, "help")
	require.Equal(t, ResolveClosed, h.svc.Resolve(ctx, questionKey, helperID, DefaultResolveOptions()))
	require.NoError(t, h.svc.Reopen(ctx, h.ticket(t, questionKey), helper))

	assert.Equal(t, ResolveClosed, h.svc.Resolve(ctx, questionKey, helperID, DefaultResolveOptions()))
	assert.Equal(t, domain.TicketStatusClosed, h.ticket(t, questionKey).Status)
}

func TestReopen_MirrorFailureLeavesTicketClosed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	helper := h.helper(t, helperID)
	h.ask(t, questionKey, "help")
	require.Equal(t, ResolveClosed, h.svc.Resolve(ctx, questionKey, helperID, DefaultResolveOptions()))
	closed := h.ticket(t, questionKey)
	helpPosts := len(h.gw.PostedTo(helpChannel))
	reactions := len(h.gw.Added)

	h.gw.PostErr = func(msg chat.OutgoingMessage) error {
		if msg.Channel == ticketChannel {
			return errors.New("channel_not_found")
		}
		return nil
	}
	require.Error(t, h.svc.Reopen(ctx, closed, helper))

	after := h.ticket(t, questionKey)
	assert.Equal(t, domain.TicketStatusClosed, after.Status)
	require.NotNil(t, after.ClosedByID)
	assert.Equal(t, *closed.ClosedByID, *after.ClosedByID)
	require.NotNil(t, after.ClosedAt)
	assert.True(t, after.ClosedAt.Equal(*closed.ClosedAt))
	assert.Nil(t, after.ReopenedByID)
	assert.Equal(t, closed.BackendMessageKey, after.BackendMessageKey)

	assert.Len(t, h.gw.PostedTo(helpChannel), helpPosts)
	assert.Len(t, h.gw.Added, reactions)
	assert.Contains(t, h.notifier.summaries(), fmt.Sprintf(
		"Failed to post the backend message for reopened ticket %d: channel_not_found", closed.ID))

	h.gw.PostErr = nil
	require.NoError(t, h.svc.Reopen(ctx, after, helper))
	assert.Equal(t, domain.TicketStatusOpen, h.ticket(t, questionKey).Status)
}

func TestCloseStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	asker, err := h.store.Users().Upsert(ctx, askerID, "asker")
	require.NoError(t, err)

	create := func(key string) {
		require.NoError(t, h.store.Tickets().Create(ctx, &domain.Ticket{
			QuestionMessageKey: key,
			BackendMessageKey:  "B" + key,
			OpenedByID:         asker.ID,
		}, nil))
	}
	const (
		staleKey  = "1717000000.000001"
		freshKey  = "1717000000.000002"
		brokenKey = "1717000000.000003"
	)
	create(staleKey)
	create(freshKey)
	create(brokenKey)

	now := h.clock.Now()
	limited := false
	h.gw.ThreadRepliesFn = func(_, key string) ([]chat.Message, error) {
		switch key {
		case staleKey:
			if !limited {
				limited = true
				return nil, &chat.RateLimitError{RetryAfter: 2 * time.Second}
			}
			return []chat.Message{{Key: staleKey}, {Key: chat.FormatTimestamp(now.Add(-96 * time.Hour))}}, nil
		case freshKey:
			return []chat.Message{{Key: chat.FormatTimestamp(now.Add(-time.Hour))}}, nil
		}
		return nil, errors.New("internal_error")
	}
	var slept []time.Duration
	h.svc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	closed, err := h.svc.CloseStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)

	stale := h.ticket(t, staleKey)
	assert.Equal(t, domain.TicketStatusClosed, stale.Status)
	require.NotNil(t, stale.ClosedByID)
	assert.Equal(t, asker.ID, *stale.ClosedByID)
	assert.Equal(t, domain.TicketStatusOpen, h.ticket(t, freshKey).Status)
	assert.Equal(t, domain.TicketStatusOpen, h.ticket(t, brokenKey).Status)

	replies := h.gw.PostedTo(helpChannel)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "automatically marked as resolved")

	summaries := h.notifier.summaries()
	assert.Equal(t, "Closing stale tickets...", summaries[0])
	assert.Contains(t, summaries, "Error fetching replies for ticket "+brokenKey+": internal_error")
	assert.Equal(t, "Closed 1 stale tickets.", summaries[len(summaries)-1])
}

func TestCloseStale_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t)
	asker, err := h.store.Users().Upsert(ctx, askerID, "asker")
	require.NoError(t, err)
	require.NoError(t, h.store.Tickets().Create(ctx, &domain.Ticket{QuestionMessageKey: questionKey, OpenedByID: asker.ID}, nil))

	h.gw.ThreadRepliesFn = func(string, string) ([]chat.Message, error) {
		return nil, &chat.RateLimitError{RetryAfter: time.Second}
	}
	h.svc.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err = h.svc.CloseStale(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseStale_MissingAuthorIsReported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ticket := &domain.Ticket{QuestionMessageKey: questionKey, BackendMessageKey: "B" + questionKey, OpenedByID: 9999}
	require.NoError(t, h.store.Tickets().Create(ctx, ticket, nil))

	now := h.clock.Now()
	h.gw.ThreadRepliesFn = func(string, string) ([]chat.Message, error) {
		return []chat.Message{{Key: chat.FormatTimestamp(now.Add(-96 * time.Hour))}}, nil
	}

	closed, err := h.svc.CloseStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
	assert.Equal(t, domain.TicketStatusOpen, h.ticket(t, questionKey).Status)

	var found bool
	for _, b := range h.notifier.beats {
		if strings.HasPrefix(b.Summary, fmt.Sprintf("Stale ticket %d was not closed: its author could not be loaded", ticket.ID)) {
			found = true
			assert.Equal(t, []string{
				fmt.Sprintf("Ticket ID: %d", ticket.ID),
				"Question TS: " + questionKey,
				"Backend TS: B" + questionKey,
			}, b.Details)
		}
	}
	assert.True(t, found)
}
