package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_FailingHandlerDoesNotStopOthers(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var seen []string

	d.Subscribe(EventTicketResolved, func(context.Context, Event) error {
		seen = append(seen, "first")
		return errors.New("boom")
	})
	d.Subscribe(EventTicketResolved, func(_ context.Context, e Event) error {
		seen = append(seen, "second")
		payload, ok := e.Payload.(TicketResolvedPayload)
		require.True(t, ok)
		assert.True(t, payload.Stale)
		return nil
	})
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		seen = append(seen, "other")
		return nil
	})

	err := d.Publish(context.Background(), New(EventTicketResolved, 7, Actor{}, TicketResolvedPayload{Stale: true}))

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestNew_AssignsIdentity(t *testing.T) {
	a := New(EventMacroRun, 1, Actor{ChatUserID: "U1"}, MacroRunPayload{Name: "faq"})
	b := New(EventMacroRun, 1, Actor{ChatUserID: "U1"}, MacroRunPayload{Name: "faq"})

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Timestamp.IsZero())
}

func TestDispatcher_RecoversHandlerPanic(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	delivered := false

	d.Subscribe(EventTicketDeleted, func(context.Context, Event) error {
		panic("subscriber bug")
	})
	d.Subscribe(EventTicketDeleted, func(context.Context, Event) error {
		delivered = true
		return nil
	})

	require.NotPanics(t, func() {
		err := d.Publish(context.Background(), New(EventTicketDeleted, 3, Actor{}, TicketDeletedPayload{Reason: "message_deleted"}))
		require.NoError(t, err)
	})
	assert.True(t, delivered)
}
