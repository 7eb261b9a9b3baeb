package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/chat/chattest"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/events"
)

func TestNotificationService_HeartbeatThreadsDetails(t *testing.T) {
	gw := chattest.New()
	svc := NewNotificationService(gw, nil, nil, config.SlackConfig{HeartbeatChannel: "CBEAT"})

	svc.Heartbeat(context.Background(), "Ticket 4 reopened by <@UHELP>", "Ticket ID: 4", "New TS: 2.000001")

	require.Len(t, gw.Posted, 3)
	summary := gw.Posted[0]
	assert.Equal(t, "CBEAT", summary.Channel)
	assert.Empty(t, summary.ThreadKey)
	assert.Equal(t, "Ticket 4 reopened by <@UHELP>", summary.Text)
	for _, detail := range gw.Posted[1:] {
		assert.Equal(t, summary.Key, detail.ThreadKey)
	}
	assert.Equal(t, "New TS: 2.000001", gw.Posted[2].Text)
}

func TestNotificationService_HeartbeatWithoutChannelOnlyLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	gw := chattest.New()
	svc := NewNotificationService(gw, nil, zap.New(core), config.SlackConfig{})

	svc.Heartbeat(context.Background(), "Closing stale tickets...")

	assert.Empty(t, gw.Posted)
	require.Equal(t, 1, logs.FilterMessage("heartbeat").Len())
	assert.Equal(t, "Closing stale tickets...", logs.All()[0].ContextMap()["summary"])
}

func TestNotificationService_HeartbeatDeliveryFailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	gw := chattest.New()
	gw.PostErr = func(chat.OutgoingMessage) error { return errors.New("not_in_channel") }
	svc := NewNotificationService(gw, nil, zap.New(core), config.SlackConfig{HeartbeatChannel: "CBEAT"})

	svc.Heartbeat(context.Background(), "hello", "detail")

	assert.Empty(t, gw.Posted)
	assert.Equal(t, 1, logs.FilterMessage("heartbeat delivery failed").Len())
}

func TestNotificationService_AuditsEvents(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	dispatcher := events.NewInMemoryDispatcher(nil)
	svc := NewNotificationService(nil, dispatcher, zap.New(core), config.SlackConfig{})
	svc.RegisterHandlers()

	require.NoError(t, dispatcher.Publish(context.Background(), events.New(events.EventTicketResolved, 7,
		events.Actor{ChatUserID: helperID}, events.TicketResolvedPayload{ClosedByID: 2})))

	entries := logs.FilterMessage(string(events.EventTicketResolved)).All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].ContextMap()["ticket_id"])
	assert.Equal(t, helperID, entries[0].ContextMap()["actor"])
}

func TestResolveCapabilities(t *testing.T) {
	gw := chattest.New()
	assert.False(t, ResolveCapabilities(context.Background(), gw, nil).WorkspaceAdmin)

	gw.Admin = true
	assert.True(t, ResolveCapabilities(context.Background(), gw, zap.NewNop()).WorkspaceAdmin)
	assert.False(t, ResolveCapabilities(context.Background(), nil, nil).WorkspaceAdmin)
}
