package worker

import (
	"context"

	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/service"
)

// eventMetricNames maps lifecycle events onto the ticket_events_total label.
var eventMetricNames = map[events.EventType]string{
	events.EventTicketCreated:  "created",
	events.EventTicketAssigned: "assigned",
	events.EventTicketResolved: "resolved",
	events.EventTicketReopened: "reopened",
	events.EventTicketDeleted:  "deleted",
	events.EventMacroRun:       "macro",
}

// StartEventSubscribers registers the audit log and metrics handlers.
func StartEventSubscribers(dispatcher events.Dispatcher, notificationService *service.NotificationService, metrics *observability.Metrics) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if dispatcher == nil || metrics == nil {
		return
	}
	for eventType, name := range eventMetricNames {
		name := name
		dispatcher.Subscribe(eventType, func(_ context.Context, e events.Event) error {
			metrics.RecordTicketEvent(name)
			if payload, ok := e.Payload.(events.TicketResolvedPayload); ok && payload.Stale {
				metrics.AddStaleClosed(1)
			}
			return nil
		})
	}
}
