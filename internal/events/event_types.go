package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated  EventType = "ticket_created"
	EventTicketAssigned EventType = "ticket_assigned"
	EventTicketResolved EventType = "ticket_resolved"
	EventTicketReopened EventType = "ticket_reopened"
	EventTicketDeleted  EventType = "ticket_deleted"
	EventMacroRun       EventType = "macro_run"
)

// Actor identifies who caused an event. Zero values mean the system acted.
type Actor struct {
	UserID     int64  `json:"user_id,omitempty"`
	ChatUserID string `json:"chat_user_id,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  int64       `json:"ticket_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType EventType, ticketID int64, actor Actor, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticketID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	QuestionKey string `json:"question_key"`
	BackendKey  string `json:"backend_key"`
	PastTickets int    `json:"past_tickets"`
	Title       string `json:"title"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	HelperID    int64 `json:"helper_id"`
	FirstAssign bool  `json:"first_assign"`
}

// TicketResolvedPayload payload.
type TicketResolvedPayload struct {
	ClosedByID int64 `json:"closed_by_id"`
	Stale      bool  `json:"stale"`
}

// TicketReopenedPayload payload.
type TicketReopenedPayload struct {
	OldBackendKey string `json:"old_backend_key"`
	NewBackendKey string `json:"new_backend_key"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	QuestionKey string `json:"question_key"`
	Reason      string `json:"reason"`
	BotMessages int    `json:"bot_messages"`
}

// MacroRunPayload payload.
type MacroRunPayload struct {
	Name string `json:"name"`
}
