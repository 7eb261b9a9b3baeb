package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// ParseTicketStatus maps case-insensitive API values onto a TicketStatus.
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	switch TicketStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case TicketStatusOpen:
		return TicketStatusOpen, true
	case TicketStatusInProgress:
		return TicketStatusInProgress, true
	case TicketStatusClosed:
		return TicketStatusClosed, true
	}
	return "", false
}

// Participant records who sent the latest message in a question thread.
type Participant string

const (
	ParticipantAuthor Participant = "AUTHOR"
	ParticipantHelper Participant = "HELPER"
	ParticipantOther  Participant = "OTHER"
)

// Ticket is the aggregate for a support question asked in the help channel.
//
// QuestionMessageKey is the chat timestamp of the original question and never
// changes. BackendMessageKey points at the mirror posted in the ticket channel
// and is replaced whenever the ticket is reopened.
type Ticket struct {
	ID                 int64
	QuestionMessageKey string
	BackendMessageKey  string
	Title              *string
	Description        string
	Status             TicketStatus
	OpenedByID         int64
	AssignedToID       *int64
	ClosedByID         *int64
	ReopenedByID       *int64
	QuestionTagID      *int64
	LastMessageBy      *Participant
	CreatedAt          time.Time
	AssignedAt         *time.Time
	ClosedAt           *time.Time
	LastMessageAt      *time.Time
}

// IsClosed reports whether the ticket is in the CLOSED state.
func (t *Ticket) IsClosed() bool {
	return t.Status == TicketStatusClosed
}

// DisplayTitle returns the title, falling back to the start of the description.
func (t *Ticket) DisplayTitle() string {
	if t.Title != nil && *t.Title != "" {
		return *t.Title
	}
	if len(t.Description) > 100 {
		return t.Description[:100]
	}
	return t.Description
}
