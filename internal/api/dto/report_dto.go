package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/stats"
)

// ErrorResponse is the flat error body used by the reporting API.
type ErrorResponse struct {
	Error string `json:"error"`
	Tip   string `json:"tip,omitempty"`
}

// UserRef identifies a chat user.
type UserRef struct {
	SlackID string `json:"slack_id"`
}

// TicketResponse describes one ticket.
type TicketResponse struct {
	ID            int64               `json:"id"`
	Title         *string             `json:"title"`
	Description   string              `json:"description"`
	Status        domain.TicketStatus `json:"status"`
	OpenedBy      *UserRef            `json:"opened_by"`
	ClosedBy      *UserRef            `json:"closed_by"`
	AssignedTo    *UserRef            `json:"assigned_to"`
	ReopenedBy    *UserRef            `json:"reopened_by"`
	CreatedAt     time.Time           `json:"created_at"`
	AssignedAt    *time.Time          `json:"assigned_at"`
	ClosedAt      *time.Time          `json:"closed_at"`
	LastMessageAt *time.Time          `json:"last_message_at"`
}

// StatsRangeResponse wraps daily statistics with the bounds they cover.
type StatsRangeResponse struct {
	Stats stats.Daily `json:"stats"`
	Since time.Time   `json:"since"`
	Until time.Time   `json:"until"`
}

// UserStatsResponse counts a user's tickets.
type UserStatsResponse struct {
	TicketsOpened int `json:"tickets_opened"`
	TicketsClosed int `json:"tickets_closed"`
}
