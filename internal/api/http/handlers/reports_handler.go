package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/service"
)

const (
	tooBroadError = "Provided filters are too broad"
	tooBroadTip   = "Please provide a ?since= or ?until= parameter, or filter by ?status=open or ?status=in_progress"
)

// ReportsHandler serves the read-only reporting API.
type ReportsHandler struct {
	stats *service.StatsService
	now   func() time.Time
}

// NewReportsHandler constructs handler.
func NewReportsHandler(statsService *service.StatsService) *ReportsHandler {
	return &ReportsHandler{stats: statsService, now: time.Now}
}

// Stats GET /api/stats.
func (h *ReportsHandler) Stats(c *fiber.Ctx) error {
	overall, err := h.stats.Overall(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(overall)
}

// StatsV2 GET /api/stats/v2.
func (h *ReportsHandler) StatsV2(c *fiber.Ctx) error {
	periods, err := h.stats.Periods(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(periods)
}

// StatsRange GET /api/stats/range?since=&until=.
func (h *ReportsHandler) StatsRange(c *fiber.Ctx) error {
	since, bad, ok := queryTime(c, "since", "after")
	if !ok {
		return flatError(c, fiber.StatusBadRequest, "not a valid ISO datetime: "+bad)
	}
	until, bad, ok := queryTime(c, "until", "before")
	if !ok {
		return flatError(c, fiber.StatusBadRequest, "not a valid ISO datetime: "+bad)
	}
	if since == nil && until == nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: tooBroadError,
			Tip:   "Please provide a ?since= or ?until= parameter",
		})
	}

	start := time.Unix(0, 0).UTC()
	if since != nil {
		start = *since
	}
	end := h.now().UTC()
	if until != nil {
		end = *until
	}

	daily, err := h.stats.Range(c.UserContext(), &start, &end)
	if err != nil {
		return err
	}
	return c.JSON(dto.StatsRangeResponse{Stats: daily, Since: start, Until: end})
}

// Tickets GET /api/tickets?status=&since=&until=.
func (h *ReportsHandler) Tickets(c *fiber.Ctx) error {
	var query service.TicketQuery
	if raw := c.Query("status"); raw != "" {
		status, ok := domain.ParseTicketStatus(raw)
		if !ok {
			return flatError(c, fiber.StatusBadRequest, "Invalid status parameter: "+raw)
		}
		query.Status = &status
	}

	var bad string
	var ok bool
	if query.CreatedFrom, bad, ok = queryTime(c, "since", "after"); !ok {
		return flatError(c, fiber.StatusBadRequest, "created_after parameter is not a valid ISO datetime: "+bad)
	}
	if query.CreatedTo, bad, ok = queryTime(c, "until", "before"); !ok {
		return flatError(c, fiber.StatusBadRequest, "created_before parameter is not a valid ISO datetime: "+bad)
	}

	unfiltered := query.Status == nil || *query.Status == domain.TicketStatusClosed
	if unfiltered && query.CreatedFrom == nil && query.CreatedTo == nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: tooBroadError, Tip: tooBroadTip})
	}

	views, err := h.stats.ListTicketViews(c.UserContext(), query)
	if err != nil {
		return err
	}
	items := make([]dto.TicketResponse, 0, len(views))
	for _, view := range views {
		items = append(items, ticketResponse(view))
	}
	return c.JSON(items)
}

// Ticket GET /api/ticket?id=N.
func (h *ReportsHandler) Ticket(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Query("id"), 10, 64)
	if err != nil {
		return flatError(c, fiber.StatusBadRequest, "id must be an integer")
	}
	view, err := h.stats.Ticket(c.UserContext(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return flatError(c, fiber.StatusNotFound, "ticket_not_found")
	}
	if err != nil {
		return err
	}
	return c.JSON(ticketResponse(*view))
}

// User GET /api/user?id=<chat user id>.
func (h *ReportsHandler) User(c *fiber.Ctx) error {
	chatID := c.Query("id")
	if chatID == "" {
		return flatError(c, fiber.StatusBadRequest, "id is required")
	}
	summary, err := h.stats.User(c.UserContext(), chatID)
	if errors.Is(err, repository.ErrNotFound) {
		return flatError(c, fiber.StatusNotFound, "user_not_found")
	}
	if err != nil {
		return err
	}
	return c.JSON(dto.UserStatsResponse{TicketsOpened: summary.TicketsOpened, TicketsClosed: summary.TicketsClosed})
}

func ticketResponse(view service.TicketView) dto.TicketResponse {
	t := view.Ticket
	return dto.TicketResponse{
		ID:            t.ID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		OpenedBy:      userRef(view.OpenedBy),
		ClosedBy:      userRef(view.ClosedBy),
		AssignedTo:    userRef(view.AssignedTo),
		ReopenedBy:    userRef(view.ReopenedBy),
		CreatedAt:     t.CreatedAt,
		AssignedAt:    t.AssignedAt,
		ClosedAt:      t.ClosedAt,
		LastMessageAt: t.LastMessageAt,
	}
}

func userRef(u *domain.User) *dto.UserRef {
	if u == nil {
		return nil
	}
	return &dto.UserRef{SlackID: u.ChatUserID}
}
