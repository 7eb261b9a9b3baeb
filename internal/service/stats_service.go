package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/stats"
)

// digestUnansweredAge is how long a ticket must have waited without a helper
// reply to be listed in the daily digest.
const digestUnansweredAge = 5 * 24 * time.Hour

// ErrNoDigestChannel is returned when the daily digest has nowhere to go.
var ErrNoDigestChannel = errors.New("SLACK_BTS_CHANNEL is not configured")

// StatsService loads snapshots from the store and feeds them to the stats
// engine for the reporting API and the daily digest.
type StatsService struct {
	tickets  repository.TicketRepository
	users    repository.UserRepository
	tags     repository.TagRepository
	gateway  chat.Gateway
	notifier Heartbeater
	slack    config.SlackConfig
	location *time.Location
	logger   *zap.Logger
	now      func() time.Time
}

// StatsDependencies bundles collaborators for the stats service.
type StatsDependencies struct {
	TicketRepo repository.TicketRepository
	UserRepo   repository.UserRepository
	TagRepo    repository.TagRepository
	Gateway    chat.Gateway
	Notifier   Heartbeater
	Slack      config.SlackConfig
	Location   *time.Location
	Logger     *zap.Logger
	Clock      func() time.Time
}

// NewStatsService constructs the service.
func NewStatsService(deps StatsDependencies) *StatsService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = logHeartbeat{logger: logger}
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &StatsService{
		tickets:  deps.TicketRepo,
		users:    deps.UserRepo,
		tags:     deps.TagRepo,
		gateway:  deps.Gateway,
		notifier: notifier,
		slack:    deps.Slack,
		location: loc,
		logger:   logger,
		now:      clock,
	}
}

func (s *StatsService) snapshot(ctx context.Context) (stats.Snapshot, error) {
	tickets, err := s.tickets.List(ctx, repository.TicketFilter{})
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("load tickets: %w", err)
	}
	users, err := s.users.List(ctx, repository.UserFilter{})
	if err != nil {
		return stats.Snapshot{}, fmt.Errorf("load users: %w", err)
	}
	return stats.Snapshot{Tickets: tickets, Users: users}, nil
}

func (s *StatsService) questionLink(t domain.Ticket) string {
	return chat.Permalink(s.slack.WorkspaceURL, s.slack.HelpChannel, t.QuestionMessageKey)
}

// Overall returns the all-time statistics.
func (s *StatsService) Overall(ctx context.Context) (stats.Overall, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return stats.Overall{}, err
	}
	return stats.CalculateOverall(snap, s.now(), s.questionLink), nil
}

// Periods returns the last day and week compared with the previous ones.
func (s *StatsService) Periods(ctx context.Context) (stats.Periods, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return stats.Periods{}, err
	}
	return stats.CalculatePeriods(snap, s.now(), s.questionLink), nil
}

// Range returns statistics for tickets created in [since, until). A nil
// until means now; a nil since means the beginning of time.
func (s *StatsService) Range(ctx context.Context, since, until *time.Time) (stats.Daily, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return stats.Daily{}, err
	}
	var start time.Time
	if since != nil {
		start = *since
	}
	end := s.now()
	if until != nil {
		end = *until
	}
	return stats.CalculateDaily(snap, start, end), nil
}

// TicketQuery filters ListTickets. CreatedTo is inclusive.
type TicketQuery struct {
	Status      *domain.TicketStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// ListTickets returns tickets ordered by creation time.
func (s *StatsService) ListTickets(ctx context.Context, q TicketQuery) ([]domain.Ticket, error) {
	filter := repository.TicketFilter{
		CreatedFrom: q.CreatedFrom,
		CreatedTo:   q.CreatedTo,
		Order:       repository.OrderCreatedAsc,
	}
	if q.Status != nil {
		filter.Statuses = []domain.TicketStatus{*q.Status}
	}
	return s.tickets.List(ctx, filter)
}

// ListTicketViews is ListTickets with every participant resolved.
func (s *StatsService) ListTicketViews(ctx context.Context, q TicketQuery) ([]TicketView, error) {
	tickets, err := s.ListTickets(ctx, q)
	if err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx, repository.UserFilter{})
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	byID := make(map[int64]*domain.User, len(users))
	for i := range users {
		byID[users[i].ID] = &users[i]
	}
	lookup := func(id *int64) *domain.User {
		if id == nil {
			return nil
		}
		return byID[*id]
	}

	views := make([]TicketView, 0, len(tickets))
	for _, ticket := range tickets {
		views = append(views, TicketView{
			Ticket:     ticket,
			OpenedBy:   byID[ticket.OpenedByID],
			AssignedTo: lookup(ticket.AssignedToID),
			ClosedBy:   lookup(ticket.ClosedByID),
			ReopenedBy: lookup(ticket.ReopenedByID),
		})
	}
	return views, nil
}

// TicketView is a ticket with its participants resolved.
type TicketView struct {
	Ticket     domain.Ticket
	OpenedBy   *domain.User
	AssignedTo *domain.User
	ClosedBy   *domain.User
	ReopenedBy *domain.User
}

// Ticket loads one ticket and the users it references.
func (s *StatsService) Ticket(ctx context.Context, id int64) (*TicketView, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	view := &TicketView{Ticket: *ticket}
	if view.OpenedBy, err = s.optionalUser(ctx, &ticket.OpenedByID); err != nil {
		return nil, err
	}
	if view.AssignedTo, err = s.optionalUser(ctx, ticket.AssignedToID); err != nil {
		return nil, err
	}
	if view.ClosedBy, err = s.optionalUser(ctx, ticket.ClosedByID); err != nil {
		return nil, err
	}
	if view.ReopenedBy, err = s.optionalUser(ctx, ticket.ReopenedByID); err != nil {
		return nil, err
	}
	return view, nil
}

func (s *StatsService) optionalUser(ctx context.Context, id *int64) (*domain.User, error) {
	if id == nil {
		return nil, nil
	}
	user, err := s.users.GetByID(ctx, *id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

// UserSummary counts the tickets a chat user opened and closed.
type UserSummary struct {
	User          domain.User
	TicketsOpened int
	TicketsClosed int
}

// User summarises one user's activity.
func (s *StatsService) User(ctx context.Context, chatUserID string) (*UserSummary, error) {
	user, err := s.users.GetByChatID(ctx, chatUserID)
	if err != nil {
		return nil, err
	}
	opened, err := s.tickets.Count(ctx, repository.TicketFilter{OpenedByID: &user.ID})
	if err != nil {
		return nil, err
	}
	closed, err := s.tickets.Count(ctx, repository.TicketFilter{ClosedByID: &user.ID})
	if err != nil {
		return nil, err
	}
	return &UserSummary{User: *user, TicketsOpened: opened, TicketsClosed: closed}, nil
}

// SendDailyDigest posts yesterday's statistics and the tickets still waiting
// for a helper to the behind-the-scenes channel. Days are computed in the
// configured location.
func (s *StatsService) SendDailyDigest(ctx context.Context) error {
	channel := s.slack.BTSChannel
	if channel == "" {
		s.notifier.Heartbeat(ctx, "Skipping daily stats: no BTS channel configured")
		return ErrNoDigestChannel
	}

	text, err := s.DigestText(ctx)
	if err != nil {
		s.notifier.Heartbeat(ctx, fmt.Sprintf("Failed to build daily stats: %v", err))
		return err
	}
	if _, err := s.gateway.PostMessage(ctx, chat.OutgoingMessage{Channel: channel, Text: text}); err != nil {
		s.notifier.Heartbeat(ctx, fmt.Sprintf("Failed to send daily stats: %v", err))
		return fmt.Errorf("post daily digest: %w", err)
	}
	s.logger.Info("daily digest sent", zap.String("channel", channel))
	return nil
}

// DigestText renders the digest without posting it.
func (s *StatsService) DigestText(ctx context.Context) (string, error) {
	now := s.now().In(s.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	yesterday := today.AddDate(0, 0, -1)

	snap, err := s.snapshot(ctx)
	if err != nil {
		return "", err
	}
	daily := stats.CalculateDaily(snap, yesterday, today)

	cutoff := today.Add(-digestUnansweredAge)
	helper := domain.ParticipantHelper
	unanswered, err := s.tickets.List(ctx, repository.TicketFilter{
		Statuses:         []domain.TicketStatus{domain.TicketStatusOpen},
		LastMessageByNot: &helper,
		LastActivityTo:   &cutoff,
		Order:            repository.OrderLastMessageAsc,
	})
	if err != nil {
		return "", fmt.Errorf("load unanswered tickets: %w", err)
	}

	waiting := make([]stats.DigestTicket, 0, len(unanswered))
	for _, ticket := range unanswered {
		tags, err := s.tags.ListTicketCategoryTags(ctx, ticket.ID)
		if err != nil {
			return "", fmt.Errorf("load tags for ticket %d: %w", ticket.ID, err)
		}
		names := make([]string, 0, len(tags))
		for _, tag := range tags {
			names = append(names, tag.Name)
		}
		waiting = append(waiting, stats.DigestTicket{
			ID:            ticket.ID,
			Label:         ticket.DisplayTitle(),
			Link:          s.questionLink(ticket),
			Tags:          names,
			CreatedAt:     ticket.CreatedAt,
			LastMessageAt: ticket.LastMessageAt,
		})
	}
	return stats.DigestText(daily, waiting), nil
}
