// Package stats derives leaderboard, hang time and resolution time metrics
// from a snapshot of the ticket store. Nothing here touches I/O.
package stats

import (
	"sort"
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// Snapshot is the input to every calculation.
type Snapshot struct {
	Tickets []domain.Ticket
	Users   []domain.User
}

// LeaderboardEntry counts the tickets one helper closed.
type LeaderboardEntry struct {
	UserID     int64  `json:"id"`
	ChatUserID string `json:"slack_id"`
	Count      int    `json:"count"`
}

// OldestUnanswered describes the ticket that has waited longest for a helper.
type OldestUnanswered struct {
	ID         int64   `json:"id"`
	CreatedAt  string  `json:"created_at"`
	AgeMinutes float64 `json:"age_minutes"`
	Link       string  `json:"link"`
}

// Overall is the all-time view of the ticket store.
type Overall struct {
	TicketsTotal                  int                `json:"tickets_total"`
	TicketsOpen                   int                `json:"tickets_open"`
	TicketsClosed                 int                `json:"tickets_closed"`
	TicketsInProgress             int                `json:"tickets_in_progress"`
	HelpersLeaderboard            []LeaderboardEntry `json:"helpers_leaderboard"`
	MeanHangTimeMinutesUnresolved *float64           `json:"mean_hang_time_minutes_unresolved"`
	MeanHangTimeMinutesAll        *float64           `json:"mean_hang_time_minutes_all"`
	MeanResolutionTimeMinutes     *float64           `json:"mean_resolution_time_minutes"`
	OldestUnansweredTicket        *OldestUnanswered  `json:"oldest_unanswered_ticket"`
}

// Daily covers the half open interval [start, end), usually one day.
type Daily struct {
	NewTicketsTotal               int                `json:"new_tickets_total"`
	NewTicketsNowClosed           int                `json:"new_tickets_now_closed"`
	NewTicketsStillOpen           int                `json:"new_tickets_still_open"`
	NewTicketsInProgress          int                `json:"new_tickets_in_progress"`
	ClosedToday                   int                `json:"closed_today"`
	ClosedTodayFromToday          int                `json:"closed_today_from_today"`
	AssignedTodayInProgress       int                `json:"assigned_today_in_progress"`
	HelpersLeaderboard            []LeaderboardEntry `json:"helpers_leaderboard"`
	MeanHangTimeMinutesUnresolved *float64           `json:"mean_hang_time_minutes_unresolved"`
	MeanHangTimeMinutesAll        *float64           `json:"mean_hang_time_minutes_all"`
	MeanResolutionTimeMinutes     *float64           `json:"mean_resolution_time_minutes"`
}

// Periods compares the last day and week with the ones before them.
type Periods struct {
	AllTime         Overall `json:"all_time"`
	Past24h         Daily   `json:"past_24h"`
	Past24hPrevious Daily   `json:"past_24h_previous"`
	Past7d          Daily   `json:"past_7d"`
	Past7dPrevious  Daily   `json:"past_7d_previous"`
}

// LinkFunc builds the permalink of a ticket's question.
type LinkFunc func(domain.Ticket) string

// CalculateOverall computes the all-time statistics at instant now.
func CalculateOverall(s Snapshot, now time.Time, link LinkFunc) Overall {
	result := Overall{TicketsTotal: len(s.Tickets)}
	for _, t := range s.Tickets {
		switch t.Status {
		case domain.TicketStatusOpen:
			result.TicketsOpen++
		case domain.TicketStatusInProgress:
			result.TicketsInProgress++
		case domain.TicketStatusClosed:
			result.TicketsClosed++
		}
	}

	result.HelpersLeaderboard = leaderboard(s, func(domain.Ticket) bool { return true })
	result.MeanHangTimeMinutesUnresolved = mean(hangTimes(s.Tickets, false))
	result.MeanHangTimeMinutesAll = mean(hangTimes(s.Tickets, true))
	result.MeanResolutionTimeMinutes = mean(resolutionTimes(s.Tickets))

	if waiting := Unanswered(s.Tickets, nil); len(waiting) > 0 {
		oldest := waiting[0]
		info := &OldestUnanswered{
			ID:         oldest.ID,
			CreatedAt:  oldest.CreatedAt.Format(time.RFC3339Nano),
			AgeMinutes: now.Sub(oldest.CreatedAt).Minutes(),
		}
		if link != nil {
			info.Link = link(oldest)
		}
		result.OldestUnansweredTicket = info
	}
	return result
}

// CalculateDaily computes statistics for tickets active in [start, end).
func CalculateDaily(s Snapshot, start, end time.Time) Daily {
	inRange := func(t time.Time) bool {
		return !t.Before(start) && t.Before(end)
	}

	var created []domain.Ticket
	var result Daily
	for _, t := range s.Tickets {
		if inRange(t.CreatedAt) {
			created = append(created, t)
			switch t.Status {
			case domain.TicketStatusOpen:
				result.NewTicketsStillOpen++
			case domain.TicketStatusInProgress:
				result.NewTicketsInProgress++
			case domain.TicketStatusClosed:
				result.NewTicketsNowClosed++
			}
		}
		if t.Status == domain.TicketStatusClosed && t.ClosedAt != nil && inRange(*t.ClosedAt) {
			result.ClosedToday++
			if inRange(t.CreatedAt) {
				result.ClosedTodayFromToday++
			}
		}
		if t.Status == domain.TicketStatusInProgress && t.AssignedAt != nil && inRange(*t.AssignedAt) {
			result.AssignedTodayInProgress++
		}
	}
	result.NewTicketsTotal = len(created)

	result.HelpersLeaderboard = leaderboard(s, func(t domain.Ticket) bool {
		return t.ClosedAt != nil && inRange(*t.ClosedAt)
	})
	result.MeanHangTimeMinutesUnresolved = mean(hangTimes(created, false))
	result.MeanHangTimeMinutesAll = mean(hangTimes(created, true))
	result.MeanResolutionTimeMinutes = mean(resolutionTimes(created))
	return result
}

// CalculatePeriods builds the all-time view plus rolling day and week deltas.
func CalculatePeriods(s Snapshot, now time.Time, link LinkFunc) Periods {
	day := 24 * time.Hour
	week := 7 * day
	return Periods{
		AllTime:         CalculateOverall(s, now, link),
		Past24h:         CalculateDaily(s, now.Add(-day), now),
		Past24hPrevious: CalculateDaily(s, now.Add(-2*day), now.Add(-day)),
		Past7d:          CalculateDaily(s, now.Add(-week), now),
		Past7dPrevious:  CalculateDaily(s, now.Add(-2*week), now.Add(-week)),
	}
}

// Unanswered returns OPEN tickets whose latest message was not from a helper,
// most neglected first. Activity falls back to creation time for tickets with
// no replies. When before is set only tickets idle since before are kept.
func Unanswered(tickets []domain.Ticket, before *time.Time) []domain.Ticket {
	var out []domain.Ticket
	for _, t := range tickets {
		if t.Status != domain.TicketStatusOpen {
			continue
		}
		if t.LastMessageBy != nil && *t.LastMessageBy == domain.ParticipantHelper {
			continue
		}
		if before != nil && !LastActivity(t).Before(*before) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := LastActivity(out[i]), LastActivity(out[j])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LastActivity is the last message time, or creation time if nobody replied.
func LastActivity(t domain.Ticket) time.Time {
	if t.LastMessageAt != nil {
		return *t.LastMessageAt
	}
	return t.CreatedAt
}

// leaderboard counts matching tickets closed by each helper. Ties are broken
// by ascending user id so the order is stable across runs.
func leaderboard(s Snapshot, include func(domain.Ticket) bool) []LeaderboardEntry {
	counts := make(map[int64]int)
	for _, t := range s.Tickets {
		if t.ClosedByID != nil && include(t) {
			counts[*t.ClosedByID]++
		}
	}

	entries := []LeaderboardEntry{}
	for _, u := range s.Users {
		if !u.Helper || counts[u.ID] == 0 {
			continue
		}
		entries = append(entries, LeaderboardEntry{UserID: u.ID, ChatUserID: u.ChatUserID, Count: counts[u.ID]})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

func hangTimes(tickets []domain.Ticket, includeClosed bool) []float64 {
	var out []float64
	for _, t := range tickets {
		if !includeClosed && t.Status == domain.TicketStatusClosed {
			continue
		}
		if t.AssignedAt == nil {
			continue
		}
		out = append(out, t.AssignedAt.Sub(t.CreatedAt).Minutes())
	}
	return out
}

func resolutionTimes(tickets []domain.Ticket) []float64 {
	var out []float64
	for _, t := range tickets {
		if t.ClosedAt == nil {
			continue
		}
		out = append(out, t.ClosedAt.Sub(t.CreatedAt).Minutes())
	}
	return out
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / float64(len(values))
	return &m
}
