package stats

import (
	"fmt"
	"strings"
	"time"
)

// maxDigestTickets caps how many unanswered tickets the digest lists.
const maxDigestTickets = 5

// DigestTicket is one unanswered ticket as shown in the daily digest.
type DigestTicket struct {
	ID            int64
	Label         string
	Link          string
	Tags          []string
	CreatedAt     time.Time
	LastMessageAt *time.Time
}

// FormatDate renders t as a chat date token that each reader sees in their
// own timezone, with a plain fallback.
func FormatDate(t time.Time) string {
	fallback := strings.Replace(t.Format(time.RFC3339), "T", " ", 1)
	return fmt.Sprintf("<!date^%d^{date_short}|%s>", t.Unix(), fallback)
}

// DigestText renders the daily stats message.
func DigestText(d Daily, waiting []DigestTicket) string {
	var leaderboard string
	if len(d.HelpersLeaderboard) == 0 {
		leaderboard = "_No tickets were closed yesterday!_"
	} else {
		lines := make([]string, 0, 3)
		for i, entry := range d.HelpersLeaderboard {
			if i == 3 {
				break
			}
			lines = append(lines, fmt.Sprintf("%d. <@%s> - %d closed tickets", i+1, entry.ChatUserID, entry.Count))
		}
		leaderboard = strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("um, um, hi there! hope i'm not disturbing you, but i just wanted to let you know that i've got some stats for you! :rac_cute:\n\n")
	b.WriteString("*:mc-clock: in the last 24 hours...* _(that's a day, right? right? that's a day, yeah ok)_\n")
	fmt.Fprintf(&b, ":rac_woah: *%d* total tickets were opened and you managed to close *%d* of them! congrats!! :D\n",
		d.NewTicketsTotal, d.ClosedTodayFromToday)
	fmt.Fprintf(&b, ":rac_info: *%d* tickets have been assigned to users, and *%d* are still open\n",
		d.AssignedTodayInProgress, d.NewTicketsStillOpen)
	fmt.Fprintf(&b, "you managed to close a whopping *%d* tickets in the last 24 hours, well done!\n\n", d.ClosedToday)
	b.WriteString("*:rac_info: today's leaderboard*\n")
	b.WriteString(leaderboard)
	b.WriteString("\n\n")
	b.WriteString(awaitingResponse(waiting))
	return b.String()
}

func awaitingResponse(tickets []DigestTicket) string {
	if len(tickets) == 0 {
		return ":rac_woah: _btw, i looked for old unanswered tickets, but found none. well done team!_"
	}

	lines := []string{
		":rac_shy: *tickets you could take a look at*",
		"i found some older tickets that might be waiting for a response from someone...",
	}
	for i, t := range tickets {
		if i == maxDigestTickets {
			break
		}
		label := t.Label
		if label == "" {
			label = fmt.Sprintf("Ticket #%d (no description)", t.ID)
		}
		var tags string
		if len(t.Tags) > 0 {
			bold := make([]string, len(t.Tags))
			for j, tag := range t.Tags {
				bold[j] = "*" + tag + "*"
			}
			tags = " (" + strings.Join(bold, ", ") + ")"
		}
		lastReply := "unknown"
		if t.LastMessageAt != nil {
			lastReply = FormatDate(*t.LastMessageAt)
		}
		lines = append(lines, fmt.Sprintf("%d. <%s|%s>%s (created %s, last reply *%s*)",
			i+1, t.Link, label, tags, FormatDate(t.CreatedAt), lastReply))
	}
	if len(tickets) > maxDigestTickets {
		lines = append(lines, fmt.Sprintf("_(plus %d more)_", len(tickets)-maxDigestTickets))
	}
	return strings.Join(lines, "\n")
}
