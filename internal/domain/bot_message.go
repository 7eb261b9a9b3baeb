package domain

import "time"

// BotMessage mirrors a message the bot posted into a question thread so it can
// be removed again when the ticket is torn down.
type BotMessage struct {
	ID         int64
	TicketID   int64
	ChannelID  string
	MessageKey string
	CreatedAt  time.Time
}
