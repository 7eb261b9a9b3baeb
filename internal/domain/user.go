package domain

import "time"

// User is a chat workspace member known to the bot.
//
// Users are created lazily the first time they ask a question and are never
// removed. Helper and Admin are managed out of band.
type User struct {
	ID         int64
	ChatUserID string
	Username   string
	Helper     bool
	Admin      bool
	CreatedAt  time.Time
}
