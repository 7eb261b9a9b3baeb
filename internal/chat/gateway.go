// Package chat is the boundary between the ticket lifecycle and the chat
// platform. Gateway is implemented by SlackGateway in production and by
// chattest.Gateway in tests.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slack-go/slack"
)

// Reaction names used to mark question messages.
const (
	ReactionPending  = "thinking_face"
	ReactionResolved = "white_check_mark"
)

var (
	// ErrNotFound covers messages, threads, reactions and users that no longer exist.
	ErrNotFound = errors.New("chat: not found")
	// ErrAlreadyReacted is returned when the reaction is already present.
	ErrAlreadyReacted = errors.New("chat: already reacted")
)

// RateLimitError is returned once the gateway gives up retrying a rate
// limited call. RetryAfter carries the platform's hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("chat: rate limited, retry after %s", e.RetryAfter)
}

// OutgoingMessage describes a message to post or an update to apply.
type OutgoingMessage struct {
	Channel   string
	Text      string
	Blocks    []slack.Block
	ThreadKey string
	Username  string
	IconURL   string
	Unfurl    bool
}

// Message is a message read back from a thread.
type Message struct {
	Key       string
	ThreadKey string
	User      string
	BotID     string
	Text      string
}

// Profile is the public profile of a workspace member.
type Profile struct {
	UserID      string
	DisplayName string
	RealName    string
	Handle      string
	AvatarURL   string
	IsAdmin     bool
}

// Name returns the best available human readable name, or fallback.
func (p *Profile) Name(fallback string) string {
	if p == nil {
		return fallback
	}
	for _, candidate := range []string{p.DisplayName, p.RealName, p.Handle} {
		if candidate != "" {
			return candidate
		}
	}
	return fallback
}

// Gateway is the set of chat operations the ticket lifecycle depends on.
type Gateway interface {
	PostMessage(ctx context.Context, msg OutgoingMessage) (string, error)
	UpdateMessage(ctx context.Context, key string, msg OutgoingMessage) error
	DeleteMessage(ctx context.Context, channel, key string) error
	// DeleteMessageAsUser deletes with the elevated user token, which can
	// remove messages the bot did not author.
	DeleteMessageAsUser(ctx context.Context, channel, key string) error
	AddReaction(ctx context.Context, channel, key, name string) error
	RemoveReaction(ctx context.Context, channel, key, name string) error
	PostEphemeral(ctx context.Context, channel, user, threadKey, text string) error
	ThreadReplies(ctx context.Context, channel, key string, limit int) ([]Message, error)
	UserProfile(ctx context.Context, userID string) (*Profile, error)
	BotUserID(ctx context.Context) (string, error)
	WorkspaceAdmin(ctx context.Context) (bool, error)
}

// IsNotFound reports whether err means the target is already gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRateLimited unwraps a RateLimitError.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
