// Package chattest provides an in-memory chat.Gateway that records every call.
package chattest

import (
	"context"
	"fmt"
	"sync"

	"github.com/spec-kit/helpdesk/internal/chat"
)

// Deleted records a DeleteMessage or DeleteMessageAsUser call.
type Deleted struct {
	Channel string
	Key     string
	AsUser  bool
}

// Reaction records a reaction change.
type Reaction struct {
	Channel string
	Key     string
	Name    string
}

// Ephemeral records a PostEphemeral call.
type Ephemeral struct {
	Channel   string
	User      string
	ThreadKey string
	Text      string
}

// Posted is a message that was posted, with the key it was given.
type Posted struct {
	Key string
	chat.OutgoingMessage
}

// Gateway is a recording fake. Error hooks are consulted before the call is
// recorded, so a failed call leaves no trace.
type Gateway struct {
	mu sync.Mutex

	seq     int64
	threads map[string][]chat.Message

	Posted     []Posted
	Updated    []Posted
	Deleted    []Deleted
	Added      []Reaction
	Removed    []Reaction
	Ephemerals []Ephemeral

	Profiles map[string]*chat.Profile
	BotID    string
	Admin    bool

	PostErr           func(msg chat.OutgoingMessage) error
	AddReactionErr    func(name string) error
	RemoveReactionErr func(name string) error
	DeleteErr         func(channel, key string) error
	ThreadRepliesFn   func(channel, key string) ([]chat.Message, error)
}

// New returns an empty fake whose bot user is "UBOT".
func New() *Gateway {
	return &Gateway{
		threads:  make(map[string][]chat.Message),
		Profiles: make(map[string]*chat.Profile),
		BotID:    "UBOT",
	}
}

func threadID(channel, key string) string {
	return channel + "/" + key
}

// SeedThread replaces the messages returned for a thread.
func (g *Gateway) SeedThread(channel, key string, messages ...chat.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threads[threadID(channel, key)] = append([]chat.Message(nil), messages...)
}

// NextKey returns the key the next posted message will get.
func (g *Gateway) NextKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return keyFor(g.seq + 1)
}

func keyFor(seq int64) string {
	return fmt.Sprintf("1700000000.%06d", seq)
}

func (g *Gateway) PostMessage(_ context.Context, msg chat.OutgoingMessage) (string, error) {
	if g.PostErr != nil {
		if err := g.PostErr(msg); err != nil {
			return "", err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	key := keyFor(g.seq)
	g.Posted = append(g.Posted, Posted{Key: key, OutgoingMessage: msg})
	if msg.ThreadKey != "" {
		id := threadID(msg.Channel, msg.ThreadKey)
		g.threads[id] = append(g.threads[id], chat.Message{
			Key: key, ThreadKey: msg.ThreadKey, User: g.BotID, BotID: "BBOT", Text: msg.Text,
		})
	}
	return key, nil
}

func (g *Gateway) UpdateMessage(_ context.Context, key string, msg chat.OutgoingMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Updated = append(g.Updated, Posted{Key: key, OutgoingMessage: msg})
	return nil
}

func (g *Gateway) DeleteMessage(_ context.Context, channel, key string) error {
	return g.delete(channel, key, false)
}

func (g *Gateway) DeleteMessageAsUser(_ context.Context, channel, key string) error {
	return g.delete(channel, key, true)
}

func (g *Gateway) delete(channel, key string, asUser bool) error {
	if g.DeleteErr != nil {
		if err := g.DeleteErr(channel, key); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Deleted = append(g.Deleted, Deleted{Channel: channel, Key: key, AsUser: asUser})
	for id, msgs := range g.threads {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.Key != key {
				kept = append(kept, m)
			}
		}
		g.threads[id] = kept
	}
	return nil
}

func (g *Gateway) AddReaction(_ context.Context, channel, key, name string) error {
	if g.AddReactionErr != nil {
		if err := g.AddReactionErr(name); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Added = append(g.Added, Reaction{Channel: channel, Key: key, Name: name})
	return nil
}

func (g *Gateway) RemoveReaction(_ context.Context, channel, key, name string) error {
	if g.RemoveReactionErr != nil {
		if err := g.RemoveReactionErr(name); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Removed = append(g.Removed, Reaction{Channel: channel, Key: key, Name: name})
	return nil
}

func (g *Gateway) PostEphemeral(_ context.Context, channel, user, threadKey, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Ephemerals = append(g.Ephemerals, Ephemeral{Channel: channel, User: user, ThreadKey: threadKey, Text: text})
	return nil
}

func (g *Gateway) ThreadReplies(_ context.Context, channel, key string, limit int) ([]chat.Message, error) {
	if g.ThreadRepliesFn != nil {
		return g.ThreadRepliesFn(channel, key)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	msgs, ok := g.threads[threadID(channel, key)]
	if !ok {
		return nil, fmt.Errorf("%w: thread_not_found", chat.ErrNotFound)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]chat.Message(nil), msgs...), nil
}

func (g *Gateway) UserProfile(_ context.Context, userID string) (*chat.Profile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	profile, ok := g.Profiles[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user_not_found", chat.ErrNotFound)
	}
	copied := *profile
	return &copied, nil
}

func (g *Gateway) BotUserID(context.Context) (string, error) {
	return g.BotID, nil
}

func (g *Gateway) WorkspaceAdmin(context.Context) (bool, error) {
	return g.Admin, nil
}

// DeletedKeys lists the keys of every deleted message in call order.
func (g *Gateway) DeletedKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	keys := make([]string, 0, len(g.Deleted))
	for _, d := range g.Deleted {
		keys = append(keys, d.Key)
	}
	return keys
}

// PostedTo returns the messages posted to a channel in call order.
func (g *Gateway) PostedTo(channel string) []Posted {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Posted
	for _, p := range g.Posted {
		if p.Channel == channel {
			out = append(out, p)
		}
	}
	return out
}

var _ chat.Gateway = (*Gateway)(nil)
