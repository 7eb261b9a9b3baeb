package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/config"
)

// SlackGateway implements Gateway on top of the Slack Web API.
//
// Calls that hit a rate limit are retried up to the configured number of
// attempts, waiting for the larger of the Retry-After hint and the backoff
// interval.
type SlackGateway struct {
	bot      *slack.Client
	user     *slack.Client
	logger   *zap.Logger
	attempts int
	minWait  time.Duration
	maxWait  time.Duration

	mu        sync.Mutex
	botUserID string
}

// NewSlackGateway builds the gateway from Slack configuration.
func NewSlackGateway(cfg config.SlackConfig, logger *zap.Logger) *SlackGateway {
	botOpts := []slack.Option{}
	if cfg.AppToken != "" {
		botOpts = append(botOpts, slack.OptionAppLevelToken(cfg.AppToken))
	}

	gw := &SlackGateway{
		bot:      slack.New(cfg.BotToken, botOpts...),
		logger:   logger,
		attempts: cfg.RetryAttempts,
		minWait:  500 * time.Millisecond,
		maxWait:  30 * time.Second,
	}
	if cfg.UserToken != "" {
		gw.user = slack.New(cfg.UserToken)
	}
	return gw
}

// Client exposes the bot client for Socket Mode.
func (g *SlackGateway) Client() *slack.Client {
	return g.bot
}

func (g *SlackGateway) PostMessage(ctx context.Context, msg OutgoingMessage) (string, error) {
	var ts string
	err := g.call(ctx, "chat.postMessage", func() error {
		var err error
		_, ts, err = g.bot.PostMessageContext(ctx, msg.Channel, messageOptions(msg)...)
		return err
	})
	return ts, err
}

func (g *SlackGateway) UpdateMessage(ctx context.Context, key string, msg OutgoingMessage) error {
	return g.call(ctx, "chat.update", func() error {
		_, _, _, err := g.bot.UpdateMessageContext(ctx, msg.Channel, key, messageOptions(msg)...)
		return err
	})
}

func (g *SlackGateway) DeleteMessage(ctx context.Context, channel, key string) error {
	return g.call(ctx, "chat.delete", func() error {
		_, _, err := g.bot.DeleteMessageContext(ctx, channel, key)
		return err
	})
}

func (g *SlackGateway) DeleteMessageAsUser(ctx context.Context, channel, key string) error {
	client := g.user
	if client == nil {
		client = g.bot
	}
	return g.call(ctx, "chat.delete", func() error {
		_, _, err := client.DeleteMessageContext(ctx, channel, key)
		return err
	})
}

func (g *SlackGateway) AddReaction(ctx context.Context, channel, key, name string) error {
	return g.call(ctx, "reactions.add", func() error {
		return g.bot.AddReactionContext(ctx, name, slack.NewRefToMessage(channel, key))
	})
}

func (g *SlackGateway) RemoveReaction(ctx context.Context, channel, key, name string) error {
	return g.call(ctx, "reactions.remove", func() error {
		return g.bot.RemoveReactionContext(ctx, name, slack.NewRefToMessage(channel, key))
	})
}

func (g *SlackGateway) PostEphemeral(ctx context.Context, channel, user, threadKey, text string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadKey != "" {
		opts = append(opts, slack.MsgOptionTS(threadKey))
	}
	return g.call(ctx, "chat.postEphemeral", func() error {
		_, err := g.bot.PostEphemeralContext(ctx, channel, user, opts...)
		return err
	})
}

func (g *SlackGateway) ThreadReplies(ctx context.Context, channel, key string, limit int) ([]Message, error) {
	var replies []slack.Message
	err := g.call(ctx, "conversations.replies", func() error {
		var err error
		replies, _, _, err = g.bot.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channel,
			Timestamp: key,
			Limit:     limit,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	result := make([]Message, 0, len(replies))
	for _, reply := range replies {
		result = append(result, Message{
			Key:       reply.Timestamp,
			ThreadKey: reply.ThreadTimestamp,
			User:      reply.User,
			BotID:     reply.BotID,
			Text:      reply.Text,
		})
	}
	return result, nil
}

func (g *SlackGateway) UserProfile(ctx context.Context, userID string) (*Profile, error) {
	var user *slack.User
	err := g.call(ctx, "users.info", func() error {
		var err error
		user, err = g.bot.GetUserInfoContext(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Profile{
		UserID:      user.ID,
		DisplayName: user.Profile.DisplayName,
		RealName:    user.Profile.RealName,
		Handle:      user.Name,
		AvatarURL:   user.Profile.Image512,
		IsAdmin:     user.IsAdmin,
	}, nil
}

// BotUserID returns the bot's own user id, cached after the first lookup.
func (g *SlackGateway) BotUserID(ctx context.Context) (string, error) {
	g.mu.Lock()
	cached := g.botUserID
	g.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var resp *slack.AuthTestResponse
	err := g.call(ctx, "auth.test", func() error {
		var err error
		resp, err = g.bot.AuthTestContext(ctx)
		return err
	})
	if err != nil {
		return "", err
	}

	g.mu.Lock()
	g.botUserID = resp.UserID
	g.mu.Unlock()
	return resp.UserID, nil
}

// WorkspaceAdmin reports whether the user token belongs to a workspace admin.
func (g *SlackGateway) WorkspaceAdmin(ctx context.Context) (bool, error) {
	if g.user == nil {
		return false, nil
	}
	var identity *slack.AuthTestResponse
	err := g.call(ctx, "auth.test", func() error {
		var err error
		identity, err = g.user.AuthTestContext(ctx)
		return err
	})
	if err != nil {
		return false, err
	}
	if identity.UserID == "" {
		return false, fmt.Errorf("auth.test returned no user id for the user token")
	}
	profile, err := g.UserProfile(ctx, identity.UserID)
	if err != nil {
		return false, err
	}
	return profile.IsAdmin, nil
}

func (g *SlackGateway) call(ctx context.Context, method string, fn func() error) error {
	b := &backoff.Backoff{Min: g.minWait, Max: g.maxWait, Factor: 2, Jitter: true}
	for {
		err := fn()
		if err == nil {
			return nil
		}

		var limited *slack.RateLimitedError
		if !errors.As(err, &limited) {
			return translateError(err)
		}
		if int(b.Attempt()) >= g.attempts {
			return &RateLimitError{RetryAfter: limited.RetryAfter}
		}

		wait := b.Duration()
		if limited.RetryAfter > wait {
			wait = limited.RetryAfter
		}
		g.logger.Warn("slack rate limited",
			zap.String("method", method),
			zap.Duration("wait", wait),
			zap.Float64("attempt", b.Attempt()))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func translateError(err error) error {
	code := err.Error()
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		code = apiErr.Err
	}

	switch strings.TrimSpace(code) {
	case "message_not_found", "thread_not_found", "no_reaction", "user_not_found", "channel_not_found":
		return fmt.Errorf("%w: %s", ErrNotFound, code)
	case "already_reacted":
		return fmt.Errorf("%w: %s", ErrAlreadyReacted, code)
	}
	return err
}

func messageOptions(msg OutgoingMessage) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(msg.Blocks...))
	}
	if msg.ThreadKey != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadKey))
	}
	if msg.Username != "" {
		opts = append(opts, slack.MsgOptionUsername(msg.Username))
	}
	if msg.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(msg.IconURL))
	}
	if msg.Unfurl {
		opts = append(opts, slack.MsgOptionEnableLinkUnfurl())
	}
	return opts
}
