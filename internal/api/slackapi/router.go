// Package slackapi turns inbound Slack traffic (Events API callbacks, block
// actions and external select lookups) into ticket lifecycle calls. It is
// shared by the HTTP endpoints and the Socket Mode loop.
package slackapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/service"
	"github.com/spec-kit/helpdesk/internal/transcript"
)

const (
	defaultHandlerTimeout = 2 * time.Minute
	defaultDedupeTTL      = 15 * time.Minute

	subtypeTombstone = "tombstone"
)

// Tickets is the part of the ticket service inbound events drive.
type Tickets interface {
	HandleMessage(ctx context.Context, ev service.MessageEvent) error
	HandleDeletion(ctx context.Context, ev service.DeletionEvent) error
	Resolve(ctx context.Context, questionKey, resolverChatID string, opts service.ResolveOptions) service.ResolveOutcome
}

// Tags is the part of the tag service the backend message selects drive.
type Tags interface {
	AssignQuestionTag(ctx context.Context, backendKey, userChatID, value string) error
	SetCategoryTags(ctx context.Context, backendKey, userChatID string, values []string) error
	SearchCategoryTags(ctx context.Context, query string) ([]domain.Tag, error)
}

// Deduper remembers event ids so redelivered callbacks are dropped.
type Deduper interface {
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
}

// OptionsResponse is the body returned for a block_suggestion request.
type OptionsResponse struct {
	Options []*slack.OptionBlockObject `json:"options"`
}

// Router dispatches inbound Slack payloads.
type Router struct {
	tickets    Tickets
	tags       Tags
	gateway    chat.Gateway
	deduper    Deduper
	dedupeTTL  time.Duration
	transcript *transcript.Transcript
	metrics    *observability.Metrics
	logger     *zap.Logger
	timeout    time.Duration

	wg sync.WaitGroup
}

// Dependencies bundles collaborators for the router.
type Dependencies struct {
	Tickets    Tickets
	Tags       Tags
	Gateway    chat.Gateway
	Deduper    Deduper
	DedupeTTL  time.Duration
	Transcript *transcript.Transcript
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	// HandlerTimeout bounds one asynchronously handled payload.
	HandlerTimeout time.Duration
}

// NewRouter constructs a router. A nil Deduper disables deduplication.
func NewRouter(deps Dependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := deps.DedupeTTL
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	timeout := deps.HandlerTimeout
	if timeout <= 0 {
		timeout = defaultHandlerTimeout
	}
	t := deps.Transcript
	if t == nil {
		t, _ = transcript.Load("default", "")
	}
	return &Router{
		tickets:    deps.Tickets,
		tags:       deps.Tags,
		gateway:    deps.Gateway,
		deduper:    deps.Deduper,
		dedupeTTL:  ttl,
		transcript: t,
		metrics:    deps.Metrics,
		logger:     logger,
		timeout:    timeout,
	}
}

// Go handles fn on its own goroutine so the caller can acknowledge Slack
// straight away. Errors and panics are logged.
func (r *Router) Go(kind string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		logger := r.logger.With(zap.String("kind", kind), zap.String("dispatch_id", uuid.NewString()))
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic handling slack payload", zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Error("failed to handle slack payload", zap.Error(err))
		}
	}()
}

// Wait blocks until every payload handed to Go has been handled.
func (r *Router) Wait() {
	r.wg.Wait()
}

// messagePayload is the subset of a message event the bot reads.
type messagePayload struct {
	Type            string          `json:"type"`
	Subtype         string          `json:"subtype"`
	Channel         string          `json:"channel"`
	User            string          `json:"user"`
	BotID           string          `json:"bot_id"`
	Text            string          `json:"text"`
	TS              string          `json:"ts"`
	ThreadTS        string          `json:"thread_ts"`
	Message         *messagePayload `json:"message"`
	PreviousMessage *messagePayload `json:"previous_message"`
}

func (m *messagePayload) chatMessage() *chat.Message {
	if m == nil {
		return nil
	}
	return &chat.Message{Key: m.TS, ThreadKey: m.ThreadTS, User: m.User, BotID: m.BotID, Text: m.Text}
}

// HandleEventsAPI handles one Events API callback. URL verification and
// other outer event types are ignored here.
func (r *Router) HandleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) error {
	callback, ok := event.Data.(*slackevents.EventsAPICallbackEvent)
	if !ok || callback == nil || callback.InnerEvent == nil {
		return nil
	}
	if !r.firstDelivery(ctx, callback.EventID) {
		return nil
	}

	var msg messagePayload
	if err := json.Unmarshal(*callback.InnerEvent, &msg); err != nil {
		return fmt.Errorf("decode inner event %s: %w", callback.EventID, err)
	}
	r.metrics.RecordSlackEvent(eventLabel(msg))

	if msg.Type != string(slackevents.Message) {
		return nil
	}
	switch {
	case msg.Subtype == service.SubtypeMessageDeleted,
		msg.Subtype == service.SubtypeMessageChanged && msg.Message != nil && msg.Message.Subtype == subtypeTombstone:
		return r.tickets.HandleDeletion(ctx, service.DeletionEvent{
			Channel:  msg.Channel,
			Subtype:  msg.Subtype,
			Previous: msg.PreviousMessage.chatMessage(),
		})
	case msg.Subtype == service.SubtypeMessageChanged:
		return nil
	}

	return r.tickets.HandleMessage(ctx, service.MessageEvent{
		Channel:   msg.Channel,
		User:      msg.User,
		Text:      msg.Text,
		Key:       msg.TS,
		ThreadKey: msg.ThreadTS,
		Subtype:   msg.Subtype,
		BotID:     msg.BotID,
	})
}

func eventLabel(msg messagePayload) string {
	switch {
	case msg.Type != string(slackevents.Message):
		return msg.Type
	case msg.Subtype == service.SubtypeMessageDeleted:
		return "message_deleted"
	case msg.Subtype == service.SubtypeMessageChanged:
		return "message_changed"
	}
	return "message"
}

// firstDelivery reports whether eventID has not been handled yet. Dedupe is
// best effort: a store failure lets the event through.
func (r *Router) firstDelivery(ctx context.Context, eventID string) bool {
	if r.deduper == nil || eventID == "" {
		return true
	}
	fresh, err := r.deduper.MarkEventSeen(ctx, eventID, r.dedupeTTL)
	if err != nil {
		r.logger.Warn("event dedupe unavailable", zap.String("event_id", eventID), zap.Error(err))
		return true
	}
	if !fresh {
		r.logger.Debug("dropping redelivered event", zap.String("event_id", eventID))
		r.metrics.RecordSlackEvent("duplicate")
	}
	return fresh
}

// HandleInteraction handles block actions: the resolve button and the tag
// selects on backend messages.
func (r *Router) HandleInteraction(ctx context.Context, cb slack.InteractionCallback) error {
	if cb.Type != slack.InteractionTypeBlockActions {
		return nil
	}
	var errs []error
	for _, action := range cb.ActionCallback.BlockActions {
		if action == nil {
			continue
		}
		r.metrics.RecordSlackEvent("action:" + action.ActionID)
		if err := r.handleAction(ctx, cb, action); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", action.ActionID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) handleAction(ctx context.Context, cb slack.InteractionCallback, action *slack.BlockAction) error {
	var err error
	switch action.ActionID {
	case chat.ActionMarkResolved:
		outcome := r.tickets.Resolve(ctx, action.Value, cb.User.ID, service.DefaultResolveOptions())
		r.logger.Info("resolve button clicked",
			zap.String("question", action.Value),
			zap.String("user", cb.User.ID),
			zap.Int("outcome", int(outcome)))
		return nil
	case chat.ActionQuestionTag:
		err = r.tags.AssignQuestionTag(ctx, messageKey(cb), cb.User.ID, action.SelectedOption.Value)
	case chat.ActionTeamTags:
		values := make([]string, 0, len(action.SelectedOptions))
		for _, opt := range action.SelectedOptions {
			values = append(values, opt.Value)
		}
		err = r.tags.SetCategoryTags(ctx, messageKey(cb), cb.User.ID, values)
	default:
		r.logger.Debug("ignoring unknown action", zap.String("action_id", action.ActionID))
		return nil
	}

	if errors.Is(err, service.ErrNotHelper) {
		return r.gateway.PostEphemeral(ctx, channelID(cb), cb.User.ID, "", r.transcript.NotAuthorizedTags)
	}
	return err
}

// Options answers an external select lookup. Only the category tag select
// is backed by a data source.
func (r *Router) Options(ctx context.Context, cb slack.InteractionCallback) (OptionsResponse, error) {
	resp := OptionsResponse{Options: []*slack.OptionBlockObject{}}
	if cb.ActionID != chat.ActionTeamTags {
		return resp, nil
	}
	r.metrics.RecordSlackEvent("options:" + cb.ActionID)

	tags, err := r.tags.SearchCategoryTags(ctx, cb.Value)
	if err != nil {
		return resp, fmt.Errorf("search category tags: %w", err)
	}
	for _, tag := range tags {
		resp.Options = append(resp.Options, chat.TagOption(tag))
	}
	return resp, nil
}

func messageKey(cb slack.InteractionCallback) string {
	if cb.Container.MessageTs != "" {
		return cb.Container.MessageTs
	}
	return cb.Message.Timestamp
}

func channelID(cb slack.InteractionCallback) string {
	if cb.Channel.ID != "" {
		return cb.Channel.ID
	}
	return cb.Container.ChannelID
}
