package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/config"
	"github.com/spec-kit/helpdesk/internal/events"
)

// NotificationService sends operator heartbeats and keeps an audit log of
// lifecycle events.
type NotificationService struct {
	gateway    chat.Gateway
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.SlackConfig
}

// NewNotificationService creates the service.
func NewNotificationService(gateway chat.Gateway, dispatcher events.Dispatcher, logger *zap.Logger, cfg config.SlackConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		gateway:    gateway,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// Heartbeat reports an operational event. The summary is always logged; when
// a heartbeat channel is configured it is also posted there with each detail
// as a threaded reply. Delivery failures are logged and swallowed.
func (n *NotificationService) Heartbeat(ctx context.Context, summary string, details ...string) {
	n.logger.Info("heartbeat", zap.String("summary", summary), zap.Strings("details", details))

	channel := strings.TrimSpace(n.cfg.HeartbeatChannel)
	if channel == "" || n.gateway == nil {
		return
	}

	key, err := n.gateway.PostMessage(ctx, chat.OutgoingMessage{Channel: channel, Text: summary})
	if err != nil {
		n.logger.Warn("heartbeat delivery failed", zap.String("summary", summary), zap.Error(err))
		return
	}
	for _, detail := range details {
		if _, err := n.gateway.PostMessage(ctx, chat.OutgoingMessage{
			Channel:   channel,
			Text:      detail,
			ThreadKey: key,
		}); err != nil {
			n.logger.Warn("heartbeat detail delivery failed", zap.String("detail", detail), zap.Error(err))
		}
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.audit)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.audit)
	n.dispatcher.Subscribe(events.EventTicketResolved, n.audit)
	n.dispatcher.Subscribe(events.EventTicketReopened, n.audit)
	n.dispatcher.Subscribe(events.EventTicketDeleted, n.audit)
	n.dispatcher.Subscribe(events.EventMacroRun, n.audit)
}

func (n *NotificationService) audit(_ context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.Int64("ticket_id", event.TicketID),
		zap.String("actor", event.Actor.ChatUserID),
		zap.Any("payload", event.Payload))
	return nil
}
