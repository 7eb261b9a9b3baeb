package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/repository"
)

// Subtypes of the events emitted when a message is removed.
const (
	SubtypeMessageDeleted = "message_deleted"
	SubtypeMessageChanged = "message_changed"
)

// DeletionEvent describes a removed message. Previous is the message as it
// was before removal. A message with replies is not removed outright but
// turned into a tombstone, which arrives as SubtypeMessageChanged.
type DeletionEvent struct {
	Channel  string
	Subtype  string
	Previous *chat.Message
}

// Teardown removes every trace of a ticket: tracked bot replies, the backend
// mirror and finally the ticket row. Messages that are already gone count as
// deleted. A failure part way through leaves the row in place so the
// teardown can be retried.
func (s *TicketService) Teardown(ctx context.Context, ticket *domain.Ticket, reason string) error {
	return s.teardown(ctx, ticket, reason, nil)
}

// teardown also deletes extraKeys, bot messages found in the question thread
// that were never recorded.
func (s *TicketService) teardown(ctx context.Context, ticket *domain.Ticket, reason string, extraKeys []string) error {
	messages, err := s.botMessages.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return fmt.Errorf("list bot messages: %w", err)
	}

	deleted := make(map[string]bool, len(messages)+len(extraKeys))
	for _, msg := range messages {
		if err := s.deleteMessage(ctx, msg.ChannelID, msg.MessageKey); err != nil {
			return fmt.Errorf("delete bot message %s: %w", msg.MessageKey, err)
		}
		deleted[msg.MessageKey] = true
		if err := s.botMessages.Delete(ctx, msg.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("forget bot message %d: %w", msg.ID, err)
		}
	}
	for _, key := range extraKeys {
		if deleted[key] {
			continue
		}
		if err := s.deleteMessage(ctx, s.slack.HelpChannel, key); err != nil {
			return fmt.Errorf("delete thread message %s: %w", key, err)
		}
		deleted[key] = true
	}

	if ticket.BackendMessageKey != "" {
		if err := s.deleteMessage(ctx, s.slack.TicketChannel, ticket.BackendMessageKey); err != nil {
			return fmt.Errorf("delete backend mirror: %w", err)
		}
	}

	if err := s.tickets.Delete(ctx, ticket.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete ticket %d: %w", ticket.ID, err)
	}

	s.logger.Info("ticket torn down", zap.Int64("ticket_id", ticket.ID), zap.String("reason", reason))
	s.publish(ctx, events.New(events.EventTicketDeleted, ticket.ID, events.Actor{}, events.TicketDeletedPayload{
		QuestionKey: ticket.QuestionMessageKey,
		Reason:      reason,
		BotMessages: len(deleted),
	}))
	return nil
}

// HandleDeletion reacts to a question being deleted from the help channel.
// Deleted thread replies are ignored. A tombstoned question is only cleaned
// up when nobody but the bot has replied to it.
func (s *TicketService) HandleDeletion(ctx context.Context, ev DeletionEvent) error {
	if ev.Channel != s.slack.HelpChannel {
		return nil
	}
	prev := ev.Previous
	if prev == nil || prev.Key == "" {
		s.logger.Warn("deletion event without the previous message")
		return nil
	}
	if prev.ThreadKey != "" && prev.ThreadKey != prev.Key {
		return nil
	}

	if ev.Subtype == SubtypeMessageDeleted {
		ticket, err := s.tickets.GetByQuestionKey(ctx, prev.Key)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		return s.teardown(ctx, ticket, "question deleted", nil)
	}

	replies, err := s.gateway.ThreadReplies(ctx, ev.Channel, prev.Key, threadReplyLimit)
	if err != nil {
		if chat.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("read deleted question thread: %w", err)
	}
	botID, err := s.gateway.BotUserID(ctx)
	if err != nil {
		return fmt.Errorf("resolve bot user: %w", err)
	}

	var botKeys []string
	for _, msg := range replies {
		switch {
		case msg.User == botID:
			botKeys = append(botKeys, msg.Key)
		case msg.Key != prev.Key:
			return nil
		}
	}

	s.notifier.Heartbeat(ctx, fmt.Sprintf("Removing my %d message(s) in a thread because the question was deleted.", len(botKeys)))

	ticket, err := s.tickets.GetByQuestionKey(ctx, prev.Key)
	switch {
	case err == nil:
		return s.teardown(ctx, ticket, "question deleted", botKeys)
	case !errors.Is(err, repository.ErrNotFound):
		return err
	}

	for _, key := range botKeys {
		if err := s.deleteMessage(ctx, ev.Channel, key); err != nil {
			return fmt.Errorf("delete thread message %s: %w", key, err)
		}
	}
	return nil
}

// DeleteThreadBotReplies removes every message the bot posted in the
// question thread and returns how many were removed.
func (s *TicketService) DeleteThreadBotReplies(ctx context.Context, ticket *domain.Ticket) (int, error) {
	botID, err := s.gateway.BotUserID(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve bot user: %w", err)
	}
	replies, err := s.gateway.ThreadReplies(ctx, s.slack.HelpChannel, ticket.QuestionMessageKey, threadReplyLimit)
	if err != nil {
		if chat.IsNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read question thread: %w", err)
	}

	removed := 0
	for _, msg := range replies {
		if msg.User != botID {
			continue
		}
		if err := s.deleteMessage(ctx, s.slack.HelpChannel, msg.Key); err != nil {
			return removed, fmt.Errorf("delete thread message %s: %w", msg.Key, err)
		}
		if err := s.botMessages.DeleteByKey(ctx, s.slack.HelpChannel, msg.Key); err != nil {
			s.logger.Warn("failed to forget bot message", zap.String("key", msg.Key), zap.Error(err))
		}
		removed++
	}
	return removed, nil
}
