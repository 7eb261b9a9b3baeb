package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/events"
	"github.com/spec-kit/helpdesk/internal/persistence"
	"github.com/spec-kit/helpdesk/internal/repository"
	"github.com/spec-kit/helpdesk/internal/transcript"
)

// ResolveOutcome reports what a Resolve call did.
type ResolveOutcome int

const (
	// ResolveSkipped means nothing changed: the ticket was missing, already
	// closed, or the resolver is unknown.
	ResolveSkipped ResolveOutcome = iota
	// ResolveClosed means this call closed the ticket.
	ResolveClosed
	// ResolveDenied means the resolver is not allowed to close the ticket.
	ResolveDenied
)

// ResolveOptions tune the side effects of Resolve.
type ResolveOptions struct {
	// Stale selects the inactivity wording for the closing message.
	Stale bool
	// SendMessage posts the closing message into the question thread.
	SendMessage bool
	// AddReaction marks the question with the resolved reaction.
	AddReaction bool
	// System skips the authorization check for scheduled jobs.
	System bool
}

// DefaultResolveOptions posts the closing message and reaction.
func DefaultResolveOptions() ResolveOptions {
	return ResolveOptions{SendMessage: true, AddReaction: true}
}

// Resolve closes the ticket for questionKey on behalf of resolverChatID. It
// never returns an error: failed preconditions are reported to operators and
// resolving an already closed ticket is a no-op.
func (s *TicketService) Resolve(ctx context.Context, questionKey, resolverChatID string, opts ResolveOptions) ResolveOutcome {
	details := []string{"Ticket TS: " + questionKey, "Resolver ID: " + resolverChatID}

	resolver, err := s.users.GetByChatID(ctx, resolverChatID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.notifier.Heartbeat(ctx, fmt.Sprintf("User %s attempted to resolve ticket with ts %s but isn't in the database.",
				resolverChatID, questionKey), details...)
		} else {
			s.logger.Error("failed to load resolver", zap.String("resolver", resolverChatID), zap.Error(err))
		}
		return ResolveSkipped
	}

	ticket, err := s.tickets.GetByQuestionKey(ctx, questionKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("cannot resolve ticket that does not exist", zap.String("question", questionKey))
		} else {
			s.logger.Error("failed to load ticket", zap.String("question", questionKey), zap.Error(err))
		}
		return ResolveSkipped
	}

	if ticket.IsClosed() {
		s.logger.Warn("ticket is already closed", zap.Int64("ticket_id", ticket.ID))
		return ResolveSkipped
	}

	if !opts.System && !s.CanResolve(resolver, ticket) {
		s.notifier.Heartbeat(ctx, fmt.Sprintf("User %s attempted to resolve ticket with ts %s without permission.",
			resolverChatID, questionKey), details...)
		return ResolveDenied
	}

	// A non-helper closing an assigned ticket is credited to the assignee.
	closer := resolver
	if !resolver.Helper && ticket.AssignedToID != nil {
		assignee, err := s.users.GetByID(ctx, *ticket.AssignedToID)
		if err == nil {
			closer = assignee
		} else {
			s.logger.Warn("assigned helper not found", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
		}
	}

	now := s.now()
	closed := domain.TicketStatusClosed
	updated, err := s.tickets.Update(ctx, ticket.ID, repository.TicketPatch{
		Status:           &closed,
		ClosedByID:       &closer.ID,
		ClosedAt:         &now,
		RequireNotStatus: &closed,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Info("ticket was closed concurrently", zap.Int64("ticket_id", ticket.ID))
		} else {
			s.logger.Error("failed to close ticket", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
			s.notifier.Heartbeat(ctx, fmt.Sprintf("Failed to resolve ticket with ts %s by %s: %v", questionKey, resolverChatID, err), details...)
		}
		return ResolveSkipped
	}

	if opts.SendMessage {
		template := s.transcript.TicketResolve
		if opts.Stale {
			template = s.transcript.TicketResolveStale
		}
		text := s.transcript.Render(template, transcript.Params{
			UserID:      closer.ChatUserID,
			HelpChannel: s.slack.HelpChannel,
		})
		if err := s.ReplyToTicket(ctx, updated, text); err != nil {
			s.logger.Warn("failed to post resolve message", zap.Int64("ticket_id", updated.ID), zap.Error(err))
		}
	}
	if opts.AddReaction {
		if err := s.gateway.AddReaction(ctx, s.slack.HelpChannel, questionKey, chat.ReactionResolved); err != nil &&
			!errors.Is(err, chat.ErrAlreadyReacted) {
			s.logger.Warn("failed to add resolved reaction", zap.Int64("ticket_id", updated.ID), zap.Error(err))
		}
	}
	if err := s.gateway.RemoveReaction(ctx, s.slack.HelpChannel, questionKey, chat.ReactionPending); err != nil {
		s.logger.Warn("failed to remove pending reaction", zap.Int64("ticket_id", updated.ID), zap.Error(err))
	}
	s.retireMirror(ctx, updated.BackendMessageKey)

	s.logger.Info("resolved ticket", zap.Int64("ticket_id", updated.ID), zap.String("closed_by", closer.ChatUserID))
	s.publish(ctx, events.New(events.EventTicketResolved, updated.ID, actorOf(resolver), events.TicketResolvedPayload{
		ClosedByID: closer.ID,
		Stale:      opts.Stale,
	}))
	return ResolveClosed
}

// CanResolve applies the resolve policy: admins always may; helpers may
// when the ticket is theirs or unassigned (or any ticket when configured);
// the author may when self resolution is enabled.
func (s *TicketService) CanResolve(user *domain.User, ticket *domain.Ticket) bool {
	if user.Admin {
		return true
	}
	if user.Helper {
		if ticket.AssignedToID == nil || *ticket.AssignedToID == user.ID || s.policy.AnyHelperResolve {
			return true
		}
	}
	return ticket.OpenedByID == user.ID && s.policy.AllowSelfResolve
}

// retireMirror removes the backend mirror of a resolved ticket. With
// workspace admin rights the whole thread is queued for cleanup; otherwise
// only the mirror message is deleted.
func (s *TicketService) retireMirror(ctx context.Context, backendKey string) {
	if backendKey == "" {
		return
	}
	if s.caps.WorkspaceAdmin && s.queue != nil {
		err := s.queue.EnqueueThreadDeletion(ctx, persistence.ThreadDeletion{
			Channel:   s.slack.TicketChannel,
			ThreadKey: backendKey,
		})
		if err == nil {
			return
		}
		s.logger.Warn("failed to queue backend thread deletion", zap.String("key", backendKey), zap.Error(err))
	}
	s.deleteQuietly(ctx, s.slack.TicketChannel, backendKey)
}

// Reopen moves a closed ticket back to OPEN on behalf of helper and posts a
// fresh backend mirror. Reopening a ticket that is not closed does nothing.
//
// The mirror is posted before the ticket row changes, and the status, close
// fields and backend key are written by one guarded update. A failure before
// that update leaves the ticket CLOSED; a failure of the update removes the
// new mirror again.
func (s *TicketService) Reopen(ctx context.Context, ticket *domain.Ticket, helper *domain.User) error {
	if !ticket.IsClosed() {
		return nil
	}
	details := []string{
		fmt.Sprintf("Ticket ID: %d", ticket.ID),
		"Question TS: " + ticket.QuestionMessageKey,
		"Backend TS: " + ticket.BackendMessageKey,
	}

	author, err := s.users.GetByID(ctx, ticket.OpenedByID)
	if err != nil {
		s.notifier.Heartbeat(ctx, fmt.Sprintf("Ticket %d could not be reopened: its author could not be loaded: %v", ticket.ID, err), details...)
		return fmt.Errorf("load ticket author: %w", err)
	}

	open := domain.TicketStatusOpen
	projected := *ticket
	projected.Status = open
	projected.ClosedByID = nil
	projected.ClosedAt = nil
	projected.ReopenedByID = &helper.ID

	backend, err := s.mirror.rerender(ctx, &projected)
	if err != nil {
		return err
	}
	if profile, err := s.gateway.UserProfile(ctx, author.ChatUserID); err == nil {
		backend.Username = profile.Name("Explorer")
		backend.IconURL = profile.AvatarURL
	}

	newKey, err := s.gateway.PostMessage(ctx, backend)
	if err == nil && newKey == "" {
		err = errors.New("no message key returned")
	}
	if err != nil {
		s.notifier.Heartbeat(ctx, fmt.Sprintf("Failed to post the backend message for reopened ticket %d: %v", ticket.ID, err), details...)
		return fmt.Errorf("post backend mirror: %w", err)
	}

	closed := domain.TicketStatusClosed
	reopened, err := s.tickets.Update(ctx, ticket.ID, repository.TicketPatch{
		Status:            &open,
		ClearClosed:       true,
		ReopenedByID:      &helper.ID,
		BackendMessageKey: &newKey,
		RequireStatus:     &closed,
	})
	if err != nil {
		s.deleteQuietly(ctx, s.slack.TicketChannel, newKey)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reopen ticket %d: %w", ticket.ID, err)
	}

	text := s.transcript.Render(s.transcript.TicketReopen, transcript.Params{
		HelperID:    helper.ChatUserID,
		HelpChannel: s.slack.HelpChannel,
	})
	if err := s.ReplyToTicket(ctx, reopened, text); err != nil {
		s.logger.Warn("failed to post reopen message", zap.Int64("ticket_id", reopened.ID), zap.Error(err))
	}

	if err := s.gateway.RemoveReaction(ctx, s.slack.HelpChannel, reopened.QuestionMessageKey, chat.ReactionResolved); err != nil {
		s.logger.Debug("resolved reaction not removed", zap.Int64("ticket_id", reopened.ID), zap.Error(err))
	}
	if err := s.gateway.AddReaction(ctx, s.slack.HelpChannel, reopened.QuestionMessageKey, chat.ReactionPending); err != nil &&
		!errors.Is(err, chat.ErrAlreadyReacted) {
		s.logger.Warn("failed to add pending reaction", zap.Int64("ticket_id", reopened.ID), zap.Error(err))
	}

	s.notifier.Heartbeat(ctx, fmt.Sprintf("Ticket %d reopened by <@%s>", reopened.ID, helper.ChatUserID),
		fmt.Sprintf("Ticket ID: %d", reopened.ID),
		"Original TS: "+ticket.BackendMessageKey,
		"New TS: "+newKey)

	s.publish(ctx, events.New(events.EventTicketReopened, reopened.ID, actorOf(helper), events.TicketReopenedPayload{
		OldBackendKey: ticket.BackendMessageKey,
		NewBackendKey: newKey,
	}))
	return nil
}

// CloseStale resolves every non-closed ticket whose thread has been quiet for
// longer than the configured threshold and returns how many were closed.
func (s *TicketService) CloseStale(ctx context.Context) (int, error) {
	s.logger.Info("closing stale tickets")
	s.notifier.Heartbeat(ctx, "Closing stale tickets...")

	candidates, err := s.tickets.List(ctx, repository.TicketFilter{
		ExcludeStatuses: []domain.TicketStatus{domain.TicketStatusClosed},
	})
	if err != nil {
		s.notifier.Heartbeat(ctx, fmt.Sprintf("Error closing stale tickets: %v", err))
		return 0, err
	}

	threshold := s.policy.StaleAfter()
	closedCount := 0
	for i := range candidates {
		ticket := &candidates[i]
		stale, err := s.isStale(ctx, ticket, threshold)
		if err != nil {
			return closedCount, err
		}
		if !stale {
			continue
		}

		author, err := s.users.GetByID(ctx, ticket.OpenedByID)
		if err != nil {
			s.logger.Warn("stale ticket author missing", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
			s.notifier.Heartbeat(ctx, fmt.Sprintf("Stale ticket %d was not closed: its author could not be loaded: %v", ticket.ID, err),
				fmt.Sprintf("Ticket ID: %d", ticket.ID),
				"Question TS: "+ticket.QuestionMessageKey,
				"Backend TS: "+ticket.BackendMessageKey)
			continue
		}
		opts := DefaultResolveOptions()
		opts.Stale = true
		opts.System = true
		if s.Resolve(ctx, ticket.QuestionMessageKey, author.ChatUserID, opts) == ResolveClosed {
			closedCount++
		}
	}

	s.logger.Info("closed stale tickets", zap.Int("count", closedCount))
	s.notifier.Heartbeat(ctx, fmt.Sprintf("Closed %d stale tickets.", closedCount))
	return closedCount, nil
}

// isStale reads the question thread and compares its newest message against
// threshold. Rate limits are waited out; any other failure is reported and
// the ticket is treated as active.
func (s *TicketService) isStale(ctx context.Context, ticket *domain.Ticket, threshold time.Duration) (bool, error) {
	for {
		replies, err := s.gateway.ThreadReplies(ctx, s.slack.HelpChannel, ticket.QuestionMessageKey, threadReplyLimit)
		if err != nil {
			if limited, ok := chat.IsRateLimited(err); ok {
				wait := limited.RetryAfter
				if wait <= 0 {
					wait = time.Second
				}
				s.logger.Warn("rate limited while reading thread",
					zap.Int64("ticket_id", ticket.ID), zap.Duration("retry_after", wait))
				if err := s.sleep(ctx, wait); err != nil {
					return false, err
				}
				continue
			}
			s.logger.Error("failed to read thread", zap.Int64("ticket_id", ticket.ID), zap.Error(err))
			s.notifier.Heartbeat(ctx, fmt.Sprintf("Error fetching replies for ticket %s: %v", ticket.QuestionMessageKey, err))
			return false, nil
		}

		if len(replies) == 0 {
			s.notifier.Heartbeat(ctx, fmt.Sprintf("No replies found for ticket %s", ticket.QuestionMessageKey))
			return false, nil
		}
		last, err := chat.ParseTimestamp(replies[len(replies)-1].Key)
		if err != nil {
			s.logger.Warn("unreadable message key", zap.String("key", replies[len(replies)-1].Key), zap.Error(err))
			return false, nil
		}
		return s.now().Sub(last) > threshold, nil
	}
}
