package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/persistence"
)

const (
	cleanupBatchSize   = 20
	cleanupMaxAttempts = 5
	threadReplyLimit   = 1000
)

// ThreadQueue is the deferred backend thread deletion queue.
type ThreadQueue interface {
	EnqueueThreadDeletion(ctx context.Context, item persistence.ThreadDeletion) error
	PopThreadDeletions(ctx context.Context, max int) ([]persistence.ThreadDeletion, error)
}

// ThreadCleaner drains the deletion queue, removing resolved backend threads
// with the elevated user token.
type ThreadCleaner struct {
	queue   ThreadQueue
	gateway chat.Gateway
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewThreadCleaner constructs a cleaner.
func NewThreadCleaner(queue ThreadQueue, gateway chat.Gateway, metrics *observability.Metrics, logger *zap.Logger) *ThreadCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadCleaner{queue: queue, gateway: gateway, metrics: metrics, logger: logger}
}

// RunOnce processes one batch and returns how many threads were removed.
// Failed items go back on the queue until they run out of attempts.
func (c *ThreadCleaner) RunOnce(ctx context.Context) (int, error) {
	items, err := c.queue.PopThreadDeletions(ctx, cleanupBatchSize)
	if err != nil {
		return 0, fmt.Errorf("pop thread deletions: %w", err)
	}

	removed := 0
	for _, item := range items {
		if err := c.deleteThread(ctx, item); err != nil {
			c.retry(ctx, item, err)
			continue
		}
		removed++
		c.metrics.RecordThreadCleanup("deleted")
	}
	if len(items) > 0 {
		c.logger.Info("thread cleanup batch finished", zap.Int("popped", len(items)), zap.Int("removed", removed))
	}
	return removed, nil
}

func (c *ThreadCleaner) deleteThread(ctx context.Context, item persistence.ThreadDeletion) error {
	replies, err := c.gateway.ThreadReplies(ctx, item.Channel, item.ThreadKey, threadReplyLimit)
	if err != nil {
		if chat.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("read thread: %w", err)
	}
	for _, msg := range replies {
		if msg.Key == item.ThreadKey {
			continue
		}
		if err := c.gateway.DeleteMessageAsUser(ctx, item.Channel, msg.Key); err != nil && !chat.IsNotFound(err) {
			return fmt.Errorf("delete reply %s: %w", msg.Key, err)
		}
	}
	if err := c.gateway.DeleteMessageAsUser(ctx, item.Channel, item.ThreadKey); err != nil && !chat.IsNotFound(err) {
		return fmt.Errorf("delete parent: %w", err)
	}
	return nil
}

func (c *ThreadCleaner) retry(ctx context.Context, item persistence.ThreadDeletion, cause error) {
	item.Attempts++
	logger := c.logger.With(
		zap.String("channel", item.Channel),
		zap.String("thread", item.ThreadKey),
		zap.Int("attempts", item.Attempts),
		zap.Error(cause))

	if item.Attempts >= cleanupMaxAttempts {
		logger.Error("giving up on backend thread deletion")
		c.metrics.RecordThreadCleanup("abandoned")
		return
	}
	if err := c.queue.EnqueueThreadDeletion(ctx, item); err != nil {
		logger.Error("failed to requeue backend thread deletion", zap.NamedError("enqueue_error", err))
		c.metrics.RecordThreadCleanup("lost")
		return
	}
	logger.Warn("backend thread deletion failed, requeued")
	c.metrics.RecordThreadCleanup("retried")
}
