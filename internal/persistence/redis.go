package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/config"
)

const (
	threadDeleteQueueKey = "helpdesk:threads:delete"
	eventSeenKeyPrefix   = "helpdesk:events:seen:"
)

// ThreadDeletion is a backend thread waiting to be removed.
type ThreadDeletion struct {
	Channel   string `json:"channel"`
	ThreadKey string `json:"thread_key"`
	Attempts  int    `json:"attempts"`
}

// Redis wraps the go-redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to Redis using the provided configuration.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.Error(err))
	} else {
		logger.Info("connected to redis")
	}

	return &Redis{Client: client}
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// EnqueueThreadDeletion appends a thread to the deferred deletion queue.
func (r *Redis) EnqueueThreadDeletion(ctx context.Context, item ThreadDeletion) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode thread deletion: %w", err)
	}
	return r.Client.RPush(ctx, threadDeleteQueueKey, payload).Err()
}

// PopThreadDeletions removes up to max items from the head of the queue.
// Entries that cannot be decoded are dropped.
func (r *Redis) PopThreadDeletions(ctx context.Context, max int) ([]ThreadDeletion, error) {
	if r == nil || r.Client == nil {
		return nil, errors.New("redis client not configured")
	}
	raw, err := r.Client.LPopCount(ctx, threadDeleteQueueKey, max).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items := make([]ThreadDeletion, 0, len(raw))
	for _, entry := range raw {
		var item ThreadDeletion
		if err := json.Unmarshal([]byte(entry), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// MarkEventSeen records an inbound event id and reports whether it was new.
func (r *Redis) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if r == nil || r.Client == nil {
		return true, errors.New("redis client not configured")
	}
	return r.Client.SetNX(ctx, eventSeenKeyPrefix+eventID, 1, ttl).Result()
}
