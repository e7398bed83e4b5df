package sessions

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayTracker records presentations of refresh tokens that were already
// rotated or revoked.
type ReplayTracker interface {
	RecordReuse(ctx context.Context, username string) error
	ReuseCount(ctx context.Context, username string) (int64, error)
}

// NoopReplayTracker is used when no Redis client is configured.
type NoopReplayTracker struct{}

func (NoopReplayTracker) RecordReuse(context.Context, string) error { return nil }

func (NoopReplayTracker) ReuseCount(context.Context, string) (int64, error) { return 0, nil }

// RedisReplayTracker keeps a per-user counter under "<prefix><username>".
// The TTL restarts on each event, so the counter covers a sliding window.
type RedisReplayTracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisReplayTracker returns a tracker; a nil client yields the no-op tracker.
func NewRedisReplayTracker(client *redis.Client, prefix string, ttl time.Duration) ReplayTracker {
	if client == nil {
		return NoopReplayTracker{}
	}
	if prefix == "" {
		prefix = "replay:refresh:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisReplayTracker{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisReplayTracker) RecordReuse(ctx context.Context, username string) error {
	key := r.prefix + username
	pipe := r.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisReplayTracker) ReuseCount(ctx context.Context, username string) (int64, error) {
	n, err := r.client.Get(ctx, r.prefix+username).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}
