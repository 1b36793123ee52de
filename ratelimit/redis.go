package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CounterStore shared across processes. Redis expiry is
// the window clock: the first INCR creates the key, PEXPIRE starts the
// window, and key expiry resets it.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore. Keys are namespaced under prefix
// (default "ratelimit").
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	rkey := s.prefix + ":" + key

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, rkey)
	ttl := pipe.PTTL(ctx, rkey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("ratelimit: redis hit: %w", err)
	}

	count := incr.Val()
	remaining := ttl.Val()
	if count == 1 || remaining < 0 {
		// Fresh key, or a key left without expiry by an interrupted
		// earlier call: start the window now.
		if err := s.rdb.PExpire(ctx, rkey, window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
		remaining = window
	}

	return count, time.Now().Add(remaining), nil
}
