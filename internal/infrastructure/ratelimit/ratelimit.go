// Package ratelimit provides a Redis-backed fixed-window rate limiter shared
// by the HTTP middleware layer and the AI router's per-provider quotas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter enforces a fixed-window request quota per key, backed by Redis
// INCR+EXPIRE the way the teacher's login rate limiter already does, with an
// additional block window once the limit is exceeded.
type Limiter struct {
	client        redis.UniversalClient
	keyPrefix     string
	limit         int
	window        time.Duration
	blockDuration time.Duration
}

// New creates a Limiter. keyPrefix namespaces the Redis keys (e.g.
// "ratelimit:api:", "ratelimit:ai:groq:"). blockDuration is how long a key
// stays blocked once it exceeds limit within window; pass 0 to let the key
// simply reopen once the window's counter expires.
func New(client redis.UniversalClient, keyPrefix string, limit int, window, blockDuration time.Duration) *Limiter {
	return &Limiter{
		client:        client,
		keyPrefix:     keyPrefix,
		limit:         limit,
		window:        window,
		blockDuration: blockDuration,
	}
}

// Allow reports whether a request for key should proceed. When denied, the
// second return value is the number of seconds the caller should wait before
// retrying.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, int, error) {
	blockKey := l.keyPrefix + "block:" + key
	countKey := l.keyPrefix + "count:" + key

	if l.blockDuration > 0 {
		blocked, err := l.client.Exists(ctx, blockKey).Result()
		if err != nil {
			return false, 0, fmt.Errorf("ratelimit: check block: %w", err)
		}
		if blocked > 0 {
			ttl, err := l.client.TTL(ctx, blockKey).Result()
			if err != nil {
				return false, int(l.blockDuration.Seconds()), nil
			}
			return false, int(ttl.Seconds()), nil
		}
	}

	count, err := l.client.Incr(ctx, countKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: incr: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, countKey, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	if int(count) > l.limit {
		if l.blockDuration > 0 {
			if err := l.client.Set(ctx, blockKey, "1", l.blockDuration).Err(); err != nil {
				return false, 0, fmt.Errorf("ratelimit: set block: %w", err)
			}
			return false, int(l.blockDuration.Seconds()), nil
		}
		ttl, err := l.client.TTL(ctx, countKey).Result()
		if err != nil {
			return false, int(l.window.Seconds()), nil
		}
		return false, int(ttl.Seconds()), nil
	}

	return true, 0, nil
}

// Remaining returns how many requests key may still make in the current
// window, and whether key is currently blocked.
func (l *Limiter) Remaining(ctx context.Context, key string) (remaining int, blocked bool, err error) {
	blockKey := l.keyPrefix + "block:" + key
	countKey := l.keyPrefix + "count:" + key

	if l.blockDuration > 0 {
		exists, err := l.client.Exists(ctx, blockKey).Result()
		if err != nil {
			return 0, false, fmt.Errorf("ratelimit: check block: %w", err)
		}
		if exists > 0 {
			return 0, true, nil
		}
	}

	count, err := l.client.Get(ctx, countKey).Int()
	if err == redis.Nil {
		return l.limit, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("ratelimit: get: %w", err)
	}

	remaining = l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, false, nil
}

// Reset clears the window and block state for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	blockKey := l.keyPrefix + "block:" + key
	countKey := l.keyPrefix + "count:" + key

	pipe := l.client.Pipeline()
	pipe.Del(ctx, blockKey)
	pipe.Del(ctx, countKey)
	_, err := pipe.Exec(ctx)
	return err
}
