// Package lock provides a Redis-backed distributed mutex used to serialize
// workflow execution steps (e.g. a single execution's node advancement)
// across multiple engine instances.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release/Extend when the lock's token no longer
// matches what's stored in Redis (expired, or held by someone else).
var ErrNotHeld = errors.New("lock: not held")

// ErrAcquireTimeout is returned by Acquire when the lock could not be
// obtained before ctx's deadline or the retry budget ran out.
var ErrAcquireTimeout = errors.New("lock: acquire timed out")

// releaseScript atomically deletes the key only if its value still matches
// the token we acquired it with, so a lock we no longer own is never dropped
// out from under its new holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// extendScript atomically refreshes the TTL only if we still hold the lock.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Locker acquires and releases named distributed locks over Redis.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// New creates a Locker. prefix namespaces the Redis keys (e.g. "lock:").
func New(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lock represents a held lock; call Release (or Extend) before it expires.
type Lock struct {
	key   string
	token string
	ttl   time.Duration
}

// Acquire blocks, retrying every retryInterval, until it obtains the named
// lock or ctx is done. ttl bounds how long the lock is held if the caller
// never releases it (e.g. it crashes).
func (l *Locker) Acquire(ctx context.Context, name string, ttl, retryInterval time.Duration) (*Lock, error) {
	key := l.prefix + name
	token, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("lock: generate token: %w", err)
	}

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: acquire: %w", err)
		}
		if ok {
			return &Lock{key: key, token: token, ttl: ttl}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrAcquireTimeout
		case <-ticker.C:
		}
	}
}

// TryAcquire attempts to obtain the named lock once, without retrying.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	key := l.prefix + name
	token, err := randomToken()
	if err != nil {
		return nil, false, fmt.Errorf("lock: generate token: %w", err)
	}

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: try-acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{key: key, token: token, ttl: ttl}, true, nil
}

// Release returns the lock, only deleting the underlying key if this Lock
// instance still owns it.
func (l *Locker) Release(ctx context.Context, lk *Lock) error {
	res, err := releaseScript.Run(ctx, l.client, []string{lk.key}, lk.token).Int64()
	if err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// Extend refreshes the lock's TTL, failing if it's no longer held by lk.
func (l *Locker) Extend(ctx context.Context, lk *Lock, ttl time.Duration) error {
	res, err := extendScript.Run(ctx, l.client, []string{lk.key}, lk.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("lock: extend: %w", err)
	}
	if res == 0 {
		return ErrNotHeld
	}
	lk.ttl = ttl
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
