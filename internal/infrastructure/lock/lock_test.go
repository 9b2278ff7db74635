package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return New(client, "lock:"), s
}

func TestLocker_TryAcquire_Success(t *testing.T) {
	l, s := setupLocker(t)
	defer s.Close()

	lk, ok, err := l.TryAcquire(context.Background(), "wf-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, lk)
}

func TestLocker_TryAcquire_AlreadyHeld(t *testing.T) {
	l, s := setupLocker(t)
	defer s.Close()

	ctx := context.Background()
	_, ok, err := l.TryAcquire(ctx, "wf-1", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx, "wf-1", 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocker_Release_FreesLock(t *testing.T) {
	l, s := setupLocker(t)
	defer s.Close()

	ctx := context.Background()
	lk, ok, err := l.TryAcquire(ctx, "wf-1", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, lk))

	_, ok, err = l.TryAcquire(ctx, "wf-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocker_Release_NotHeldAfterExpiry(t *testing.T) {
	l, s := setupLocker(t)
	defer s.Close()

	ctx := context.Background()
	lk, ok, err := l.TryAcquire(ctx, "wf-1", 1*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(2 * time.Second)

	err = l.Release(ctx, lk)
	assert.ErrorIs(t, err, ErrNotHeld)
}

func TestLocker_Acquire_WaitsForRelease(t *testing.T) {
	l, s := setupLocker(t)
	defer s.Close()

	ctx := context.Background()
	lk, ok, err := l.TryAcquire(ctx, "wf-1", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	released := make(chan struct{})
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = l.Release(ctx, lk)
		close(released)
	}()

	acquireCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	second, err := l.Acquire(acquireCtx, "wf-1", 5*time.Second, 5*time.Millisecond)
	<-released
	require.NoError(t, err)
	assert.NotNil(t, second)
}

func TestLocker_Acquire_TimesOut(t *testing.T) {
	l, s := setupLocker(t)
	defer s.Close()

	ctx := context.Background()
	_, ok, err := l.TryAcquire(ctx, "wf-1", 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	acquireCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(acquireCtx, "wf-1", 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
}

func TestLocker_Extend_RefreshesTTL(t *testing.T) {
	l, s := setupLocker(t)
	defer s.Close()

	ctx := context.Background()
	lk, ok, err := l.TryAcquire(ctx, "wf-1", 1*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Extend(ctx, lk, 5*time.Second))

	s.FastForward(2 * time.Second)

	err = l.Release(ctx, lk)
	assert.NoError(t, err)
}
