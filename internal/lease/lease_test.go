// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lease

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMiniRedis creates a RedisLocker backed by miniredis.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisLocker) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := newRedisLocker(client, "")
	t.Cleanup(func() { _ = locker.Close() })
	return mr, locker
}

func exerciseExclusive(t *testing.T, l Locker) {
	ctx := context.Background()

	a, err := l.Acquire(ctx, "seg-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "seg-1", a.Key())

	_, err = l.Acquire(ctx, "seg-1", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)

	other, err := l.Acquire(ctx, "seg-2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, a.Refresh(ctx))
	require.NoError(t, a.Release(ctx))
	require.NoError(t, a.Release(ctx), "second release is a no-op")
	assert.ErrorIs(t, a.Refresh(ctx), ErrLost)

	b, err := l.Acquire(ctx, "seg-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, b.Release(ctx))
}

func TestMemoryLocker(t *testing.T) {
	exerciseExclusive(t, NewMemoryLocker())
}

func TestRedisLocker(t *testing.T) {
	_, l := setupMiniRedis(t)
	exerciseExclusive(t, l)
}

func TestMemoryLockerExpiry(t *testing.T) {
	m := NewMemoryLocker()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := m.Acquire(ctx, "k", time.Second)
	require.NoError(t, err, "expired lease is taken over")

	assert.ErrorIs(t, stale.Refresh(ctx), ErrLost)
	require.NoError(t, stale.Release(ctx))
	assert.NoError(t, fresh.Refresh(ctx), "stale release must not drop the new owner")
}

func TestRedisLockerExpiry(t *testing.T) {
	mr, l := setupMiniRedis(t)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists(DefaultPrefix+"k"))

	mr.FastForward(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, stale.Refresh(ctx), ErrLost)
	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists(DefaultPrefix+"k"), "stale release must not drop the new owner")
	require.NoError(t, fresh.Release(ctx))
	assert.False(t, mr.Exists(DefaultPrefix+"k"))
}

func TestOpen(t *testing.T) {
	l, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryLocker{}, l)

	mr := miniredis.RunT(t)
	l, err = Open(context.Background(), Config{Backend: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisLocker{}, l)
	require.NoError(t, l.Close())

	_, err = Open(context.Background(), Config{Backend: "etcd"})
	assert.Error(t, err)
}
