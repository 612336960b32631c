package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisIdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisIdempotencyStore(rdb, time.Minute), mr
}

func TestTryLockFirstWins(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "7", "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLock(ctx, "7", "abc")
	require.NoError(t, err)
	assert.False(t, ok, "second lock on same key must fail")
}

func TestTryLockScopesAreIndependent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "7", "abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLock(ctx, "8", "abc")
	require.NoError(t, err)
	assert.True(t, ok, "same key under another scope is a separate lock")
}

func TestRememberRecall(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, found, err := s.Recall(ctx, "7", "abc")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Remember(ctx, "7", "abc", "5001"))

	val, found, err := s.Recall(ctx, "7", "abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "5001", val)
}

func TestLockExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := s.TryLock(ctx, "7", "abc")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)

	ok, err = s.TryLock(ctx, "7", "abc")
	require.NoError(t, err)
	assert.True(t, ok, "lock must be reacquirable after TTL")
}
