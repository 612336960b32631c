// Package cache holds redis-backed adapters.
package cache

import (
	"context"
	"errors"
	"time"

	api "github.com/delelinus/orderledger/internal/adapter/http"
	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore deduplicates order submissions by idempotency key.
// A lock key marks a request in flight; once the order commits, the key maps
// to the resulting order ID so retries can replay the response.
type RedisIdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisIdempotencyStore(rdb *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb, ttl: ttl}
}

func (s *RedisIdempotencyStore) TryLock(ctx context.Context, scope, key string) (bool, error) {
	return s.rdb.SetNX(ctx, lockKey(scope, key), "1", s.ttl).Result()
}

func (s *RedisIdempotencyStore) Remember(ctx context.Context, scope, key, value string) error {
	return s.rdb.Set(ctx, resultKey(scope, key), value, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, resultKey(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func lockKey(scope, key string) string   { return "orders:idem:lock:" + scope + ":" + key }
func resultKey(scope, key string) string { return "orders:idem:result:" + scope + ":" + key }

var _ api.IdempotencyStore = (*RedisIdempotencyStore)(nil)
