package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/user/pagejson-service/pkg/utils"
)

const failureKeyPrefix = "pagejson:failures:"

// RedisStore tracks consecutive origin failures per content path.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func failureKey(path string) string {
	return fmt.Sprintf("%s%s", failureKeyPrefix, utils.HashKey(path))
}

// IncrementFailureCount increments the failure counter for a path and
// (re)sets its expiry so counters for recovered paths disappear on their own.
func (s *RedisStore) IncrementFailureCount(ctx context.Context, path string, ttl time.Duration) (int64, error) {
	key := failureKey(path)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// ResetFailures clears the counter after a successful fetch.
func (s *RedisStore) ResetFailures(ctx context.Context, path string) error {
	return s.client.Del(ctx, failureKey(path)).Err()
}

// FailureCount returns the current consecutive failure count for a path.
func (s *RedisStore) FailureCount(ctx context.Context, path string) (int64, error) {
	n, err := s.client.Get(ctx, failureKey(path)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
