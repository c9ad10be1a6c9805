package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// reserveScript increments a hash field only if the result stays within
// ARGV[3]. A negative ARGV[3] means unlimited. Returns {ok, value}.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local inc = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
if limit >= 0 and current + inc > limit then
	return {0, current}
end
return {1, redis.call('HINCRBY', KEYS[1], ARGV[1], inc)}
`)

var releaseScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local updated = current - tonumber(ARGV[2])
if updated < 0 then
	updated = 0
end
redis.call('HSET', KEYS[1], ARGV[1], updated)
return updated
`)

// RedisUsageStore keeps counters in one Redis hash per account so that
// several API instances share usage.
type RedisUsageStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisUsageStore creates a Redis-backed usage store.
func NewRedisUsageStore(client *redis.Client, prefix string) *RedisUsageStore {
	if prefix == "" {
		prefix = "warden:usage"
	}
	return &RedisUsageStore{redis: client, prefix: prefix}
}

func (s *RedisUsageStore) key(accountID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, accountID)
}

// Usage implements UsageStore.
func (s *RedisUsageStore) Usage(ctx context.Context, accountID string, kind Kind) (int64, error) {
	n, err := s.redis.HGet(ctx, s.key(accountID), string(kind)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return n, nil
}

// Add implements UsageStore.
func (s *RedisUsageStore) Add(ctx context.Context, accountID string, kind Kind, n int64, limit Limit) (int64, error) {
	res, err := reserveScript.Run(ctx, s.redis, []string{s.key(accountID)}, string(kind), n, limit.Value()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, fmt.Errorf("unexpected reserve reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	value, _ := vals[1].(int64)
	if allowed != 1 {
		return value, ErrLimitReached
	}
	return value, nil
}

// Sub implements UsageStore.
func (s *RedisUsageStore) Sub(ctx context.Context, accountID string, kind Kind, n int64) error {
	if err := releaseScript.Run(ctx, s.redis, []string{s.key(accountID)}, string(kind), n).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}
