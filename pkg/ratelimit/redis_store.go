package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisWindowStore keeps each window in a sorted set scored by event time
// in milliseconds, so every API instance sees the same submissions.
type RedisWindowStore struct {
	redis     *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisWindowStore creates a store. Keys expire after retention of
// inactivity, which should be at least the limiter window.
func NewRedisWindowStore(client *redis.Client, prefix string, retention time.Duration) *RedisWindowStore {
	if prefix == "" {
		prefix = "warden:ratelimit"
	}
	return &RedisWindowStore{redis: client, prefix: prefix, retention: retention}
}

func (s *RedisWindowStore) key(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (s *RedisWindowStore) Count(ctx context.Context, key string, since time.Time) (WindowState, error) {
	redisKey := s.key(key)

	pipe := s.redis.Pipeline()
	count := pipe.ZCount(ctx, redisKey, score(since), "+inf")
	oldest := pipe.ZRangeByScoreWithScores(ctx, redisKey, &redis.ZRangeBy{
		Min:   score(since),
		Max:   "+inf",
		Count: 1,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return WindowState{}, fmt.Errorf("redis error: %w", err)
	}

	state := WindowState{Count: int(count.Val())}
	if zs := oldest.Val(); len(zs) > 0 {
		state.Oldest = time.UnixMilli(int64(zs[0].Score))
	}
	return state, nil
}

func (s *RedisWindowStore) Record(ctx context.Context, key string, at time.Time) error {
	redisKey := s.key(key)

	pipe := s.redis.TxPipeline()
	pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
	if s.retention > 0 {
		pipe.Expire(ctx, redisKey, s.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Prune walks every window key with SCAN and trims expired members
func (s *RedisWindowStore) Prune(ctx context.Context, before time.Time) (int, error) {
	maxScore := "(" + score(before)
	removed := 0

	iter := s.redis.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := s.redis.ZRemRangeByScore(ctx, iter.Val(), "-inf", maxScore).Result()
		if err != nil {
			return removed, fmt.Errorf("redis error: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis error: %w", err)
	}
	return removed, nil
}
