package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/denial"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisWindowStore_CountAndRecord(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisWindowStore(client, "test:rl", 48*time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, "s1|ip:a", base))
	require.NoError(t, store.Record(ctx, "s1|ip:a", base.Add(time.Hour)))
	require.NoError(t, store.Record(ctx, "s1|ip:a", base.Add(time.Hour)))

	state, err := store.Count(ctx, "s1|ip:a", base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, state.Count)
	assert.True(t, state.Oldest.Equal(base.Add(time.Hour)), "oldest = %v", state.Oldest)

	state, err = store.Count(ctx, "s1|ip:a", base)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Count)

	state, err = store.Count(ctx, "s1|ip:b", base)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Count)

	assert.True(t, mr.Exists("test:rl:s1|ip:a"))
	assert.Equal(t, 48*time.Hour, mr.TTL("test:rl:s1|ip:a"))
}

func TestRedisWindowStore_Prune(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisWindowStore(client, "test:rl", 0)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, "s1|ip:a", base))
	require.NoError(t, store.Record(ctx, "s2|ip:a", base))
	require.NoError(t, store.Record(ctx, "s2|ip:a", base.Add(2*time.Hour)))
	require.NoError(t, mr.Set("unrelated", "x"))

	n, err := store.Prune(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	state, err := store.Count(ctx, "s1|ip:a", base)
	require.NoError(t, err)
	assert.Equal(t, 0, state.Count)
	state, err = store.Count(ctx, "s2|ip:a", base)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Count)
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisWindowStore_SharedAcrossLimiters(t *testing.T) {
	_, client := newTestRedis(t)
	clock := newFakeClock()
	ctx := context.Background()

	a := NewLimiter(NewRedisWindowStore(client, "", time.Hour*48), DefaultConfig(), WithClock(clock.Now))
	b := NewLimiter(NewRedisWindowStore(client, "", time.Hour*48), DefaultConfig(), WithClock(clock.Now))

	require.NoError(t, a.Check(ctx, "s1", user("u1")))
	require.NoError(t, a.Record(ctx, "s1", user("u1")))

	clock.Advance(time.Minute)
	err := b.Check(ctx, "s1", user("u1"))
	assert.Equal(t, denial.KindRateLimited, denial.KindOf(err))
}

func TestRedisWindowStore_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	store := NewRedisWindowStore(client, "", time.Hour)
	_, err := store.Count(context.Background(), "k", time.Now())
	assert.Error(t, err)
}
