package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passgate/internal/config"
)

var rule = Rule{MaxRequests: 3, Window: time.Minute, BlockDuration: 10 * time.Minute}

func TestMemoryLimiter(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "ip:1", rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, retry, _ := l.Allow(ctx, "ip:1", rule)
	assert.False(t, ok)
	assert.Equal(t, 10*time.Minute, retry)

	// other keys are independent
	ok, _, _ = l.Allow(ctx, "ip:2", rule)
	assert.True(t, ok)

	now = now.Add(5 * time.Minute)
	ok, retry, _ = l.Allow(ctx, "ip:1", rule)
	assert.False(t, ok)
	assert.Equal(t, 5*time.Minute, retry)

	now = now.Add(6 * time.Minute)
	ok, _, _ = l.Allow(ctx, "ip:1", rule)
	assert.True(t, ok, "block lifted")
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, _ = l.Allow(ctx, "k", rule)
	}
	now = now.Add(rule.Window + time.Second)
	ok, _, _ := l.Allow(ctx, "k", rule)
	assert.True(t, ok)
}

func TestMemoryLimiter_Prune(t *testing.T) {
	l := NewMemoryLimiter()
	now := time.Now()
	l.now = func() time.Time { return now }
	_, _, _ = l.Allow(context.Background(), "k", rule)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, l.prune(time.Hour))
	assert.Empty(t, l.store)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *RedisLimiter) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisLimiter(client, "test:")
}

func TestRedisLimiter(t *testing.T) {
	mr, l := newRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := l.Allow(ctx, "ip:1", rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, retry, err := l.Allow(ctx, "ip:1", rule)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 10*time.Minute, retry)
	assert.True(t, mr.Exists("test:block:ip:1"))

	mr.FastForward(4 * time.Minute)
	ok, retry, _ = l.Allow(ctx, "ip:1", rule)
	assert.False(t, ok)
	assert.Equal(t, 6*time.Minute, retry)

	mr.FastForward(7 * time.Minute)
	ok, _, err = l.Allow(ctx, "ip:1", rule)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_WindowExpires(t *testing.T) {
	mr, l := newRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, _ = l.Allow(ctx, "k", rule)
	}
	mr.FastForward(rule.Window + time.Second)
	ok, _, err := l.Allow(ctx, "k", rule)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_StoreDownFailsOpen(t *testing.T) {
	mr, l := newRedis(t)
	mr.Close()

	ok, _, err := l.Allow(context.Background(), "k", rule)
	assert.Error(t, err)
	assert.True(t, ok)
}

func TestRuleFromConfig(t *testing.T) {
	r := RuleFromConfig(config.RateRule{MaxRequests: 2, Window: time.Second, BlockDuration: time.Minute})
	assert.Equal(t, Rule{MaxRequests: 2, Window: time.Second, BlockDuration: time.Minute}, r)
}
