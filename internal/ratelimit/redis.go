package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares counters between instances.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, time.Duration, error) {
	blockKey := l.prefix + "block:" + key
	countKey := l.prefix + "count:" + key

	ttl, err := l.client.PTTL(ctx, blockKey).Result()
	if err != nil {
		return true, 0, fmt.Errorf("ratelimit: check block: %w", err)
	}
	if ttl > 0 {
		return false, ttl, nil
	}

	n, err := l.client.Incr(ctx, countKey).Result()
	if err != nil {
		return true, 0, fmt.Errorf("ratelimit: incr: %w", err)
	}
	if n == 1 {
		if err := l.client.PExpire(ctx, countKey, rule.Window).Err(); err != nil {
			return true, 0, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}
	if n <= int64(rule.MaxRequests) {
		return true, 0, nil
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, blockKey, 1, rule.BlockDuration)
		pipe.Del(ctx, countKey)
		return nil
	})
	if err != nil {
		return false, rule.BlockDuration, fmt.Errorf("ratelimit: block: %w", err)
	}
	return false, rule.BlockDuration, nil
}
