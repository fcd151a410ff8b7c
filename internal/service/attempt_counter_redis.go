package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisAttemptCounter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisAttemptCounter(client redis.UniversalClient, prefix string) *RedisAttemptCounter {
	if prefix == "" {
		prefix = "attempts"
	}
	return &RedisAttemptCounter{client: client, prefix: prefix}
}

// Increment runs INCR and EXPIRE NX in one MULTI block. A key can never
// be left without a TTL, and an existing window is not extended.
func (c *RedisAttemptCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := c.key(key)
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisAttemptCounter) Count(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, c.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *RedisAttemptCounter) Reset(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

func (c *RedisAttemptCounter) key(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}
