package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
)

// RedisSaleGuard holds a short-lived redis lock per idempotency key. Waiters
// retry with linear backoff until the lock TTL would have expired.
type RedisSaleGuard struct {
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedisSaleGuard(client *redis.Client, ttl time.Duration) *RedisSaleGuard {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisSaleGuard{locker: redislock.New(client), ttl: ttl}
}

func (g *RedisSaleGuard) Acquire(ctx context.Context, key string) (func(), error) {
	backoff := 50 * time.Millisecond
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(backoff), int(g.ttl/backoff)),
	}
	lock, err := g.locker.Obtain(ctx, fmt.Sprintf("sale-idem:%s", key), g.ttl, opts)
	if err != nil {
		return nil, fmt.Errorf("obtain sale lock: %w", err)
	}
	return func() {
		// The lock may already have expired; its TTL bounds the hold either way.
		_ = lock.Release(context.Background())
	}, nil
}
