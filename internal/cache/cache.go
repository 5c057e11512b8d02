package cache

import (
	"context"
	"time"

	"seedledger/internal/domain"
)

// StatsCache memoizes the dashboard totals. A miss is (nil, false, nil).
type StatsCache interface {
	Get(ctx context.Context) (*domain.Stats, bool, error)
	Set(ctx context.Context, value *domain.Stats, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context) (*domain.Stats, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ *domain.Stats, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Invalidate(_ context.Context) error {
	return nil
}

// SaleGuard serializes submissions that carry the same idempotency key across
// processes. Release must be called once the sale is committed or rejected.
type SaleGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type NoopSaleGuard struct{}

func (NoopSaleGuard) Acquire(_ context.Context, _ string) (func(), error) {
	return func() {}, nil
}
