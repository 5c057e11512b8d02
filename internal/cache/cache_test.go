package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"seedledger/internal/domain"
)

func TestNoopStatsCacheAlwaysMisses(t *testing.T) {
	var c StatsCache = NoopStatsCache{}
	ctx := context.Background()

	if err := c.Set(ctx, &domain.Stats{TotalCollection: decimal.NewFromInt(10)}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx)
	if err != nil || ok || got != nil {
		t.Fatalf("expected miss, got %+v ok=%t err=%v", got, ok, err)
	}
}

func TestNoopSaleGuardReleases(t *testing.T) {
	release, err := NoopSaleGuard{}.Acquire(context.Background(), "key")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
}

func TestRedisStatsCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("SEEDLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set SEEDLEDGER_TEST_REDIS_ADDR to run redis integration test")
	}
	ctx := context.Background()
	client := NewRedisClient(addr, "", 0)
	c := NewRedisStatsCache(client)
	t.Cleanup(func() { _ = c.Close() })

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	want := &domain.Stats{TotalCollection: decimal.RequireFromString("12.50"), TotalSalesValue: decimal.NewFromInt(20)}
	if err := c.Set(ctx, want, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%t err=%v", ok, err)
	}
	if !got.TotalCollection.Equal(want.TotalCollection) {
		t.Fatalf("total collection = %s, want %s", got.TotalCollection, want.TotalCollection)
	}

	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx); ok {
		t.Fatalf("expected miss after invalidate")
	}

	guard := NewRedisSaleGuard(client, time.Second)
	release, err := guard.Acquire(ctx, "it-key")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()
}
