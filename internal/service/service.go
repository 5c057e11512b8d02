package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"seedledger/internal/cache"
	"seedledger/internal/metrics"
	"seedledger/internal/store"
)

type Config struct {
	StatsTTL time.Duration
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Guard    cache.SaleGuard
	// Now defaults to time.Now in UTC; tests pin it.
	Now func() time.Time
}

// Service is the ledger engine: stock intake, sale recording, payments,
// expenses and the derived dashboard totals.
type Service struct {
	repo     store.Repository
	stats    cache.StatsCache
	statsTTL time.Duration
	log      *zap.Logger
	metrics  *metrics.Metrics
	guard    cache.SaleGuard
	validate *validator.Validate
	now      func() time.Time
}

func New(repo store.Repository, statsCache cache.StatsCache, cfg Config) *Service {
	if statsCache == nil {
		statsCache = cache.NoopStatsCache{}
	}
	if cfg.StatsTTL <= 0 {
		cfg.StatsTTL = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Guard == nil {
		cfg.Guard = cache.NoopSaleGuard{}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:     repo,
		stats:    statsCache,
		statsTTL: cfg.StatsTTL,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		guard:    cfg.Guard,
		validate: newValidator(),
		now:      cfg.Now,
	}
}

// invalidateStats drops the memoized totals after a committed mutation. A cache
// failure never fails the mutation.
func (s *Service) invalidateStats(ctx context.Context, action string) {
	if err := s.stats.Invalidate(ctx); err != nil {
		s.log.Warn("stats cache invalidation failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) audit(action string, entityType string, entityID string, fields ...zap.Field) {
	s.log.Info("audit",
		append([]zap.Field{
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
		}, fields...)...,
	)
}
