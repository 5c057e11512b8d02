package service

import (
	"context"

	"go.uber.org/zap"

	"seedledger/internal/domain"
)

// Stats returns the dashboard totals, served from the cache when fresh.
func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	cached, ok, err := s.stats.Get(ctx)
	if err != nil {
		s.log.Warn("stats cache read failed", zap.Error(err))
	}
	if ok && cached != nil {
		s.metrics.ObserveStatsCache(true)
		return *cached, nil
	}
	s.metrics.ObserveStatsCache(false)
	return s.RefreshStats(ctx)
}

// RefreshStats folds the three ledgers and primes the cache.
func (s *Service) RefreshStats(ctx context.Context) (domain.Stats, error) {
	totals, err := s.repo.Totals(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	stats := totals.WithCollectionRate()
	stats.ComputedAt = s.now()

	if err := s.stats.Set(ctx, &stats, s.statsTTL); err != nil {
		s.log.Warn("stats cache write failed", zap.Error(err))
	}
	return stats, nil
}
