package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"seedledger/internal/domain"
)

const refreshTimeout = 30 * time.Second

// StatsRefresher recomputes the dashboard totals and primes the cache.
type StatsRefresher interface {
	RefreshStats(ctx context.Context) (domain.Stats, error)
}

// Scheduler runs the periodic stats refresh.
type Scheduler struct {
	cron      *cron.Cron
	spec      string
	refresher StatsRefresher
	logger    *zap.Logger
}

// NewScheduler creates a scheduler. An empty spec disables it.
func NewScheduler(spec string, refresher StatsRefresher, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Standard five-field cron, evaluated in UTC.
	c := cron.New(cron.WithLocation(time.UTC))

	return &Scheduler{
		cron:      c,
		spec:      strings.TrimSpace(spec),
		refresher: refresher,
		logger:    logger,
	}
}

// Validate reports whether spec is a usable five-field cron expression.
func Validate(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Enabled reports whether a refresh job will be scheduled.
func (s *Scheduler) Enabled() bool {
	return s.spec != ""
}

// Start schedules the refresh job and starts the cron loop.
func (s *Scheduler) Start() error {
	if !s.Enabled() {
		s.logger.Info("stats refresh scheduler disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, s.refreshStats); err != nil {
		return fmt.Errorf("schedule stats refresh: %w", err)
	}
	s.logger.Info("starting scheduler", zap.String("stats_refresh_cron", s.spec))
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	if !s.Enabled() {
		return
	}
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) refreshStats() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	stats, err := s.refresher.RefreshStats(ctx)
	if err != nil {
		s.logger.Error("stats refresh failed", zap.Error(err))
		return
	}
	s.logger.Debug("stats refreshed",
		zap.String("total_collection", stats.TotalCollection.StringFixed(2)),
		zap.String("total_sales_value", stats.TotalSalesValue.StringFixed(2)),
	)
}
