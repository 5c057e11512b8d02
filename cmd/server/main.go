package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"seedledger/internal/cache"
	"seedledger/internal/config"
	"seedledger/internal/httpapi"
	"seedledger/internal/logger"
	"seedledger/internal/metrics"
	"seedledger/internal/scheduler"
	"seedledger/internal/service"
	"seedledger/internal/store"
	"seedledger/internal/store/memory"
	pgstore "seedledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load(os.Getenv("SEEDLEDGER_ENV_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zl := logger.Must(logger.New(cfg.LogLevel, cfg.AppEnv))
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			zl.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		if cfg.DBAutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				zl.Fatal("apply migrations", zap.Error(err))
			}
			zl.Info("migrations applied")
		}
		repo = pg
		closers = append(closers, pg.Close)
		zl.Info("repository selected", zap.String("repository", "postgres"))
	} else {
		repo = memory.NewSeeded()
		zl.Info("repository selected", zap.String("repository", "memory"))
	}

	statsCache := cache.StatsCache(cache.NoopStatsCache{})
	guard := cache.SaleGuard(cache.NoopSaleGuard{})
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisStatsCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			zl.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = client.Close()
		} else {
			statsCache = redisCache
			guard = cache.NewRedisSaleGuard(client, cfg.IdempotencyLockTTL())
			closers = append(closers, redisCache.Close)
			zl.Info("cache selected", zap.String("cache", "redis"))
		}
	} else {
		zl.Info("cache selected", zap.String("cache", "noop"))
	}

	m := metrics.New()
	svc := service.New(repo, statsCache, service.Config{
		StatsTTL: cfg.StatsCacheTTL(),
		Logger:   logger.Named(zl, "service"),
		Metrics:  m,
		Guard:    guard,
	})
	api := httpapi.New(svc, logger.Named(zl, "http"), m, cfg.AllowedOrigin)

	sched := scheduler.NewScheduler(cfg.StatsRefreshCron, svc, logger.Named(zl, "scheduler"))
	if err := sched.Start(); err != nil {
		zl.Fatal("start scheduler", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zl.Info("seed ledger listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown error", zap.Error(err))
	}
	sched.Stop()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			zl.Error("close error", zap.Error(err))
		}
	}

	zl.Info("server stopped")
}

func validateConfig(cfg config.Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if err := scheduler.Validate(cfg.StatsRefreshCron); err != nil {
		return fmt.Errorf("STATS_REFRESH_CRON: %w", err)
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must not be negative")
	}
	return nil
}
