package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "APP_ENV", "LOG_LEVEL", "DATABASE_URL", "DB_AUTO_MIGRATE",
		"STATS_CACHE_TTL_SECONDS", "IDEMPOTENCY_LOCK_TTL_SECONDS", "STATS_REFRESH_CRON",
	} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Address() != ":8080" {
		t.Fatalf("unexpected port %q", cfg.Port)
	}
	if cfg.AppEnv != "production" || cfg.LogLevel != "info" {
		t.Fatalf("unexpected env/level %q/%q", cfg.AppEnv, cfg.LogLevel)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("expected empty DATABASE_URL, got %q", cfg.DatabaseURL)
	}
	if !cfg.DBAutoMigrate {
		t.Fatalf("expected auto-migrate on by default")
	}
	if cfg.StatsCacheTTL() != 30*time.Second || cfg.IdempotencyLockTTL() != 10*time.Second {
		t.Fatalf("unexpected ttls %s/%s", cfg.StatsCacheTTL(), cfg.IdempotencyLockTTL())
	}
	if cfg.StatsRefreshCron != DefaultStatsRefreshCron {
		t.Fatalf("unexpected cron %q", cfg.StatsRefreshCron)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_AUTO_MIGRATE", "false")
	t.Setenv("STATS_CACHE_TTL_SECONDS", "-4")
	t.Setenv("STATS_REFRESH_CRON", "")
	t.Setenv("REDIS_DB", "2")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", cfg.Port)
	}
	if cfg.DBAutoMigrate {
		t.Fatalf("expected auto-migrate disabled")
	}
	if cfg.StatsCacheTTLSeconds != 30 {
		t.Fatalf("expected non-positive ttl to fall back to 30, got %d", cfg.StatsCacheTTLSeconds)
	}
	if cfg.StatsRefreshCron != "" {
		t.Fatalf("expected empty cron to disable refresher, got %q", cfg.StatsRefreshCron)
	}
	if cfg.RedisDB != 2 {
		t.Fatalf("expected redis db 2, got %d", cfg.RedisDB)
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	_ = os.Unsetenv("LOG_LEVEL")

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("LOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("LOG_LEVEL") })

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug from env file, got %q", cfg.LogLevel)
	}
}
