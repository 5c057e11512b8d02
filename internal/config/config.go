package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const DefaultStatsRefreshCron = "*/5 * * * *"

type Config struct {
	Port                      string
	AppEnv                    string
	LogLevel                  string
	AllowedOrigin             string
	DatabaseURL               string
	DBAutoMigrate             bool
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	StatsCacheTTLSeconds      int
	IdempotencyLockTTLSeconds int
	StatsRefreshCron          string
}

// Load reads an optional env file and then the process environment. A missing
// env file is not an error; an explicitly named unreadable one is.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.AutomaticEnv()
	// An empty STATS_REFRESH_CRON disables the refresher, so empty values count as set.
	v.AllowEmptyEnv(true)

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_AUTO_MIGRATE", true)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("STATS_CACHE_TTL_SECONDS", 30)
	v.SetDefault("IDEMPOTENCY_LOCK_TTL_SECONDS", 10)
	v.SetDefault("STATS_REFRESH_CRON", DefaultStatsRefreshCron)

	cfg := Config{
		Port:                      stringOr(v.GetString("PORT"), "8080"),
		AppEnv:                    stringOr(v.GetString("APP_ENV"), "production"),
		LogLevel:                  stringOr(v.GetString("LOG_LEVEL"), "info"),
		AllowedOrigin:             strings.TrimSpace(v.GetString("ALLOWED_ORIGIN")),
		DatabaseURL:               strings.TrimSpace(v.GetString("DATABASE_URL")),
		DBAutoMigrate:             v.GetString("DB_AUTO_MIGRATE") == "" || v.GetBool("DB_AUTO_MIGRATE"),
		RedisAddr:                 strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:             v.GetString("REDIS_PASSWORD"),
		RedisDB:                   v.GetInt("REDIS_DB"),
		StatsCacheTTLSeconds:      positiveOr(v.GetInt("STATS_CACHE_TTL_SECONDS"), 30),
		IdempotencyLockTTLSeconds: positiveOr(v.GetInt("IDEMPOTENCY_LOCK_TTL_SECONDS"), 10),
		StatsRefreshCron:          strings.TrimSpace(v.GetString("STATS_REFRESH_CRON")),
	}

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) StatsCacheTTL() time.Duration {
	return time.Duration(c.StatsCacheTTLSeconds) * time.Second
}

func (c Config) IdempotencyLockTTL() time.Duration {
	return time.Duration(c.IdempotencyLockTTLSeconds) * time.Second
}

func stringOr(val string, fallback string) string {
	val = strings.TrimSpace(val)
	if val == "" {
		return fallback
	}
	return val
}

func positiveOr(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}
