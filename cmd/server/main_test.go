package main

import (
	"testing"

	"seedledger/internal/config"
)

func validConfig() config.Config {
	return config.Config{
		Port:             "8080",
		LogLevel:         "info",
		StatsRefreshCron: config.DefaultStatsRefreshCron,
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	if err := validateConfig(validConfig()); err != nil {
		t.Fatalf("expected default config to pass, got %v", err)
	}

	cfg := validConfig()
	cfg.StatsRefreshCron = ""
	if err := validateConfig(cfg); err != nil {
		t.Fatalf("expected disabled scheduler to pass, got %v", err)
	}
}

func TestValidateConfigRejectsBadValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"port not numeric": func(c *config.Config) { c.Port = "http" },
		"port too large":   func(c *config.Config) { c.Port = "70000" },
		"log level":        func(c *config.Config) { c.LogLevel = "verbose" },
		"cron spec":        func(c *config.Config) { c.StatsRefreshCron = "every minute" },
		"redis db":         func(c *config.Config) { c.RedisDB = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			if err := validateConfig(cfg); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}
