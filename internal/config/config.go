package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                int    `env:"PORT" envDefault:"8080"`
	DatabaseURL         string `env:"DATABASE_URL,required"`
	RedisURL            string `env:"REDIS_URL,required"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
	PositionToleranceS  int    `env:"POSITION_TOLERANCE_SECONDS" envDefault:"10"`
	BudgetRetentionDays int    `env:"BUDGET_RETENTION_DAYS" envDefault:"400"`
	KioskStartPerMin    int    `env:"KIOSK_START_PER_MINUTE" envDefault:"10"`
	HeartbeatPerMin     int    `env:"HEARTBEAT_PER_MINUTE" envDefault:"30"`
	VideoCacheSize      int    `env:"VIDEO_CACHE_SIZE" envDefault:"1024"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) BudgetRetention() time.Duration {
	return time.Duration(c.BudgetRetentionDays) * 24 * time.Hour
}

func (c *Config) Validate(isProduction bool) error {
	if c.PositionToleranceS < 0 {
		return fmt.Errorf("POSITION_TOLERANCE_SECONDS must not be negative")
	}
	if c.BudgetRetentionDays < 1 {
		return fmt.Errorf("BUDGET_RETENTION_DAYS must be at least 1")
	}
	if c.VideoCacheSize < 1 {
		return fmt.Errorf("VIDEO_CACHE_SIZE must be at least 1")
	}

	if isProduction {
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if !strings.Contains(c.DatabaseURL, "sslmode=") {
			log.Warn().Msg("DATABASE_URL does not set sslmode in production")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
