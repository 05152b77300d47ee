package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DBSource       string        `envconfig:"DB_SOURCE" required:"true"`
	Port           string        `envconfig:"SERVER_PORT" default:"8080"`
	Env            string        `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel       string        `envconfig:"LOG_LEVEL"`
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	HoldTTL        time.Duration `envconfig:"HOLD_TTL" default:"5m"`
	PendingTTL     time.Duration `envconfig:"PENDING_TTL" default:"15m"`
	ReaperInterval time.Duration `envconfig:"REAPER_INTERVAL" default:"60s"`
	RabbitURL      string        `envconfig:"RABBIT_URL"`
	NotifyExchange string        `envconfig:"NOTIFY_EXCHANGE" default:"courtledger.events"`
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RunMigrations  bool          `envconfig:"RUN_MIGRATIONS" default:"true"`
}

func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if c.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}
	if c.HoldTTL <= 0 {
		return nil, fmt.Errorf("HOLD_TTL must be positive, got %s", c.HoldTTL)
	}
	if c.PendingTTL <= 0 {
		return nil, fmt.Errorf("PENDING_TTL must be positive, got %s", c.PendingTTL)
	}
	if c.ReaperInterval <= 0 {
		return nil, fmt.Errorf("REAPER_INTERVAL must be positive, got %s", c.ReaperInterval)
	}
	return &c, nil
}
