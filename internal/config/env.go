package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Env holds the operational knobs that don't belong in the checked-in ACL
// document: listen address, store dial parameters, background-task
// intervals, and logging. Priority, matching the teacher's LoadConfig:
// process env vars > .env file > struct defaults.
type Env struct {
	Addr string `env:"MARMOT_ADDR" envDefault:":8080"`

	RedisURL            string        `env:"MARMOT_REDIS_URL" envDefault:"localhost:6379"`
	RedisMaxConnections int           `env:"MARMOT_REDIS_MAX_CONNECTIONS" envDefault:"32"`
	RedisDialTimeout    time.Duration `env:"MARMOT_REDIS_DIAL_TIMEOUT" envDefault:"2s"`
	RedisCommandTimeout time.Duration `env:"MARMOT_REDIS_COMMAND_TIMEOUT" envDefault:"1s"`

	TrimFreq  time.Duration `env:"MARMOT_TRIM_FREQ" envDefault:"20s"`
	ReadBlock time.Duration `env:"MARMOT_READ_BLOCK" envDefault:"5s"`

	PingInterval time.Duration `env:"MARMOT_PING_INTERVAL" envDefault:"5s"`

	MaxGoroutines int `env:"MARMOT_MAX_GOROUTINES" envDefault:"10000"`

	// MaxConnections sizes the admission guard's listener semaphore (the
	// connection-slot half of the two checks in front of /api/listen).
	MaxConnections int `env:"MARMOT_MAX_CONNECTIONS" envDefault:"5000"`

	// WhistleRateBurst/WhistleRatePerSec size the per-whistler token
	// bucket in front of can_whistle.
	WhistleRateBurst  int     `env:"MARMOT_WHISTLE_RATE_BURST" envDefault:"50"`
	WhistleRatePerSec float64 `env:"MARMOT_WHISTLE_RATE_PER_SEC" envDefault:"20"`

	// CPU admission threshold for /api/listen, a percentage of the
	// process's own allocation the same way the teacher's cgroup-aware
	// guard reasons about container limits, plus the sampling intervals.
	CPURejectThreshold float64       `env:"MARMOT_CPU_REJECT_THRESHOLD" envDefault:"85.0"`
	CPUSampleInterval  time.Duration `env:"MARMOT_CPU_SAMPLE_INTERVAL" envDefault:"5s"`
	MetricsInterval    time.Duration `env:"MARMOT_METRICS_INTERVAL" envDefault:"15s"`

	// NatsURL enables the optional cross-replica wake hint (§5.8 of
	// SPEC_FULL.md) when non-empty.
	NatsURL string `env:"MARMOT_NATS_URL" envDefault:""`

	LogLevel  string `env:"MARMOT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"MARMOT_LOG_FORMAT" envDefault:"json"`
}

// LoadEnv loads a .env file if present (never fatal if absent — production
// deployments set real environment variables) and parses Env from the
// process environment.
func LoadEnv(logger *zerolog.Logger) (*Env, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded environment overrides from .env file")
	}

	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate environment: %w", err)
	}
	return cfg, nil
}

// Validate checks Env for internally-consistent values, mirroring the
// teacher's Config.Validate range/enum checks.
func (c *Env) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("MARMOT_ADDR is required")
	}
	if c.RedisMaxConnections < 1 {
		return fmt.Errorf("MARMOT_REDIS_MAX_CONNECTIONS must be > 0, got %d", c.RedisMaxConnections)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("MARMOT_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	// Clamp connection pool size into the sensible range spec §5 names.
	if c.RedisMaxConnections < 10 {
		c.RedisMaxConnections = 10
	}
	if c.RedisMaxConnections > 32768 {
		c.RedisMaxConnections = 32768
	}
	if c.TrimFreq <= 0 {
		return fmt.Errorf("MARMOT_TRIM_FREQ must be > 0, got %s", c.TrimFreq)
	}
	if c.CPURejectThreshold <= 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("MARMOT_CPU_REJECT_THRESHOLD must be in (0,100], got %.1f", c.CPURejectThreshold)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("MARMOT_LOG_LEVEL must be one of debug/info/warn/error, got %q", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("MARMOT_LOG_FORMAT must be one of json/pretty, got %q", c.LogFormat)
	}
	return nil
}
