// Package config loads the process configuration from the environment, with
// an optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/prashant21b/kreditbee/internal/ratelimit"
	"github.com/prashant21b/kreditbee/internal/store"
)

// Bucket configures one rate-limit tier from the environment.
type Bucket struct {
	Capacity   int     `env:"CAPACITY"`
	RefillRate float64 `env:"REFILL_RATE"`
	IntervalMS int64   `env:"INTERVAL_MS"`
}

// RateLimit selects the limiter backend and overrides the bucket tiers.
type RateLimit struct {
	// Backend is one of redis, postgres, upstash, memory.
	Backend      string        `env:"BACKEND" envDefault:"redis"`
	FailOpen     bool          `env:"FAIL_OPEN" envDefault:"true"`
	WaitDeadline time.Duration `env:"WAIT_DEADLINE" envDefault:"300s"`
	PostgresURL  string        `env:"POSTGRES_URL"`

	PerSecond Bucket `envPrefix:"PER_SECOND_"`
	PerMinute Bucket `envPrefix:"PER_MINUTE_"`
	PerHour   Bucket `envPrefix:"PER_HOUR_"`
}

// Redis configures the Redis limiter backend.
type Redis struct {
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Upstash configures the REST limiter backend.
type Upstash struct {
	URL   string `env:"UPSTASH_REDIS_REST_URL"`
	Token string `env:"UPSTASH_REDIS_REST_TOKEN"`
}

// Config is the full process configuration.
type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogDir   string `env:"LOG_DIR"`

	MFAPIBaseURL string        `env:"MFAPI_BASE_URL" envDefault:"https://api.mfapi.in/mf"`
	MFAPITimeout time.Duration `env:"MFAPI_TIMEOUT" envDefault:"30s"`

	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`
	Redis     Redis     `envPrefix:"REDIS_"`
	Upstash   Upstash
	MySQL     store.Config

	CronSchedule string `env:"SYNC_CRON_SCHEDULE" envDefault:"0 6 * * *"`
	CronTimezone string `env:"SYNC_CRON_TIMEZONE" envDefault:"Asia/Kolkata"`
}

// Load reads .env (best effort) and then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RedisAddr is the host:port of the limiter's Redis.
func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Buckets renders the configured tiers, falling back to the defaults for any
// tier left unset.
func (c Config) Buckets() []ratelimit.BucketConfig {
	defaults := ratelimit.DefaultBuckets()
	overrides := []Bucket{c.RateLimit.PerSecond, c.RateLimit.PerMinute, c.RateLimit.PerHour}

	buckets := make([]ratelimit.BucketConfig, len(defaults))
	for i, d := range defaults {
		b := d
		o := overrides[i]
		if o.Capacity > 0 {
			b.Capacity = o.Capacity
		}
		if o.RefillRate > 0 {
			b.RefillRate = o.RefillRate
		}
		if o.IntervalMS > 0 {
			b.Interval = time.Duration(o.IntervalMS) * time.Millisecond
		}
		buckets[i] = b
	}
	return buckets
}
