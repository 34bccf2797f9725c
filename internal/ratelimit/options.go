package ratelimit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prashant21b/kreditbee/internal/ratelimit/backends"
)

type config struct {
	backend      backends.Backend
	buckets      []BucketConfig
	keyPrefix    string
	waitDeadline time.Duration
	jitter       time.Duration
	failOpen     bool
	logger       *slog.Logger
}

// Option is a functional option for configuring the limiter.
type Option func(*config) error

// WithBackend supplies an already constructed storage backend.
func WithBackend(backend backends.Backend) Option {
	return func(c *config) error {
		if backend == nil {
			return ErrNoBackend
		}
		c.backend = backend
		return nil
	}
}

// WithMemoryBackend configures in-process storage.
func WithMemoryBackend() Option {
	return func(c *config) error {
		c.backend = backends.NewMemory()
		return nil
	}
}

// WithRedisBackend configures Redis storage.
func WithRedisBackend(redisConfig backends.RedisConfig) Option {
	return func(c *config) error {
		backend, err := backends.NewRedis(redisConfig)
		if err != nil {
			return fmt.Errorf("failed to create redis backend: %w", err)
		}
		c.backend = backend
		return nil
	}
}

// WithPostgresBackend configures PostgreSQL storage.
func WithPostgresBackend(postgresConfig backends.PostgresConfig) Option {
	return func(c *config) error {
		backend, err := backends.NewPostgres(postgresConfig)
		if err != nil {
			return fmt.Errorf("failed to create postgres backend: %w", err)
		}
		c.backend = backend
		return nil
	}
}

// WithUpstashBackend configures Upstash REST storage.
func WithUpstashBackend(upstashConfig backends.UpstashConfig) Option {
	return func(c *config) error {
		backend, err := backends.NewUpstash(upstashConfig)
		if err != nil {
			return fmt.Errorf("failed to create upstash backend: %w", err)
		}
		c.backend = backend
		return nil
	}
}

// WithBuckets overrides the default bucket tiers.
func WithBuckets(buckets ...BucketConfig) Option {
	return func(c *config) error {
		if len(buckets) == 0 {
			return ErrNoBuckets
		}
		c.buckets = buckets
		return nil
	}
}

// WithKeyPrefix sets the storage key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(c *config) error {
		if prefix == "" {
			return fmt.Errorf("%w: empty key prefix", ErrInvalidBucket)
		}
		c.keyPrefix = prefix
		return nil
	}
}

// WithWaitDeadline bounds how long WaitForToken may block.
func WithWaitDeadline(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return fmt.Errorf("%w: wait deadline %v", ErrInvalidBucket, d)
		}
		c.waitDeadline = d
		return nil
	}
}

// WithJitter sets the upper bound of the random sleep added between retries.
func WithJitter(d time.Duration) Option {
	return func(c *config) error {
		if d < 0 {
			return fmt.Errorf("%w: jitter %v", ErrInvalidBucket, d)
		}
		c.jitter = d
		return nil
	}
}

// WithFailOpen controls behavior when the store is unreachable: true (the
// default) admits the request to preserve liveness, false propagates the
// error.
func WithFailOpen(failOpen bool) Option {
	return func(c *config) error {
		c.failOpen = failOpen
		return nil
	}
}

// WithLogger routes limiter diagnostics through the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}
