// Package ratelimit implements the three-bucket token-bucket limiter that
// gates every call to the upstream NAV API. One acquire consumes a token from
// each configured bucket; the request is admitted only when every bucket
// yields one. Bucket state lives in a shared store so the admission rate is
// bounded across restarts and across workers.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/prashant21b/kreditbee/internal/ratelimit/backends"
)

const (
	// DefaultKeyPrefix namespaces bucket keys in the shared store.
	DefaultKeyPrefix = "ratelimit:mfapi"

	// DefaultWaitDeadline bounds WaitForToken when the caller's context has
	// no earlier deadline.
	DefaultWaitDeadline = 300 * time.Second

	// DefaultJitter is the upper bound of the random extra sleep added to
	// every wait, so parked workers don't wake in lockstep.
	DefaultJitter = 50 * time.Millisecond

	// bucketTTL is refreshed on every touch of a bucket.
	bucketTTL = 2 * time.Hour
)

// BucketConfig describes one admission bucket. RefillRate tokens are added
// per Interval, capped at Capacity.
type BucketConfig struct {
	Name       string
	Capacity   int
	RefillRate float64
	Interval   time.Duration
}

func (c BucketConfig) Validate() error {
	if c.Name == "" {
		return ErrEmptyBucketName
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: bucket %q capacity %d", ErrInvalidBucket, c.Name, c.Capacity)
	}
	if c.RefillRate <= 0 {
		return fmt.Errorf("%w: bucket %q refill rate %v", ErrInvalidBucket, c.Name, c.RefillRate)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: bucket %q interval %v", ErrInvalidBucket, c.Name, c.Interval)
	}
	return nil
}

// DefaultBuckets returns the upstream quota tiers, strictest first. Checking
// the per-second bucket first keeps the partial-consumption hazard small: a
// denial there leaves the slower buckets untouched.
func DefaultBuckets() []BucketConfig {
	return []BucketConfig{
		{Name: "per_second", Capacity: 2, RefillRate: 2, Interval: time.Second},
		{Name: "per_minute", Capacity: 50, RefillRate: 50, Interval: time.Minute},
		{Name: "per_hour", Capacity: 300, RefillRate: 300, Interval: time.Hour},
	}
}

// Result is the outcome of one Acquire across all buckets.
type Result struct {
	Allowed bool
	// Wait is the maximum per-bucket wait when denied.
	Wait time.Duration
}

// BucketStatus is a non-consuming view of one bucket, served by the health
// and status endpoints.
type BucketStatus struct {
	Name       string    `json:"name"`
	Tokens     float64   `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

// Limiter coordinates the configured buckets against a shared backend.
type Limiter struct {
	backend      backends.Backend
	buckets      []BucketConfig
	keyPrefix    string
	waitDeadline time.Duration
	jitter       time.Duration
	failOpen     bool
	logger       *slog.Logger
}

// New creates a limiter with functional options.
func New(opts ...Option) (*Limiter, error) {
	cfg := config{
		buckets:      DefaultBuckets(),
		keyPrefix:    DefaultKeyPrefix,
		waitDeadline: DefaultWaitDeadline,
		jitter:       DefaultJitter,
		failOpen:     true,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if cfg.backend == nil {
		return nil, ErrNoBackend
	}
	if len(cfg.buckets) == 0 {
		return nil, ErrNoBuckets
	}
	for _, b := range cfg.buckets {
		if err := b.Validate(); err != nil {
			return nil, err
		}
	}

	return &Limiter{
		backend:      cfg.backend,
		buckets:      cfg.buckets,
		keyPrefix:    cfg.keyPrefix,
		waitDeadline: cfg.waitDeadline,
		jitter:       cfg.jitter,
		failOpen:     cfg.failOpen,
		logger:       cfg.logger,
	}, nil
}

func (l *Limiter) spec(b BucketConfig) backends.BucketSpec {
	return backends.BucketSpec{
		Key:        l.keyPrefix + ":" + b.Name,
		Capacity:   b.Capacity,
		RefillRate: b.RefillRate,
		Interval:   b.Interval,
		TTL:        bucketTTL,
	}
}

// Acquire tries to consume one token from every bucket, strictest first.
// There is no rollback: a token taken from an earlier bucket stays consumed
// when a later bucket denies. The drained bucket simply refills more slowly
// and overall admission stays bounded by the strictest tier.
//
// When the backend is unreachable the limiter fails open (if configured, the
// default) so a store outage cannot stall ingestion; every such event is
// logged and counted in the fail-open metric.
func (l *Limiter) Acquire(ctx context.Context) (Result, error) {
	maxWait := time.Duration(0)

	for i, b := range l.buckets {
		d, err := l.backend.Acquire(ctx, l.spec(b))
		if err != nil {
			if l.failOpen {
				failOpenTotal.Inc()
				l.logger.WarnContext(ctx, "rate limiter store unreachable, failing open",
					slog.String("bucket", b.Name), slog.Any("error", err))
				return Result{Allowed: true}, nil
			}
			return Result{}, err
		}
		if d.Allowed {
			continue
		}

		maxWait = d.Wait
		// Denied: peek the remaining buckets (no consumption) so the caller
		// learns the maximum wait across all tiers, not just the first denial.
		for _, rest := range l.buckets[i+1:] {
			pd, err := l.backend.Peek(ctx, l.spec(rest))
			if err != nil {
				continue
			}
			if !pd.Allowed && pd.Wait > maxWait {
				maxWait = pd.Wait
			}
		}
		acquireTotal.WithLabelValues("denied").Inc()
		return Result{Allowed: false, Wait: maxWait}, nil
	}

	acquireTotal.WithLabelValues("allowed").Inc()
	return Result{Allowed: true}, nil
}

// WaitForToken blocks until an acquire succeeds, sleeping the advertised wait
// plus jitter between attempts. It gives up when the caller's context or the
// configured deadline (default 300s) expires.
func (l *Limiter) WaitForToken(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.waitDeadline)
	defer cancel()

	for {
		res, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if res.Allowed {
			return nil
		}

		sleep := res.Wait
		if l.jitter > 0 {
			// #nosec G404 -- scheduling jitter, not a security context
			sleep += time.Duration(rand.Int64N(int64(l.jitter)))
		}
		if err := sleepOrWait(ctx, sleep, 10*time.Millisecond); err != nil {
			return fmt.Errorf("%w: %w", ErrWaitDeadline, err)
		}
	}
}

// Status reports every bucket without consuming tokens.
func (l *Limiter) Status(ctx context.Context) ([]BucketStatus, error) {
	statuses := make([]BucketStatus, 0, len(l.buckets))
	for _, b := range l.buckets {
		d, err := l.backend.Peek(ctx, l.spec(b))
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, BucketStatus{
			Name:       b.Name,
			Tokens:     d.Tokens,
			LastRefill: d.LastRefill,
		})
	}
	return statuses, nil
}

// Reset clears all bucket state (mainly for tests).
func (l *Limiter) Reset(ctx context.Context) error {
	for _, b := range l.buckets {
		if err := l.backend.Reset(ctx, l.spec(b).Key); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the storage backend.
func (l *Limiter) Close() error {
	return l.backend.Close()
}
