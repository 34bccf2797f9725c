// Package backends provides the storage backends the rate limiter runs
// against. Every backend must make the read-refill-consume-write sequence for
// a single bucket atomic: Redis does it with a server-side Lua script,
// Postgres and Upstash with a compare-and-swap retry loop, and the in-memory
// backend with a per-key mutex. Whatever the mechanism, the observable
// property is the same: allowed acquisitions across any sliding window of one
// refill interval never exceed the bucket capacity.
package backends

import (
	"context"
	"time"
)

// BucketSpec describes a single token bucket as seen by a backend.
// RefillRate is the number of tokens added per Interval.
type BucketSpec struct {
	Key        string
	Capacity   int
	RefillRate float64
	Interval   time.Duration
	TTL        time.Duration
}

// Decision is the outcome of one atomic operation against a single bucket.
type Decision struct {
	Allowed    bool
	Tokens     float64
	LastRefill time.Time
	// Wait is how long until the bucket holds at least one token.
	// Zero when Allowed is true.
	Wait time.Duration
}

// Backend is the storage-side contract of the limiter.
type Backend interface {
	// Acquire atomically refills the bucket and consumes one token if
	// available. A missing bucket initializes at full capacity.
	Acquire(ctx context.Context, spec BucketSpec) (Decision, error)

	// Peek refills and reports the bucket without consuming a token.
	// The bucket TTL is refreshed, as on every touch.
	Peek(ctx context.Context, spec BucketSpec) (Decision, error)

	// Reset removes the bucket state entirely.
	Reset(ctx context.Context, key string) error

	// Close releases resources held by the backend.
	Close() error
}
