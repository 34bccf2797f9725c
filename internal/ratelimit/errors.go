package ratelimit

import "errors"

var (
	// ErrNoBackend is returned when the limiter is built without storage.
	ErrNoBackend = errors.New("storage backend cannot be nil")

	// ErrNoBuckets is returned when the limiter is built with no buckets.
	ErrNoBuckets = errors.New("at least one bucket must be configured")

	// ErrEmptyBucketName is returned for a bucket with no name.
	ErrEmptyBucketName = errors.New("bucket name cannot be empty")

	// ErrInvalidBucket is returned for out-of-range bucket parameters.
	ErrInvalidBucket = errors.New("invalid bucket configuration")

	// ErrWaitDeadline is returned when WaitForToken gives up before a token
	// became available.
	ErrWaitDeadline = errors.New("timed out waiting for a rate limit token")
)
