package backends

import (
	"errors"
	"fmt"
)

var (
	// ErrStateParsing is returned when stored bucket state cannot be decoded.
	ErrStateParsing = errors.New("failed to parse bucket state")

	// ErrConcurrentAccess is returned when a compare-and-swap backend gives up
	// after exhausting its retry budget.
	ErrConcurrentAccess = errors.New("concurrent access retries exhausted")

	// ErrInvalidConfig is returned when a backend is constructed with an
	// unusable configuration.
	ErrInvalidConfig = errors.New("invalid backend configuration")
)

func newConnectionFailedError(addr string, err error) error {
	return fmt.Errorf("failed to connect to %s: %w", addr, err)
}

func newAcquireFailedError(key string, err error) error {
	return fmt.Errorf("acquire failed for key %q: %w", key, err)
}

func newPeekFailedError(key string, err error) error {
	return fmt.Errorf("peek failed for key %q: %w", key, err)
}

func newResetFailedError(key string, err error) error {
	return fmt.Errorf("reset failed for key %q: %w", key, err)
}
