package backends

import (
	"math/rand/v2"
	"time"
)

// casRetries is the retry budget for compare-and-swap backends before they
// report ErrConcurrentAccess. Contention on three fixed keys from sequential
// workers is low, so a small budget suffices.
const casRetries = 30

// nextDelay produces a jittered, sawtooth exponential backoff for failed
// compare-and-swap attempts. Feedback is the measured duration of the last
// failed attempt, clamped so pathological measurements cannot stall or
// overwhelm the store.
func nextDelay(attempt int, feedback time.Duration) time.Duration {
	feedback = min(max(feedback, 30*time.Nanosecond), 10*time.Second)

	shift := attempt % 8
	mult := time.Duration(attempt + 1)
	delay := (feedback * mult) << shift

	half := delay >> 1
	// #nosec G404 -- backoff jitter, not a security context
	jitter := time.Duration(rand.Int64N(int64(half)))

	return half + jitter
}
