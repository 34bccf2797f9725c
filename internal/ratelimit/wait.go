package ratelimit

import (
	"context"
	"time"
)

// sleepOrWait provides context-aware long waiting or short sleeping.
//
// For delay <= threshold it uses time.Sleep directly, ignoring context
// cancellation; longer delays respect cancellation.
func sleepOrWait(ctx context.Context, delay, threshold time.Duration) error {
	if delay <= threshold {
		time.Sleep(delay)
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
