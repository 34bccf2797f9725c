package backends

import (
	"context"
	"time"
)

// casStore is the minimal surface a compare-and-swap backend must provide.
// get must treat expired entries as absent; swap must only write when the
// stored value still equals old (or when the key is still absent, for
// existed=false).
type casStore interface {
	get(ctx context.Context, key string) (value string, exists bool, err error)
	swap(ctx context.Context, key, old string, existed bool, newValue string, ttl time.Duration) (bool, error)
}

// casTouch runs the read-refill-consume-write sequence optimistically,
// retrying with backoff while other workers win the swap.
func casTouch(ctx context.Context, store casStore, spec BucketSpec, consumeToken bool, clock func() time.Time) (Decision, error) {
	for attempt := range casRetries {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}

		started := clock()

		old, exists, err := store.get(ctx, spec.Key)
		if err != nil {
			return Decision{}, err
		}

		now := clock()
		var state bucketState
		if exists {
			s, ok := decodeState(old)
			if !ok {
				return Decision{}, ErrStateParsing
			}
			state = refill(s, spec, now)
		} else {
			state = newBucket(spec, now)
		}

		var decision Decision
		if consumeToken {
			state, decision = consume(state, spec)
		} else {
			decision = Decision{
				Allowed:    state.Tokens >= 1,
				Tokens:     state.Tokens,
				LastRefill: state.LastRefill,
				Wait:       waitForToken(state.Tokens, spec),
			}
		}

		swapped, err := store.swap(ctx, spec.Key, old, exists, encodeState(state), spec.TTL)
		if err != nil {
			return Decision{}, err
		}
		if swapped {
			return decision, nil
		}

		time.Sleep(nextDelay(attempt, clock().Sub(started)))
	}

	return Decision{}, ErrConcurrentAccess
}
