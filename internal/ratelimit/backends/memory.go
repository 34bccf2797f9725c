package backends

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process backend. A per-key mutex serializes the
// read-refill-consume-write sequence, which makes every operation trivially
// atomic. Used in tests and in single-process deployments without a shared
// store.
type Memory struct {
	locks  sync.Map // map[string]*sync.Mutex
	values sync.Map // map[string]memoryValue
	// now is swappable for tests
	now func() time.Time
}

type memoryValue struct {
	state     bucketState
	expiresAt time.Time
}

// NewMemory initializes a new in-memory backend.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) getLock(key string) *sync.Mutex {
	actual, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// load returns the live state for key, or ok=false when missing or expired.
func (m *Memory) load(key string, now time.Time) (bucketState, bool) {
	valAny, exists := m.values.Load(key)
	if !exists {
		return bucketState{}, false
	}
	val := valAny.(memoryValue)
	if now.After(val.expiresAt) {
		m.values.Delete(key)
		return bucketState{}, false
	}
	return val.state, true
}

func (m *Memory) Acquire(ctx context.Context, spec BucketSpec) (Decision, error) {
	return m.touch(ctx, spec, true)
}

func (m *Memory) Peek(ctx context.Context, spec BucketSpec) (Decision, error) {
	return m.touch(ctx, spec, false)
}

func (m *Memory) touch(ctx context.Context, spec BucketSpec, consumeToken bool) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	lock := m.getLock(spec.Key)
	lock.Lock()
	defer lock.Unlock()

	now := m.now()
	state, ok := m.load(spec.Key, now)
	if !ok {
		state = newBucket(spec, now)
	}
	state = refill(state, spec, now)

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

	m.values.Store(spec.Key, memoryValue{state: state, expiresAt: now.Add(spec.TTL)})
	return decision, nil
}

func (m *Memory) Reset(ctx context.Context, key string) error {
	lock := m.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.values.Delete(key)
	return nil
}

func (m *Memory) Close() error {
	m.values = sync.Map{}
	m.locks = sync.Map{}
	return nil
}
