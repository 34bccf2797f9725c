package backends

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useBackend builds a backend against a real store, skipping when the store
// is not reachable. REDIS_ADDR and TEST_POSTGRES_DSN select the targets.
func useBackend(t *testing.T, name string) Backend {
	t.Helper()

	var backend Backend
	var err error

	switch name {
	case "memory":
		backend = NewMemory()
	case "redis":
		backend, err = NewRedis(RedisConfig{Addr: os.Getenv("REDIS_ADDR")})
	case "postgres":
		backend, err = NewPostgres(PostgresConfig{ConnString: os.Getenv("TEST_POSTGRES_DSN")})
	default:
		t.Fatalf("unknown backend %s", name)
	}

	if err != nil {
		t.Skipf("backend %s not available: %v", name, err)
	}
	t.Cleanup(func() { _ = backend.Close() })

	return backend
}

// integSpec returns a spec with a unique key so reruns never see stale state.
func integSpec(t *testing.T) BucketSpec {
	t.Helper()
	return BucketSpec{
		Key:        fmt.Sprintf("ratelimit:integ:%s:%d", t.Name(), time.Now().UnixNano()),
		Capacity:   2,
		RefillRate: 1,
		Interval:   time.Second,
		TTL:        time.Minute,
	}
}

func TestBackend_Integration(t *testing.T) {
	for _, name := range []string{"memory", "redis", "postgres"} {
		t.Run(name, func(t *testing.T) {
			backend := useBackend(t, name)

			t.Run("burst then deny", func(t *testing.T) {
				spec := integSpec(t)
				for range spec.Capacity {
					d, err := backend.Acquire(t.Context(), spec)
					require.NoError(t, err)
					assert.True(t, d.Allowed)
				}

				d, err := backend.Acquire(t.Context(), spec)
				require.NoError(t, err)
				assert.False(t, d.Allowed)
				assert.Positive(t, d.Wait)
			})

			t.Run("peek does not consume", func(t *testing.T) {
				spec := integSpec(t)

				d, err := backend.Peek(t.Context(), spec)
				require.NoError(t, err)
				assert.True(t, d.Allowed)
				assert.InDelta(t, float64(spec.Capacity), d.Tokens, 1e-9)

				d, err = backend.Acquire(t.Context(), spec)
				require.NoError(t, err)
				assert.InDelta(t, float64(spec.Capacity-1), d.Tokens, 1e-9)
			})

			t.Run("reset restores a full bucket", func(t *testing.T) {
				spec := integSpec(t)
				spec.Capacity = 1

				d, err := backend.Acquire(t.Context(), spec)
				require.NoError(t, err)
				require.True(t, d.Allowed)

				d, err = backend.Acquire(t.Context(), spec)
				require.NoError(t, err)
				require.False(t, d.Allowed)

				require.NoError(t, backend.Reset(t.Context(), spec.Key))

				d, err = backend.Acquire(t.Context(), spec)
				require.NoError(t, err)
				assert.True(t, d.Allowed)
			})
		})
	}
}
