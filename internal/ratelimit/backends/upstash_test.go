package backends

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUpstash emulates the slice of the REST protocol the backend uses:
// PING, GET, DEL, and the CAS EVAL.
type fakeUpstash struct {
	mu     sync.Mutex
	values map[string]string
}

func (f *fakeUpstash) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}

		var cmd []any
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, `{"error":"bad command"}`, http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		reply := func(result any) {
			json.NewEncoder(w).Encode(map[string]any{"result": result})
		}

		switch cmd[0] {
		case "PING":
			reply("PONG")
		case "GET":
			v, ok := f.values[cmd[1].(string)]
			if !ok {
				reply(nil)
				return
			}
			reply(v)
		case "DEL":
			delete(f.values, cmd[1].(string))
			reply(1)
		case "EVAL":
			// [EVAL script numkeys key old new ttl]
			key, old, newValue := cmd[3].(string), cmd[4].(string), cmd[5].(string)
			current, exists := f.values[key]
			if (old == "" && !exists) || (old != "" && exists && current == old) {
				f.values[key] = newValue
				reply(1)
				return
			}
			reply(0)
		default:
			reply(nil)
		}
	}
}

func setupUpstashTest(t *testing.T) *Upstash {
	t.Helper()
	fake := &fakeUpstash{values: map[string]string{}}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	backend, err := NewUpstash(UpstashConfig{
		URL:        srv.URL,
		Token:      "test-token",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestUpstash_AcquireAndDeny(t *testing.T) {
	backend := setupUpstashTest(t)
	spec := testSpec()
	spec.Capacity = 2

	for range 2 {
		d, err := backend.Acquire(t.Context(), spec)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := backend.Acquire(t.Context(), spec)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Positive(t, d.Wait)
}

func TestUpstash_PeekDoesNotConsume(t *testing.T) {
	backend := setupUpstashTest(t)
	spec := testSpec()

	d, err := backend.Peek(t.Context(), spec)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.InDelta(t, float64(spec.Capacity), d.Tokens, 1e-9)

	d, err = backend.Acquire(t.Context(), spec)
	require.NoError(t, err)
	assert.InDelta(t, float64(spec.Capacity-1), d.Tokens, 1e-9)
}

func TestUpstash_Reset(t *testing.T) {
	backend := setupUpstashTest(t)
	spec := testSpec()
	spec.Capacity = 1

	d, err := backend.Acquire(t.Context(), spec)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	require.NoError(t, backend.Reset(t.Context(), spec.Key))

	d, err = backend.Acquire(t.Context(), spec)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestNewUpstash_Validation(t *testing.T) {
	_, err := NewUpstash(UpstashConfig{URL: "", Token: "x"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewUpstash(UpstashConfig{URL: "http://localhost", Token: ""})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewUpstash_BadCredentials(t *testing.T) {
	fake := &fakeUpstash{values: map[string]string{}}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	_, err := NewUpstash(UpstashConfig{
		URL:        srv.URL,
		Token:      "wrong",
		HTTPClient: srv.Client(),
	})
	assert.Error(t, err)
}
