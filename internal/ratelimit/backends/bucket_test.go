package backends

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec() BucketSpec {
	return BucketSpec{
		Key:        "test:bucket",
		Capacity:   10,
		RefillRate: 2,
		Interval:   time.Second,
		TTL:        time.Hour,
	}
}

func TestRefill_WholeTokensOnly(t *testing.T) {
	spec := testSpec()
	base := time.UnixMilli(1_700_000_000_000)
	state := bucketState{Tokens: 0, LastRefill: base}

	// 2 tokens/s: 400ms elapsed is 0.8 of a token, floored to zero. The
	// refill timestamp must not advance, or the fraction would be lost.
	got := refill(state, spec, base.Add(400*time.Millisecond))
	assert.Zero(t, got.Tokens)
	assert.Equal(t, base, got.LastRefill)

	// 600ms elapsed is 1.2 tokens: exactly one is added and the timestamp
	// advances.
	got = refill(state, spec, base.Add(600*time.Millisecond))
	assert.InDelta(t, 1.0, got.Tokens, 1e-9)
	assert.Equal(t, base.Add(600*time.Millisecond), got.LastRefill)
}

func TestRefill_CapsAtCapacity(t *testing.T) {
	spec := testSpec()
	base := time.UnixMilli(1_700_000_000_000)
	state := bucketState{Tokens: 9, LastRefill: base}

	got := refill(state, spec, base.Add(time.Minute))
	assert.InDelta(t, float64(spec.Capacity), got.Tokens, 1e-9)
}

func TestRefill_NoElapsedTime(t *testing.T) {
	spec := testSpec()
	base := time.UnixMilli(1_700_000_000_000)
	state := bucketState{Tokens: 3, LastRefill: base}

	got := refill(state, spec, base)
	assert.Equal(t, state, got)

	got = refill(state, spec, base.Add(-time.Second))
	assert.Equal(t, state, got)
}

func TestConsume(t *testing.T) {
	spec := testSpec()
	base := time.UnixMilli(1_700_000_000_000)

	state, d := consume(bucketState{Tokens: 2, LastRefill: base}, spec)
	assert.True(t, d.Allowed)
	assert.InDelta(t, 1.0, state.Tokens, 1e-9)

	state, d = consume(bucketState{Tokens: 0, LastRefill: base}, spec)
	assert.False(t, d.Allowed)
	assert.Zero(t, state.Tokens)
	// One token at 2 tokens/s is 500ms away.
	assert.Equal(t, 500*time.Millisecond, d.Wait)
}

func TestWaitForToken(t *testing.T) {
	spec := testSpec()

	assert.Zero(t, waitForToken(1, spec))
	assert.Zero(t, waitForToken(5, spec))
	assert.Equal(t, 500*time.Millisecond, waitForToken(0, spec))
	// Fractional deficits round up to a whole millisecond.
	assert.Equal(t, 250*time.Millisecond, waitForToken(0.5, spec))

	slow := spec
	slow.RefillRate = 300
	slow.Interval = time.Hour
	assert.Equal(t, 12*time.Second, waitForToken(0, slow))
}

func TestEncodeDecodeState(t *testing.T) {
	state := bucketState{Tokens: 7.5, LastRefill: time.UnixMilli(1_700_000_123_456)}

	encoded := encodeState(state)
	assert.Equal(t, "v1|7.5|1700000123456", encoded)

	decoded, ok := decodeState(encoded)
	require.True(t, ok)
	assert.InDelta(t, state.Tokens, decoded.Tokens, 1e-9)
	assert.Equal(t, state.LastRefill.UnixMilli(), decoded.LastRefill.UnixMilli())
}

func TestDecodeState_Malformed(t *testing.T) {
	for _, bad := range []string{"", "v2|1|2", "v1|", "v1|x|2", "v1|1|x", "v1|1"} {
		_, ok := decodeState(bad)
		assert.False(t, ok, "input %q", bad)
	}
}
