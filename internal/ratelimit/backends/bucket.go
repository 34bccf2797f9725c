package backends

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// bucketState is the durable state of one token bucket. LastRefill is kept at
// millisecond resolution because that is what the Lua script and the REST
// backend can represent.
type bucketState struct {
	Tokens     float64
	LastRefill time.Time
}

// refill applies the elapsed-time refill rule: whole tokens only, capped at
// capacity, and LastRefill advances only when at least one token was added.
func refill(s bucketState, spec BucketSpec, now time.Time) bucketState {
	elapsed := now.Sub(s.LastRefill)
	if elapsed <= 0 {
		return s
	}
	intervalMS := float64(spec.Interval.Milliseconds())
	toAdd := math.Floor(float64(elapsed.Milliseconds()) / intervalMS * spec.RefillRate)
	if toAdd > 0 {
		s.Tokens = math.Min(float64(spec.Capacity), s.Tokens+toAdd)
		s.LastRefill = now
	}
	return s
}

// consume takes one token if available and reports the decision. When denied,
// Wait is the time until the bucket holds one full token.
func consume(s bucketState, spec BucketSpec) (bucketState, Decision) {
	if s.Tokens >= 1 {
		s.Tokens -= 1
		return s, Decision{Allowed: true, Tokens: s.Tokens, LastRefill: s.LastRefill}
	}
	return s, Decision{
		Allowed:    false,
		Tokens:     s.Tokens,
		LastRefill: s.LastRefill,
		Wait:       waitForToken(s.Tokens, spec),
	}
}

// waitForToken returns the time until tokens reaches 1 at the configured
// refill rate, rounded up to a whole millisecond.
func waitForToken(tokens float64, spec BucketSpec) time.Duration {
	if tokens >= 1 {
		return 0
	}
	intervalMS := float64(spec.Interval.Milliseconds())
	waitMS := math.Ceil((1 - tokens) / spec.RefillRate * intervalMS)
	return time.Duration(waitMS) * time.Millisecond
}

// newBucket is the state of a bucket on first touch.
func newBucket(spec BucketSpec, now time.Time) bucketState {
	return bucketState{Tokens: float64(spec.Capacity), LastRefill: now}
}

// encodeState serializes a bucket into the compact "v1|tokens|lastrefill_ms"
// form used by the compare-and-swap backends.
func encodeState(s bucketState) string {
	var sb strings.Builder
	sb.Grow(3 + 24 + 1 + 14)
	sb.WriteString("v1|")
	sb.WriteString(strconv.FormatFloat(s.Tokens, 'g', -1, 64))
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatInt(s.LastRefill.UnixMilli(), 10))
	return sb.String()
}

// decodeState parses the compact form; ok is false for anything else.
func decodeState(data string) (bucketState, bool) {
	if !strings.HasPrefix(data, "v1|") {
		return bucketState{}, false
	}
	rest := data[3:]
	sep := strings.IndexByte(rest, '|')
	if sep < 0 {
		return bucketState{}, false
	}
	tokens, err := strconv.ParseFloat(rest[:sep], 64)
	if err != nil {
		return bucketState{}, false
	}
	last, err := strconv.ParseInt(rest[sep+1:], 10, 64)
	if err != nil {
		return bucketState{}, false
	}
	return bucketState{Tokens: tokens, LastRefill: time.UnixMilli(last)}, true
}
