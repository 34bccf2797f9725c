package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// UpstashConfig configures the Upstash REST backend.
type UpstashConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Upstash talks to an Upstash-compatible Redis over its REST API. The REST
// protocol has no MULTI/WATCH, so atomicity is emulated the same way as the
// Postgres backend: optimistic compare-and-swap with retry, where the swap
// itself is a single-request server-side EVAL and therefore atomic.
type Upstash struct {
	url    string
	token  string
	client *http.Client
	now    func() time.Time
}

// casScript swaps the stored value only when it still matches ARGV[1];
// an empty ARGV[1] means "set only if the key does not exist".
const casScript = `
local current = redis.call('GET', KEYS[1])
if ARGV[1] == '' then
  if current == false then
    redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
    return 1
  end
  return 0
end
if current == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
  return 1
end
return 0
`

// NewUpstash initializes the REST backend and verifies credentials with a
// PING.
func NewUpstash(config UpstashConfig) (*Upstash, error) {
	if config.URL == "" || config.Token == "" {
		return nil, ErrInvalidConfig
	}
	client := config.HTTPClient
	if client == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	u := &Upstash{
		url:    config.URL,
		token:  config.Token,
		client: client,
		now:    time.Now,
	}

	if _, err := u.command(context.Background(), []any{"PING"}); err != nil {
		return nil, newConnectionFailedError(config.URL, err)
	}
	return u, nil
}

func (u *Upstash) Acquire(ctx context.Context, spec BucketSpec) (Decision, error) {
	d, err := casTouch(ctx, u, spec, true, u.now)
	if err != nil {
		return Decision{}, newAcquireFailedError(spec.Key, err)
	}
	return d, nil
}

func (u *Upstash) Peek(ctx context.Context, spec BucketSpec) (Decision, error) {
	d, err := casTouch(ctx, u, spec, false, u.now)
	if err != nil {
		return Decision{}, newPeekFailedError(spec.Key, err)
	}
	return d, nil
}

func (u *Upstash) get(ctx context.Context, key string) (string, bool, error) {
	result, err := u.command(ctx, []any{"GET", key})
	if err != nil {
		return "", false, err
	}
	if result == nil {
		return "", false, nil
	}
	value, ok := result.(string)
	if !ok {
		return "", false, fmt.Errorf("%w: GET reply %v", ErrStateParsing, result)
	}
	return value, true, nil
}

func (u *Upstash) swap(ctx context.Context, key, old string, existed bool, newValue string, ttl time.Duration) (bool, error) {
	if !existed {
		old = ""
	}
	result, err := u.command(ctx, []any{
		"EVAL", casScript, "1", key,
		old, newValue, strconv.FormatInt(ttl.Milliseconds(), 10),
	})
	if err != nil {
		return false, err
	}
	n, ok := toInt64(result)
	if !ok {
		return false, fmt.Errorf("%w: EVAL reply %v", ErrStateParsing, result)
	}
	return n == 1, nil
}

func (u *Upstash) Reset(ctx context.Context, key string) error {
	if _, err := u.command(ctx, []any{"DEL", key}); err != nil {
		return newResetFailedError(key, err)
	}
	return nil
}

func (u *Upstash) Close() error {
	u.client.CloseIdleConnections()
	return nil
}

// command posts a single Redis command as a JSON array and returns the
// decoded "result" field.
func (u *Upstash) command(ctx context.Context, cmd []any) (any, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+u.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reply struct {
		Result any    `json:"result"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to decode REST reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("upstash command failed: %s", reply.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstash returned status %d", resp.StatusCode)
	}
	return reply.Result, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
