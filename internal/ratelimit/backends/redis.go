package backends

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Redis stores each bucket as a hash {tokens, last_refill} and performs the
// refill-and-consume step inside a server-side Lua script, so concurrent
// workers can never overshoot capacity.
type Redis struct {
	client *redis.Client
}

// acquireScript implements the full bucket touch: initialize on miss, refill
// whole tokens by elapsed time, optionally consume one, refresh the TTL.
// Returns {allowed, tokens, last_refill_ms}.
//
// go-redis runs this via EVALSHA and transparently re-loads the script and
// retries once on NOSCRIPT, so a script-cache flush cannot drop a refill.
var acquireScript = redis.NewScript(`
local cap      = tonumber(ARGV[1])
local rate     = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now      = tonumber(ARGV[4])
local ttl      = tonumber(ARGV[5])
local consume  = tonumber(ARGV[6])

local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local last   = tonumber(redis.call('HGET', KEYS[1], 'last_refill'))
if tokens == nil or last == nil then
  tokens = cap
  last = now
end

local elapsed = now - last
if elapsed > 0 then
  local add = math.floor(elapsed / interval * rate)
  if add > 0 then
    tokens = math.min(cap, tokens + add)
    last = now
  end
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  if consume == 1 then
    tokens = tokens - 1
  end
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'last_refill', tostring(last))
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, tostring(tokens), tostring(last)}
`)

// NewRedis initializes a Redis backend and verifies connectivity.
func NewRedis(config RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, newConnectionFailedError(config.Addr, err)
	}

	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client, e.g. one shared with the
// application.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Acquire(ctx context.Context, spec BucketSpec) (Decision, error) {
	d, err := r.run(ctx, spec, true)
	if err != nil {
		return Decision{}, newAcquireFailedError(spec.Key, err)
	}
	return d, nil
}

func (r *Redis) Peek(ctx context.Context, spec BucketSpec) (Decision, error) {
	d, err := r.run(ctx, spec, false)
	if err != nil {
		return Decision{}, newPeekFailedError(spec.Key, err)
	}
	return d, nil
}

func (r *Redis) run(ctx context.Context, spec BucketSpec, consumeToken bool) (Decision, error) {
	consumeArg := 0
	if consumeToken {
		consumeArg = 1
	}

	res, err := acquireScript.Run(ctx, r.client, []string{spec.Key},
		spec.Capacity,
		spec.RefillRate,
		spec.Interval.Milliseconds(),
		time.Now().UnixMilli(),
		spec.TTL.Milliseconds(),
		consumeArg,
	).Result()
	if err != nil {
		return Decision{}, err
	}

	reply, ok := res.([]any)
	if !ok || len(reply) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrStateParsing, res)
	}

	allowed, ok := reply[0].(int64)
	if !ok {
		return Decision{}, fmt.Errorf("%w: allowed flag %v", ErrStateParsing, reply[0])
	}
	tokens, err := strconv.ParseFloat(toString(reply[1]), 64)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: tokens %v", ErrStateParsing, reply[1])
	}
	lastMS, err := strconv.ParseFloat(toString(reply[2]), 64)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: last_refill %v", ErrStateParsing, reply[2])
	}

	d := Decision{
		Allowed:    allowed == 1,
		Tokens:     tokens,
		LastRefill: time.UnixMilli(int64(lastMS)),
	}
	if !d.Allowed {
		d.Wait = waitForToken(tokens, spec)
	}
	return d, nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return newResetFailedError(key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
