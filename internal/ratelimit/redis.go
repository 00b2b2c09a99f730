package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// takeLua refills and conditionally deducts in one atomic step.
// KEYS[1] bucket hash; ARGV: capacity, rate, now (ms), cost.
// Returns {acquired, tokens_milli}.
const takeLua = `
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil then
    tokens = capacity
    ts = now
end

local elapsed = (now - ts) / 1000
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
end

local ok = 0
if tokens >= cost then
    tokens = tokens - cost
    ok = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(now))
redis.call('PEXPIRE', KEYS[1], math.ceil(capacity / rate * 1000) + 60000)
return {ok, math.floor(tokens * 1000)}
`

// RedisBucket is a token bucket whose state lives in Redis so several worker
// processes share one budget against the verification service.
type RedisBucket struct {
	rdb      redis.Scripter
	script   *redis.Script
	key      string
	capacity float64
	rate     float64
	logger   zerolog.Logger
}

// NewRedisBucket builds a shared bucket stored under "ratelimit:<key>".
func NewRedisBucket(rdb redis.Scripter, key string, rate float64, logger zerolog.Logger) *RedisBucket {
	if rate <= 0 {
		panic("ratelimit: rate must be positive")
	}
	return &RedisBucket{
		rdb:      rdb,
		script:   redis.NewScript(takeLua),
		key:      "ratelimit:" + key,
		capacity: Capacity(rate),
		rate:     rate,
		logger:   logger.With().Str("component", "redis_bucket").Str("key", key).Logger(),
	}
}

// Acquire implements Limiter. Redis failures count as "not acquired".
func (b *RedisBucket) Acquire(ctx context.Context, cost float64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	interval := pollInterval(b.rate)
	for {
		ok, err := b.take(ctx, cost)
		if err != nil {
			b.logger.Warn().Err(err).Msg("token bucket script failed")
			return false
		}
		if ok {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if !sleepCtx(ctx, min(interval, remaining)) {
			return false
		}
	}
}

func (b *RedisBucket) take(ctx context.Context, cost float64) (bool, error) {
	res, err := b.script.Run(ctx, b.rdb, []string{b.key},
		b.capacity,
		b.rate,
		time.Now().UnixMilli(),
		cost,
	).Int64Slice()
	if err != nil {
		return false, err
	}
	return len(res) > 0 && res[0] == 1, nil
}

var _ Limiter = (*RedisBucket)(nil)
