package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// tokenBucketScript performs the whole read-refill-consume cycle inside
// Redis so that concurrent callers on the same bucket can never both
// observe and spend the same token.
const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ts')
local tokens = tonumber(data[1])
local last_ts = tonumber(data[2])

if not tokens then
    tokens = burst
    last_ts = now
end

local elapsed = now - last_ts
if elapsed < 0 then
    elapsed = 0
end
local refill = (rate / 60.0) * elapsed
tokens = math.min(burst, tokens + refill)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_ts', now)
redis.call('EXPIRE', key, ttl)

return {allowed, math.floor(tokens)}
`

const bucketPrefix = "fx:bucket:"

// Decision is the outcome of a single bucket check.
type Decision struct {
	Allowed   bool
	Remaining int64
}

// Options parameterise the bucket limiter.
type Options struct {
	BurstMultiplier float64
	BucketTTL       time.Duration
}

// Limiter runs the atomic token bucket against a shared Redis store.
type Limiter struct {
	rdb    redis.UniversalClient
	script *redis.Script
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Limiter.
func New(rdb redis.UniversalClient, opts Options, logger zerolog.Logger) *Limiter {
	if opts.BurstMultiplier < 1 {
		opts.BurstMultiplier = 2.0
	}
	if opts.BucketTTL <= 0 {
		opts.BucketTTL = time.Hour
	}

	return &Limiter{
		rdb:    rdb,
		script: redis.NewScript(tokenBucketScript),
		opts:   opts,
		logger: logger.With().Str("component", "limiter").Logger(),
		now:    time.Now,
	}
}

// Allow consumes one token from the named bucket if available. Denial is a
// normal outcome, not an error; errors indicate a store failure.
func (l *Limiter) Allow(ctx context.Context, scope string, ratePerMinute int) (Decision, error) {
	if ratePerMinute <= 0 {
		return Decision{}, fmt.Errorf("limiter: rate for scope %q must be positive", scope)
	}

	now := float64(l.now().UnixNano()) / float64(time.Second)
	burst := float64(ratePerMinute) * l.opts.BurstMultiplier
	ttl := int64(l.opts.BucketTTL / time.Second)

	res, err := l.script.Run(ctx, l.rdb, []string{bucketKey(scope)},
		fmt.Sprintf("%.6f", now), ratePerMinute, burst, ttl,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("limiter: run token bucket script: %w", err)
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return Decision{}, fmt.Errorf("limiter: unexpected script reply %T", res)
	}

	allowed, _ := arr[0].(int64)
	remaining, _ := arr[1].(int64)

	return Decision{Allowed: allowed == 1, Remaining: remaining}, nil
}

func bucketKey(scope string) string {
	return bucketPrefix + scope
}
