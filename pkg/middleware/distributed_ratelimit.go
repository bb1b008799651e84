package middleware

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"

	"github.com/mobilyecommerce/storefront/pkg/observability"
)

// BackendError reports that the shared limiter state could not be reached.
// The accompanying Decision admits the request.
type BackendError struct {
	Err error
}

func (e *BackendError) Error() string {
	return "rate limit backend: " + e.Err.Error()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// tokenBucketScript refills and consumes atomically. The caller supplies the
// time so every instance shares one clock source per request.
//
// KEYS[1] bucket key; ARGV capacity, window in ms, now in ms.
// Returns {allowed, whole tokens left, ms until next token}.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * capacity / window)
  ts = now
end
if tokens > capacity then
  tokens = capacity
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait = math.ceil((1 - tokens) * window / capacity)
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], window)
return {allowed, math.floor(tokens), wait}
`)

// DistributedRateLimiter keeps the token buckets in Redis so that limits are
// shared across instances. Buckets expire after one idle window, when they
// would be full anyway.
type DistributedRateLimiter struct {
	redis   *redis.Client
	config  atomic.Pointer[RateLimitConfig]
	prefix  string
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// NewDistributedRateLimiter creates a Redis-backed limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config RateLimitConfig, prefix string, clock clockwork.Clock, metrics *observability.Metrics) (*DistributedRateLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rl := &DistributedRateLimiter{
		redis:   redisClient,
		prefix:  prefix,
		clock:   clock,
		metrics: metrics,
	}
	rl.config.Store(&config)
	return rl, nil
}

// Config returns the limits in effect
func (rl *DistributedRateLimiter) Config() RateLimitConfig {
	return *rl.config.Load()
}

// UpdateLimits replaces the limits for subsequent requests
func (rl *DistributedRateLimiter) UpdateLimits(config RateLimitConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	rl.config.Store(&config)
	return nil
}

func (rl *DistributedRateLimiter) key(clientKey, class string) string {
	return fmt.Sprintf("%s:%s:%s", rl.prefix, class, clientKey)
}

// Admit consumes one token from the shared bucket. On Redis failure the
// request is admitted and a *BackendError is returned alongside.
func (rl *DistributedRateLimiter) Admit(ctx context.Context, clientKey, path string) (Decision, error) {
	config := rl.config.Load()
	class := config.Classify(path)
	limit := config.limit(class)

	result, err := tokenBucketScript.Run(ctx, rl.redis,
		[]string{rl.key(clientKey, class)},
		limit.Capacity, limit.Window.Milliseconds(), rl.clock.Now().UnixMilli(),
	).Int64Slice()
	if err == nil && len(result) != 3 {
		err = fmt.Errorf("unexpected script result %v", result)
	}
	if err != nil {
		rl.metrics.RecordRateLimitBackendError()
		return Decision{Allowed: true, Limit: limit.Capacity, Class: class}, &BackendError{Err: err}
	}

	d := Decision{
		Allowed:   result[0] == 1,
		Remaining: int(result[1]),
		Limit:     limit.Capacity,
		Class:     class,
	}
	if !d.Allowed {
		d.Remaining = 0
		d.RetryAfterSeconds = int((result[2] + 999) / 1000)
		if d.RetryAfterSeconds < 1 {
			d.RetryAfterSeconds = 1
		}
	}
	return d, nil
}

// Reset clears the buckets of a client
func (rl *DistributedRateLimiter) Reset(ctx context.Context, clientKey string) error {
	return rl.redis.Del(ctx,
		rl.key(clientKey, ClassAuth),
		rl.key(clientKey, ClassGeneral),
	).Err()
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}
