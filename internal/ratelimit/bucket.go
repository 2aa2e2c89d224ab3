package ratelimit

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// providerBucketScript refills rate tokens per second up to burst and spends
// one per delivery. It returns {allowed, whole tokens left, retry after ms}.
const providerBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now_ms = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last_ms = tonumber(state[2]) or now_ms
if now_ms > last_ms then
  tokens = math.min(burst, tokens + (now_ms - last_ms) / 1000 * rate)
end

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry_ms = math.ceil((1 - tokens) / rate * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now_ms)
redis.call("PEXPIRE", KEYS[1], ttl_ms)

return {allowed, math.floor(tokens), retry_ms}
`

const bucketKeyPrefix = "escrow:webhook:bucket:"

// Decision is the outcome of one ingress check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// providerBucket keeps one token bucket per payment provider in redis, so
// every API replica draws from the same budget.
type providerBucket struct {
	client *redis.Client
	script *redis.Script
	rate   float64
	burst  int
	ttl    time.Duration
}

func newProviderBucket(client *redis.Client, rate float64, burst int) *providerBucket {
	return &providerBucket{
		client: client,
		script: redis.NewScript(providerBucketScript),
		rate:   rate,
		burst:  burst,
		ttl:    bucketTTL(rate, burst),
	}
}

func (b *providerBucket) take(ctx context.Context, provider string) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, errors.New("provider bucket not configured")
	}

	out, err := b.script.Run(ctx, b.client, []string{bucketKey(provider)}, b.rate, b.burst, b.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(out) != 3 {
		return Decision{}, errors.New("unexpected provider bucket reply")
	}

	return Decision{
		Allowed:    out[0] == 1,
		Limit:      b.burst,
		Remaining:  int(out[1]),
		RetryAfter: time.Duration(out[2]) * time.Millisecond,
	}, nil
}

func bucketKey(provider string) string {
	provider = strings.ToUpper(strings.TrimSpace(provider))
	if provider == "" {
		provider = "MOCK"
	}
	return bucketKeyPrefix + provider
}

// bucketTTL is twice the time an empty bucket needs to refill, at least one
// second. Idle providers drop out of redis after that.
func bucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Ceil(float64(burst) / rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
