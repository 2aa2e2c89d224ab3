package ratelimit

import (
	"context"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stackin/escrow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookLimiterWithoutRedisAllowsEverything(t *testing.T) {
	ctx := context.Background()
	limiter, err := NewWebhookLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowProvider(ctx, "mock")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, err := limiter.TryLockReplay(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.NoError(t, limiter.ReleaseReplay(ctx, "1", token))

	var nilLimiter *WebhookLimiter
	res, err = nilLimiter.AllowProvider(ctx, "mock")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestWebhookLimiterRejectsNonPositiveLimits(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	cfg := config.Config{Webhook: config.WebhookConfig{RateLimitRPS: 0, RateLimitBurst: 10}}
	_, err := NewWebhookLimiter(cfg, client)
	assert.Error(t, err)

	cfg.Webhook.RateLimitRPS = 5
	limiter, err := NewWebhookLimiter(cfg, client)
	require.NoError(t, err)
	assert.True(t, limiter.Enabled())
	assert.Equal(t, 4*time.Second, limiter.bucket.ttl)

	cfg.Webhook.RateLimitBurst = 40
	limiter, err = NewWebhookLimiter(cfg, client)
	require.NoError(t, err)
	assert.Equal(t, 16*time.Second, limiter.bucket.ttl)
}

func TestUnconfiguredBucketFails(t *testing.T) {
	var bucket *providerBucket
	_, err := bucket.take(context.Background(), "MOCK")
	assert.Error(t, err)
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, 16*time.Second, bucketTTL(5, 40))
	assert.Equal(t, time.Second, bucketTTL(100, 1))
	assert.Equal(t, time.Second, bucketTTL(0, 1))
}

func TestKeysAreScopedPerProviderAndLog(t *testing.T) {
	assert.Equal(t, "escrow:webhook:bucket:TAZAPAY", bucketKey(" tazapay "))
	assert.Equal(t, "escrow:webhook:bucket:MOCK", bucketKey(""))
	assert.Equal(t, "escrow:webhook:replay:42", replayKey(" 42"))
}
