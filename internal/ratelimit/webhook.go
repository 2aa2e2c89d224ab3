package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stackin/escrow/internal/config"
)

const defaultReplayLockTTL = 30 * time.Second

var ErrReplayInProgress = errors.New("replay_in_progress")

// WebhookLimiter throttles inbound provider callbacks and serializes admin
// replays of the same log row. A nil limiter, or one built without redis,
// allows everything.
type WebhookLimiter struct {
	bucket *providerBucket
	replay *replayLock
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) (*WebhookLimiter, error) {
	if client == nil {
		return &WebhookLimiter{}, nil
	}
	if cfg.Webhook.RateLimitRPS <= 0 || cfg.Webhook.RateLimitBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}
	return &WebhookLimiter{
		bucket: newProviderBucket(client, cfg.Webhook.RateLimitRPS, cfg.Webhook.RateLimitBurst),
		replay: newReplayLock(client, defaultReplayLockTTL),
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowProvider spends one token from the provider's bucket.
func (l *WebhookLimiter) AllowProvider(ctx context.Context, provider string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	return l.bucket.take(ctx, provider)
}

// TryLockReplay returns the lock token. ErrReplayInProgress means another
// replay of the same row holds the lock.
func (l *WebhookLimiter) TryLockReplay(ctx context.Context, logID string) (string, error) {
	if !l.Enabled() {
		return "", nil
	}
	return l.replay.acquire(ctx, logID)
}

func (l *WebhookLimiter) ReleaseReplay(ctx context.Context, logID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.replay.release(ctx, logID, token)
}
