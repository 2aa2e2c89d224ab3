package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
)

// replayUnlockScript deletes the key only while it still holds our token, so
// a replay that outlived its TTL cannot drop a newer holder's lock.
const replayUnlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const replayKeyPrefix = "escrow:webhook:replay:"

type replayLock struct {
	client *redis.Client
	unlock *redis.Script
	ttl    time.Duration
}

func newReplayLock(client *redis.Client, ttl time.Duration) *replayLock {
	return &replayLock{
		client: client,
		unlock: redis.NewScript(replayUnlockScript),
		ttl:    ttl,
	}
}

func (l *replayLock) acquire(ctx context.Context, logID string) (string, error) {
	token := ulid.Make().String()
	ok, err := l.client.SetNX(ctx, replayKey(logID), token, l.ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrReplayInProgress
	}
	return token, nil
}

func (l *replayLock) release(ctx context.Context, logID, token string) error {
	if token == "" {
		return nil
	}
	return l.unlock.Run(ctx, l.client, []string{replayKey(logID)}, token).Err()
}

func replayKey(logID string) string {
	return replayKeyPrefix + strings.TrimSpace(logID)
}
