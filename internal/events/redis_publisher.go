package events

import (
	"context"
	"encoding/json"
	"errors"

	redis "github.com/redis/go-redis/v9"
)

const channelPrefix = "escrow."

// RedisPublisher broadcasts each message on the channel escrow.<topic>.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	if client == nil {
		return nil
	}
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	if p == nil || p.client == nil {
		return errors.New("redis publisher not configured")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, channelPrefix+msg.Topic, body).Err()
}
