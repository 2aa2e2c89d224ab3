package events

import (
	"context"

	"go.uber.org/zap"
)

// Fanout delivers to a primary publisher and then to its followers. Only the
// primary decides whether the row is published: followers run once, after the
// primary accepted the message, and their failures are logged.
type Fanout struct {
	primary   Publisher
	followers []Publisher
	log       *zap.Logger
}

func NewFanout(log *zap.Logger, primary Publisher, followers ...Publisher) *Fanout {
	out := make([]Publisher, 0, len(followers))
	for _, p := range followers {
		if isNilPublisher(p) {
			continue
		}
		out = append(out, p)
	}
	if isNilPublisher(primary) {
		primary = nil
	}
	return &Fanout{primary: primary, followers: out, log: log.Named("events.fanout")}
}

func (f *Fanout) Publish(ctx context.Context, msg Message) error {
	if f.primary != nil {
		if err := f.primary.Publish(ctx, msg); err != nil {
			return err
		}
	}
	for _, p := range f.followers {
		if err := p.Publish(ctx, msg); err != nil {
			f.log.Warn("follower publish failed",
				zap.String("event_id", msg.ID),
				zap.String("topic", msg.Topic),
				zap.Error(err),
			)
		}
	}
	return nil
}

func isNilPublisher(p Publisher) bool {
	switch v := p.(type) {
	case nil:
		return true
	case *RedisPublisher:
		return v == nil
	case *NotificationSink:
		return v == nil
	default:
		return false
	}
}
