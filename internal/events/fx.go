package events

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Provide(providePublisher),
	fx.Provide(NewRelay),
	fx.Invoke(startRelay),
)

func providePublisher(client *redis.Client, log *zap.Logger) Publisher {
	var notifier Notifier = NewLogNotifier(log)
	if client != nil {
		notifier = NewRedisNotifier(client)
	}
	return NewFanout(log,
		NewRedisPublisher(client),
		NewNotificationSink(notifier, log),
	)
}

func startRelay(lc fx.Lifecycle, relay *Relay) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			relay.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			relay.Stop()
			return nil
		},
	})
}
