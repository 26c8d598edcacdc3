package events

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on a pub/sub channel so every server
// instance can relay them to its own socket clients.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, name string, payload interface{}) {
	data, err := Event{Type: name, Data: payload}.Marshal()
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal event", "event", name, "error", err)
		return
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to publish event", "event", name, "channel", p.channel, "error", err)
	}
}

// Sink receives already-encoded events.
type Sink interface {
	BroadcastRaw(data []byte)
}

// Relay subscribes to the channel and forwards every payload to sink until
// ctx is cancelled.
func Relay(ctx context.Context, client *redis.Client, channel string, sink Sink) error {
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "event relay subscribed", "channel", channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			sink.BroadcastRaw([]byte(msg.Payload))
		}
	}
}
