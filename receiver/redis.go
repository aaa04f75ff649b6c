package receiver

import (
	"context"
	"log/slog"
	"strings"

	"github.com/davidoram/sharkd/core"
	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisReceiver consumes service messages published on the redis channels starting with
// Prefix. The rest of the channel name is the default subscription, eg: PUBLISH
// sharkd:chat.lobby '{"data": "hi"}'
type RedisReceiver struct {
	Prefix string

	client    *redis.Client
	publisher core.Publisher
	logger    *slog.Logger
}

func NewRedisReceiver(client *redis.Client, prefix string, publisher core.Publisher) *RedisReceiver {
	return &RedisReceiver{
		Prefix:    prefix,
		client:    client,
		publisher: publisher,
		logger:    slog.Default(),
	}
}

func (r *RedisReceiver) Consume(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.Prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription to be confirmed, so connection errors surface here
	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "redis psubscribe")
	}
	r.logger.Info("consume loop started", slog.String("pattern", r.Prefix+"*"))
	defer r.logger.Info("consume loop finished", slog.String("pattern", r.Prefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			if err := r.handleMessage(ctx, m.Channel, m.Payload); err != nil {
				r.logger.Info("skipping message", slog.Any("error", err), slog.String("channel", m.Channel))
			}
		}
	}
}

func (r *RedisReceiver) handleMessage(ctx context.Context, channel, payload string) error {
	msg, err := DecodeMessage([]byte(payload), strings.TrimPrefix(channel, r.Prefix))
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, msg)
}
