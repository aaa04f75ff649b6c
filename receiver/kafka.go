package receiver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/davidoram/sharkd/core"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrAllBrokersDown = errors.New("all kafka brokers down")

// KafkaReceiver consumes service messages from a Kafka topic. Every gateway process uses
// its own consumer group, so every process sees every message.
type KafkaReceiver struct {
	ID      uuid.UUID
	Servers string
	Topic   string

	publisher core.Publisher
	consumer  *kafka.Consumer
	logger    *slog.Logger
}

func NewKafkaReceiver(servers, topic string, publisher core.Publisher) *KafkaReceiver {
	return &KafkaReceiver{
		ID:        uuid.New(),
		Servers:   servers,
		Topic:     topic,
		publisher: publisher,
		logger:    slog.Default(),
	}
}

func (r *KafkaReceiver) WithLogger(logger *slog.Logger) *KafkaReceiver {
	r.logger = logger
	return r
}

func (r *KafkaReceiver) GroupID() string {
	return fmt.Sprintf("sharkd-%s", r.ID)
}

func (r *KafkaReceiver) Start() error {
	var err error
	r.consumer, err = kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":     r.Servers,
		"broker.address.family": "v4",
		"group.id":              r.GroupID(),
		// Sessions only care about messages published while they are connected
		"auto.offset.reset": "latest",
		// Offsets are stored once a message has been handed to the registry
		"enable.auto.offset.store": false,
		"enable.auto.commit":       true,
	})
	if err != nil {
		return err
	}
	r.logger.Info("start consumer", slog.String("bootstrap.servers", r.Servers), slog.String("group_id", r.GroupID()), slog.String("topic", r.Topic))
	return r.consumer.SubscribeTopics([]string{r.Topic}, nil)
}

// Consume polls until ctx is cancelled, or all brokers are down. Start must be called first.
func (r *KafkaReceiver) Consume(ctx context.Context) error {
	r.logger.Info("consume loop started", slog.String("group_id", r.GroupID()))
	defer r.logger.Info("consume loop finished", slog.String("group_id", r.GroupID()))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		ev := r.consumer.Poll(100)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := r.handleMessage(ctx, e); err != nil {
				r.logger.Info("skipping message", slog.Any("error", err), slog.String("key", string(e.Key)))
			}
			tp := e.TopicPartition
			tp.Offset++
			if _, err := r.consumer.StoreOffsets([]kafka.TopicPartition{tp}); err != nil {
				return errors.Wrap(err, "storing offset")
			}
		case kafka.Error:
			// Errors are informational, the client recovers by itself, unless all brokers are down
			if e.Code() == kafka.ErrAllBrokersDown {
				r.logger.Info("consumer exiting, all brokers down", slog.Any("kafka_error", e))
				return ErrAllBrokersDown
			}
			r.logger.Debug("ignore", slog.Any("kafka_error", e))
		default:
			r.logger.Debug("ignore kafka event", slog.String("kafka_event", e.String()))
		}
	}
}

// handleMessage publishes the message value, the message key is the default subscription
func (r *KafkaReceiver) handleMessage(ctx context.Context, m *kafka.Message) error {
	msg, err := DecodeMessage(m.Value, string(m.Key))
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, msg)
}

func (r *KafkaReceiver) Close() error {
	if r.consumer == nil {
		return nil
	}
	return r.consumer.Close()
}
