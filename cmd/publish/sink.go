package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/go-redis/redis/v8"
)

// Sink sends scheduled messages to the transport sharkd receives from
type Sink interface {
	Connected(ctx context.Context) bool
	Publish(ctx context.Context, messages []Message) error
	Close()
}

// KafkaSink produces every message to Topic, keyed by its subscription
type KafkaSink struct {
	Topic    string
	producer *kafka.Producer
}

func NewKafkaSink(ctx context.Context, servers, topic string) (*KafkaSink, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"client.id":              "sharkd-publish",
		"bootstrap.servers":      servers,
		"linger.ms":              100,
		"compression.type":       "none",
		"retries":                2,
		"go.batch.producer":      true,
		"acks":                   "all",
		"go.logs.channel.enable": true,
	})
	if err != nil {
		return nil, err
	}

	// Start goroutines to handle delivery reports and logs
	go logDeliveryReports(ctx, producer)
	go logProducerEvents(ctx, producer)
	return &KafkaSink{Topic: topic, producer: producer}, nil
}

// Connected reports whether a broker answered a metadata request
func (s *KafkaSink) Connected(context.Context) bool {
	_, err := s.producer.GetMetadata(&s.Topic, false, 5000)
	return err == nil
}

func (s *KafkaSink) Publish(_ context.Context, messages []Message) error {
	for _, message := range messages {
		kafkaMessage := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &s.Topic, Partition: kafka.PartitionAny},
			Value:          []byte(message.Payload),
			Key:            []byte(message.Subscription),
		}

		if err := s.producer.Produce(kafkaMessage, nil); err != nil {
			if kerr, ok := err.(kafka.Error); ok && kerr.Code() == kafka.ErrQueueFull {
				slog.Info("Queue full, pausing and retrying...")
				// If the queue is full, wait for 1 second and try again
				time.Sleep(1 * time.Second)
				if err := s.producer.Produce(kafkaMessage, nil); err != nil {
					slog.Info("Retry failed", slog.String("error", err.Error()))
					return err
				}
				slog.Info("... retried ok")
			} else {
				slog.Info("Kafka produce error", slog.String("error", err.Error()))
				return err
			}
		}
	}
	return nil
}

// Close waits for message deliveries before shutting down the producer
func (s *KafkaSink) Close() {
	slog.Info("Flushing producer")
	unpublished := s.producer.Flush(15 * 1000)
	slog.Info("Closing producer", slog.Int("unpublished_messages", unpublished))
	s.producer.Close()
}

func logProducerEvents(ctx context.Context, producer *kafka.Producer) {
	for {
		select {
		case le, ok := <-producer.Logs():
			if ok {
				slog.Info("producer log", slog.String("event", le.String()))
			}
		case <-ctx.Done():
			return
		}
	}
}

func logDeliveryReports(ctx context.Context, producer *kafka.Producer) {
	for {
		select {
		case e := <-producer.Events():
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					slog.Info("message delivery failed",
						slog.String("key", string(ev.Key)),
						slog.String("topic", *ev.TopicPartition.Topic),
						slog.String("error", ev.TopicPartition.Error.Error()))
				}
			case kafka.Error:
				if ev.Code() == kafka.ErrAllBrokersDown {
					slog.Error("All brokers down", slog.String("error", ev.Error()))
					os.Exit(1)
				}
				slog.Info("Event ignored", slog.String("event", ev.String()))
			default:
				if e != nil {
					slog.Info("Event ignored", slog.String("event", e.String()))
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// RedisSink publishes every message on the channel Prefix+subscription
type RedisSink struct {
	Prefix string
	client *redis.Client
}

func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	return &RedisSink{Prefix: prefix, client: client}
}

func (s *RedisSink) Connected(ctx context.Context) bool {
	return s.client.Ping(ctx).Err() == nil
}

func (s *RedisSink) Publish(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, m := range messages {
		pipe.Publish(ctx, s.Prefix+m.Subscription, m.Payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSink) Close() {
	s.client.Close()
}
