// publish replays a JSON lines file, written by cmd/generate, into sharkd. Each message is
// sent at its offset from the start time, to kafka (keyed by subscription) or to redis.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbURL := flag.String("db", "file:publish.db", "Path to the database file, defaults to publish.db")
	input := flag.String("input", "messages.jsonl", "Path to the JSON lines file, defaults to messages.jsonl")
	kafkaServers := flag.String("kafka", "localhost:9092", "Kafka bootstrap servers")
	topic := flag.String("topic", "sharkd", "Kafka topic, defaults to 'sharkd'")
	redisAddr := flag.String("redis", "", "Publish to this redis server instead of kafka")
	prefix := flag.String("prefix", "sharkd:", "Redis channel prefix, defaults to 'sharkd:'")
	profile := flag.Bool("profile", false, "Enable profiling")
	profileFile := flag.String("profile-file", "publish-cpu.prof", "Profiling output file, defaults to publish-cpu.prof")
	flag.Parse()
	slog.Info("publish started")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Start profiling if enabled
	if *profile {
		f, err := os.Create(*profileFile)
		if err != nil {
			slog.Error("Error creating profiling file", slog.Any("error", err), slog.String("file", *profileFile))
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			slog.Error("Error starting profile", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	f, err := os.Open(*input)
	if err != nil {
		slog.Error("Error opening input", slog.Any("error", err), slog.String("file", *input))
		return
	}
	messages, err := ReadLines(f)
	f.Close()
	if err != nil {
		slog.Error("Error reading input", slog.Any("error", err), slog.String("file", *input))
		return
	}

	db, err := sql.Open("sqlite3", *dbURL)
	if err != nil {
		slog.Error("Error opening the database", slog.Any("error", err))
		return
	}
	defer db.Close()
	slog.Info("db open ok", slog.String("url", *dbURL))

	subscriptions, err := populateDatabase(ctx, db, messages)
	if err != nil {
		slog.Error("Error populating the database", slog.Any("error", err))
		return
	}
	slog.Info("loaded messages for publishing", slog.Int("total_msgs", len(messages)), slog.Int("total_subscriptions", len(subscriptions)))
	slog.Info("subscriptions", slog.String("subscriptions", strings.Join(subscriptions, ", ")))

	sink, err := openSink(ctx, *redisAddr, *prefix, *kafkaServers, *topic)
	if err != nil {
		slog.Error("Error opening sink", slog.Any("error", err))
		return
	}
	defer sink.Close()

	if err := run(ctx, db, sink, len(messages)); err != nil {
		slog.Error("publish failed", slog.Any("error", err))
		return
	}
	slog.Info("Finished")
}

func openSink(ctx context.Context, redisAddr, prefix, kafkaServers, topic string) (Sink, error) {
	var sink Sink
	if redisAddr != "" {
		slog.Info("Connecting to redis", slog.String("addr", redisAddr))
		sink = NewRedisSink(redis.NewClient(&redis.Options{Addr: redisAddr}), prefix)
	} else {
		slog.Info("Connecting to Kafka", slog.String("servers", kafkaServers))
		s, err := NewKafkaSink(ctx, kafkaServers, topic)
		if err != nil {
			return nil, err
		}
		sink = s
	}

	// Wait for the server to be available
	waitUntil := time.Now().Add(60 * time.Second)
	for !sink.Connected(ctx) {
		if time.Now().After(waitUntil) || ctx.Err() != nil {
			sink.Close()
			return nil, errors.New("server not available")
		}
		slog.Info("Waiting for server to be available")
		time.Sleep(5 * time.Second)
	}
	return sink, nil
}

// run publishes every due message until none remain unpublished
func run(ctx context.Context, db *sql.DB, sink Sink, total int) error {
	startTime := time.Now()
	nextLogTime := startTime.Add(10 * time.Second)

	for {
		offsetTime := time.Now()
		offsetMillis := offsetTime.Sub(startTime).Milliseconds()

		due, err := fetchMessages(ctx, db, offsetMillis)
		if err != nil {
			return err
		}
		if err := sink.Publish(ctx, due); err != nil {
			return err
		}
		if err := markMessagesPublished(ctx, db, due, offsetTime); err != nil {
			return err
		}

		unpublished, err := countUnpublished(ctx, db)
		if err != nil {
			return err
		}
		if time.Now().After(nextLogTime) {
			slog.Info("update", slog.Int("published", total-unpublished), slog.Int("total", total))
			nextLogTime = time.Now().Add(10 * time.Second)
		}
		if unpublished == 0 {
			return nil
		}
		if len(due) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}
