// generate writes a JSON lines file of service messages for cmd/publish to replay.
// Messages are spread over the given duration and carry an increasing _order per
// subscription, with _order_key set so that ordering is tracked per subscription.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"
)

type Options struct {
	Service       string
	Rows          int
	Subscriptions int
	Tenants       int
	Duration      time.Duration
}

type Line struct {
	OffsetMillis int64          `json:"offset_millis"`
	Message      map[string]any `json:"message"`
}

func main() {
	output := flag.String("output", "messages.jsonl", "Path to the output file, defaults to 'messages.jsonl'")
	service := flag.String("service", "chat", "Service name used in the subscriptions, defaults to 'chat'")
	rows := flag.Int("rows", 1000, "Number of messages to generate, defaults to 1000")
	subscriptions := flag.Int("subscriptions", 3, "Number of subscriptions to use, defaults to 3")
	tenants := flag.Int("tenants", 0, "Add a random tenant field from this many tenants, defaults to 0 (none)")
	dur := flag.Duration("duration", time.Minute*1, "Duration to generate messages for, defaults to 1 min")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	file, err := os.Create(*output)
	if err != nil {
		slog.Error("create output", slog.Any("error", err), slog.String("file", *output))
		os.Exit(1)
	}
	defer file.Close()

	opts := Options{
		Service:       *service,
		Rows:          *rows,
		Subscriptions: *subscriptions,
		Tenants:       *tenants,
		Duration:      *dur,
	}
	if err := Generate(file, opts, rand.New(rand.NewSource(*seed))); err != nil {
		slog.Error("generate", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("generated messages", slog.Int("rows", *rows), slog.String("file", *output))
}

func Generate(out io.Writer, opts Options, rnd *rand.Rand) error {
	if opts.Rows <= 0 || opts.Subscriptions <= 0 {
		return errors.New("rows and subscriptions must be positive")
	}
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	order := map[string]int{}
	offset := int64(0)
	increment := opts.Duration.Milliseconds() / int64(opts.Rows)
	for i := 0; i < opts.Rows; i++ {
		subscription := fmt.Sprintf("%s.topic%d", opts.Service, rnd.Intn(opts.Subscriptions)+1)
		order[subscription]++

		msg := map[string]any{
			"subscription": subscription,
			"data":         map[string]any{"seq": i + 1, "value": rnd.Intn(100)},
			"_order":       order[subscription],
			"_order_key":   subscription,
		}
		if opts.Tenants > 0 {
			msg["tenant"] = fmt.Sprintf("tenant%d", rnd.Intn(opts.Tenants)+1)
		}
		if err := enc.Encode(Line{OffsetMillis: offset, Message: msg}); err != nil {
			return err
		}
		offset = offset + increment
	}
	return w.Flush()
}
