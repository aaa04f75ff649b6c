package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/davidoram/sharkd/receiver"
	"github.com/pkg/errors"
)

// Message is one service message scheduled for publishing
type Message struct {
	ID                  int
	Subscription        string
	Payload             string
	PublishOffsetMillis int64
	PublishedAt         sql.NullTime
}

// Line is one row of the input file written by cmd/generate
type Line struct {
	OffsetMillis int64           `json:"offset_millis"`
	Message      json.RawMessage `json:"message"`
}

// ReadLines parses a JSON lines input, every message must name its subscription
func ReadLines(r io.Reader) ([]Message, error) {
	messages := []Message{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var line Line
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		msg, err := receiver.DecodeMessage(line.Message, "")
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		subscription, ok := msg["subscription"].(string)
		if !ok || subscription == "" {
			return nil, errors.Errorf("line %d: message has no subscription", lineNo)
		}
		messages = append(messages, Message{
			Subscription:        subscription,
			Payload:             string(line.Message),
			PublishOffsetMillis: line.OffsetMillis,
		})
	}
	return messages, scanner.Err()
}

func populateDatabase(ctx context.Context, db *sql.DB, messages []Message) ([]string, error) {
	subscriptions := []string{}

	// Create the messages table if not exists
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY,
			subscription TEXT,
			payload TEXT,
			publish_offset_millis INTEGER,
			published_at DATETIME
		)
	`)
	if err != nil {
		return subscriptions, err
	}

	// Truncate the messages table
	_, err = db.ExecContext(ctx, `DELETE FROM messages`)
	if err != nil {
		return subscriptions, err
	}

	// Insert records into the database
	const batchSize = 500
	var values []string
	var args []interface{}

	for i, m := range messages {
		values = append(values, "(?, ?, ?, NULL)")
		args = append(args, m.Subscription, m.Payload, m.PublishOffsetMillis)

		// If we have hit the batch size or we are at the end of the messages slice, insert the batch
		if (i+1)%batchSize == 0 || i+1 == len(messages) {
			query := fmt.Sprintf(`
				INSERT INTO messages (subscription, payload, publish_offset_millis, published_at)
				VALUES %s
			`, strings.Join(values, ","))

			if _, err := db.ExecContext(ctx, query, args...); err != nil {
				return subscriptions, err
			}

			values = values[:0]
			args = args[:0]
		}
	}

	// Fetch the distinct subscriptions
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT subscription FROM messages ORDER BY subscription ASC`)
	if err != nil {
		return subscriptions, err
	}
	defer rows.Close()
	for rows.Next() {
		var subscription string
		if err := rows.Scan(&subscription); err != nil {
			return subscriptions, err
		}
		subscriptions = append(subscriptions, subscription)
	}
	return subscriptions, rows.Err()
}

// fetchMessages returns up to 100 unpublished messages that are due at offsetMillis
func fetchMessages(ctx context.Context, db *sql.DB, offsetMillis int64) ([]Message, error) {
	var messages []Message
	rows, err := db.QueryContext(ctx, `
		SELECT id, subscription, payload, publish_offset_millis, published_at FROM messages
		WHERE published_at IS NULL AND publish_offset_millis <= ?
		ORDER BY id ASC
		LIMIT 100
	`, offsetMillis)
	if err != nil {
		return messages, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Subscription, &m.Payload, &m.PublishOffsetMillis, &m.PublishedAt); err != nil {
			return messages, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func countUnpublished(ctx context.Context, db *sql.DB) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE published_at IS NULL`).Scan(&count)
	return count, err
}

func markMessagesPublished(ctx context.Context, db *sql.DB, messages []Message, publishedAt time.Time) error {
	if len(messages) == 0 {
		return nil
	}

	placeholders := make([]string, len(messages))
	args := make([]interface{}, len(messages)+1)
	args[0] = publishedAt
	for i, m := range messages {
		placeholders[i] = "?"
		args[i+1] = m.ID
	}
	query := "UPDATE messages SET published_at = ? WHERE id IN (" + strings.Join(placeholders, ", ") + ")"
	_, err := db.ExecContext(ctx, query, args...)
	return err
}
