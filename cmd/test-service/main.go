// A sample service backend implementing the sharkd webhook protocol, for manual testing.
// Every call is saved to an SQLite database. The database is initialised and truncated on startup.
// It exposes the following endpoints:
// POST /ticket - Authenticate tickets of the form 'user-<id>-<tenant>'
// POST /authorizer - Deny subscriptions to topics starting with 'private' unless the user_id is 1
// POST /before_subscribe - Return the time of the subscription as initial data
// POST /on_message - Echo the client's data back
// POST /on_subscribe, /before_unsubscribe, /on_unsubscribe - Acknowledge
// GET /total?checkpoint=on_message - Get the number of calls saved to the database, optionally for one checkpoint
// POST /shutdown - Gracefully shutdown the server

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	// Routing proposal extension to go stdlib in go 1.22
	// See: https://github.com/golang/go/issues/61410
	//      https://benhoyt.com/writings/go-servemux-enhancements/
	"github.com/jba/muxpatterns"
)

func main() {

	slog.Info("test-service start")
	defer slog.Info("test-service exited")

	// Parse command line arguments
	dbURL := flag.String("db", "file:test-service.db?vacuum=1", "URL connection to the SQLite database")
	httpAddress := flag.String("http-address", ":8081", "Host and port to start webserver on, defaults to ':8081'")
	flag.Parse()

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Open the SQLite database
	db, err := sql.Open("sqlite3", *dbURL)
	if err != nil {
		slog.Error("open db", slog.Any("error", err), slog.String("url", *dbURL))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("db open ok")

	// Migrate the database
	err = MigrateDB(ctx, db)
	if err != nil {
		slog.Error("migrating db", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("db migrated ok")

	err = TruncateDB(ctx, db)
	if err != nil {
		slog.Error("truncate db", slog.Any("error", err))
		os.Exit(1)
	}

	// Set up a channel to receive signals
	done := make(chan os.Signal, 1)

	hctx := HandlerContext{Db: db, done: done}
	server := &http.Server{
		Addr:    *httpAddress,
		Handler: hctx.NewServeMux(),
	}
	slog.Info("http server starting", slog.Any("address", *httpAddress))
	go server.ListenAndServe()

	// Exit on these signals
	signals := []os.Signal{syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT}
	signal.Notify(done, signals...)

	// Wait for a signal to exit
	sig := <-done
	slog.Info("got signal", slog.String("signal", sig.String()))

	// Create a context with a timeout to force a graceful shutdown of the server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Info("failed http server shutdown", slog.Any("error", err))
	}
}

type HandlerContext struct {
	Db   *sql.DB
	done chan os.Signal
}

// Reply is the body returned to sharkd from every checkpoint
type Reply map[string]any

func (hctx HandlerContext) NewServeMux() *muxpatterns.ServeMux {
	mux := muxpatterns.NewServeMux()
	mux.HandleFunc("POST /ticket", hctx.checkpoint("ticket", Ticket))
	mux.HandleFunc("POST /authorizer", hctx.checkpoint("authorizer", Authorize))
	mux.HandleFunc("POST /before_subscribe", hctx.checkpoint("before_subscribe", BeforeSubscribe))
	mux.HandleFunc("POST /on_subscribe", hctx.checkpoint("on_subscribe", Acknowledge))
	mux.HandleFunc("POST /on_message", hctx.checkpoint("on_message", Echo))
	mux.HandleFunc("POST /before_unsubscribe", hctx.checkpoint("before_unsubscribe", Acknowledge))
	mux.HandleFunc("POST /on_unsubscribe", hctx.checkpoint("on_unsubscribe", Acknowledge))
	mux.HandleFunc("GET /total", hctx.Total)
	mux.HandleFunc("POST /shutdown", func(w http.ResponseWriter, r *http.Request) {
		// Send a signal to the done channel to trigger a graceful shutdown
		hctx.done <- syscall.SIGTERM
		slog.Info("shutdown from API call")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("shutting down"))
	})
	return mux
}

// checkpoint decodes the payload sent by sharkd, saves it, and writes the reply of fn
func (hctx HandlerContext) checkpoint(name string, fn func(payload map[string]any) Reply) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		defer r.Body.Close()
		if err != nil {
			slog.Error("Error reading request body", slog.Any("error", err))
			http.Error(w, "Error reading request body", http.StatusInternalServerError)
			return
		}

		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			slog.Error("Error unmarshalling request body", slog.Any("error", err))
			http.Error(w, "Error unmarshalling request body", http.StatusBadRequest)
			return
		}

		subscription, _ := payload["subscription"].(string)
		if err := InsertCall(r.Context(), hctx.Db, name, subscription, string(body)); err != nil {
			slog.Error("Error inserting call", slog.Any("error", err))
			http.Error(w, "Error inserting call", http.StatusInternalServerError)
			return
		}

		reply := fn(payload)
		slog.Info("checkpoint", slog.String("checkpoint", name), slog.String("subscription", subscription), slog.Any("status", reply["status"]))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	}
}

// Ticket accepts tickets of the form 'user-<id>-<tenant>'
func Ticket(payload map[string]any) Reply {
	ticket, _ := payload["ticket"].(string)
	parts := strings.SplitN(ticket, "-", 3)
	if len(parts) != 3 || parts[0] != "user" {
		return Reply{"status": "error"}
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return Reply{"status": "error"}
	}
	return Reply{"status": "ok", "user_id": id, "tenant": parts[2]}
}

func Authorize(payload map[string]any) Reply {
	subscription, _ := payload["subscription"].(string)
	_, topic, _ := strings.Cut(subscription, ".")
	userID, _ := payload["user_id"].(float64)
	if strings.HasPrefix(topic, "private") && userID != 1 {
		return Reply{"status": "error", "error": fmt.Sprintf("Topic '%s' is private.", topic)}
	}
	return Reply{"status": "ok"}
}

func BeforeSubscribe(payload map[string]any) Reply {
	return Reply{"status": "ok", "data": map[string]any{"subscribed_at": time.Now().UTC().Format(time.RFC3339)}}
}

func Echo(payload map[string]any) Reply {
	return Reply{"status": "ok", "data": payload["data"]}
}

func Acknowledge(map[string]any) Reply {
	return Reply{"status": "ok"}
}

func MigrateDB(ctx context.Context, db *sql.DB) error {

	// Create the calls table if not exists
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS calls (
			id INTEGER PRIMARY KEY,
			checkpoint TEXT NOT NULL,
			subscription TEXT,
			payload TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func TruncateDB(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DELETE FROM calls`)
	return err
}

func InsertCall(ctx context.Context, db *sql.DB, checkpoint, subscription, payload string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO calls (checkpoint, subscription, payload) VALUES (?, ?, ?)`,
		checkpoint, subscription, payload)
	return err
}

func CountCalls(ctx context.Context, db *sql.DB, checkpoint string) (int, error) {
	var total int
	var err error
	if checkpoint == "" {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls`).Scan(&total)
	} else {
		err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM calls WHERE checkpoint = ?`, checkpoint).Scan(&total)
	}
	return total, err
}

// Total returns the number of calls received, optionally for the checkpoint named in the query
func (hctx HandlerContext) Total(w http.ResponseWriter, r *http.Request) {
	total, err := CountCalls(r.Context(), hctx.Db, r.URL.Query().Get("checkpoint"))
	if err != nil {
		slog.Error("Error counting calls", slog.Any("error", err))
		http.Error(w, "Error counting calls", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"total": total})
}
