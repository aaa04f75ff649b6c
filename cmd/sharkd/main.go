package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Register the pprof handlers. Run 'go tool pprof "http://localhost:8080/debug/pprof/profile?seconds=30"' to capture profiles
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidoram/sharkd/configuration"
	"github.com/davidoram/sharkd/core"
	"github.com/davidoram/sharkd/receiver"
	"github.com/davidoram/sharkd/web"
	"github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"
)

func main() {

	slog.Info("starting sharkd")

	// Parse command line arguments
	configFile := flag.String("config", "", "Path to the configuration file, yaml or json")
	origins := flag.String("ws-origins", "*", "Comma separated origin patterns accepted on the websocket endpoint")
	flag.Parse()

	cfg, err := configuration.Load(*configFile)
	if err != nil {
		slog.Error("Error loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	setLogLevel(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the SQLite database
	db, err := sql.Open("sqlite3", cfg.DB)
	if err != nil {
		slog.Error("Error opening the database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database open", slog.String("db", cfg.DB))

	// Migrate the database
	if err := core.MigrateDB(ctx, db); err != nil {
		slog.Error("Error migrating database", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("database migrated")

	if err := SeedServices(ctx, db, cfg.Services, time.Now().In(time.UTC)); err != nil {
		slog.Error("Error seeding services", slog.Any("error", err))
		os.Exit(1)
	}

	gateway, err := NewGateway(cfg)
	if err != nil {
		slog.Error("Error creating gateway", slog.Any("error", err))
		os.Exit(1)
	}
	hctx := web.HandlerContext{Db: db, Gateway: gateway}
	if err := hctx.ReloadServices(ctx); err != nil {
		slog.Error("Error loading services", slog.Any("error", err))
		os.Exit(1)
	}

	router := web.NewRouter(hctx, splitList(*origins))
	router.Handler(http.MethodGet, "/debug/pprof/*item", http.DefaultServeMux)
	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server starting", slog.String("address", cfg.Listen))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.Kafka.Enabled() {
		kr := receiver.NewKafkaReceiver(cfg.Kafka.Servers, cfg.Kafka.Topic, gateway)
		if err := kr.Start(); err != nil {
			slog.Error("Error starting kafka receiver", slog.Any("error", err))
			os.Exit(1)
		}
		defer kr.Close()
		g.Go(func() error { return kr.Consume(gctx) })
	}

	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		rr := receiver.NewRedisReceiver(client, cfg.Redis.Prefix, gateway)
		g.Go(func() error { return rr.Consume(gctx) })
	}

	// Exit on these signals
	signals := []os.Signal{syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT}
	done := make(chan os.Signal, 1)
	signal.Notify(done, signals...)

	// Wait for a signal, or for a receiver or the server to fail
	select {
	case sig := <-done:
		slog.Info("exiting with signal", slog.String("signal", sig.String()))
	case <-gctx.Done():
		slog.Info("exiting, a component stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Info("failed http server shutdown", slog.Any("error", err))
	}
	gateway.Close(shutdownCtx)
	cancel()

	if err := g.Wait(); err != nil {
		slog.Error("exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}
