package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/davidoram/sharkd/adapter"
	"github.com/davidoram/sharkd/configuration"
	"github.com/davidoram/sharkd/core"
)

// NewGateway wires the webhook client, the authenticator and the registry from the configuration
func NewGateway(cfg configuration.Config) (*core.Gateway, error) {
	whCfg, err := cfg.Webhook.Core()
	if err != nil {
		return nil, err
	}
	client := core.NewWebhookClient(whCfg)

	registry := core.NewMemoryRegistry()
	registry.MaxPending = cfg.Session.MaxPending

	gateway := core.NewGateway(core.ServiceTable{}, client, registry)
	gateway.OutboxSize = cfg.Session.OutboxSize
	gateway.AddListener(core.LogListener{})
	if cfg.Auth.Enabled() {
		gateway.WithAuthenticator(&core.Authenticator{
			TicketURL:  cfg.Auth.TicketURL,
			AuthFields: cfg.Auth.AuthFields,
			Poster:     client,
		})
	}
	return gateway, nil
}

// SeedServices saves the services listed in the configuration file, replacing stored
// definitions with the same name
func SeedServices(ctx context.Context, db *sql.DB, services []configuration.Service, now time.Time) error {
	for _, s := range services {
		if err := core.UpsertService(ctx, db, adapter.ConfigurationToCoreAdapter(s, now)); err != nil {
			return err
		}
		slog.Info("service seeded", slog.String("name", s.Name))
	}
	return nil
}

func setLogLevel(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func splitList(s string) []string {
	parts := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
