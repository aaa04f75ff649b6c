package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrSessionNotFound = errors.New("session not found")

// Gateway owns the live sessions and the collaborators they share.
type Gateway struct {
	Registry   *MemoryRegistry
	OutboxSize int

	poster    Poster
	auth      *Authenticator
	listeners []SubscriptionListener

	mu       sync.RWMutex
	services ServiceTable
	sessions map[uuid.UUID]*Session
}

func NewGateway(services ServiceTable, poster Poster, registry *MemoryRegistry) *Gateway {
	return &Gateway{
		Registry:   registry,
		OutboxSize: DefaultOutboxSize,
		poster:     poster,
		services:   services,
		sessions:   map[uuid.UUID]*Session{},
	}
}

func (g *Gateway) WithAuthenticator(auth *Authenticator) *Gateway {
	g.auth = auth
	return g
}

func (g *Gateway) AddListener(l SubscriptionListener) {
	g.listeners = append(g.listeners, l)
}

// SetServices replaces the service table. Subscriptions that already exist keep the
// configuration they resolved when they were created.
func (g *Gateway) SetServices(services ServiceTable) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.services = services
}

func (g *Gateway) Services() ServiceTable {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.services
}

func (g *Gateway) NewSession() *Session {
	s := NewSession(SessionConfig{
		Registry:      g.Registry,
		Poster:        g.poster,
		Services:      g.Services,
		Authenticator: g.auth,
		Listeners:     g.listeners,
		OutboxSize:    g.OutboxSize,
	})
	g.mu.Lock()
	g.sessions[s.ID] = s
	g.mu.Unlock()
	slog.Info("session opened", slog.String("session_id", s.ID.String()))
	return s
}

func (g *Gateway) Session(id uuid.UUID) (*Session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// CloseSession removes the session and force-unsubscribes its subscriptions
func (g *Gateway) CloseSession(ctx context.Context, id uuid.UUID) error {
	g.mu.Lock()
	s, ok := g.sessions[id]
	delete(g.sessions, id)
	g.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close(ctx)
	return nil
}

func (g *Gateway) Publish(ctx context.Context, msg map[string]any) error {
	return g.Registry.Publish(ctx, msg)
}

// Close closes every session
func (g *Gateway) Close(ctx context.Context) {
	g.mu.Lock()
	sessions := g.sessions
	g.sessions = map[uuid.UUID]*Session{}
	g.mu.Unlock()
	for _, s := range sessions {
		s.Close(ctx)
	}
}
