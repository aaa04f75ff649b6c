package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

const DefaultOutboxSize = 256

// SessionConfig carries the collaborators a session and its subscriptions call into.
type SessionConfig struct {
	Registry      Registry
	Poster        Poster
	Services      func() ServiceTable
	Authenticator *Authenticator
	Listeners     []SubscriptionListener
	OutboxSize    int
	Logger        *slog.Logger
}

// Session is one connected client. Client events are handled one at a time, in the order
// they are received, while service messages may be delivered concurrently from receivers.
type Session struct {
	ID uuid.UUID

	registry  Registry
	poster    Poster
	services  func() ServiceTable
	auth      *Authenticator
	listeners []SubscriptionListener
	logger    *slog.Logger

	dispatchMu sync.Mutex

	mu            sync.RWMutex
	authInfo      map[string]any
	subscriptions map[string]*Subscription
	outbox        chan Outbound
	closed        bool
}

func NewSession(cfg SessionConfig) *Session {
	size := cfg.OutboxSize
	if size <= 0 {
		size = DefaultOutboxSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	services := cfg.Services
	if services == nil {
		services = func() ServiceTable { return nil }
	}
	id := uuid.New()
	return &Session{
		ID:            id,
		registry:      cfg.Registry,
		poster:        cfg.Poster,
		services:      services,
		auth:          cfg.Authenticator,
		listeners:     cfg.Listeners,
		logger:        logger.With(slog.String("session_id", id.String())),
		authInfo:      map[string]any{},
		subscriptions: map[string]*Subscription{},
		outbox:        make(chan Outbound, size),
	}
}

// AuthInfo returns a copy of the session's auth info
func (s *Session) AuthInfo() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := make(map[string]any, len(s.authInfo))
	for k, v := range s.authInfo {
		info[k] = v
	}
	return info
}

func (s *Session) SetAuthInfo(info map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authInfo = map[string]any{}
	for k, v := range info {
		s.authInfo[k] = v
	}
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.authInfo) > 0
}

func (s *Session) HasSubscription(name string) bool {
	return s.Subscription(name) != nil
}

func (s *Session) Subscription(name string) *Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriptions[name]
}

// SubscriptionNames lists the subscriptions held by the session
func (s *Session) SubscriptionNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.subscriptions))
	for name := range s.subscriptions {
		names = append(names, name)
	}
	return names
}

func (s *Session) addSubscription(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.Name] = sub
}

func (s *Session) removeSubscription(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, name)
}

// Outbox returns the frames pushed to the client. It is closed when the session closes.
func (s *Session) Outbox() <-chan Outbound {
	return s.outbox
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// HandleEvent runs the client event to completion. Events are serialised per session.
// Events that reach a closed session fail with ErrSessionClosed.
func (s *Session) HandleEvent(ctx context.Context, event Event) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	if s.isClosed() {
		return ErrSessionClosed
	}

	switch event.Name() {
	case "auth":
		info, err := s.auth.Authenticate(ctx, event.Data())
		if err != nil {
			return err
		}
		s.SetAuthInfo(info)
		return event.SendOK(ctx, nil)
	case "subscribe":
		sub := NewSubscription(s.services(), s, event.Data())
		if err := sub.Validate(); err != nil {
			return err
		}
		return sub.Subscribe(ctx, event)
	case "message", "unsubscribe":
		sub := NewSubscription(s.services(), s, event.Data())
		if existing := s.Subscription(sub.Name); existing != nil {
			sub = existing
		} else if err := sub.Validate(); err != nil {
			return err
		}
		if event.Name() == "message" {
			return sub.Message(ctx, event)
		}
		return sub.Unsubscribe(ctx, event)
	}
	return ErrEventNotFound
}

// Deliver forwards a service message to the client if the named subscription accepts it.
func (s *Session) Deliver(ctx context.Context, name string, msg map[string]any) bool {
	sub := s.Subscription(name)
	if sub == nil {
		return false
	}
	if !sub.ShouldDeliverMessage(msg) {
		s.emit(SubscriptionEvent{Type: SubscriptionEventFiltered, Subscription: sub})
		return false
	}
	if !s.push(Outbound{Event: "message", Subscription: name, Data: msg["data"]}) {
		s.emit(SubscriptionEvent{Type: SubscriptionEventDropped, Subscription: sub})
		return false
	}
	s.emit(SubscriptionEvent{Type: SubscriptionEventDelivered, Subscription: sub})
	return true
}

// push queues a frame without blocking, it reports false if the session is closed or the
// outbox is full.
func (s *Session) push(out Outbound) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.outbox <- out:
		return true
	default:
		s.logger.Warn("outbox full, dropping frame", slog.String("subscription", out.Subscription))
		return false
	}
}

// Close force-unsubscribes every subscription and closes the outbox. It waits for the event
// being handled, if any.
func (s *Session) Close(ctx context.Context) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	subs := make([]*Subscription, 0, len(s.subscriptions))
	for name, sub := range s.subscriptions {
		subs = append(subs, sub)
		delete(s.subscriptions, name)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if err := sub.ForceUnsubscribe(ctx); err != nil {
			s.logger.Info("force unsubscribe failed", slog.String("subscription", sub.Name), slog.Any("error", err))
		}
	}

	s.mu.Lock()
	s.closed = true
	close(s.outbox)
	s.mu.Unlock()
	s.logger.Info("session closed", slog.Int("subscriptions", len(subs)))
}

// emit notifies the listeners, a panicking listener does not stop the others
func (s *Session) emit(event SubscriptionEvent) {
	for _, l := range s.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("listener panic", slog.String("panic", fmt.Sprint(r)), slog.String("stack", string(debug.Stack())))
				}
			}()
			l.SubscriptionEvent(event)
		}()
	}
}
