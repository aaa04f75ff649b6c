package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Registry tracks which sessions hold which subscriptions, so service messages can be
// routed. Entries start provisional and are confirmed once the subscription is set up.
type Registry interface {
	AddProvisionalSubscription(ctx context.Context, session *Session, name string) error
	ConfirmSubscription(ctx context.Context, session *Session, name string) error
	DeleteSubscription(ctx context.Context, session *Session, name string) error
}

// Publisher accepts messages pushed by services
type Publisher interface {
	Publish(ctx context.Context, msg map[string]any) error
}

var ErrMissingSubscription = errors.New("message has no subscription")
var ErrRegistrationNotFound = errors.New("subscription not registered")

const DefaultMaxPending = 1000

type registration struct {
	session   *Session
	confirmed bool
	pending   []map[string]any
}

// MemoryRegistry is an in-process Registry and Publisher. Messages for provisional entries
// are held until the entry is confirmed, and then delivered in arrival order.
type MemoryRegistry struct {
	MaxPending int

	mu   sync.Mutex
	subs map[string]map[uuid.UUID]*registration
}

var _ Registry = &MemoryRegistry{}
var _ Publisher = &MemoryRegistry{}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		MaxPending: DefaultMaxPending,
		subs:       map[string]map[uuid.UUID]*registration{},
	}
}

func (r *MemoryRegistry) AddProvisionalSubscription(_ context.Context, session *Session, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs, ok := r.subs[name]
	if !ok {
		regs = map[uuid.UUID]*registration{}
		r.subs[name] = regs
	}
	regs[session.ID] = &registration{session: session}
	return nil
}

// ConfirmSubscription delivers the messages held while the entry was provisional.
func (r *MemoryRegistry) ConfirmSubscription(ctx context.Context, session *Session, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.subs[name][session.ID]
	if !ok {
		return errors.Wrap(ErrRegistrationNotFound, name)
	}
	reg.confirmed = true
	for _, msg := range reg.pending {
		session.Deliver(ctx, name, msg)
	}
	reg.pending = nil
	return nil
}

// DeleteSubscription is a no-op when the entry does not exist
func (r *MemoryRegistry) DeleteSubscription(_ context.Context, session *Session, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	regs, ok := r.subs[name]
	if !ok {
		return nil
	}
	delete(regs, session.ID)
	if len(regs) == 0 {
		delete(r.subs, name)
	}
	return nil
}

// Publish routes a service message to every session registered for msg["subscription"].
// Delivery happens under the registry lock, so each session sees messages in publish order.
func (r *MemoryRegistry) Publish(ctx context.Context, msg map[string]any) error {
	name, _ := msg["subscription"].(string)
	if name == "" {
		return ErrMissingSubscription
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.subs[name] {
		if reg.confirmed {
			reg.session.Deliver(ctx, name, msg)
			continue
		}
		if len(reg.pending) >= r.MaxPending {
			slog.Warn("pending buffer full, dropping message", slog.String("subscription", name), slog.String("session_id", reg.session.ID.String()))
			continue
		}
		reg.pending = append(reg.pending, msg)
	}
	return nil
}

// Subscriptions returns the number of confirmed sessions per subscription name
func (r *MemoryRegistry) Subscriptions() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int{}
	for name, regs := range r.subs {
		for _, reg := range regs {
			if reg.confirmed {
				counts[name]++
			}
		}
	}
	return counts
}

// IsProvisional reports whether the session holds a provisional entry for name
func (r *MemoryRegistry) IsProvisional(session *Session, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.subs[name][session.ID]
	return ok && !reg.confirmed
}

// IsConfirmed reports whether the session holds a confirmed entry for name
func (r *MemoryRegistry) IsConfirmed(session *Session, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.subs[name][session.ID]
	return ok && reg.confirmed
}
