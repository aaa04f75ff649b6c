package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type postCall struct {
	URL     string
	Payload map[string]any
}

// fakePoster answers webhook calls from canned responses, defaulting to {"status": "ok"}
type fakePoster struct {
	mu        sync.Mutex
	calls     []postCall
	responses map[string]ServiceResponse
	errs      map[string]error
}

func newFakePoster() *fakePoster {
	return &fakePoster{responses: map[string]ServiceResponse{}, errs: map[string]error{}}
}

func (p *fakePoster) Post(_ context.Context, url string, payload map[string]any) (ServiceResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, postCall{URL: url, Payload: payload})
	if err, ok := p.errs[url]; ok {
		return nil, err
	}
	if resp, ok := p.responses[url]; ok {
		return resp, nil
	}
	return ServiceResponse{"status": "ok"}, nil
}

func (p *fakePoster) URLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	urls := []string{}
	for _, c := range p.calls {
		urls = append(urls, c.URL)
	}
	return urls
}

func (p *fakePoster) Call(t *testing.T, url string) postCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.calls {
		if c.URL == url {
			return c
		}
	}
	t.Fatalf("no call to %s", url)
	return postCall{}
}

// recordingRegistry records the registry calls in order
type recordingRegistry struct {
	*MemoryRegistry
	mu  sync.Mutex
	ops []string
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{MemoryRegistry: NewMemoryRegistry()}
}

func (r *recordingRegistry) record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingRegistry) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.ops...)
}

func (r *recordingRegistry) AddProvisionalSubscription(ctx context.Context, s *Session, name string) error {
	r.record("provisional:" + name)
	return r.MemoryRegistry.AddProvisionalSubscription(ctx, s, name)
}

func (r *recordingRegistry) ConfirmSubscription(ctx context.Context, s *Session, name string) error {
	r.record("confirm:" + name)
	return r.MemoryRegistry.ConfirmSubscription(ctx, s, name)
}

func (r *recordingRegistry) DeleteSubscription(ctx context.Context, s *Session, name string) error {
	r.record("delete:" + name)
	return r.MemoryRegistry.DeleteSubscription(ctx, s, name)
}

// recordingEvent is an Event that keeps the acknowledgements sent to the client
type recordingEvent struct {
	name string
	data map[string]any
	acks []any
}

func newEvent(name string, data map[string]any) *recordingEvent {
	data["event"] = name
	return &recordingEvent{name: name, data: data}
}

func (e *recordingEvent) Name() string          { return e.name }
func (e *recordingEvent) Data() map[string]any { return e.data }
func (e *recordingEvent) SendOK(_ context.Context, data any) error {
	e.acks = append(e.acks, data)
	return nil
}

const (
	authorizerURL        = "http://svc/authorizer"
	beforeSubscribeURL   = "http://svc/before_subscribe"
	onSubscribeURL       = "http://svc/on_subscribe"
	onMessageURL         = "http://svc/on_message"
	beforeUnsubscribeURL = "http://svc/before_unsubscribe"
	onUnsubscribeURL     = "http://svc/on_unsubscribe"
)

// testServices returns a table with one fully hooked service "svc" and one bare service "bare"
func testServices() ServiceTable {
	noAuth := false
	return ServiceTable{
		"svc": &ServiceConfig{
			Webhooks: map[Checkpoint]string{
				Authorizer:        authorizerURL,
				BeforeSubscribe:   beforeSubscribeURL,
				OnSubscribe:       onSubscribeURL,
				OnMessage:         onMessageURL,
				BeforeUnsubscribe: beforeUnsubscribeURL,
				OnUnsubscribe:     onUnsubscribeURL,
			},
			ExtraFields:  []string{"room", "device"},
			FilterFields: []string{"tenant"},
		},
		"bare": &ServiceConfig{RequireAuthentication: &noAuth},
	}
}

type testEnv struct {
	poster   *fakePoster
	registry *recordingRegistry
	session  *Session
	services ServiceTable
}

func newTestEnv(t *testing.T, authInfo map[string]any) *testEnv {
	t.Helper()
	env := &testEnv{
		poster:   newFakePoster(),
		registry: newRecordingRegistry(),
		services: testServices(),
	}
	env.session = NewSession(SessionConfig{
		Registry: env.registry,
		Poster:   env.poster,
		Services: func() ServiceTable { return env.services },
	})
	env.session.SetAuthInfo(authInfo)
	return env
}

func (env *testEnv) subscription(t *testing.T, req map[string]any) *Subscription {
	t.Helper()
	sub := NewSubscription(env.services, env.session, req)
	require.NoError(t, sub.Validate())
	return sub
}
