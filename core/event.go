package core

import "context"

// Event is the client protocol event that triggered a lifecycle operation. Lifecycle
// operations only use it to read the event payload and to acknowledge the originating
// client.
type Event interface {
	Name() string
	Data() map[string]any
	SendOK(ctx context.Context, data any) error
}

// Outbound is a frame sent to a client, either a reply to one of its events or a message
// pushed by a service.
type Outbound struct {
	Event        string `json:"event"`
	Subscription string `json:"subscription,omitempty"`
	Status       string `json:"status,omitempty"`
	Data         any    `json:"data,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ReplyFunc delivers a reply frame to the client that sent the event
type ReplyFunc func(ctx context.Context, out Outbound) error

// ClientEvent is an Event decoded from a client frame
type ClientEvent struct {
	name  string
	data  map[string]any
	reply ReplyFunc
}

// NewClientEvent returns ErrInvalidEvent unless data carries a non empty string "event" field
func NewClientEvent(data map[string]any, reply ReplyFunc) (*ClientEvent, error) {
	name, ok := data["event"].(string)
	if !ok || name == "" {
		return nil, ErrInvalidEvent
	}
	return &ClientEvent{name: name, data: data, reply: reply}, nil
}

func (e *ClientEvent) Name() string {
	return e.name
}

func (e *ClientEvent) Data() map[string]any {
	return e.data
}

func (e *ClientEvent) subscription() string {
	s, _ := e.data["subscription"].(string)
	return s
}

func (e *ClientEvent) SendOK(ctx context.Context, data any) error {
	return e.reply(ctx, Outbound{Event: e.name, Subscription: e.subscription(), Status: "ok", Data: data})
}

// SendError replies with the client visible form of err
func (e *ClientEvent) SendError(ctx context.Context, err error) error {
	ee := AsEventError(err)
	return e.reply(ctx, Outbound{Event: e.name, Subscription: e.subscription(), Status: "error", Error: ee.Message})
}
