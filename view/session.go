package view

import (
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s Session) ResourcePath() string {
	return "1/sessions/" + s.ID.String()
}

// Frame is one JSON object sent to a client, a reply to one of its events or a pushed message
type Frame struct {
	Event        string `json:"event"`
	Subscription string `json:"subscription,omitempty"`
	Status       string `json:"status,omitempty"`
	Data         any    `json:"data,omitempty"`
	Error        string `json:"error,omitempty"`
}
