package core

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint names a lifecycle event that may be backed by a webhook.
type Checkpoint string

const (
	Authorizer        Checkpoint = "authorizer"
	BeforeSubscribe   Checkpoint = "before_subscribe"
	OnSubscribe       Checkpoint = "on_subscribe"
	OnMessage         Checkpoint = "on_message"
	BeforeUnsubscribe Checkpoint = "before_unsubscribe"
	OnUnsubscribe     Checkpoint = "on_unsubscribe"
)

// Checkpoints lists every checkpoint in lifecycle order.
var Checkpoints = []Checkpoint{Authorizer, BeforeSubscribe, OnSubscribe, OnMessage, BeforeUnsubscribe, OnUnsubscribe}

// ServiceConfig is the configuration of one backend service.
type ServiceConfig struct {
	Webhooks              map[Checkpoint]string `json:"webhooks"`
	ExtraFields           []string              `json:"extra_fields"`
	FilterFields          []string              `json:"filter_fields"`
	RequireAuthentication *bool                 `json:"require_authentication,omitempty"`
}

// URL returns the webhook configured for the checkpoint, if any.
func (c *ServiceConfig) URL(cp Checkpoint) (string, bool) {
	if c == nil {
		return "", false
	}
	url, ok := c.Webhooks[cp]
	if !ok || url == "" {
		return "", false
	}
	return url, true
}

// RequiresAuthentication defaults to true when unset.
func (c *ServiceConfig) RequiresAuthentication() bool {
	if c == nil || c.RequireAuthentication == nil {
		return true
	}
	return *c.RequireAuthentication
}

// ServiceTable maps a service name to its configuration.
type ServiceTable map[string]*ServiceConfig

func (t ServiceTable) Lookup(service string) *ServiceConfig {
	if t == nil {
		return nil
	}
	return t[service]
}

// Service is a stored service definition.
type Service struct {
	Name      string
	Config    ServiceConfig
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt sql.NullTime // NULL if not deleted, ie: still 'active'
}

func (s Service) IsActive() bool {
	return !s.DeletedAt.Valid
}

func (s Service) ResourcePath() string {
	return fmt.Sprintf("1/services/%s", s.Name)
}

// MarshallForDatabase returns the JSON stored in the data column.
func (s Service) MarshallForDatabase() ([]byte, error) {
	return json.Marshal(s.Config)
}

// NewServiceFromJSON builds a Service from the data column of a stored row.
func NewServiceFromJSON(name string, data []byte, createdAt, updatedAt time.Time, deletedAt sql.NullTime) (Service, error) {
	s := Service{Name: name, CreatedAt: createdAt, UpdatedAt: updatedAt, DeletedAt: deletedAt}
	err := json.Unmarshal(data, &s.Config)
	return s, err
}
