// view package contains data structures exposed via the API
package view

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/asaskevich/govalidator"
	"gopkg.in/guregu/null.v4"
)

// Webhooks holds the URL called at each checkpoint, an empty URL means the checkpoint is skipped
type Webhooks struct {
	Authorizer        string `json:"authorizer,omitempty" valid:"url,optional"`
	BeforeSubscribe   string `json:"before_subscribe,omitempty" valid:"url,optional"`
	OnSubscribe       string `json:"on_subscribe,omitempty" valid:"url,optional"`
	OnMessage         string `json:"on_message,omitempty" valid:"url,optional"`
	BeforeUnsubscribe string `json:"before_unsubscribe,omitempty" valid:"url,optional"`
	OnUnsubscribe     string `json:"on_unsubscribe,omitempty" valid:"url,optional"`
}

type ServiceData struct {
	Name string `json:"name" valid:"alphanum,required"`
	Webhooks
	ExtraFields           []string `json:"extra_fields" valid:"-"`
	FilterFields          []string `json:"filter_fields" valid:"-"`
	RequireAuthentication bool     `json:"require_authentication"`
}

type Service struct {
	ServiceData
	CreatedAt time.Time `json:"created_at" valid:"-"`
	UpdatedAt time.Time `json:"updated_at" valid:"-"`
	DeletedAt null.Time `json:"deleted_at" valid:"-"`
}

func NewService() Service {
	return Service{
		ServiceData: ServiceData{
			ExtraFields:           []string{},
			FilterFields:          []string{},
			RequireAuthentication: true,
		},
	}
}

func UnmarshalService(data []byte) (Service, error) {
	s := NewService()
	err := json.Unmarshal(data, &s)
	return s, err
}

// NewServiceFromJSON creates a new Service from a JSON byte array, it validates the JSON
// and returns an error if the JSON is invalid, or if any of the validation rules fail.
// Validation failures are returned as govalidator.Errors.
func NewServiceFromJSON(data []byte, createdAt, updatedAt time.Time, deletedAt sql.NullTime) (Service, error) {
	s, err := UnmarshalService(data)
	if err != nil {
		return Service{}, err
	}
	if _, err := govalidator.ValidateStruct(s.ServiceData); err != nil {
		return Service{}, err
	}
	s.CreatedAt = createdAt
	s.UpdatedAt = updatedAt
	s.DeletedAt = null.NewTime(deletedAt.Time, deletedAt.Valid)
	return s, nil
}

type ServiceCollection struct {
	Services []Service `json:"_data"`
	Offset   int64     `json:"_offset"`
	Limit    int64     `json:"_limit"`
}

func NewServiceCollection(services []Service, offset, limit int64) ServiceCollection {
	return ServiceCollection{
		Services: services,
		Offset:   offset,
		Limit:    limit,
	}
}

func (c ServiceCollection) HasNextBatch() bool {
	return len(c.Services) == int(c.Limit)
}
