package core

import "github.com/pkg/errors"

// ErrorKind classifies an EventError so callers can match on it with errors.Is,
// independently of the message a service chose to return.
type ErrorKind string

const (
	KindInvalidSubscriptionFormat ErrorKind = "invalid_subscription_format"
	KindInvalidService            ErrorKind = "invalid_service"
	KindAuthRequired              ErrorKind = "auth_required"
	KindAuthFailed                ErrorKind = "auth_failed"
	KindInvalidAuthMethod         ErrorKind = "invalid_auth_method"
	KindAlreadySubscribed         ErrorKind = "already_subscribed"
	KindSubscriptionNotFound      ErrorKind = "subscription_not_found"
	KindUnauthorized              ErrorKind = "unauthorized"
	KindServiceRejected           ErrorKind = "service_rejected"
	KindEventNotFound             ErrorKind = "event_not_found"
	KindInvalidEvent              ErrorKind = "invalid_event"
	KindUnhandledException        ErrorKind = "unhandled_exception"
	KindSessionClosed             ErrorKind = "session_closed"
)

// EventError is returned to the client protocol as {"status": "error", "error": Message}.
type EventError struct {
	Kind    ErrorKind
	Message string
}

func (e EventError) Error() string {
	return e.Message
}

// Is matches on Kind only, so a service rejection carrying a custom message still
// matches ErrUnauthorized or ErrServiceRejected.
func (e EventError) Is(target error) bool {
	var t EventError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func NewEventError(kind ErrorKind, message string) EventError {
	return EventError{Kind: kind, Message: message}
}

var (
	ErrInvalidSubscriptionFormat = NewEventError(KindInvalidSubscriptionFormat, "Invalid subscription format.")
	ErrInvalidService            = NewEventError(KindInvalidService, "Invalid service.")
	ErrAuthRequired              = NewEventError(KindAuthRequired, "Authentication required.")
	ErrAuthFailed                = NewEventError(KindAuthFailed, "Authentication failed.")
	ErrInvalidAuthMethod         = NewEventError(KindInvalidAuthMethod, "Authentication method not supported.")
	ErrAlreadySubscribed         = NewEventError(KindAlreadySubscribed, "Already subscribed.")
	ErrSubscriptionNotFound      = NewEventError(KindSubscriptionNotFound, "Subscription does not exist.")
	ErrUnauthorized              = NewEventError(KindUnauthorized, "Unauthorized.")
	ErrServiceRejected           = NewEventError(KindServiceRejected, "Unhandled exception.")
	ErrEventNotFound             = NewEventError(KindEventNotFound, "Event not found.")
	ErrInvalidEvent              = NewEventError(KindInvalidEvent, "Messages must be JSON and contain an event field.")
	ErrUnhandledException        = NewEventError(KindUnhandledException, "Unhandled exception.")
	ErrSessionClosed             = NewEventError(KindSessionClosed, "Session closed.")
)

// AsEventError translates any error into the EventError shown to the client.
// Errors that are not already EventErrors become ErrUnhandledException.
func AsEventError(err error) EventError {
	var ee EventError
	if errors.As(err, &ee) {
		return ee
	}
	return ErrUnhandledException
}
