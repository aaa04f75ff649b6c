package core

import (
	"log/slog"
)

// SubscriptionEventType is an enum for the different types of events a session reports to its listeners.
type SubscriptionEventType string

const (
	// SubscriptionEventSubscribed is sent when a subscription is confirmed
	SubscriptionEventSubscribed SubscriptionEventType = "subscribed"
	// SubscriptionEventUnsubscribed is sent when the client unsubscribes
	SubscriptionEventUnsubscribed SubscriptionEventType = "unsubscribed"
	// SubscriptionEventForceUnsubscribed is sent when the subscription is removed because the session closed
	SubscriptionEventForceUnsubscribed SubscriptionEventType = "force_unsubscribed"

	// SubscriptionEventDelivered is sent when a service message is queued for the client
	SubscriptionEventDelivered SubscriptionEventType = "message_delivered"
	// SubscriptionEventFiltered is sent when the delivery filter drops a service message
	SubscriptionEventFiltered SubscriptionEventType = "message_filtered"
	// SubscriptionEventDropped is sent when a message passed the filter, but the client's outbox is full
	SubscriptionEventDropped SubscriptionEventType = "message_dropped"
)

type SubscriptionEvent struct {
	Type         SubscriptionEventType
	Subscription *Subscription
	Error        error
}

type SubscriptionListener interface {
	SubscriptionEvent(event SubscriptionEvent)
}

// LogListener logs every subscription event
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) SubscriptionEvent(event SubscriptionEvent) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{slog.String("type", string(event.Type))}
	if event.Subscription != nil {
		attrs = append(attrs,
			slog.String("subscription", event.Subscription.Name),
			slog.String("session_id", event.Subscription.session.ID.String()))
	}
	if event.Error != nil {
		attrs = append(attrs, slog.Any("error", event.Error))
	}
	logger.Debug("subscription event", attrs...)
}
