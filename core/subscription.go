package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// Subscription binds one session to one "<service>.<topic>" name. It is owned by the session
// for its whole lifetime.
type Subscription struct {
	Name    string
	Service string
	Topic   string

	config    *ServiceConfig // resolved once, nil if the service is unknown
	extraData map[string]any

	session  *Session
	registry Registry
	poster   Poster
	logger   *slog.Logger

	orderMu    sync.Mutex
	orderState map[orderKey]int64
}

// NewSubscription resolves the identity of the subscription named by req["subscription"].
// It never fails, call Validate before using it.
func NewSubscription(services ServiceTable, session *Session, req map[string]any) *Subscription {
	name, _ := req["subscription"].(string)
	s := &Subscription{
		Name:       name,
		session:    session,
		registry:   session.registry,
		poster:     session.poster,
		logger:     session.logger.With(slog.String("subscription", name)),
		orderState: map[orderKey]int64{},
	}
	if service, topic, ok := ParseSubscriptionName(name); ok {
		s.Service, s.Topic = service, topic
		s.config = services.Lookup(service)
	}
	s.extraData = resolveExtraData(s.config, req)
	return s
}

func (s *Subscription) Validate() error {
	if s.Service == "" || s.Topic == "" {
		return ErrInvalidSubscriptionFormat
	}
	if s.config == nil {
		return ErrInvalidService
	}
	return nil
}

// serviceData is the payload common to every webhook call. A new map is built on every call.
func (s *Subscription) serviceData() map[string]any {
	data := map[string]any{"subscription": s.Name}
	for k, v := range s.extraData {
		data[k] = v
	}
	for k, v := range s.session.AuthInfo() {
		data[k] = v
	}
	return data
}

// performServiceRequest calls the webhook configured for the checkpoint. Without a webhook
// it succeeds without a call. When raise is set a non "ok" status becomes an EventError
// carrying the service's error, else errorMessage, else the generic message.
func (s *Subscription) performServiceRequest(ctx context.Context, cp Checkpoint, extra map[string]any, rejected EventError, raise bool) (ServiceResponse, error) {
	url, ok := s.config.URL(cp)
	if !ok {
		return ServiceResponse{"status": "ok"}, nil
	}
	data := s.serviceData()
	for k, v := range extra {
		data[k] = v
	}
	s.logger.Debug("service request", slog.String("checkpoint", string(cp)), slog.String("url", url))
	resp, err := s.poster.Post(ctx, url, data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s webhook", cp)
	}
	if raise && !resp.OK() {
		if msg, ok := resp.ErrorMessage(); ok {
			return resp, NewEventError(rejected.Kind, msg)
		}
		return resp, rejected
	}
	return resp, nil
}

func (s *Subscription) authorizeSubscription(ctx context.Context) error {
	_, err := s.performServiceRequest(ctx, Authorizer, nil, ErrUnauthorized, true)
	return err
}

func (s *Subscription) beforeSubscribe(ctx context.Context) (ServiceResponse, error) {
	return s.performServiceRequest(ctx, BeforeSubscribe, nil, ErrServiceRejected, false)
}

func (s *Subscription) onSubscribe(ctx context.Context) (ServiceResponse, error) {
	return s.performServiceRequest(ctx, OnSubscribe, nil, ErrServiceRejected, false)
}

func (s *Subscription) onMessage(ctx context.Context, message any) (ServiceResponse, error) {
	return s.performServiceRequest(ctx, OnMessage, map[string]any{"data": message}, ErrServiceRejected, false)
}

func (s *Subscription) beforeUnsubscribe(ctx context.Context, raise bool) (ServiceResponse, error) {
	return s.performServiceRequest(ctx, BeforeUnsubscribe, nil, ErrServiceRejected, raise)
}

func (s *Subscription) onUnsubscribe(ctx context.Context) (ServiceResponse, error) {
	return s.performServiceRequest(ctx, OnUnsubscribe, nil, ErrServiceRejected, false)
}

// Subscribe runs authorize, provisional registration, before_subscribe, confirmation and
// on_subscribe. The subscription becomes visible to the session once before_subscribe
// returns. The provisional registry entry is removed again if before_subscribe fails.
func (s *Subscription) Subscribe(ctx context.Context, event Event) error {
	if s.config.RequiresAuthentication() && !s.session.IsAuthenticated() {
		return ErrAuthRequired
	}
	if s.session.HasSubscription(s.Name) {
		return ErrAlreadySubscribed
	}

	if err := s.authorizeSubscription(ctx); err != nil {
		return err
	}

	if err := s.registry.AddProvisionalSubscription(ctx, s.session, s.Name); err != nil {
		return err
	}

	result, err := s.beforeSubscribe(ctx)
	if err != nil {
		if derr := s.registry.DeleteSubscription(ctx, s.session, s.Name); derr != nil {
			s.logger.Error("remove provisional subscription", slog.Any("error", derr))
		}
		return err
	}

	s.session.addSubscription(s)

	if s.ShouldDeliverMessage(result) {
		data, _ := result.Data()
		if err := event.SendOK(ctx, data); err != nil {
			s.logger.Info("subscribe ack not sent", slog.Any("error", err))
		}
	}

	if err := s.registry.ConfirmSubscription(ctx, s.session, s.Name); err != nil {
		return err
	}
	s.session.emit(SubscriptionEvent{Type: SubscriptionEventSubscribed, Subscription: s})

	if _, err := s.onSubscribe(ctx); err != nil {
		s.logger.Info("on_subscribe failed", slog.Any("error", err))
	}
	return nil
}

// Message forwards the client's message to on_message and acknowledges with the data the
// service returned, if any.
func (s *Subscription) Message(ctx context.Context, event Event) error {
	if !s.session.HasSubscription(s.Name) {
		return ErrSubscriptionNotFound
	}

	result, err := s.onMessage(ctx, event.Data()["data"])
	if err != nil {
		return err
	}
	if data, ok := result.Data(); ok {
		return event.SendOK(ctx, data)
	}
	return nil
}

func (s *Subscription) Unsubscribe(ctx context.Context, event Event) error {
	if !s.session.HasSubscription(s.Name) {
		return ErrSubscriptionNotFound
	}

	result, err := s.beforeUnsubscribe(ctx, true)
	if err != nil {
		return err
	}

	s.session.removeSubscription(s.Name)
	if err := s.registry.DeleteSubscription(ctx, s.session, s.Name); err != nil {
		return err
	}
	s.session.emit(SubscriptionEvent{Type: SubscriptionEventUnsubscribed, Subscription: s})

	data, _ := result.Data()
	if err := event.SendOK(ctx, data); err != nil {
		s.logger.Info("unsubscribe ack not sent", slog.Any("error", err))
	}

	if _, err := s.onUnsubscribe(ctx); err != nil {
		s.logger.Info("on_unsubscribe failed", slog.Any("error", err))
	}
	return nil
}

// ForceUnsubscribe is used when the session disconnects. The caller removes the subscription
// from the session. Service rejections are ignored, transport errors are returned after all
// steps ran.
func (s *Subscription) ForceUnsubscribe(ctx context.Context) error {
	var errs []error
	if err := s.registry.DeleteSubscription(ctx, s.session, s.Name); err != nil {
		errs = append(errs, err)
	}
	s.session.emit(SubscriptionEvent{Type: SubscriptionEventForceUnsubscribed, Subscription: s})
	if _, err := s.beforeUnsubscribe(ctx, false); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.onUnsubscribe(ctx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
