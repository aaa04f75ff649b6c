package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateInvalidSubscriptionFormat(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, name := range []string{"", "svc", "svctopic", "svc.", ".topic"} {
		t.Run(name, func(t *testing.T) {
			sub := NewSubscription(env.services, env.session, map[string]any{"subscription": name})
			assert.ErrorIs(t, sub.Validate(), ErrInvalidSubscriptionFormat)
		})
	}

	// Non string names are treated as empty
	sub := NewSubscription(env.services, env.session, map[string]any{"subscription": 12})
	assert.ErrorIs(t, sub.Validate(), ErrInvalidSubscriptionFormat)
}

func TestValidateInvalidService(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := NewSubscription(env.services, env.session, map[string]any{"subscription": "unknown.topic"})
	assert.ErrorIs(t, sub.Validate(), ErrInvalidService)
	assert.Equal(t, "unknown", sub.Service)
	assert.Equal(t, "topic", sub.Topic)
}

func TestIdentitySplitsOnFirstSeparator(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := env.subscription(t, map[string]any{"subscription": "svc.a.b"})
	assert.Equal(t, "svc", sub.Service)
	assert.Equal(t, "a.b", sub.Topic)
}

func TestExtraDataOnlyCopiesPresentFields(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic", "room": "r1", "other": "x"})
	assert.Equal(t, map[string]any{"room": "r1"}, sub.extraData)
}

func TestFilterFields(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})

	assert.True(t, sub.ShouldDeliverMessage(map[string]any{"tenant": "A", "x": 1}))
	assert.False(t, sub.ShouldDeliverMessage(map[string]any{"tenant": "B", "x": 1}))
	assert.True(t, sub.ShouldDeliverMessage(map[string]any{"x": 1}))
}

func TestFilterFieldsMissingFromAuthInfo(t *testing.T) {
	env := newTestEnv(t, map[string]any{"user_id": 1})
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})

	assert.False(t, sub.ShouldDeliverMessage(map[string]any{"tenant": "A"}))
}

func TestFilterFieldsCompareNumbers(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": float64(7)})
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})

	assert.True(t, sub.ShouldDeliverMessage(map[string]any{"tenant": 7}))
	assert.False(t, sub.ShouldDeliverMessage(map[string]any{"tenant": "7"}))
}

func TestOrderFilter(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("older order dropped", func(t *testing.T) {
		sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": "k", "_order": 5}))
		assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": "k", "_order": 3}))
		assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": "k", "_order": 5}))
		assert.Equal(t, int64(5), sub.orderState[orderKey{set: true, kind: "string", value: "k"}])
	})

	t.Run("newer order delivered", func(t *testing.T) {
		sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": "k", "_order": 5}))
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": "k", "_order": 7}))
		assert.Equal(t, int64(7), sub.orderState[orderKey{set: true, kind: "string", value: "k"}])
	})

	t.Run("keys are independent", func(t *testing.T) {
		sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": "a", "_order": 10}))
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": "b", "_order": 1}))
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order": 2}))
		assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": nil, "_order": 1}))
	})

	t.Run("unordered messages always pass", func(t *testing.T) {
		sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order": 5}))
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"x": 1}))
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"x": 1}))
	})

	t.Run("numeric forms", func(t *testing.T) {
		sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order": float64(1)}))
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order": "2"}))
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order": int64(3)}))
		assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order": 3.9}))
	})

	t.Run("key types are distinct", func(t *testing.T) {
		sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": 1, "_order": 5}))
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": "1", "_order": 3}))
		assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": float64(1), "_order": 4}))
		assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order_key": json.Number("1"), "_order": 5}))
		assert.Len(t, sub.orderState, 2)
	})

	t.Run("large orders compare exactly", func(t *testing.T) {
		sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order": json.Number("9007199254740992")}))
		assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order": json.Number("9007199254740993")}))
		assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order": json.Number("9007199254740993")}))
	})

	t.Run("booleans are not orders", func(t *testing.T) {
		sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
		assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order": true}))
		assert.Empty(t, sub.orderState)
	})
}

func TestUnparsableOrderAlwaysDropped(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})

	assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order": "abc"}))
	assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order": nil}))
	assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order": []any{1}}))
	assert.Empty(t, sub.orderState)

	assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order": 1}))
	assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order": "abc"}))
}

func TestSubscribeAuthRequired(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
	event := newEvent("subscribe", map[string]any{"subscription": "svc.topic"})

	assert.ErrorIs(t, sub.Subscribe(context.Background(), event), ErrAuthRequired)
	assert.Empty(t, env.poster.URLs())
	assert.Empty(t, env.registry.Ops())
}

func TestSubscribeWithoutAuthenticationWhenNotRequired(t *testing.T) {
	env := newTestEnv(t, nil)
	sub := env.subscription(t, map[string]any{"subscription": "bare.topic"})
	event := newEvent("subscribe", map[string]any{"subscription": "bare.topic"})

	require.NoError(t, sub.Subscribe(context.Background(), event))
	// No webhooks configured, nothing called
	assert.Empty(t, env.poster.URLs())
	assert.Equal(t, []any{nil}, event.acks)
	assert.True(t, env.session.HasSubscription("bare.topic"))
}

func TestSubscribeAlreadySubscribed(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	ctx := context.Background()
	first := env.subscription(t, map[string]any{"subscription": "svc.topic"})
	require.NoError(t, first.Subscribe(ctx, newEvent("subscribe", map[string]any{"subscription": "svc.topic"})))
	callsBefore := len(env.poster.URLs())

	second := env.subscription(t, map[string]any{"subscription": "svc.topic"})
	err := second.Subscribe(ctx, newEvent("subscribe", map[string]any{"subscription": "svc.topic"}))
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
	assert.Equal(t, callsBefore, len(env.poster.URLs()), "no webhook may be called")
	assert.Same(t, first, env.session.Subscription("svc.topic"))
}

func TestSubscribeUnauthorized(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	env.poster.responses[authorizerURL] = ServiceResponse{"status": "error", "error": "nope"}
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
	event := newEvent("subscribe", map[string]any{"subscription": "svc.topic"})

	err := sub.Subscribe(context.Background(), event)
	require.Error(t, err)
	assert.Equal(t, "nope", err.Error())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, env.session.HasSubscription("svc.topic"))
	assert.Empty(t, env.registry.Ops())
	assert.False(t, env.registry.IsConfirmed(env.session, "svc.topic"))
	assert.Equal(t, []string{authorizerURL}, env.poster.URLs())
	assert.Empty(t, event.acks)
}

func TestSubscribeUnauthorizedDefaultMessage(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	env.poster.responses[authorizerURL] = ServiceResponse{"status": "error"}
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})

	err := sub.Subscribe(context.Background(), newEvent("subscribe", map[string]any{"subscription": "svc.topic"}))
	assert.Equal(t, ErrUnauthorized, err)
}

func TestSubscribeEndToEnd(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A", "user_id": 1})
	env.poster.responses[beforeSubscribeURL] = ServiceResponse{"status": "ok", "data": map[string]any{"seed": 1}}
	env.poster.responses[onSubscribeURL] = ServiceResponse{"status": "error", "error": "ignored"}
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic", "room": "r1"})
	event := newEvent("subscribe", map[string]any{"subscription": "svc.topic", "room": "r1"})

	require.NoError(t, sub.Subscribe(context.Background(), event))

	assert.Equal(t, []any{map[string]any{"seed": 1}}, event.acks)
	assert.Equal(t, []string{"provisional:svc.topic", "confirm:svc.topic"}, env.registry.Ops())
	assert.True(t, env.registry.IsConfirmed(env.session, "svc.topic"))
	assert.True(t, env.session.HasSubscription("svc.topic"))
	assert.Equal(t, []string{authorizerURL, beforeSubscribeURL, onSubscribeURL}, env.poster.URLs())

	call := env.poster.Call(t, authorizerURL)
	assert.Equal(t, map[string]any{"subscription": "svc.topic", "room": "r1", "tenant": "A", "user_id": 1}, call.Payload)
}

func TestSubscribeSwallowsOnSubscribeTransportError(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	env.poster.errs[onSubscribeURL] = errors.New("connection refused")
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})

	require.NoError(t, sub.Subscribe(context.Background(), newEvent("subscribe", map[string]any{"subscription": "svc.topic"})))
	assert.True(t, env.registry.IsConfirmed(env.session, "svc.topic"))
}

func TestSubscribeFilteredInitialData(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	env.poster.responses[beforeSubscribeURL] = ServiceResponse{"status": "ok", "tenant": "B", "data": "secret"}
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
	event := newEvent("subscribe", map[string]any{"subscription": "svc.topic"})

	require.NoError(t, sub.Subscribe(context.Background(), event))
	assert.Empty(t, event.acks)
	assert.True(t, env.session.HasSubscription("svc.topic"))
	assert.True(t, env.registry.IsConfirmed(env.session, "svc.topic"))
}

func TestSubscribeInitialDataSetsOrder(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	env.poster.responses[beforeSubscribeURL] = ServiceResponse{"status": "ok", "_order": 10, "data": "snapshot"}
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})

	require.NoError(t, sub.Subscribe(context.Background(), newEvent("subscribe", map[string]any{"subscription": "svc.topic"})))
	assert.False(t, sub.ShouldDeliverMessage(map[string]any{"_order": 9}))
	assert.True(t, sub.ShouldDeliverMessage(map[string]any{"_order": 11}))
}

func TestSubscribeNonRaisingBeforeSubscribe(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	env.poster.responses[beforeSubscribeURL] = ServiceResponse{"status": "error", "error": "ignored"}
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
	event := newEvent("subscribe", map[string]any{"subscription": "svc.topic"})

	require.NoError(t, sub.Subscribe(context.Background(), event))
	assert.Equal(t, []any{nil}, event.acks)
	assert.True(t, env.session.HasSubscription("svc.topic"))
}

func TestSubscribeRemovesProvisionalOnBeforeSubscribeFailure(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	env.poster.errs[beforeSubscribeURL] = errors.New("connection refused")
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
	event := newEvent("subscribe", map[string]any{"subscription": "svc.topic"})

	err := sub.Subscribe(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, []string{"provisional:svc.topic", "delete:svc.topic"}, env.registry.Ops())
	assert.False(t, env.registry.IsProvisional(env.session, "svc.topic"))
	assert.False(t, env.session.HasSubscription("svc.topic"))
	assert.Empty(t, event.acks)
}

func TestMessage(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	ctx := context.Background()
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})

	// Not subscribed yet
	err := sub.Message(ctx, newEvent("message", map[string]any{"subscription": "svc.topic", "data": "hi"}))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.Empty(t, env.poster.URLs())

	require.NoError(t, sub.Subscribe(ctx, newEvent("subscribe", map[string]any{"subscription": "svc.topic"})))

	// No data in the response, no ack
	event := newEvent("message", map[string]any{"subscription": "svc.topic", "data": "hi"})
	require.NoError(t, sub.Message(ctx, event))
	assert.Empty(t, event.acks)
	assert.Equal(t, "hi", env.poster.Call(t, onMessageURL).Payload["data"])

	// Data is acknowledged without filtering
	env.poster.responses[onMessageURL] = ServiceResponse{"status": "error", "tenant": "B", "data": "reply"}
	event = newEvent("message", map[string]any{"subscription": "svc.topic", "data": "hi"})
	require.NoError(t, sub.Message(ctx, event))
	assert.Equal(t, []any{"reply"}, event.acks)
}

func TestUnsubscribeNotFound(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})

	err := sub.Unsubscribe(context.Background(), newEvent("unsubscribe", map[string]any{"subscription": "svc.topic"}))
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.Empty(t, env.poster.URLs())
	assert.Empty(t, env.registry.Ops())
}

func TestUnsubscribeRejected(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	ctx := context.Background()
	env.poster.responses[beforeUnsubscribeURL] = ServiceResponse{"status": "error", "error": "stay"}
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
	require.NoError(t, sub.Subscribe(ctx, newEvent("subscribe", map[string]any{"subscription": "svc.topic"})))

	err := sub.Unsubscribe(ctx, newEvent("unsubscribe", map[string]any{"subscription": "svc.topic"}))
	assert.ErrorIs(t, err, ErrServiceRejected)
	assert.Equal(t, "stay", err.Error())
	assert.True(t, env.session.HasSubscription("svc.topic"))
	assert.True(t, env.registry.IsConfirmed(env.session, "svc.topic"))
}

func TestUnsubscribe(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	ctx := context.Background()
	env.poster.responses[beforeUnsubscribeURL] = ServiceResponse{"status": "ok", "data": "bye"}
	env.poster.responses[onUnsubscribeURL] = ServiceResponse{"status": "error"}
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
	require.NoError(t, sub.Subscribe(ctx, newEvent("subscribe", map[string]any{"subscription": "svc.topic"})))

	event := newEvent("unsubscribe", map[string]any{"subscription": "svc.topic"})
	require.NoError(t, sub.Unsubscribe(ctx, event))
	assert.Equal(t, []any{"bye"}, event.acks)
	assert.False(t, env.session.HasSubscription("svc.topic"))
	assert.Equal(t, []string{"provisional:svc.topic", "confirm:svc.topic", "delete:svc.topic"}, env.registry.Ops())
	assert.Empty(t, env.registry.Subscriptions())
	urls := env.poster.URLs()
	assert.Equal(t, []string{beforeUnsubscribeURL, onUnsubscribeURL}, urls[len(urls)-2:])
}

func TestForceUnsubscribe(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A"})
	ctx := context.Background()
	env.poster.responses[beforeUnsubscribeURL] = ServiceResponse{"status": "error", "error": "ignored"}
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic"})
	require.NoError(t, sub.Subscribe(ctx, newEvent("subscribe", map[string]any{"subscription": "svc.topic"})))

	require.NoError(t, sub.ForceUnsubscribe(ctx))
	assert.Equal(t, "delete:svc.topic", env.registry.Ops()[2])
	urls := env.poster.URLs()
	assert.Equal(t, []string{beforeUnsubscribeURL, onUnsubscribeURL}, urls[len(urls)-2:])
	assert.False(t, env.registry.IsConfirmed(env.session, "svc.topic"))
}

func TestServicePayloadIsFreshPerCall(t *testing.T) {
	env := newTestEnv(t, map[string]any{"tenant": "A", "room": "from-auth"})
	ctx := context.Background()
	sub := env.subscription(t, map[string]any{"subscription": "svc.topic", "room": "r1", "device": "d1"})
	require.NoError(t, sub.Subscribe(ctx, newEvent("subscribe", map[string]any{"subscription": "svc.topic"})))

	// Auth info wins over extra fields
	payload := env.poster.Call(t, authorizerURL).Payload
	assert.Equal(t, "from-auth", payload["room"])
	assert.Equal(t, "d1", payload["device"])
	payload["injected"] = true

	require.NoError(t, sub.Message(ctx, newEvent("message", map[string]any{"subscription": "svc.topic", "data": map[string]any{"k": "v"}})))
	msgPayload := env.poster.Call(t, onMessageURL).Payload
	assert.NotContains(t, msgPayload, "injected")
	assert.Equal(t, map[string]any{"k": "v"}, msgPayload["data"])
	assert.NotContains(t, env.poster.Call(t, onSubscribeURL).Payload, "data")
}
