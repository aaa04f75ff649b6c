package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWebhookClient() WebhookClient {
	cfg := DefaultConfig().WithTimeout(time.Second)
	cfg.Retry = FixedRetrier{Duration: time.Millisecond}
	return NewWebhookClient(cfg)
}

func TestWebhookClientPost(t *testing.T) {
	var received map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"status": "ok", "_order": 9007199254740993, "data": {"seed": 1}}`))
	}))
	defer ts.Close()

	resp, err := testWebhookClient().Post(context.Background(), ts.URL, map[string]any{"subscription": "svc.topic"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	data, ok := resp.Data()
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"seed": json.Number("1")}, data)
	assert.Equal(t, json.Number("9007199254740993"), resp["_order"])
	assert.Equal(t, map[string]any{"subscription": "svc.topic"}, received)
}

func TestWebhookClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer ts.Close()

	resp, err := testWebhookClient().Post(context.Background(), ts.URL, map[string]any{})
	require.NoError(t, err)
	assert.True(t, resp.OK())
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhookClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := testWebhookClient().Post(context.Background(), ts.URL, map[string]any{})
	assert.ErrorIs(t, err, ErrWebhookFailed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status": "error", "error": "bad"}`))
	}))
	defer ts.Close()

	resp, err := testWebhookClient().Post(context.Background(), ts.URL, map[string]any{})
	require.NoError(t, err)
	assert.False(t, resp.OK())
	msg, ok := resp.ErrorMessage()
	assert.True(t, ok)
	assert.Equal(t, "bad", msg)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookClientInvalidResponse(t *testing.T) {
	for _, body := range []string{"not json", "[1,2]", "null"} {
		t.Run(body, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer ts.Close()

			_, err := testWebhookClient().Post(context.Background(), ts.URL, map[string]any{})
			assert.ErrorIs(t, err, ErrInvalidServiceResponse)
		})
	}
}

func TestWebhookClientSendsBearerToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer ts.Close()

	cfg := DefaultConfig()
	cfg.SharedSecret = "s3cret"
	resp, err := NewWebhookClient(cfg).Post(context.Background(), ts.URL, map[string]any{})
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestWebhookClientHonoursContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := testWebhookClient()
	client.Retry = FixedRetrier{Duration: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Post(ctx, ts.URL, map[string]any{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestServiceResponseAccessors(t *testing.T) {
	resp := ServiceResponse{"status": "error", "error": "", "data": nil}
	assert.Equal(t, "error", resp.Status())
	assert.False(t, resp.OK())
	_, ok := resp.ErrorMessage()
	assert.False(t, ok)
	data, ok := resp.Data()
	assert.True(t, ok)
	assert.Nil(t, data)

	_, ok = ServiceResponse{"status": "ok"}.Data()
	assert.False(t, ok)
}
