package core

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ServiceResponse is the JSON object a service returns from a webhook call.
// It carries at least a "status" field, optionally "error" and "data".
type ServiceResponse map[string]any

func (r ServiceResponse) Status() string {
	s, _ := r["status"].(string)
	return s
}

func (r ServiceResponse) OK() bool {
	return r.Status() == "ok"
}

// ErrorMessage returns the "error" field when it is a non empty string
func (r ServiceResponse) ErrorMessage() (string, bool) {
	s, ok := r["error"].(string)
	return s, ok && s != ""
}

// Data returns the "data" field and whether it was present at all, a JSON null counts as present
func (r ServiceResponse) Data() (any, bool) {
	d, ok := r["data"]
	return d, ok
}

// Poster performs one JSON POST to a service webhook.
type Poster interface {
	Post(ctx context.Context, url string, payload map[string]any) (ServiceResponse, error)
}

var ErrWebhookFailed = errors.New("webhook call failed")
var ErrInvalidServiceResponse = errors.New("service response is not a JSON object")

// WebhookClient is the Poster used to call service webhooks
type WebhookClient struct {
	MaxRetries int
	Retry      Retrier
	Headers    http.Header
	client     *http.Client
}

// NewWebhookClient creates a new WebhookClient using the given Config
func NewWebhookClient(cfg Config) WebhookClient {
	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.SharedSecret != "" {
		client = NewAuthTokenClient(cfg.SharedSecret, cfg.Timeout)
	}
	retry := cfg.Retry
	if retry == nil {
		retry = ExponentialRetrier{}
	}
	return WebhookClient{
		MaxRetries: cfg.MaxRetries,
		Retry:      retry,
		Headers:    http.Header{},
		client:     client,
	}
}

func (wh WebhookClient) WithClient(client *http.Client) WebhookClient {
	wh.client = client
	return wh
}

// Post sends the payload and decodes the JSON object in the response. Transport errors and
// 5xx responses are retried up to MaxRetries times, any other response is decoded as is.
func (wh WebhookClient) Post(ctx context.Context, url string, payload map[string]any) (ServiceResponse, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encoding webhook payload")
	}

	var lastErr error
	for i := 0; i <= wh.MaxRetries; i++ {
		if i > 0 {
			delay := wh.Retry.RetryIn(i-1, wh.MaxRetries)
			slog.Debug("retrying webhook", slog.String("url", url), slog.Int("attempt", i), slog.String("delay", delay.String()), slog.Any("error", lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		resp, retry, err := wh.post(ctx, url, buf)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	slog.Info("webhook failed", slog.String("url", url), slog.Int("max_retries", wh.MaxRetries), slog.Any("error", lastErr))
	return nil, lastErr
}

func (wh WebhookClient) post(ctx context.Context, url string, body []byte) (ServiceResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, errors.Wrap(err, "building webhook request")
	}
	for key, values := range wh.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	client := wh.client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, errors.Wrap(err, ErrWebhookFailed.Error())
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusInternalServerError {
		io.Copy(io.Discard, res.Body)
		return nil, true, errors.Wrapf(ErrWebhookFailed, "status %s", res.Status)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, true, errors.Wrap(err, ErrWebhookFailed.Error())
	}
	// Numbers stay json.Number so a large _order in the response is compared exactly
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var resp ServiceResponse
	if err := dec.Decode(&resp); err != nil || resp == nil || dec.More() {
		return nil, false, errors.Wrapf(ErrInvalidServiceResponse, "status %s", res.Status)
	}
	return resp, false, nil
}

// AuthTokenRoundTripper is a custom RoundTripper that enforces TLS and adds the Authorization header to every request.
type AuthTokenRoundTripper struct {
	Transport    http.RoundTripper
	SharedSecret string
}

// RoundTrip is the implementation of the RoundTripper interface.
func (a *AuthTokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+a.SharedSecret)

	// If the Transport is not set, use a transport that verifies certificates
	if a.Transport == nil {
		transport := &http.Transport{
			TLSClientConfig: &tls.Config{},
		}
		return transport.RoundTrip(req)
	}

	return a.Transport.RoundTrip(req)
}

// NewAuthTokenClient creates a new HTTP client that will send a set token in the 'Authorization' header
// It also accepts a client side timeout
func NewAuthTokenClient(sharedSecret string, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &AuthTokenRoundTripper{
			Transport:    http.DefaultTransport,
			SharedSecret: sharedSecret,
		},
		Timeout: timeout,
	}
}
