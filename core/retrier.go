package core

import (
	"math"
	"time"

	"github.com/jpillora/backoff"
)

// Retrier decides how long the WebhookClient waits before retrying a failed call.
type Retrier interface {
	RetryIn(retries, maxretries int) time.Duration
	Name() string
}

// ExponentialRetrier returns a duration that increases exponentially
// with each retry, up to maxretries, with a base of Base (100ms when unset).
// This yields the following retries with the default base:
// 0: 100ms
// 1: 200ms
// 2: 400ms
// 3: 800ms
// 4: 1.6s
// 5: 3.2s
type ExponentialRetrier struct {
	Base time.Duration
}

func (r ExponentialRetrier) RetryIn(retries, maxretries int) time.Duration {
	base := r.Base
	if base == 0 {
		base = 100 * time.Millisecond
	}
	if retries > maxretries {
		retries = maxretries
	}
	return time.Duration(math.Pow(2, float64(retries))) * base
}

func (r ExponentialRetrier) Name() string {
	return "exponential"
}

// FixedRetrier waits the same duration between every retry
type FixedRetrier struct {
	Duration time.Duration
}

func (r FixedRetrier) RetryIn(retries, maxretries int) time.Duration {
	return r.Duration
}

func (r FixedRetrier) Name() string {
	return "fixed"
}

// BackoffRetrier uses jittered exponential backoff, capped at Max
type BackoffRetrier struct {
	Min    time.Duration
	Max    time.Duration
	Jitter bool
}

func (r BackoffRetrier) RetryIn(retries, maxretries int) time.Duration {
	b := &backoff.Backoff{
		Min:    r.Min,
		Max:    r.Max,
		Factor: 2,
		Jitter: r.Jitter,
	}
	if retries > maxretries {
		retries = maxretries
	}
	return b.ForAttempt(float64(retries))
}

func (r BackoffRetrier) Name() string {
	return "backoff"
}

// NewRetrier returns the retrier registered under name, or false if the name is unknown
func NewRetrier(name string, interval time.Duration) (Retrier, bool) {
	switch name {
	case "exponential", "":
		return ExponentialRetrier{Base: interval}, true
	case "fixed":
		return FixedRetrier{Duration: interval}, true
	case "backoff":
		return BackoffRetrier{Min: interval, Max: 10 * time.Second, Jitter: true}, true
	}
	return nil, false
}
