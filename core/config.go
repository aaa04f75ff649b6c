package core

import "time"

const MinTimeout = time.Millisecond * 100

// Config controls how service webhooks are called
type Config struct {
	Timeout      time.Duration // Client side timeout of a single webhook call
	MaxRetries   int           // Retries of transport errors and 5xx responses, 0 disables retries
	Retry        Retrier
	SharedSecret string // Sent as a bearer token on every webhook call when set
}

// DefaultConfig uses a 15s timeout and 2 retries
func DefaultConfig() Config {
	return Config{
		Timeout:    15 * time.Second,
		MaxRetries: 2,
		Retry:      ExponentialRetrier{},
	}
}

func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = MinTimeout
	if timeout > MinTimeout {
		c.Timeout = timeout
	}
	return c
}
