// configuration package contains the structs that map to the sharkd configuration file.
package configuration

import (
	"io"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/davidoram/sharkd/core"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, eg: SHARKD_WEBHOOK_TIMEOUT=5s
const EnvPrefix = "SHARKD"

type Config struct {
	Listen   string    `mapstructure:"listen" valid:"required"`
	DB       string    `mapstructure:"db" valid:"required"`
	LogLevel string    `mapstructure:"log_level" valid:"in(debug|info|warn|error)"`
	Webhook  Webhook   `mapstructure:"webhook"`
	Auth     Auth      `mapstructure:"auth"`
	Session  Session   `mapstructure:"session"`
	Kafka    Kafka     `mapstructure:"kafka"`
	Redis    Redis     `mapstructure:"redis"`
	Services []Service `mapstructure:"services"`
}

// Webhook controls the HTTP client used for every service webhook
type Webhook struct {
	Timeout        time.Duration `mapstructure:"timeout" valid:"-"`
	MaxRetries     int           `mapstructure:"max_retries" valid:"type(int),range(0|10)"`
	RetryAlgorithm string        `mapstructure:"retry_algorithm" valid:"in(exponential|fixed|backoff)"`
	RetryInterval  time.Duration `mapstructure:"retry_interval" valid:"-"`
	SharedSecret   string        `mapstructure:"shared_secret"`
}

// Auth configures ticket authentication, it is disabled when TicketURL is empty
type Auth struct {
	TicketURL  string   `mapstructure:"ticket_url" valid:"url,optional"`
	AuthFields []string `mapstructure:"auth_fields" valid:"-"`
}

type Session struct {
	OutboxSize int `mapstructure:"outbox_size" valid:"type(int),range(1|100000)"`
	MaxPending int `mapstructure:"max_pending" valid:"type(int),range(1|100000)"`
}

// Kafka is disabled when Servers is empty
type Kafka struct {
	Servers string `mapstructure:"servers"`
	Topic   string `mapstructure:"topic"`
}

// Redis is disabled when Addr is empty
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" valid:"-"`
	Prefix   string `mapstructure:"prefix"`
}

// Service is a service definition seeded into the database at startup
type Service struct {
	Name                  string   `mapstructure:"name" valid:"alphanum,required"`
	Authorizer            string   `mapstructure:"authorizer" valid:"url,optional"`
	BeforeSubscribe       string   `mapstructure:"before_subscribe" valid:"url,optional"`
	OnSubscribe           string   `mapstructure:"on_subscribe" valid:"url,optional"`
	OnMessage             string   `mapstructure:"on_message" valid:"url,optional"`
	BeforeUnsubscribe     string   `mapstructure:"before_unsubscribe" valid:"url,optional"`
	OnUnsubscribe         string   `mapstructure:"on_unsubscribe" valid:"url,optional"`
	ExtraFields           []string `mapstructure:"extra_fields" valid:"-"`
	FilterFields          []string `mapstructure:"filter_fields" valid:"-"`
	RequireAuthentication *bool    `mapstructure:"require_authentication" valid:"-"`
}

func (k Kafka) Enabled() bool {
	return k.Servers != ""
}

func (r Redis) Enabled() bool {
	return r.Addr != ""
}

func (a Auth) Enabled() bool {
	return a.TicketURL != ""
}

// Core converts the webhook settings into the configuration of a core.WebhookClient
func (w Webhook) Core() (core.Config, error) {
	cfg := core.DefaultConfig().WithTimeout(w.Timeout)
	cfg.MaxRetries = w.MaxRetries
	cfg.SharedSecret = w.SharedSecret
	retry, ok := core.NewRetrier(w.RetryAlgorithm, w.RetryInterval)
	if !ok {
		return cfg, errors.Errorf("invalid retry algorithm: '%s'", w.RetryAlgorithm)
	}
	cfg.Retry = retry
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("listen", ":8080")
	v.SetDefault("db", "sharkd.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("webhook.timeout", 15*time.Second)
	v.SetDefault("webhook.max_retries", 2)
	v.SetDefault("webhook.retry_algorithm", "exponential")
	v.SetDefault("webhook.retry_interval", 100*time.Millisecond)
	v.SetDefault("webhook.shared_secret", "")
	v.SetDefault("auth.ticket_url", "")
	v.SetDefault("session.outbox_size", core.DefaultOutboxSize)
	v.SetDefault("session.max_pending", core.DefaultMaxPending)
	v.SetDefault("kafka.servers", "")
	v.SetDefault("kafka.topic", "sharkd")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sharkd:")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file at path, yaml or json by extension. An empty path
// uses the defaults and environment only.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "reading config %s", path)
		}
	}
	return decode(v)
}

// Read parses configuration of the given type ("yaml", "json") from in
func Read(in io.Reader, configType string) (Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(in); err != nil {
		return Config{}, errors.Wrap(err, "reading config")
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decoding config")
	}
	if _, err := govalidator.ValidateStruct(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
