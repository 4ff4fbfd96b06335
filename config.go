package restq

import (
	"net/http"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config carries the environment-supplied client settings: base URL,
// timeout and default headers come from the deployment, not from code.
type Config struct {
	BaseURL        string        `env:"RESTQ_BASE_URL"`
	Timeout        time.Duration `env:"RESTQ_TIMEOUT,default=30s"`
	DefaultHeaders string        `env:"RESTQ_DEFAULT_HEADERS"` // "Key: value; Key2: value2"
	StaleTime      time.Duration `env:"RESTQ_STALE_TIME,default=5m"`
	MaxRetries     int           `env:"RESTQ_MAX_RETRIES,default=3"`
	InitialBackoff time.Duration `env:"RESTQ_INITIAL_BACKOFF,default=100ms"`
	MaxBackoff     time.Duration `env:"RESTQ_MAX_BACKOFF,default=10s"`
	RedisAddr      string        `env:"RESTQ_REDIS_ADDR"`
}

// LoadConfig reads configuration from the environment. Any given dotenv
// files are loaded first; missing files are ignored so production
// deployments need no .env.
func LoadConfig(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, &Error{
			Kind:    KindConfig,
			Message: "failed to decode environment configuration",
			Cause:   err,
		}
	}
	return &cfg, nil
}

// Headers parses DefaultHeaders ("Key: value; Key2: value2") into an
// http.Header.
func (c *Config) Headers() http.Header {
	headers := make(http.Header)
	for _, pair := range strings.Split(c.DefaultHeaders, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		headers.Add(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
	return headers
}

// Options expands the config into client options.
func (c *Config) Options() []Option {
	opts := []Option{
		WithTimeout(c.Timeout),
		WithMaxRetries(c.MaxRetries),
		WithInitialBackoff(c.InitialBackoff),
		WithMaxBackoff(c.MaxBackoff),
	}
	if c.BaseURL != "" {
		opts = append(opts, WithBaseURL(c.BaseURL))
	}
	if headers := c.Headers(); len(headers) > 0 {
		opts = append(opts, WithDefaultHeaders(headers))
	}
	return opts
}

// QueryOptions expands the config into query engine options.
func (c *Config) QueryOptions() []QueryOption {
	return []QueryOption{WithStaleTime(c.StaleTime)}
}
