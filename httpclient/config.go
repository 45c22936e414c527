package httpclient

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/redis/go-redis/v9"
)

// ClientConfig is the file and environment form of a client configuration.
//
// Example YAML:
//
//	id: payments
//	baseurl: https://payments.internal/v1
//	timeout: 5s
//	headers:
//	  x-team: checkout
//	retry:
//	  enabled: true
//	  limit: 3
//	  initialdelay: 200ms
//	breaker:
//	  enabled: true
//	  redis: localhost:6379
//
// Environment variables override the file: with prefix "PAYMENTS_",
// PAYMENTS_RETRY_LIMIT=5 sets retry.limit. Comma separated values set lists.
type ClientConfig struct {
	ID        string            `koanf:"id"`
	BaseURL   string            `koanf:"baseurl" validate:"omitempty,url"`
	Timeout   time.Duration     `koanf:"timeout" validate:"gte=0"`
	Headers   map[string]string `koanf:"headers"`
	Redirect  string            `koanf:"redirect" validate:"oneof=follow error manual"`
	Debug     bool              `koanf:"debug"`
	Coalesce  bool              `koanf:"coalesce"`
	Retry     RetryConfig       `koanf:"retry"`
	Breaker   BreakerSettings   `koanf:"breaker"`
	RateLimit RateLimitConfig   `koanf:"ratelimit"`
	Transport TransportSettings `koanf:"transport"`
}

// RetryConfig is the file form of a RetryPolicy. Empty lists keep the defaults.
type RetryConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Limit             int           `koanf:"limit" validate:"gte=0,lte=20"`
	Methods           []string      `koanf:"methods" validate:"dive,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS TRACE"`
	StatusCodes       []int         `koanf:"statuscodes" validate:"dive,gte=100,lte=599"`
	Codes             []string      `koanf:"codes" validate:"dive,required"`
	InitialDelay      time.Duration `koanf:"initialdelay" validate:"gte=0"`
	RespectRetryAfter bool          `koanf:"respectretryafter"`
}

// BreakerSettings is the file form of a BreakerConfig.
type BreakerSettings struct {
	Enabled             bool          `koanf:"enabled"`
	MaxRequests         uint32        `koanf:"maxrequests"`
	Interval            time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout             time.Duration `koanf:"timeout" validate:"gte=0"`
	ConsecutiveFailures uint32        `koanf:"consecutivefailures"`
	FailureThreshold    uint32        `koanf:"failurethreshold"`
	FailureRatio        float64       `koanf:"failureratio" validate:"gte=0,lte=1"`

	// Redis, when set, is the address of the Redis server that shares the
	// breaker state between instances.
	Redis string `koanf:"redis" validate:"omitempty,hostname_port"`
}

// TransportSettings selects a default transport preset.
type TransportSettings struct {
	Preset string `koanf:"preset" validate:"oneof=default highthroughput lowlatency"`
}

var configDefaults = map[string]any{
	"timeout":                     DefaultTimeout.String(),
	"redirect":                    string(RedirectFollow),
	"retry.limit":                 DefaultRetryLimit,
	"retry.initialdelay":          DefaultInitialDelay.String(),
	"breaker.maxrequests":         1,
	"breaker.interval":            "10s",
	"breaker.timeout":             "10s",
	"breaker.consecutivefailures": 5,
	"breaker.failurethreshold":    20,
	"breaker.failureratio":        0.5,
	"ratelimit.burst":             10,
	"ratelimit.wait":              true,
	"transport.preset":            "default",
}

// LoadConfig reads a client configuration from a YAML file, then applies
// environment overrides for variables starting with envPrefix. An empty
// path skips the file; an empty envPrefix skips the environment.
func LoadConfig(path, envPrefix string) (*ClientConfig, error) {
	var src koanf.Provider
	if path != "" {
		src = file.Provider(path)
	}
	return loadConfig(src, envPrefix)
}

// ParseConfig is LoadConfig reading the YAML document from data.
func ParseConfig(data []byte, envPrefix string) (*ClientConfig, error) {
	return loadConfig(rawbytes.Provider(data), envPrefix)
}

func loadConfig(src koanf.Provider, envPrefix string) (*ClientConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(configDefaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if src != nil {
		if err := k.Load(src, yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load client config: %w", err)
		}
	}

	if envPrefix != "" {
		if err := k.Load(env.Provider(".", env.Opt{
			Prefix:        envPrefix,
			TransformFunc: envTransform(envPrefix),
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	var cfg ClientConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &cfg, nil
}

// envTransform maps PREFIX_RETRY_LIMIT to retry.limit and splits comma
// separated values into lists.
func envTransform(prefix string) func(k, v string) (string, any) {
	return func(k, v string) (string, any) {
		k = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, prefix)), "_", ".")
		if strings.Contains(v, ",") {
			parts := strings.Split(v, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return k, parts
		}
		return k, v
	}
}

// Options converts the configuration into client options.
func (c *ClientConfig) Options() []Option {
	opts := []Option{
		WithID(c.ID),
		WithBaseURL(c.BaseURL),
		WithTimeout(c.Timeout),
		WithRedirect(RedirectPolicy(c.Redirect)),
		WithDebug(c.Debug),
	}

	if len(c.Headers) > 0 {
		headers := make(map[string]any, len(c.Headers))
		for k, v := range c.Headers {
			headers[k] = v
		}
		opts = append(opts, WithHeaders(headers))
	}

	if c.Coalesce {
		opts = append(opts, WithCoalescing())
	}

	if c.Retry.Enabled {
		opts = append(opts, WithRetry(c.Retry.policy()))
	}

	if c.Breaker.Enabled {
		opts = append(opts, WithCircuitBreaker(c.Breaker.config()))
	}

	if c.RateLimit.RequestsPerSecond > 0 {
		opts = append(opts, WithRateLimit(c.RateLimit))
	}

	switch c.Transport.Preset {
	case "highthroughput":
		opts = append(opts, WithTransportConfig(HighThroughputTransportConfig()))
	case "lowlatency":
		opts = append(opts, WithTransportConfig(LowLatencyTransportConfig()))
	}

	return opts
}

func (r RetryConfig) policy() RetryPolicy {
	p := RetryPolicy{Limit: r.Limit}
	if len(r.Methods) > 0 {
		p.Methods = r.Methods
	}
	if len(r.StatusCodes) > 0 {
		p.StatusCodes = r.StatusCodes
	}
	if len(r.Codes) > 0 {
		p.Codes = r.Codes
	}
	if r.InitialDelay > 0 {
		p.Delay = ExponentialDelay(r.InitialDelay)
	}
	if r.RespectRetryAfter {
		p.Delay = RetryAfterDelay(p.Delay)
	}
	return p
}

func (b BreakerSettings) config() BreakerConfig {
	cfg := BreakerConfig{
		MaxRequests:         b.MaxRequests,
		Interval:            b.Interval,
		Timeout:             b.Timeout,
		FailureThreshold:    b.FailureThreshold,
		FailureRatio:        b.FailureRatio,
		ConsecutiveFailures: b.ConsecutiveFailures,
		Classifier:          DefaultBreakerClassifier,
	}
	if b.Redis != "" {
		cfg.Store = NewRedisStore(redis.NewClient(&redis.Options{Addr: b.Redis}))
	}
	return cfg
}
