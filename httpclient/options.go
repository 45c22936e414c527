package httpclient

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/sentinel-go/httpclient"

	// DefaultTimeout is the client timeout used when WithTimeout is not given.
	DefaultTimeout = 60 * time.Second
)

// =============================================================================
// TransportConfig - default transport tuning
// =============================================================================

// TransportConfig tunes the *http.Transport behind the default transport.
// It is ignored when WithTransport or WithMockTransport is used.
//
// The call deadline is not part of it: see WithTimeout.
type TransportConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive)
	// connections across all hosts.
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections kept per host.
	// If you mostly call one service, set it close to MaxIdleConns.
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits idle plus active connections per host. 0 means unlimited.
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays in the pool.
	// Keep it below the idle timeout of the load balancer in front of the service.
	// Default: 90s
	IdleConnTimeout time.Duration

	// Default: 10s
	TLSHandshakeTimeout time.Duration

	// Default: 1s
	ExpectContinueTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers after the
	// request is written. Zero leaves it to the call timeout.
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds TCP connection establishment.
	// Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive interval.
	// Default: 30s
	KeepAlive time.Duration

	// FallbackDelay is the RFC 6555 Happy Eyeballs delay. Negative disables it.
	// Default: 300ms
	FallbackDelay time.Duration

	// Default: 64KB
	WriteBufferSize int
	// Default: 64KB
	ReadBufferSize int

	// MaxResponseHeaderBytes limits the size of response headers.
	// Default: 0 (http.DefaultMaxHeaderBytes)
	MaxResponseHeaderBytes int64

	DisableKeepAlives bool

	// DisableCompression stops the transport from asking for gzip.
	// Default: true
	DisableCompression bool

	ForceHTTP2 bool
}

// DefaultTransportConfig returns balanced settings for typical service to
// service traffic.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DialTimeout:           5 * time.Second,
		KeepAlive:             30 * time.Second,
		FallbackDelay:         300 * time.Millisecond,
		WriteBufferSize:       64 * 1024,
		ReadBufferSize:        64 * 1024,
		DisableCompression:    true,
	}
}

// HighThroughputTransportConfig returns settings for many concurrent calls to
// the same hosts: a larger pool, bigger buffers and no per-host connection cap.
func HighThroughputTransportConfig() TransportConfig {
	cfg := DefaultTransportConfig()
	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.WriteBufferSize = 128 * 1024
	cfg.ReadBufferSize = 128 * 1024
	return cfg
}

// LowLatencyTransportConfig returns settings that fail fast on slow dials
// and handshakes.
func LowLatencyTransportConfig() TransportConfig {
	cfg := DefaultTransportConfig()
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ExpectContinueTimeout = 500 * time.Millisecond
	cfg.ResponseHeaderTimeout = 3 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.FallbackDelay = 150 * time.Millisecond
	cfg.WriteBufferSize = 32 * 1024
	cfg.ReadBufferSize = 32 * 1024
	cfg.ForceHTTP2 = true
	return cfg
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds the resolved client configuration.
type internalConfig struct {
	// === Call Defaults ===

	// ID identifies the client in error records, logs and as the
	// "http.client.name" attribute on spans and metrics.
	ID       string
	BaseURL  string
	Headers  map[string]any
	Timeout  time.Duration
	Retry    *RetryPolicy
	Redirect RedirectPolicy

	// Validate decides whether a response is a success. Default: 2xx.
	Validate func(*Response) bool

	// === Transport ===

	// Transport replaces the default transport collaborator.
	Transport http.RoundTripper

	transportConfig      TransportConfig
	TLSConfig            *tls.Config
	ProxyURL             *url.URL
	ProxyFromEnvironment bool

	BreakerConfig *BreakerConfig
	RateLimit     *RateLimitConfig

	// Coalesce shares one response between identical concurrent GET and
	// HEAD attempts.
	Coalesce bool

	// === Logging ===

	Logger       zerolog.Logger
	GenerateCurl bool

	// === OpenTelemetry ===

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        *metrics

	// EnableNetworkTrace adds DNS, connect and TLS events to attempt spans.
	// Default: true
	EnableNetworkTrace bool

	SpanNameFormatter SpanNameFormatter
	Propagators       propagation.TextMapPropagator

	// === Hooks ===

	initHooks     []InitHook
	requestHooks  []RequestHook
	responseHooks []ResponseHook
	errorHooks    []ErrorHook
}

// newConfig creates a new internal config with defaults and applies options.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		Timeout:              DefaultTimeout,
		Redirect:             RedirectFollow,
		transportConfig:      DefaultTransportConfig(),
		ProxyFromEnvironment: true,
		Logger:               zerolog.Nop(),
		TracerProvider:       otel.GetTracerProvider(),
		MeterProvider:        otel.GetMeterProvider(),
		EnableNetworkTrace:   true,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// Instruments stay nil when registration fails; every record call is nil-safe.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// buildTransport creates an http.Transport from the transport configuration.
func (cfg *internalConfig) buildTransport() *http.Transport {
	tc := cfg.transportConfig

	dialer := &net.Dialer{
		Timeout:       tc.DialTimeout,
		KeepAlive:     tc.KeepAlive,
		FallbackDelay: tc.FallbackDelay,
	}

	transport := &http.Transport{
		DialContext:            dialer.DialContext,
		MaxIdleConns:           tc.MaxIdleConns,
		MaxIdleConnsPerHost:    tc.MaxIdleConnsPerHost,
		MaxConnsPerHost:        tc.MaxConnsPerHost,
		IdleConnTimeout:        tc.IdleConnTimeout,
		TLSHandshakeTimeout:    tc.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  tc.ResponseHeaderTimeout,
		ExpectContinueTimeout:  tc.ExpectContinueTimeout,
		DisableKeepAlives:      tc.DisableKeepAlives,
		DisableCompression:     tc.DisableCompression,
		WriteBufferSize:        tc.WriteBufferSize,
		ReadBufferSize:         tc.ReadBufferSize,
		MaxResponseHeaderBytes: tc.MaxResponseHeaderBytes,
		TLSClientConfig:        cfg.TLSConfig,
		ForceAttemptHTTP2:      tc.ForceHTTP2,
	}

	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	} else if cfg.ProxyFromEnvironment {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return transport
}

// baseAttributes returns common attributes for all spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	if cfg.ID == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String("http.client.name", cfg.ID)}
}

// =============================================================================
// Options - Functional Options for Client Configuration
// =============================================================================

// SpanNameFormatter formats attempt span names.
//
// Default: "HTTP {method}", followed by the operation name when the call has one.
type SpanNameFormatter func(method string, r *http.Request) string

// Option configures the HTTP client.
type Option func(*internalConfig)

// WithID names the client. The ID appears in error records, logs, span and
// metric attributes, and names the circuit breaker.
func WithID(id string) Option {
	return func(cfg *internalConfig) {
		cfg.ID = id
	}
}

// WithBaseURL sets the URL that relative call URLs are joined to.
//
// Example:
//
//	client := httpclient.New(httpclient.WithBaseURL("https://api.example.com/v1"))
//	resp, err := client.Get(ctx, "/users", nil) // GET https://api.example.com/v1/users
func WithBaseURL(baseURL string) Option {
	return func(cfg *internalConfig) {
		cfg.BaseURL = baseURL
	}
}

// WithHeaders sets default headers sent with every call.
// Headers given on a call override these.
func WithHeaders(headers map[string]any) Option {
	return func(cfg *internalConfig) {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]any, len(headers))
		}
		for k, v := range headers {
			cfg.Headers[strings.ToLower(k)] = v
		}
	}
}

// WithHeader sets a single default header.
func WithHeader(name string, value any) Option {
	return WithHeaders(map[string]any{name: value})
}

// WithTimeout sets the default call timeout, measured from the first
// physical send and covering every retry. Zero or negative disables it.
//
// Default: 60s
func WithTimeout(d time.Duration) Option {
	return func(cfg *internalConfig) {
		cfg.Timeout = d
	}
}

// WithRetry enables retries with the given policy. Nil lists and funcs use
// the defaults; Limit is used as given.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithRetry(httpclient.RetryPolicy{
//	        Limit: 5,
//	        Delay: httpclient.RetryAfterDelay(nil),
//	    }),
//	)
func WithRetry(p RetryPolicy) Option {
	return func(cfg *internalConfig) {
		cfg.Retry = &p
	}
}

// WithDefaultRetry enables retries with DefaultRetryPolicy.
func WithDefaultRetry() Option {
	return WithRetry(DefaultRetryPolicy())
}

// WithoutRetry disables retries. This is the default.
func WithoutRetry() Option {
	return func(cfg *internalConfig) {
		cfg.Retry = nil
	}
}

// WithRedirect sets the default redirect policy.
//
// Default: RedirectFollow
func WithRedirect(p RedirectPolicy) Option {
	return func(cfg *internalConfig) {
		cfg.Redirect = p
	}
}

// WithValidate replaces the success check applied to every response.
//
// Example - accept 404 as a valid answer:
//
//	httpclient.WithValidate(func(r *httpclient.Response) bool {
//	    return r.IsSuccess() || r.StatusCode == http.StatusNotFound
//	})
func WithValidate(fn func(*Response) bool) Option {
	return func(cfg *internalConfig) {
		cfg.Validate = fn
	}
}

// WithTransport replaces the default transport collaborator. Tracing, the
// circuit breaker and the rate limiter still wrap it.
//
// Custom transports read the redirect, credentials and mode hints of a call
// with FetchOptionsFromRequest.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.Transport = rt
	}
}

// WithTransportConfig tunes the default transport.
// Use DefaultTransportConfig, HighThroughputTransportConfig or
// LowLatencyTransportConfig as a starting point.
func WithTransportConfig(c TransportConfig) Option {
	return func(cfg *internalConfig) {
		cfg.transportConfig = c
	}
}

// WithTLSConfig sets the TLS configuration of the default transport.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithProxyURL routes every call of the default transport through proxyURL.
// It takes precedence over the proxy environment variables.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyURL = proxyURL
		cfg.ProxyFromEnvironment = false
	}
}

// WithProxyFromEnvironment toggles HTTP_PROXY, HTTPS_PROXY and NO_PROXY support.
//
// Default: true
func WithProxyFromEnvironment(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyFromEnvironment = enabled
	}
}

// WithCircuitBreaker wraps the transport in a circuit breaker.
//
// Example - breaker state shared across instances through Redis:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	client := httpclient.New(
//	    httpclient.WithID("payments"),
//	    httpclient.WithCircuitBreaker(httpclient.DistributedBreakerConfig(httpclient.NewRedisStore(rdb))),
//	)
func WithCircuitBreaker(c BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &c
	}
}

// WithCoalescing enables request coalescing: identical bodiless GET and HEAD
// attempts in flight at the same time are sent once and share the response.
// Attempts match when their method, URL (query order ignored) and headers match.
func WithCoalescing() Option {
	return func(cfg *internalConfig) {
		cfg.Coalesce = true
	}
}

// WithRateLimit limits the rate of physical attempts made by the client.
func WithRateLimit(c RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimit = &c
	}
}

// WithLogger sets the logger used for debug and error events.
//
// Default: zerolog.Nop()
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
	}
}

// WithDebug logs every request, response, retry and outcome to stdout at
// debug level. It replaces any logger set with WithLogger.
func WithDebug(enabled bool) Option {
	return WithDebugWriter(enabled, nil)
}

// WithDebugWriter is WithDebug writing to w instead of stdout.
func WithDebugWriter(enabled bool, w io.Writer) Option {
	return func(cfg *internalConfig) {
		if enabled {
			cfg.Logger = newDebugLogger(w)
		}
	}
}

// WithGenerateCurl stores an equivalent cURL command on every response,
// available through Response.CurlCommand.
func WithGenerateCurl(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.GenerateCurl = enabled
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithDisableNetworkTrace drops the DNS, connect and TLS timing events from
// attempt spans.
func WithDisableNetworkTrace() Option {
	return func(cfg *internalConfig) {
		cfg.EnableNetworkTrace = false
	}
}

// WithSpanNameFormatter sets a custom function to generate span names.
//
// Example:
//
//	httpclient.WithSpanNameFormatter(func(method string, r *http.Request) string {
//	    return method + " " + r.URL.Path
//	})
func WithSpanNameFormatter(f SpanNameFormatter) Option {
	return func(cfg *internalConfig) {
		cfg.SpanNameFormatter = f
	}
}

// WithPropagators sets the propagators used to inject trace context into
// outgoing headers.
//
// Default: TraceContext + Baggage
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.Propagators = p
	}
}

// WithInitHook registers an init hook at construction time.
func WithInitHook(fn InitHook) Option {
	return func(cfg *internalConfig) {
		cfg.initHooks = append(cfg.initHooks, fn)
	}
}

// WithRequestHook registers a request hook at construction time.
func WithRequestHook(fn RequestHook) Option {
	return func(cfg *internalConfig) {
		cfg.requestHooks = append(cfg.requestHooks, fn)
	}
}

// WithResponseHook registers a response hook at construction time.
func WithResponseHook(fn ResponseHook) Option {
	return func(cfg *internalConfig) {
		cfg.responseHooks = append(cfg.responseHooks, fn)
	}
}

// WithErrorHook registers an error hook at construction time.
func WithErrorHook(fn ErrorHook) Option {
	return func(cfg *internalConfig) {
		cfg.errorHooks = append(cfg.errorHooks, fn)
	}
}
