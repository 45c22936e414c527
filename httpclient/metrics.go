package httpclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Call outcomes recorded on http.client.call.duration.
const (
	outcomeSuccess  = "success"
	outcomeError    = "error"
	outcomeTimeout  = "timeout"
	outcomeCanceled = "canceled"
)

// metrics holds the metric instruments for HTTP client operations.
//
// Attempt level instruments are recorded by the instrumented transport,
// call level instruments by the executor and the retrier.
type metrics struct {
	// === Attempt Metrics ===

	// requestDuration measures the duration of each physical attempt in seconds.
	// Buckets follow OTel semconv.
	requestDuration  metric.Float64Histogram
	requestBodySize  metric.Int64Histogram
	responseBodySize metric.Int64Histogram
	activeRequests   metric.Int64UpDownCounter
	requestErrors    metric.Int64Counter

	// === Network Timing Metrics ===

	connectionDuration metric.Float64Histogram
	ttfb               metric.Float64Histogram

	// === Call Metrics ===

	// callDuration measures a whole call, from Do to settlement, retries
	// and hooks included. Tagged with call.outcome.
	callDuration metric.Float64Histogram

	// === Retry Metrics ===

	retryAttempts  metric.Int64Counter
	retryExhausted metric.Int64Counter
	retryDuration  metric.Float64Histogram

	// === Circuit Breaker Metrics ===

	breakerRequests metric.Int64Counter
	breakerState    metric.Int64Gauge
}

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10}
	connectBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	sizeBuckets    = []float64{0, 100, 1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024}
)

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var err error

	seconds := func(name, desc string, buckets []float64) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
		return h
	}
	bytesHist := func(name, desc string) metric.Int64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Int64Histogram
		h, err = meter.Int64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("By"),
			metric.WithExplicitBucketBoundaries(sizeBuckets...),
		)
		return h
	}
	counter := func(name, desc, unit string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		return c
	}

	m.requestDuration = seconds("http.client.request.duration",
		"Duration of HTTP client requests in seconds", latencyBuckets)
	m.requestBodySize = bytesHist("http.client.request.body.size",
		"Size of HTTP client request bodies in bytes")
	m.responseBodySize = bytesHist("http.client.response.body.size",
		"Size of HTTP client response bodies in bytes")
	m.connectionDuration = seconds("http.client.connection.duration",
		"Time to establish HTTP connection in seconds", connectBuckets)
	m.ttfb = seconds("http.client.ttfb",
		"Time to first response byte in seconds", latencyBuckets)
	m.callDuration = seconds("http.client.call.duration",
		"Duration of HTTP client calls including retries and hooks in seconds", latencyBuckets)
	m.retryDuration = seconds("http.client.retry.duration",
		"Total time spent in retry loop in seconds",
		[]float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120})
	m.requestErrors = counter("http.client.request.error",
		"Number of HTTP client request errors", "{error}")
	m.retryAttempts = counter("http.client.retry.attempts",
		"Number of HTTP client retry attempts", "{attempt}")
	m.retryExhausted = counter("http.client.retry.exhausted",
		"Number of calls that exhausted all retries", "{request}")
	m.breakerRequests = counter("http.client.circuit_breaker.requests",
		"Number of requests seen by the circuit breaker by result", "{request}")
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of active HTTP client requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.breakerState, err = meter.Int64Gauge(
		"http.client.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 half-open, 2 open"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func withExtra(attrs []attribute.KeyValue, extra ...attribute.KeyValue) metric.MeasurementOption {
	all := make([]attribute.KeyValue, 0, len(attrs)+len(extra))
	all = append(all, attrs...)
	all = append(all, extra...)
	return metric.WithAttributes(all...)
}

func (m *metrics) recordRequestDuration(ctx context.Context, duration time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordRequestBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.requestBodySize == nil {
		return
	}
	m.requestBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordResponseBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil || m.responseBodySize == nil {
		return
	}
	m.responseBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordConnectionDuration(ctx context.Context, duration time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.connectionDuration == nil {
		return
	}
	m.connectionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// recordTTFB records Time To First Byte.
func (m *metrics) recordTTFB(ctx context.Context, duration time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.ttfb == nil {
		return
	}
	m.ttfb.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
}

// recordError records a transport error.
func (m *metrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m == nil || m.requestErrors == nil {
		return
	}
	m.requestErrors.Add(ctx, 1, withExtra(attrs, attribute.String("error.type", errorType)))
}

// recordCall records the duration and outcome of a settled call.
func (m *metrics) recordCall(ctx context.Context, duration time.Duration, outcome string, attrs []attribute.KeyValue) {
	if m == nil || m.callDuration == nil {
		return
	}
	m.callDuration.Record(ctx, duration.Seconds(), withExtra(attrs, attribute.String("call.outcome", outcome)))
}

func (m *metrics) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue, attempt int) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, withExtra(attrs, attribute.Int("retry.attempt", attempt)))
}

// recordRetryExhausted records a call whose retries ran out.
// A high value indicates downstream service issues.
func (m *metrics) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil || m.retryExhausted == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetryDuration(ctx context.Context, attrs []attribute.KeyValue, duration time.Duration) {
	if m == nil || m.retryDuration == nil {
		return
	}
	m.retryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// recordBreakerRequest counts a request seen by the breaker.
// result is one of "success", "failure" or "rejected".
func (m *metrics) recordBreakerRequest(ctx context.Context, name, result string, attrs []attribute.KeyValue) {
	if m == nil || m.breakerRequests == nil {
		return
	}
	m.breakerRequests.Add(ctx, 1, withExtra(attrs,
		attribute.String("circuit_breaker.name", name),
		attribute.String("circuit_breaker.result", result),
	))
}

// recordBreakerState records the breaker state after a transition.
func (m *metrics) recordBreakerState(ctx context.Context, name string, state int64, attrs []attribute.KeyValue) {
	if m == nil || m.breakerState == nil {
		return
	}
	m.breakerState.Record(ctx, state, withExtra(attrs, attribute.String("circuit_breaker.name", name)))
}
