package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// FetchOptions are the per-call transport hints carried in the request
// context. Custom transports read them with FetchOptionsFromRequest.
type FetchOptions struct {
	Redirect    RedirectPolicy
	Credentials Credentials
	Mode        Mode
	KeepAlive   bool
}

type fetchOptionsKey struct{}

func withFetchOptions(ctx context.Context, opts FetchOptions) context.Context {
	return context.WithValue(ctx, fetchOptionsKey{}, opts)
}

// FetchOptionsFromRequest returns the transport hints of req.
// Requests not built by a Client get the follow redirect policy.
func FetchOptionsFromRequest(req *http.Request) FetchOptions {
	if opts, ok := req.Context().Value(fetchOptionsKey{}).(FetchOptions); ok {
		return opts
	}
	return FetchOptions{Redirect: RedirectFollow}
}

type operationKey struct{}

func withOperation(ctx context.Context, operation string) context.Context {
	if operation == "" {
		return ctx
	}
	return context.WithValue(ctx, operationKey{}, operation)
}

func operationFromContext(ctx context.Context) string {
	op, _ := ctx.Value(operationKey{}).(string)
	return op
}

// maxRedirects matches the net/http default.
const maxRedirects = 10

// ErrRedirectNotAllowed is returned by the default transport when a call
// with RedirectError receives a redirect.
var ErrRedirectNotAllowed = errors.New("redirect not allowed")

// fetchTransport is the default transport collaborator: an *http.Client over
// a tuned *http.Transport that honors the per-call FetchOptions.
type fetchTransport struct {
	client *http.Client
}

func newFetchTransport(base http.RoundTripper) *fetchTransport {
	return &fetchTransport{
		client: &http.Client{
			Transport:     base,
			CheckRedirect: checkRedirect,
		},
	}
}

func (t *fetchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if FetchOptionsFromRequest(req).Credentials == CredentialsOmit {
		req = req.Clone(req.Context())
		req.Header.Del("Authorization")
		req.Header.Del("Cookie")
	}
	return t.client.Do(req)
}

func (t *fetchTransport) Unwrap() http.RoundTripper {
	return t.client.Transport
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	switch FetchOptionsFromRequest(req).Redirect {
	case RedirectManual:
		return http.ErrUseLastResponse
	case RedirectError:
		return ErrRedirectNotAllowed
	}
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

// Compile-time interface check.
var _ http.RoundTripper = (*otelTransport)(nil)

// otelTransport wraps an http.RoundTripper with OpenTelemetry instrumentation.
// Each physical attempt gets its own client span.
type otelTransport struct {
	base       http.RoundTripper
	cfg        *internalConfig
	propagator propagation.TextMapPropagator
}

func newOtelTransport(base http.RoundTripper, cfg *internalConfig) *otelTransport {
	propagator := cfg.Propagators
	if propagator == nil {
		propagator = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)
	}
	return &otelTransport{
		base:       base,
		cfg:        cfg,
		propagator: propagator,
	}
}

// RoundTrip implements http.RoundTripper with full tracing and metrics.
//
// On success the span stays open until the response body is closed, so it
// covers the body transfer as well.
func (t *otelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx := req.Context()

	ctx, span := t.cfg.Tracer.Start(ctx, t.spanName(req),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.requestAttributes(req)...),
	)

	// The request may be reused by the caller, so headers are injected into a clone.
	req = req.Clone(ctx)
	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	baseAttrs := t.cfg.baseAttributes()
	t.cfg.Metrics.recordActiveRequestStart(ctx, baseAttrs)
	defer t.cfg.Metrics.recordActiveRequestEnd(ctx, baseAttrs)

	if req.ContentLength > 0 {
		t.cfg.Metrics.recordRequestBodySize(ctx, req.ContentLength, baseAttrs)
	}

	var nt *networkTrace
	if t.cfg.EnableNetworkTrace {
		nt = &networkTrace{}
		req = req.WithContext(httptrace.WithClientTrace(ctx, createClientTrace(nt)))
	}

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if nt != nil {
		nt.addTraceEvents(span)
		nt.recordTimingMetrics(ctx, t.cfg.Metrics, baseAttrs)
	}

	if err != nil {
		errorType := classifyError(err)
		setSpanError(span, err, errorType)
		t.cfg.Metrics.recordError(ctx, errorType, baseAttrs)
		t.cfg.Metrics.recordRequestDuration(ctx, duration, t.errorAttributes(req, errorType))
		span.End()
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		errorType := errorTypeFromStatusCode(resp.StatusCode)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		span.SetAttributes(attribute.String("error.type", errorType))
	}

	t.cfg.Metrics.recordRequestDuration(ctx, duration, t.metricsAttributes(req, resp))

	if resp.Body == nil {
		span.End()
		return resp, nil
	}

	resp.Body = newWrappedBody(span, resp.Body, func(n int64) {
		span.SetAttributes(attribute.Int64("http.response.body.size", n))
		t.cfg.Metrics.recordResponseBodySize(ctx, n, baseAttrs)
	})
	return resp, nil
}

func (t *otelTransport) Unwrap() http.RoundTripper {
	return t.base
}

func (t *otelTransport) spanName(req *http.Request) string {
	if t.cfg.SpanNameFormatter != nil {
		return t.cfg.SpanNameFormatter(req.Method, req)
	}
	if op := operationFromContext(req.Context()); op != "" {
		return "HTTP " + req.Method + " " + op
	}
	return "HTTP " + req.Method
}

// requestAttributes returns span attributes for the request.
func (t *otelTransport) requestAttributes(req *http.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 10)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	attrs = append(attrs, serverAttributes(req)...)

	if req.URL != nil {
		attrs = append(attrs,
			attribute.String("url.full", req.URL.String()),
			attribute.String("url.scheme", req.URL.Scheme),
		)
	}
	if op := operationFromContext(req.Context()); op != "" {
		attrs = append(attrs, attribute.String("http.client.operation", op))
	}
	if req.ContentLength > 0 {
		attrs = append(attrs, attribute.Int64("http.request.body.size", req.ContentLength))
	}
	if ua := req.UserAgent(); ua != "" {
		attrs = append(attrs, attribute.String("user_agent.original", ua))
	}
	return attrs
}

// metricsAttributes returns attributes for metrics recording.
func (t *otelTransport) metricsAttributes(req *http.Request, resp *http.Response) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	attrs = append(attrs, serverAttributes(req)...)
	attrs = append(attrs, attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		attrs = append(attrs, attribute.String("error.type", strconv.Itoa(resp.StatusCode)))
	}
	return attrs
}

// errorAttributes returns attributes for error metrics.
func (t *otelTransport) errorAttributes(req *http.Request, errorType string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5)
	attrs = append(attrs, t.cfg.baseAttributes()...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	attrs = append(attrs, serverAttributes(req)...)
	if errorType != "" {
		attrs = append(attrs, attribute.String("error.type", errorType))
	}
	return attrs
}

// serverAttributes returns server.address and server.port, defaulting the
// port from the scheme.
func serverAttributes(req *http.Request) []attribute.KeyValue {
	if req.URL == nil {
		return nil
	}

	attrs := make([]attribute.KeyValue, 0, 2)
	if host := req.URL.Hostname(); host != "" {
		attrs = append(attrs, attribute.String("server.address", host))
	}

	if port := req.URL.Port(); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			attrs = append(attrs, attribute.Int("server.port", p))
		}
		return attrs
	}

	switch req.URL.Scheme {
	case "http":
		attrs = append(attrs, attribute.Int("server.port", 80))
	case "https":
		attrs = append(attrs, attribute.Int("server.port", 443))
	}
	return attrs
}

// wrappedBody wraps a response body to track the bytes read and end the
// attempt span when the body is closed or EOF is reached.
type wrappedBody struct {
	span   trace.Span
	body   io.ReadCloser
	read   atomic.Int64
	closed atomic.Bool

	// onClose is called with total bytes read when body is closed
	onClose func(bytesRead int64)
}

func newWrappedBody(span trace.Span, body io.ReadCloser, onClose func(bytesRead int64)) io.ReadCloser {
	return &wrappedBody{
		span:    span,
		body:    body,
		onClose: onClose,
	}
}

func (w *wrappedBody) Read(p []byte) (int, error) {
	n, err := w.body.Read(p)
	w.read.Add(int64(n))

	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		w.endSpan()
	default:
		w.span.RecordError(err)
		w.span.SetStatus(codes.Error, err.Error())
	}

	return n, err
}

func (w *wrappedBody) Close() error {
	w.endSpan()
	return w.body.Close()
}

// endSpan ends the span exactly once (Close may follow EOF).
func (w *wrappedBody) endSpan() {
	if w.closed.CompareAndSwap(false, true) {
		if w.onClose != nil {
			w.onClose(w.read.Load())
		}
		w.span.End()
	}
}
