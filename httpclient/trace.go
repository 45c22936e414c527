package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error type classifications for the error.type attribute.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeCircuitOpen       = "circuit_open"
	ErrorTypeRateLimited       = "rate_limited"
	ErrorTypeUnknown           = "unknown"
)

// networkTrace holds timing data collected from httptrace.ClientTrace.
// Callbacks may run on transport goroutines, hence the mutex.
type networkTrace struct {
	mu sync.Mutex

	dnsStart     time.Time
	dnsDone      time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	gotConn      time.Time
	wroteRequest time.Time
	firstByte    time.Time

	connReused bool
	connRemote string
}

// createClientTrace creates an httptrace.ClientTrace that populates networkTrace.
func createClientTrace(nt *networkTrace) *httptrace.ClientTrace {
	mark := func(dst *time.Time) {
		nt.mu.Lock()
		*dst = time.Now()
		nt.mu.Unlock()
	}

	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			nt.mu.Lock()
			defer nt.mu.Unlock()
			nt.gotConn = time.Now()
			nt.connReused = info.Reused
			if info.Conn != nil && info.Conn.RemoteAddr() != nil {
				nt.connRemote = info.Conn.RemoteAddr().String()
			}
		},
		DNSStart:             func(httptrace.DNSStartInfo) { mark(&nt.dnsStart) },
		DNSDone:              func(httptrace.DNSDoneInfo) { mark(&nt.dnsDone) },
		ConnectStart:         func(_, _ string) { mark(&nt.connectStart) },
		ConnectDone:          func(_, _ string, _ error) { mark(&nt.connectDone) },
		TLSHandshakeStart:    func() { mark(&nt.tlsStart) },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { mark(&nt.tlsDone) },
		WroteRequest:         func(httptrace.WroteRequestInfo) { mark(&nt.wroteRequest) },
		GotFirstResponseByte: func() { mark(&nt.firstByte) },
	}
}

// addTraceEvents adds span events for network timing.
func (nt *networkTrace) addTraceEvents(span trace.Span) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	phase := func(name string, start, end time.Time) {
		if start.IsZero() || end.IsZero() {
			return
		}
		span.AddEvent(name+".done", trace.WithTimestamp(end), trace.WithAttributes(
			attribute.Float64(name+".duration_ms", float64(end.Sub(start).Milliseconds())),
		))
	}
	phase("dns", nt.dnsStart, nt.dnsDone)
	phase("connect", nt.connectStart, nt.connectDone)
	phase("tls", nt.tlsStart, nt.tlsDone)

	if !nt.gotConn.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(nt.gotConn), trace.WithAttributes(
			attribute.Bool("connection.reused", nt.connReused),
			attribute.String("network.peer.address", nt.connRemote),
		))
	}
	phase("ttfb", nt.wroteRequest, nt.firstByte)
}

// recordTimingMetrics records connection timing metrics.
func (nt *networkTrace) recordTimingMetrics(ctx context.Context, m *metrics, attrs []attribute.KeyValue) {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	if !nt.connectStart.IsZero() && !nt.connectDone.IsZero() {
		m.recordConnectionDuration(ctx, nt.connectDone.Sub(nt.connectStart), attrs)
	}
	if !nt.wroteRequest.IsZero() && !nt.firstByte.IsZero() {
		m.recordTTFB(ctx, nt.firstByte.Sub(nt.wroteRequest), attrs)
	}
}

// classifyError returns an error.type classification for the given error.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return ErrorTypeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var certErr *tls.CertificateVerificationError
	var recordErr tls.RecordHeaderError
	if errors.As(err, &certErr) || errors.As(err, &recordErr) {
		return ErrorTypeTLSError
	}

	switch transportCode(err) {
	case CodeTimedOut:
		return ErrorTypeTimeout
	case CodeConnRefused:
		return ErrorTypeConnectionRefused
	case CodeConnReset, CodeBrokenPipe, CodeConnAborted:
		return ErrorTypeConnectionReset
	case CodeNotFound, CodeDNSTemporary:
		return ErrorTypeDNSError
	case CodeCircuitOpen, CodeTooManyInHalf:
		return ErrorTypeCircuitOpen
	case CodeRateLimited:
		return ErrorTypeRateLimited
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "tls") || strings.Contains(errStr, "x509") ||
		strings.Contains(errStr, "certificate") {
		return ErrorTypeTLSError
	}

	return ErrorTypeUnknown
}

// errorTypeFromStatusCode returns error.type for HTTP status codes.
// Per OTel semconv, the status code itself is used as the error type for 4xx/5xx.
func errorTypeFromStatusCode(statusCode int) string {
	if statusCode >= 400 {
		return strconv.Itoa(statusCode)
	}
	return ""
}

// setSpanError records an error on the span with proper status and attributes.
func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}
