package httpclient

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures client-level rate limiting of physical attempts.
type RateLimitConfig struct {
	// RequestsPerSecond is the maximum sustained request rate.
	RequestsPerSecond float64 `koanf:"rps" validate:"gte=0"`

	// Burst is the maximum number of requests allowed in a burst.
	// Values below 1 are raised to 1.
	Burst int `koanf:"burst" validate:"gte=0"`

	// WaitOnLimit determines behavior when the limit is hit.
	// If true, attempts wait for a token, bounded by the call's context.
	// If false, attempts fail immediately with ErrRateLimited.
	WaitOnLimit bool `koanf:"wait"`
}

// DefaultRateLimitConfig returns 100 requests per second with a burst of 10,
// waiting for tokens.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             10,
		WaitOnLimit:       true,
	}
}

// ErrRateLimited is returned when an attempt is rejected by the client rate limiter.
// It surfaces as a network error with code E_RATE_LIMITED.
var ErrRateLimited = errors.New("rate limit exceeded")

// rateLimitTransport implements http.RoundTripper with rate limiting.
type rateLimitTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
	wait    bool
}

// newRateLimitTransport wraps next when cfg enables limiting.
func newRateLimitTransport(next http.RoundTripper, cfg *RateLimitConfig) http.RoundTripper {
	if cfg == nil || cfg.RequestsPerSecond <= 0 {
		return next
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &rateLimitTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		wait:    cfg.WaitOnLimit,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if !t.wait {
		if !t.limiter.Allow() {
			return nil, ErrRateLimited
		}
		return t.next.RoundTrip(req)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		// Aborted calls report their own cause; a wait that cannot fit in the
		// remaining deadline is a rejection.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, err
		}
		return nil, ErrRateLimited
	}

	return t.next.RoundTrip(req)
}

func (t *rateLimitTransport) Unwrap() http.RoundTripper {
	return t.next
}
