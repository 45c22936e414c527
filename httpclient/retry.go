package httpclient

import (
	"context"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DelayFunc returns how long to wait before the next attempt.
// attempt is the number of failures so far, starting at 1.
type DelayFunc func(attempt int, err *Error) time.Duration

// EligibilityFunc decides whether a failed attempt may be retried.
type EligibilityFunc func(attempt int, err *Error, p RetryPolicy) bool

// RetryPolicy holds the retry behavior of a call.
//
// Nil fields fall back to the defaults; an empty, non-nil slice means
// "none". Only KindRequest errors are ever retried, so timeouts and
// cancellations always end the call.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithRetry(httpclient.RetryPolicy{
//	        Limit: 3,
//	        Delay: httpclient.JitterDelay(200*time.Millisecond, 0.5),
//	    }),
//	)
type RetryPolicy struct {
	// Limit is the maximum number of retries. The first attempt is not
	// counted, so a call makes at most Limit+1 attempts. Zero means no
	// retries; DefaultRetryPolicy uses DefaultRetryLimit.
	Limit int

	// Methods lists the HTTP methods that may be retried.
	// Default: GET, HEAD, OPTIONS
	Methods []string

	// StatusCodes lists the response statuses that may be retried.
	// Default: 408, 429, 500, 502, 503, 504, 520-526, 530
	StatusCodes []int

	// Codes lists the transport error codes that may be retried.
	// Default: ECONNRESET, ETIMEDOUT, ENOTFOUND, ECONNREFUSED
	Codes []string

	// Delay computes the wait before the next attempt.
	// Default: 100ms * 2^(attempt-1)
	Delay DelayFunc

	// Eligible decides whether a failure may be retried.
	// Default: DefaultEligible
	Eligible EligibilityFunc

	disabled bool
}

// Default values for RetryPolicy.
const (
	DefaultRetryLimit   = 2
	DefaultInitialDelay = 100 * time.Millisecond
)

// DefaultRetryMethods returns the methods retried by default.
func DefaultRetryMethods() []string {
	return []string{http.MethodGet, http.MethodHead, http.MethodOptions}
}

// DefaultRetryStatusCodes returns the statuses retried by default.
func DefaultRetryStatusCodes() []int {
	return []int{408, 429, 500, 502, 503, 504, 520, 521, 522, 523, 524, 525, 526, 530}
}

// DefaultRetryCodes returns the transport error codes retried by default.
func DefaultRetryCodes() []string {
	return []string{CodeConnReset, CodeTimedOut, CodeNotFound, CodeConnRefused}
}

// DefaultRetryPolicy returns the default policy with every field filled in.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Limit:       DefaultRetryLimit,
		Methods:     DefaultRetryMethods(),
		StatusCodes: DefaultRetryStatusCodes(),
		Codes:       DefaultRetryCodes(),
		Delay:       ExponentialDelay(DefaultInitialDelay),
		Eligible:    DefaultEligible,
	}
}

// NoRetry returns a policy that disables retries, overriding any client
// default when used on a single call.
func NoRetry() *RetryPolicy {
	return &RetryPolicy{disabled: true}
}

// Enabled reports whether the policy allows retries at all.
func (p *RetryPolicy) Enabled() bool {
	return p != nil && !p.disabled
}

// withDefaults returns a copy with nil fields replaced by the defaults.
// Limit is taken as given.
func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Methods == nil {
		p.Methods = def.Methods
	}
	if p.StatusCodes == nil {
		p.StatusCodes = def.StatusCodes
	}
	if p.Codes == nil {
		p.Codes = def.Codes
	}
	if p.Delay == nil {
		p.Delay = def.Delay
	}
	if p.Eligible == nil {
		p.Eligible = def.Eligible
	}
	return p
}

// DefaultEligible allows a retry while the limit is not exceeded, the method
// is retryable and either the response status or the transport code is listed.
func DefaultEligible(attempt int, err *Error, p RetryPolicy) bool {
	if attempt > p.Limit {
		return false
	}

	method := ""
	if err.Config != nil {
		method = err.Config.Method
	}
	if !slices.Contains(p.Methods, method) {
		return false
	}

	status := -1
	if err.Response != nil {
		status = err.Response.StatusCode
	}

	return slices.Contains(p.StatusCodes, status) || slices.Contains(p.Codes, err.Code)
}

// retrier drives the attempt loop of a single call.
type retrier struct {
	policy RetryPolicy
	client *Client
}

func newRetrier(c *Client, p RetryPolicy) *retrier {
	return &retrier{policy: p.withDefaults(), client: c}
}

// run calls fn until it succeeds or the failure may not be retried.
//
// Any failure that is not retried is returned as-is. When the abort signal
// fires while waiting, the error that triggered the wait is returned.
func (r *retrier) run(ex *execution, fn func() (*Response, error)) (*Response, error) {
	ctx := ex.ctx
	start := time.Now()
	attrs := r.client.cfg.baseAttributes()
	metrics := r.client.cfg.Metrics
	retried := false

	defer func() {
		if retried {
			metrics.recordRetryDuration(ctx, attrs, time.Since(start))
		}
	}()

	for {
		resp, err := fn()
		if err == nil {
			return resp, nil
		}

		attempt := ex.recordFailure(err)

		reqErr, ok := err.(*Error)
		if !ok || reqErr.Kind != KindRequest {
			return nil, err
		}
		if !r.policy.Eligible(attempt, reqErr, r.policy) {
			if attempt > 1 {
				metrics.recordRetryExhausted(ctx, attrs)
			}
			return nil, err
		}
		if ex.aborted() {
			return nil, err
		}

		delay := r.policy.Delay(attempt, reqErr)
		if delay < 0 {
			delay = 0
		}
		if deadline, ok := ex.deadline(); ok && time.Now().Add(delay).After(deadline) {
			return nil, err
		}

		retried = true
		metrics.recordRetryAttempt(ctx, attrs, attempt)
		trace.SpanFromContext(ctx).AddEvent("http.retry", trace.WithAttributes(
			attribute.Int("retry.attempt", attempt),
			attribute.Int64("retry.delay_ms", delay.Milliseconds()),
			attribute.String("retry.code", reqErr.Code),
			attribute.Int("retry.status", reqErr.Status),
		))
		r.client.logger.Debug().
			Str("execution_id", ex.id).
			Int("attempt", attempt).
			Dur("delay", delay).
			Object("error", reqErr).
			Msg("retry scheduled")

		if !sleep(ctx, delay) {
			return nil, err
		}
	}
}

// sleep waits for d or until ctx is done. It reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return ctx.Err() == nil
	case <-ctx.Done():
		return false
	}
}
