package httpclient

import (
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ExponentialDelay returns initial * 2^(attempt-1).
//
// The intervals come from a cenkalti ExponentialBackOff with randomization
// disabled and no interval cap, so the sequence is deterministic:
//
//	initial=100ms: 100ms, 200ms, 400ms, 800ms ...
func ExponentialDelay(initial time.Duration) DelayFunc {
	return BackOffDelay(func() backoff.BackOff {
		return &backoff.ExponentialBackOff{
			InitialInterval:     initial,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         time.Duration(1<<63 - 1),
		}
	})
}

// ConstantDelay waits the same interval before every retry.
func ConstantDelay(d time.Duration) DelayFunc {
	return func(int, *Error) time.Duration {
		return d
	}
}

// LinearDelay waits initial + (attempt-1) * increment, capped at maxDelay
// when maxDelay is positive.
func LinearDelay(initial, increment, maxDelay time.Duration) DelayFunc {
	return func(attempt int, _ *Error) time.Duration {
		d := initial + time.Duration(attempt-1)*increment
		if maxDelay > 0 && d > maxDelay {
			d = maxDelay
		}
		return d
	}
}

// JitterDelay waits initial * 2^(attempt-1) randomized by ±factor.
//
// Jitter spreads retries from many clients so a recovering service is not
// hit by synchronized bursts.
//
// Example with initial=1s, factor=0.5: the first wait is between 0.5s and 1.5s.
func JitterDelay(initial time.Duration, factor float64) DelayFunc {
	base := ExponentialDelay(initial)
	return func(attempt int, err *Error) time.Duration {
		return applyJitter(base(attempt, err), factor)
	}
}

// BackOffDelay adapts any backoff.BackOff to a DelayFunc.
//
// Each call builds a fresh BackOff from factory and advances it to the
// requested attempt, so the DelayFunc itself holds no state and can be shared
// by concurrent calls. A backoff.Stop result is treated as "no wait".
//
// Example:
//
//	policy := httpclient.RetryPolicy{
//	    Delay: httpclient.BackOffDelay(func() backoff.BackOff {
//	        return backoff.NewExponentialBackOff()
//	    }),
//	}
func BackOffDelay(factory func() backoff.BackOff) DelayFunc {
	return func(attempt int, _ *Error) time.Duration {
		b := factory()
		b.Reset()

		var d time.Duration
		for i := 0; i < attempt; i++ {
			d = b.NextBackOff()
			if d == backoff.Stop {
				return 0
			}
		}
		if d < 0 {
			return 0
		}
		return d
	}
}

// RetryAfterDelay honors a Retry-After response header, given either in
// seconds or as an HTTP date, and falls back to fallback otherwise.
func RetryAfterDelay(fallback DelayFunc) DelayFunc {
	if fallback == nil {
		fallback = ExponentialDelay(DefaultInitialDelay)
	}
	return func(attempt int, err *Error) time.Duration {
		if err.Response != nil {
			if d, ok := parseRetryAfter(err.Response.Header.Get("Retry-After"), time.Now()); ok {
				return d
			}
		}
		return fallback(attempt, err)
	}
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// applyJitter applies randomization to an interval.
// JitterFactor of 0.5 means the result will be in range [interval*0.5, interval*1.5].
func applyJitter(interval time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return interval
	}

	if jitterFactor > 1 {
		jitterFactor = 1
	}

	delta := float64(interval) * jitterFactor
	minInterval := float64(interval) - delta
	maxInterval := float64(interval) + delta

	//nolint:gosec // intentional weak rand for jitter (not cryptographic)
	return time.Duration(
		minInterval + rand.Float64()*(maxInterval-minInterval),
	)
}
