package httpclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore creates a SharedDataStore backed by Redis for distributed circuit breaking.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	store := httpclient.NewRedisStore(rdb)
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// BreakerClassifier reports whether an attempt outcome counts as a failure
// for the circuit breaker.
type BreakerClassifier func(resp *http.Response, err error) bool

// BreakerConfig holds the configuration for the circuit breaker.
//
// Concepts:
//   - Closed: Normal state, attempts allowed.
//   - Open: Failing state, attempts rejected with gobreaker.ErrOpenState.
//   - Half-Open: Probing state, MaxRequests attempts allowed to test recovery.
//
// Rejected attempts fail with a network error whose code is E_CIRCUIT_OPEN
// (or E_TOO_MANY_REQUESTS while half-open). Neither is in the default retry
// codes, so an open breaker ends the call.
type BreakerConfig struct {
	// MaxRequests is the number of attempts allowed through while half-open.
	// If 0, 1 is allowed.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which the
	// counts are cleared. If 0, counts are never cleared while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	// If 0, gobreaker uses 60s.
	Timeout time.Duration

	// FailureThreshold is the minimum number of requests in the current
	// interval before the breaker may trip.
	FailureThreshold uint32

	// FailureRatio trips the breaker when failures/requests reaches it (0.0 - 1.0).
	FailureRatio float64

	// ConsecutiveFailures trips the breaker after that many failures in a row.
	// If 0, this rule is disabled.
	ConsecutiveFailures uint32

	// Store shares the breaker state between instances. If nil, the breaker is local.
	Store gobreaker.SharedDataStore

	// Classifier decides which outcomes are failures.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is called on every state transition.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns a local breaker that trips after 5
// consecutive failures, or on a 50% failure ratio over at least 20 requests.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns DefaultBreakerConfig sharing its state through store.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts 5xx responses and transport failures.
// 429 is left to the retry policy, and attempts ended by the call's own
// timeout or cancellation are not held against the remote service.
func DefaultBreakerClassifier(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return true
	}
	return resp != nil && resp.StatusCode >= 500
}

// readyToTrip builds the gobreaker trip rule for the config.
func (c BreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if c.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= c.ConsecutiveFailures {
		return true
	}
	if counts.Requests < c.FailureThreshold || c.FailureRatio <= 0 || counts.Requests == 0 {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= c.FailureRatio
}
