package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBreakerConfigs(t *testing.T) {
	t.Run("DefaultBreakerConfig", func(t *testing.T) {
		cfg := DefaultBreakerConfig()
		assert.Equal(t, uint32(1), cfg.MaxRequests)
		assert.Equal(t, 10*time.Second, cfg.Interval)
		assert.Equal(t, 10*time.Second, cfg.Timeout)
		assert.Equal(t, uint32(5), cfg.ConsecutiveFailures)
		assert.Nil(t, cfg.Store)
	})

	t.Run("DistributedBreakerConfig", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		store := NewRedisStore(rdb)

		cfg := DistributedBreakerConfig(store)
		assert.Equal(t, store, cfg.Store)
		assert.Equal(t, 10*time.Second, cfg.Interval)
	})
}

func TestDefaultBreakerClassifier(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want bool
	}{
		{name: "given 200, then success", resp: &http.Response{StatusCode: 200}, want: false},
		{name: "given 429, then success", resp: &http.Response{StatusCode: 429}, want: false},
		{name: "given 503, then failure", resp: &http.Response{StatusCode: 503}, want: true},
		{name: "given transport error, then failure", err: errors.New("connection refused"), want: true},
		{name: "given canceled attempt, then success", err: context.Canceled, want: false},
		{name: "given attempt past deadline, then success", err: context.DeadlineExceeded, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultBreakerClassifier(tt.resp, tt.err))
		})
	}
}

func TestBreakerConfig_ReadyToTrip(t *testing.T) {
	cfg := BreakerConfig{ConsecutiveFailures: 3, FailureThreshold: 10, FailureRatio: 0.5}

	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{name: "given consecutive failures reached, then trip", counts: gobreaker.Counts{Requests: 3, ConsecutiveFailures: 3, TotalFailures: 3}, want: true},
		{name: "given too few requests, then stay closed", counts: gobreaker.Counts{Requests: 5, TotalFailures: 4, ConsecutiveFailures: 1}, want: false},
		{name: "given ratio reached, then trip", counts: gobreaker.Counts{Requests: 10, TotalFailures: 5, ConsecutiveFailures: 1}, want: true},
		{name: "given ratio below, then stay closed", counts: gobreaker.Counts{Requests: 10, TotalFailures: 4}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.readyToTrip(tt.counts))
		})
	}
}

func TestCircuitBreakerTransport_RoundTrip(t *testing.T) {
	errDial := errors.New("dial tcp 10.0.0.1:443: connect: connection refused")

	tests := []struct {
		name    string
		mockFn  func(*mockCircuitBreaker, *mockRoundTripper)
		wantErr error
		wantSC  int
	}{
		{
			name: "given successful execution, then returns response and no error",
			mockFn: func(cb *mockCircuitBreaker, rt *mockRoundTripper) {
				cb.On("Execute", mock.Anything).Return(passthrough).Once()
				rt.On("RoundTrip", mock.Anything).Return(&http.Response{StatusCode: http.StatusOK}, nil).Once()
			},
			wantSC: http.StatusOK,
		},
		{
			name: "given circuit open, then returns ErrOpenState",
			mockFn: func(cb *mockCircuitBreaker, _ *mockRoundTripper) {
				cb.On("Execute", mock.Anything).Return(nil, gobreaker.ErrOpenState).Once()
			},
			wantErr: gobreaker.ErrOpenState,
		},
		{
			name: "given too many half-open requests, then returns ErrTooManyRequests",
			mockFn: func(cb *mockCircuitBreaker, _ *mockRoundTripper) {
				cb.On("Execute", mock.Anything).Return(nil, gobreaker.ErrTooManyRequests).Once()
			},
			wantErr: gobreaker.ErrTooManyRequests,
		},
		{
			name: "given 500, then the failure is counted and the response returned",
			mockFn: func(cb *mockCircuitBreaker, rt *mockRoundTripper) {
				cb.On("Execute", mock.Anything).Return(passthrough).Once()
				rt.On("RoundTrip", mock.Anything).Return(&http.Response{StatusCode: http.StatusInternalServerError}, nil).Once()
			},
			wantSC: http.StatusInternalServerError,
		},
		{
			name: "given network error, then returns error",
			mockFn: func(cb *mockCircuitBreaker, rt *mockRoundTripper) {
				cb.On("Execute", mock.Anything).Return(passthrough).Once()
				rt.On("RoundTrip", mock.Anything).Return(nil, errDial).Once()
			},
			wantErr: errDial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := &mockCircuitBreaker{}
			rt := &mockRoundTripper{}
			tt.mockFn(cb, rt)

			transport := &circuitBreakerTransport{
				breaker:    cb,
				next:       rt,
				classifier: DefaultBreakerClassifier,
				cfg:        newConfig(),
				name:       "test",
			}

			req := httptest.NewRequest(http.MethodGet, "https://api.test/", nil)
			resp, err := transport.RoundTrip(req)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, resp)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantSC, resp.StatusCode)
			}
			cb.AssertExpectations(t)
			rt.AssertExpectations(t)
		})
	}
}

func TestCircuitBreaker_OpensAndRejects(t *testing.T) {
	mock := NewMockTransport().StubPath("/unstable", http.StatusInternalServerError, "")

	var mu sync.Mutex
	var transitions []string
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 2
	cfg.Timeout = time.Minute
	cfg.OnStateChange = func(_ string, from, to gobreaker.State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+"->"+to.String())
	}

	client := New(
		WithID("orders"),
		WithBaseURL("https://api.test"),
		WithMockTransport(mock),
		WithCircuitBreaker(cfg),
	)

	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), "/unstable", nil)
		e, ok := IsError(err)
		require.True(t, ok)
		assert.Equal(t, http.StatusInternalServerError, e.Status)
	}

	_, err := client.Get(context.Background(), "/unstable", nil)

	e, ok := IsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCircuitOpen, e.Code)
	assert.Equal(t, -1, e.Status)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, mock.RequestCount())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreaker_OpenBreakerIsNotRetried(t *testing.T) {
	mock := NewMockTransport().StubPath("/down", http.StatusServiceUnavailable, "")
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 1
	cfg.Timeout = time.Minute

	client := New(
		WithBaseURL("https://api.test"),
		WithMockTransport(mock),
		WithCircuitBreaker(cfg),
		WithRetry(RetryPolicy{Limit: 5, Delay: ConstantDelay(time.Millisecond)}),
	)

	_, err := client.Get(context.Background(), "/down", nil)

	e, ok := IsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCircuitOpen, e.Code)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestCircuitBreaker_CanceledAttemptsDoNotTrip(t *testing.T) {
	mock := NewMockTransport().StubHang("/hang").StubPath("/ok", http.StatusOK, "")
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 1

	client := New(
		WithBaseURL("https://api.test"),
		WithMockTransport(mock),
		WithCircuitBreaker(cfg),
		WithTimeout(20*time.Millisecond),
	)

	_, err := client.Get(context.Background(), "/hang", nil)
	e, ok := IsError(err)
	require.True(t, ok)
	require.True(t, e.Timeout())

	// The breaker sees the attempt end only once the transport returns.
	time.Sleep(20 * time.Millisecond)

	_, err = client.Get(context.Background(), "/ok", nil)
	assert.NoError(t, err)
}

func TestCircuitBreaker_Distributed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mock := NewMockTransport().StubPath("/shared", http.StatusOK, "ok")
	client := New(
		WithID("shared-client"),
		WithBaseURL("https://api.test"),
		WithMockTransport(mock),
		WithCircuitBreaker(DistributedBreakerConfig(NewRedisStore(rdb))),
	)

	resp, err := client.Get(context.Background(), "/shared", nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Data)
}
