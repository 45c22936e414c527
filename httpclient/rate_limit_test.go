package httpclient

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()

	assert.InDelta(t, 100.0, cfg.RequestsPerSecond, 0.001)
	assert.Equal(t, 10, cfg.Burst)
	assert.True(t, cfg.WaitOnLimit)
}

func TestNewRateLimitTransport_Disabled(t *testing.T) {
	next := NewMockTransport()

	tests := []struct {
		name string
		cfg  *RateLimitConfig
	}{
		{name: "given nil config, then pass-through", cfg: nil},
		{name: "given zero rate, then pass-through", cfg: &RateLimitConfig{Burst: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Same(t, next, newRateLimitTransport(next, tt.cfg))
		})
	}
}

func TestRateLimit_FailFast(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	client := New(
		WithBaseURL("https://api.test"),
		WithMockTransport(mock),
		WithRateLimit(RateLimitConfig{RequestsPerSecond: 0.5, Burst: 1}),
	)

	_, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/", nil)

	e, ok := IsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeRateLimited, e.Code)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestRateLimit_WaitBoundedByCallTimeout(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	client := New(
		WithBaseURL("https://api.test"),
		WithMockTransport(mock),
		WithTimeout(50*time.Millisecond),
		WithRateLimit(RateLimitConfig{RequestsPerSecond: 0.5, Burst: 1, WaitOnLimit: true}),
	)

	_, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = client.Get(context.Background(), "/", nil)

	e, ok := IsError(err)
	require.True(t, ok)
	assert.True(t, e.Timeout())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestRateLimit_WaitsForToken(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	client := New(
		WithBaseURL("https://api.test"),
		WithMockTransport(mock),
		WithRateLimit(RateLimitConfig{RequestsPerSecond: 50, Burst: 1, WaitOnLimit: true}),
	)

	for i := 0; i < 3; i++ {
		_, err := client.Get(context.Background(), "/", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, mock.RequestCount())
}
