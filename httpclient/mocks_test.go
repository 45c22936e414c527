package httpclient

import (
	"net/http"

	"github.com/stretchr/testify/mock"
)

type mockCircuitBreaker struct {
	mock.Mock
}

// Execute returns the stubbed result, or runs req when the stub is a
// passthrough func.
func (m *mockCircuitBreaker) Execute(req func() (*http.Response, error)) (*http.Response, error) {
	args := m.Called(req)
	if fn, ok := args.Get(0).(func(func() (*http.Response, error)) (*http.Response, error)); ok {
		return fn(req)
	}
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

type mockRoundTripper struct {
	mock.Mock
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

func passthrough(req func() (*http.Response, error)) (*http.Response, error) {
	return req()
}
