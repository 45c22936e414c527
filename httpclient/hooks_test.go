package httpclient

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects hook invocations in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newHookClient(mock *MockTransport, opts ...Option) *Client {
	base := []Option{WithBaseURL("https://api.test"), WithMockTransport(mock)}
	return New(append(base, opts...)...)
}

func TestHooks_OrderOnSuccess(t *testing.T) {
	mock := NewMockTransport().StubSequence("/ok",
		MockReply{Status: http.StatusServiceUnavailable},
		MockReply{Status: http.StatusOK},
	)
	client := newHookClient(mock, WithRetry(RetryPolicy{Limit: 2, Delay: ConstantDelay(time.Millisecond)}))
	rec := &recorder{}

	client.OnInit(func(context.Context, *RequestConfig) error { rec.add("init"); return nil })
	client.OnRequest(func(context.Context, *RequestConfig) error { rec.add("request"); return nil })
	client.OnResponse(func(context.Context, *Response) error { rec.add("response"); return nil })
	client.OnError(func(context.Context, error) error { rec.add("error"); return nil })

	_, err := client.Get(context.Background(), "/ok", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"init", "request", "request", "response"}, rec.list())
}

func TestHooks_OrderOnFailure(t *testing.T) {
	mock := NewMockTransport().StubPath("/missing", http.StatusNotFound, "")
	client := newHookClient(mock)
	rec := &recorder{}

	client.OnInit(func(context.Context, *RequestConfig) error { rec.add("init"); return nil })
	client.OnRequest(func(context.Context, *RequestConfig) error { rec.add("request"); return nil })
	client.OnResponse(func(context.Context, *Response) error { rec.add("response"); return nil })
	client.OnError(func(context.Context, error) error { rec.add("error-1"); return nil })
	client.OnError(func(context.Context, error) error { rec.add("error-2"); return nil })

	_, err := client.Get(context.Background(), "/missing", nil)
	require.Error(t, err)

	assert.Equal(t, []string{"init", "request", "error-1", "error-2"}, rec.list())
}

func TestHooks_Off(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	client := newHookClient(mock)
	calls := 0

	h := client.OnRequest(func(context.Context, *RequestConfig) error { calls++; return nil })
	assert.Equal(t, EventRequest, h.Event())

	_, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)

	assert.True(t, client.Off(h))
	assert.False(t, client.Off(h))

	_, err = client.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHooks_SameFunctionTwice(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	client := newHookClient(mock)
	calls := 0
	fn := func(context.Context, *RequestConfig) error { calls++; return nil }

	first := client.OnRequest(fn)
	client.OnRequest(fn)
	client.Off(first)

	_, err := client.Get(context.Background(), "/", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHooks_NilPanics(t *testing.T) {
	client := New()

	assert.Panics(t, func() { client.OnRequest(nil) })
	assert.Panics(t, func() { client.OnError(nil) })
}

func TestHooks_RequestHookMutatesConfig(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	client := newHookClient(mock,
		WithRequestHook(BearerTokenHook("secret")),
		WithInitHook(UserAgentHook("billing/1.0")),
		WithRequestHook(APIKeyHook("X-Api-Key", "k1")),
		WithRequestHook(func(_ context.Context, cfg *RequestConfig) error {
			cfg.Params = Params{}.Add("page", 2)
			return nil
		}),
	)

	_, err := client.Get(context.Background(), "/items", nil)
	require.NoError(t, err)

	req := mock.LastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.Equal(t, "billing/1.0", req.Header.Get("User-Agent"))
	assert.Equal(t, "k1", req.Header.Get("X-Api-Key"))
	assert.Equal(t, "page=2", req.URL.RawQuery)
}

func TestHooks_CorrelationIDKeptAcrossRetries(t *testing.T) {
	mock := NewMockTransport().StubSequence("/flaky",
		MockReply{Status: http.StatusBadGateway},
		MockReply{Status: http.StatusOK},
	)
	n := 0
	client := newHookClient(mock,
		WithRetry(RetryPolicy{Limit: 2, Delay: ConstantDelay(time.Millisecond)}),
		WithInitHook(CorrelationIDHook("X-Correlation-Id", func() string {
			n++
			return "corr-" + string(rune('0'+n))
		})),
	)

	_, err := client.Get(context.Background(), "/flaky", nil)
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "corr-1", reqs[0].Header.Get("X-Correlation-Id"))
	assert.Equal(t, "corr-1", reqs[1].Header.Get("X-Correlation-Id"))
}

func TestHooks_InitHookErrorSkipsSendAndErrorHooks(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	boom := errors.New("init failed")
	rec := &recorder{}
	client := newHookClient(mock,
		WithInitHook(func(context.Context, *RequestConfig) error { return boom }),
		WithErrorHook(func(_ context.Context, err error) error {
			rec.add(err.Error())
			return nil
		}),
	)

	_, err := client.Get(context.Background(), "/", nil)

	assert.Same(t, boom, err)
	assert.Equal(t, 0, mock.RequestCount())
	assert.Empty(t, rec.list())
}

func TestHooks_RequestHookErrorRunsErrorHooks(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	boom := errors.New("request hook failed")
	rec := &recorder{}
	client := newHookClient(mock,
		WithRetry(RetryPolicy{Limit: 2, Delay: ConstantDelay(0)}),
		WithRequestHook(func(context.Context, *RequestConfig) error { return boom }),
		WithErrorHook(func(_ context.Context, err error) error {
			rec.add(err.Error())
			return nil
		}),
	)

	_, err := client.Get(context.Background(), "/", nil)

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, mock.RequestCount())
	assert.Equal(t, []string{"request hook failed"}, rec.list())
}

var errNotFound = errors.New("user not found")

func TestHooks_ErrorReplacement(t *testing.T) {
	tests := []struct {
		name      string
		hooks     []ErrorHook
		wantIs    error
		wantMsg   string
		wantOrigi bool
	}{
		{
			name: "given no replacement, then original error is returned",
			hooks: []ErrorHook{
				func(context.Context, error) error { return nil },
			},
			wantMsg:   "request failed with status code 404",
			wantOrigi: true,
		},
		{
			name: "given a replacement, then it wraps the original",
			hooks: []ErrorHook{
				func(context.Context, error) error { return errNotFound },
			},
			wantIs:    errNotFound,
			wantMsg:   "user not found",
			wantOrigi: true,
		},
		{
			name: "given several replacements, then the last one wins",
			hooks: []ErrorHook{
				func(context.Context, error) error { return errors.New("first") },
				func(context.Context, error) error { return errNotFound },
				func(context.Context, error) error { return nil },
			},
			wantIs:    errNotFound,
			wantMsg:   "user not found",
			wantOrigi: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport().StubPath("/users/1", http.StatusNotFound, "")
			client := newHookClient(mock)
			for _, h := range tt.hooks {
				client.OnError(h)
			}

			_, err := client.Get(context.Background(), "/users/1", nil)

			require.Error(t, err)
			assert.Equal(t, tt.wantMsg, err.Error())
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			}
			e, ok := IsError(err)
			assert.Equal(t, tt.wantOrigi, ok)
			if ok {
				assert.Equal(t, http.StatusNotFound, e.Status)
			}
		})
	}
}

func TestHooks_ErrorHooksSeeOriginalError(t *testing.T) {
	mock := NewMockTransport().StubPath("/x", http.StatusInternalServerError, "")
	client := newHookClient(mock)
	var seen []error

	client.OnError(func(context.Context, error) error { return errNotFound })
	client.OnError(func(_ context.Context, err error) error {
		seen = append(seen, err)
		return nil
	})

	_, err := client.Get(context.Background(), "/x", nil)

	require.ErrorIs(t, err, errNotFound)
	require.Len(t, seen, 1)
	e, ok := IsError(seen[0])
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
}

func TestHooks_ResponseHookErrorFailsCall(t *testing.T) {
	mock := NewMockTransport().StubResponse(http.StatusOK, "fine")
	bad := errors.New("schema mismatch")
	rec := &recorder{}
	client := newHookClient(mock,
		WithResponseHook(func(context.Context, *Response) error { return bad }),
		WithErrorHook(func(context.Context, error) error { rec.add("error"); return nil }),
	)

	resp, err := client.Get(context.Background(), "/", nil)

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, bad)
	assert.Empty(t, rec.list())
}

func TestHooks_ReplacementErrorWithCause(t *testing.T) {
	mock := NewMockTransport().StubPath("/x", http.StatusBadRequest, "")
	client := newHookClient(mock)
	own := errors.New("own cause")
	replacement := &wrappedTestError{msg: "validation", cause: own}

	client.OnError(func(context.Context, error) error { return replacement })

	_, err := client.Get(context.Background(), "/x", nil)

	assert.Same(t, replacement, err)
	assert.ErrorIs(t, err, own)
	_, ok := IsError(err)
	assert.False(t, ok)
}

type wrappedTestError struct {
	msg   string
	cause error
}

func (e *wrappedTestError) Error() string { return e.msg }
func (e *wrappedTestError) Unwrap() error { return e.cause }

func TestErrorLoggingHook(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	mock := NewMockTransport().StubPath("/x", http.StatusBadGateway, "")
	client := newHookClient(mock, WithErrorHook(ErrorLoggingHook(logger)))

	_, err := client.Get(context.Background(), "/x", nil)

	require.Error(t, err)
	assert.Contains(t, buf.String(), `"message":"HTTP call failed"`)
	assert.Contains(t, buf.String(), `"status":502`)
}

func TestBearerTokenFuncHook_RefreshedPerAttempt(t *testing.T) {
	var issued int
	mock := NewMockTransport().StubSequence("/t",
		MockReply{Status: http.StatusServiceUnavailable},
		MockReply{Status: http.StatusOK},
	)
	client := newHookClient(mock,
		WithRetry(RetryPolicy{Limit: 2, Delay: ConstantDelay(0)}),
		WithRequestHook(BearerTokenFuncHook(func(context.Context) (string, error) {
			issued++
			return "t" + string(rune('0'+issued)), nil
		})),
	)

	_, err := client.Get(context.Background(), "/t", nil)

	require.NoError(t, err)
	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Bearer t1", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "Bearer t2", reqs[1].Header.Get("Authorization"))
}

func TestBearerTokenFuncHook_ErrorFailsCall(t *testing.T) {
	errNoToken := errors.New("token source unavailable")
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	client := newHookClient(mock, WithRequestHook(BearerTokenFuncHook(func(context.Context) (string, error) {
		return "", errNoToken
	})))

	_, err := client.Get(context.Background(), "/", nil)

	assert.ErrorIs(t, err, errNoToken)
	assert.Equal(t, 0, mock.RequestCount())
}

func TestLoggingHook(t *testing.T) {
	var buf bytes.Buffer
	mock := NewMockTransport().StubResponse(http.StatusOK, "")
	client := newHookClient(mock, WithRequestHook(LoggingHook(zerolog.New(&buf))))

	_, err := client.Request("Ping").Get(context.Background(), "/ping")

	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"message":"HTTP attempt"`)
	assert.Contains(t, buf.String(), `"operation":"Ping"`)
	assert.Contains(t, buf.String(), `"url":"https://api.test/ping"`)
}
