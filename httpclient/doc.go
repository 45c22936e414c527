// Package httpclient executes HTTP calls through a single pipeline that
// handles retries, one call-wide timeout, cancellation, hooks and a typed
// error taxonomy, with OpenTelemetry instrumentation on every attempt.
//
// # Quick Start
//
//	client := httpclient.New(
//	    httpclient.WithID("users"),
//	    httpclient.WithBaseURL("https://api.example.com"),
//	    httpclient.WithTimeout(5*time.Second),
//	    httpclient.WithDefaultRetry(),
//	)
//
//	// Shorthands
//	resp, err := client.Get(ctx, "/users", map[string]any{"id": []int{1, 2}})
//	resp, err = client.Post(ctx, "/users", newUser)
//
//	// Fluent builder
//	var user User
//	_, err = client.Request("GetUser").
//	    Path("/users/{id}").
//	    PathParam("id", "42").
//	    Decode(&user).
//	    Get(ctx)
//
// # Request bodies and query strings
//
// Query parameters are serialized from nested trees: slices become key[]=v
// and maps become key[sub]=v. Bodies are encoded by type: url.Values and
// *MultipartBody are sent as forms, strings as text/plain, []byte and
// io.Reader as is, and anything else as JSON (or as a form when the call
// already sets Content-Type to application/x-www-form-urlencoded).
//
// # Timeouts
//
// The timeout covers the whole call, all retries included, and starts at the
// first send. When it elapses after a failed attempt the call fails with that
// attempt's error; otherwise it fails with an E_TIMEOUT error. A deadline on
// the caller's context also ends the call with E_TIMEOUT.
//
// # Retries
//
// By default GET, HEAD and OPTIONS calls are retried on 408, 429 and 5xx
// gateway statuses and on connection resets, refusals, DNS failures and
// timeouts, up to twice with exponential backoff:
//
//	httpclient.WithRetry(httpclient.RetryPolicy{
//	    Limit: 4,
//	    Delay: httpclient.RetryAfterDelay(httpclient.JitterDelay(200*time.Millisecond, 0.5)),
//	})
//
// A retry is skipped when its delay would run past the call deadline.
// Timeouts and cancellations are never retried.
//
// # Hooks
//
// Init hooks run once per call, request hooks before every attempt, and then
// either the response hooks or the error hooks run once. Error hooks can
// replace the error; the replacement keeps the original as its cause:
//
//	h := client.OnError(func(ctx context.Context, err error) error {
//	    if e, ok := httpclient.IsError(err); ok && e.Status == http.StatusNotFound {
//	        return ErrUserNotFound
//	    }
//	    return nil
//	})
//	defer client.Off(h)
//
// # Asynchronous calls
//
// Go starts a call and returns a *Call that can be waited on or canceled:
//
//	call := client.Go(ctx, httpclient.RequestOptions{URL: "/report"})
//	call.Cancel()
//	_, err := call.Wait() // E_CANCELED
//
// # Errors
//
// Failed calls return an *Error carrying the kind (request, timeout,
// canceled), a code, the last status (-1 if no response arrived), the
// response data and the call configuration. Calls that can never be sent
// (bad method, relative URL without a base URL) fail with ErrInvalidConfig.
//
// # Resilience
//
// WithCircuitBreaker and WithRateLimit guard each attempt. Breaker state can
// be shared between instances through Redis with NewRedisStore.
// WithCoalescing shares one response between identical concurrent GETs.
//
// # Configuration files
//
// LoadConfig reads a YAML file with environment overrides:
//
//	cfg, err := httpclient.LoadConfig("client.yaml", "USERS_")
//	client := httpclient.New(cfg.Options()...)
//
// # Testing
//
// MockTransport stubs responses without a network:
//
//	mock := httpclient.NewMockTransport().
//	    StubJSON("/users/42", http.StatusOK, User{ID: 42}).
//	    StubSequence("/flaky",
//	        httpclient.MockReply{Status: http.StatusServiceUnavailable},
//	        httpclient.MockReply{Status: http.StatusOK},
//	    )
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://api.test"),
//	    httpclient.WithMockTransport(mock),
//	)
package httpclient
