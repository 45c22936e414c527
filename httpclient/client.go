package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Client executes HTTP calls with retries, timeouts, hooks and
// OpenTelemetry instrumentation on top of a single-shot transport.
//
// Create a Client using New():
//
//	client := httpclient.New(
//	    httpclient.WithID("payments"),
//	    httpclient.WithBaseURL("https://api.example.com"),
//	    httpclient.WithDefaultRetry(),
//	)
//
//	resp, err := client.Request("CreatePayment").
//	    Path("/payments").
//	    Body(payment).
//	    Post(ctx)
//
// A Client is safe for concurrent use. Hooks may be added and removed while
// calls are running; a call uses the hooks registered when each hook list runs.
type Client struct {
	cfg       *internalConfig
	transport http.RoundTripper
	hooks     hookRegistry
	logger    zerolog.Logger
}

// New creates a Client.
//
// The transport chain, outermost first, is: attempt tracing and metrics,
// request coalescing (WithCoalescing), circuit breaker (WithCircuitBreaker), rate limiter (WithRateLimit), then
// the transport collaborator (WithTransport, or an *http.Client over a tuned
// *http.Transport).
func New(opts ...Option) *Client {
	cfg := newConfig(opts...)

	logger := cfg.Logger
	if cfg.ID != "" {
		logger = logger.With().Str("client", cfg.ID).Logger()
	}

	c := &Client{
		cfg:       cfg,
		transport: newTransportChain(cfg),
		logger:    logger,
	}

	for _, fn := range cfg.initHooks {
		c.OnInit(fn)
	}
	for _, fn := range cfg.requestHooks {
		c.OnRequest(fn)
	}
	for _, fn := range cfg.responseHooks {
		c.OnResponse(fn)
	}
	for _, fn := range cfg.errorHooks {
		c.OnError(fn)
	}

	return c
}

// NewTransport returns base wrapped in the client's decorators: tracing and
// metrics, plus the circuit breaker and rate limiter when configured. A nil
// base uses the default transport.
//
// Example:
//
//	httpClient := &http.Client{
//	    Transport: httpclient.NewTransport(http.DefaultTransport, httpclient.WithID("legacy")),
//	}
func NewTransport(base http.RoundTripper, opts ...Option) http.RoundTripper {
	if base != nil {
		opts = append(opts, WithTransport(base))
	}
	return newTransportChain(newConfig(opts...))
}

func newTransportChain(cfg *internalConfig) http.RoundTripper {
	base := cfg.Transport
	if base == nil {
		base = newFetchTransport(cfg.buildTransport())
	}
	rt := newRateLimitTransport(base, cfg.RateLimit)
	rt = newCircuitBreakerTransport(rt, cfg)
	rt = newCoalesceTransport(rt, cfg.Coalesce)
	return newOtelTransport(rt, cfg)
}

// ID returns the client ID set with WithID.
func (c *Client) ID() string {
	return c.cfg.ID
}

// OnInit registers a hook run once per call, before the first attempt.
func (c *Client) OnInit(fn InitHook) HookHandle {
	if fn == nil {
		panic("httpclient: nil init hook")
	}
	return c.hooks.addInit(fn)
}

// OnRequest registers a hook run before every attempt.
func (c *Client) OnRequest(fn RequestHook) HookHandle {
	if fn == nil {
		panic("httpclient: nil request hook")
	}
	return c.hooks.addRequest(fn)
}

// OnResponse registers a hook run once when a call succeeds.
func (c *Client) OnResponse(fn ResponseHook) HookHandle {
	if fn == nil {
		panic("httpclient: nil response hook")
	}
	return c.hooks.addResponse(fn)
}

// OnError registers a hook run once when a call fails.
func (c *Client) OnError(fn ErrorHook) HookHandle {
	if fn == nil {
		panic("httpclient: nil error hook")
	}
	return c.hooks.addError(fn)
}

// Off removes a hook. It reports false when the hook was already removed.
func (c *Client) Off(h HookHandle) bool {
	return c.hooks.remove(h)
}

var absoluteURL = regexp.MustCompile(`(?i)^https?://`)

// URL joins path to the client base URL.
//
// Absolute http(s) URLs are returned unchanged. Otherwise the base URL's
// trailing slash is dropped and path gets a leading one; an empty path is "/".
func (c *Client) URL(path string) string {
	if absoluteURL.MatchString(path) {
		return path
	}
	if path == "" {
		path = "/"
	} else if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// resolve merges the call options over the client defaults.
//
// It fails with an ErrInvalidConfig error when the call can never be sent.
func (c *Client) resolve(opts RequestOptions) (*RequestConfig, error) {
	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}

	target := c.URL(opts.URL)
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: URL %q is not absolute, set WithBaseURL or pass a full URL", ErrInvalidConfig, target)
	}

	headers := NewHeaders(c.cfg.Headers)
	headers.SetAll(opts.Headers, true)

	timeout := c.cfg.Timeout
	switch {
	case opts.Timeout > 0:
		timeout = opts.Timeout
	case opts.Timeout < 0:
		timeout = 0
	}

	retry := c.cfg.Retry
	if opts.Retry != nil {
		retry = opts.Retry
	}
	if retry.Enabled() {
		p := *retry
		retry = &p
	} else {
		retry = nil
	}

	redirect := opts.Redirect
	if redirect == "" {
		redirect = c.cfg.Redirect
	}
	if redirect == "" {
		redirect = RedirectFollow
	}

	responseType := opts.ResponseType
	if responseType == "" {
		responseType = ResponseAuto
	}

	credentials := opts.Credentials
	if credentials == "" {
		credentials = CredentialsSameOrigin
	}
	mode := opts.Mode
	if mode == "" {
		mode = ModeCORS
	}

	cfg := &RequestConfig{
		ClientID:     c.cfg.ID,
		Operation:    opts.Operation,
		URL:          target,
		Method:       method,
		Params:       opts.Params,
		Headers:      headers,
		Data:         opts.Data,
		ResponseType: responseType,
		Timeout:      timeout,
		Retry:        retry,
		Redirect:     redirect,
		Credentials:  credentials,
		Mode:         mode,
		KeepAlive:    opts.KeepAlive,
		Result:       opts.Result,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Do executes a call and waits for its outcome.
//
// Failures are *Error values (see IsError), hook errors, or ErrInvalidConfig
// errors for calls that could not be started.
func (c *Client) Do(ctx context.Context, opts RequestOptions) (*Response, error) {
	return c.Go(ctx, opts).Wait()
}

// Go starts a call and returns immediately. The call is bound to ctx:
// canceling ctx cancels the call and a ctx deadline ends it with a timeout.
func (c *Client) Go(ctx context.Context, opts RequestOptions) *Call {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := c.resolve(opts)
	if err != nil {
		return failedCall(err)
	}

	ex := newExecution(ctx, cfg)
	call := newCall(ex)
	go c.run(ex, call)
	return call
}

type outcome struct {
	resp *Response
	err  error
	// init is set when an init hook failed; such errors skip the error hooks.
	init bool
}

// run drives a call to settlement.
//
// The attempt chain runs on its own goroutine so that an abort settles the
// call even while the transport is stuck.
func (c *Client) run(ex *execution, call *Call) {
	results := make(chan outcome, 1)
	go func() {
		if err := c.hooks.runInit(ex.ctx, ex.config); err != nil {
			results <- outcome{err: err, init: true}
			return
		}
		resp, err := c.execute(ex)
		results <- outcome{resp: resp, err: err}
	}()

	var resp *Response
	var err error
	initFailed := false
	select {
	case r := <-results:
		resp, err, initFailed = r.resp, r.err, r.init
		if err != nil && ex.aborted() {
			err, initFailed = ex.abortError(), false
		}
	case <-ex.ctx.Done():
		err = ex.abortError()
	}
	ex.stopTimer()

	if err != nil {
		resp = nil
		if !initFailed {
			err = c.hooks.runError(context.WithoutCancel(ex.ctx), err)
		}
	} else if hookErr := c.hooks.runResponse(ex.ctx, resp); hookErr != nil {
		resp, err = nil, hookErr
	}

	ex.release()

	duration := time.Since(ex.createdAt)
	c.cfg.Metrics.recordCall(context.WithoutCancel(ex.ctx), duration, callOutcome(err), c.callAttributes(ex.config))
	logSettled(c.logger, ex, err, duration)

	call.settle(resp, err)
}

// execute runs the attempts, retry-wrapped when the call has a policy.
func (c *Client) execute(ex *execution) (*Response, error) {
	if !ex.config.Retry.Enabled() {
		return c.attempt(ex)
	}
	return newRetrier(c, *ex.config.Retry).run(ex, func() (*Response, error) {
		return c.attempt(ex)
	})
}

// attempt performs one physical request.
func (c *Client) attempt(ex *execution) (*Response, error) {
	if ex.aborted() {
		return nil, ex.abortError()
	}
	if ex.markStart() {
		ex.armTimer()
	}

	if err := c.hooks.runRequest(ex.ctx, ex.config); err != nil {
		return nil, err
	}

	req, err := ex.buildRequest()
	if err != nil {
		if errors.Is(err, ErrInvalidConfig) {
			return nil, err
		}
		return nil, newRequestError(ex, msgEncode, "", err)
	}

	start := time.Now()
	logRequest(c.logger, ex, req)

	httpResp, err := c.transport.RoundTrip(req)
	if err != nil {
		if ex.aborted() {
			return nil, ex.abortError()
		}
		if e, ok := err.(*Error); ok {
			return nil, e
		}
		return nil, newRequestError(ex, msgNetwork, transportCode(err), err)
	}

	resp, readErr := newResponse(httpResp)
	if c.cfg.GenerateCurl {
		resp.curlCommand = generateCurlCommand(req)
	}
	ex.setResponse(resp)
	logResponse(c.logger, ex, resp, time.Since(start))

	if readErr != nil {
		if ex.aborted() {
			return nil, ex.abortError()
		}
		return nil, newRequestError(ex, msgDecode, transportCode(readErr), readErr)
	}

	if err := resp.decode(ex.config.ResponseType, ex.config.Result); err != nil {
		return nil, newRequestError(ex, msgDecode, "", err)
	}

	if !c.valid(resp) {
		return nil, newRequestError(ex, fmt.Sprintf(msgStatusTemplate, resp.StatusCode), "", nil)
	}
	return resp, nil
}

func (c *Client) valid(resp *Response) bool {
	if c.cfg.Validate != nil {
		return c.cfg.Validate(resp)
	}
	return resp.IsSuccess()
}

func (c *Client) callAttributes(cfg *RequestConfig) []attribute.KeyValue {
	attrs := c.cfg.baseAttributes()
	attrs = append(attrs, attribute.String("http.request.method", cfg.Method))
	if cfg.Operation != "" {
		attrs = append(attrs, attribute.String("http.client.operation", cfg.Operation))
	}
	return attrs
}

func callOutcome(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	if e, ok := IsError(err); ok {
		switch e.Kind {
		case KindTimeout:
			return outcomeTimeout
		case KindCanceled:
			return outcomeCanceled
		}
	}
	return outcomeError
}

// =============================================================================
// Shorthands
// =============================================================================

// Get issues a GET with the given query params (any tree SerializeParams accepts).
func (c *Client) Get(ctx context.Context, target string, params any) (*Response, error) {
	return c.Do(ctx, RequestOptions{Method: http.MethodGet, URL: target, Params: params})
}

// Head issues a HEAD with the given query params.
func (c *Client) Head(ctx context.Context, target string, params any) (*Response, error) {
	return c.Do(ctx, RequestOptions{Method: http.MethodHead, URL: target, Params: params})
}

// Options issues an OPTIONS with the given query params.
func (c *Client) Options(ctx context.Context, target string, params any) (*Response, error) {
	return c.Do(ctx, RequestOptions{Method: http.MethodOptions, URL: target, Params: params})
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, target string) (*Response, error) {
	return c.Do(ctx, RequestOptions{Method: http.MethodDelete, URL: target})
}

// Post issues a POST with data as the body. See RequestOptions.Data for
// the accepted body types.
func (c *Client) Post(ctx context.Context, target string, data any) (*Response, error) {
	return c.Do(ctx, RequestOptions{Method: http.MethodPost, URL: target, Data: data})
}

// Put issues a PUT with data as the body.
func (c *Client) Put(ctx context.Context, target string, data any) (*Response, error) {
	return c.Do(ctx, RequestOptions{Method: http.MethodPut, URL: target, Data: data})
}

// Patch issues a PATCH with data as the body.
func (c *Client) Patch(ctx context.Context, target string, data any) (*Response, error) {
	return c.Do(ctx, RequestOptions{Method: http.MethodPatch, URL: target, Data: data})
}
