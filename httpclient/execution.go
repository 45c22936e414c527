package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// errReleased is the cancellation cause of an execution whose call has settled.
var errReleased = errors.New("execution released")

// execution is the per-call state shared by every attempt of a call.
//
// Its context is derived once from the caller's context and is the single
// abort signal observed by the transport, hooks and retry sleeps. Aborting is
// idempotent: the first cause wins and later ones are ignored.
type execution struct {
	id        string
	config    *RequestConfig
	createdAt time.Time
	caller    string

	ctx    context.Context
	cancel context.CancelCauseFunc

	// body is only touched by the attempt chain.
	body streamCache

	mu         sync.Mutex
	request    *http.Request
	response   *Response
	startAt    time.Time
	retryCount int
	lastErr    *Error
	timer      *time.Timer
}

func newExecution(parent context.Context, cfg *RequestConfig) *execution {
	ctx, cancel := context.WithCancelCause(parent)
	return &execution{
		id:        uuid.NewString(),
		config:    cfg,
		createdAt: time.Now(),
		caller:    callerFrame(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// abort cancels the execution with cause. Only the first call has an effect.
func (ex *execution) abort(cause error) {
	ex.cancel(cause)
}

func (ex *execution) aborted() bool {
	return ex.ctx.Err() != nil
}

// abortError converts the abort cause into the error reported to the caller.
//
// A cause that is already an *Error is returned unchanged. A deadline on the
// caller's context reports a timeout; any other cause reports a cancellation.
func (ex *execution) abortError() error {
	cause := context.Cause(ex.ctx)
	if e, ok := cause.(*Error); ok {
		return e
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return newTimeoutError(ex, cause)
	}
	return newCanceledError(ex, cause)
}

// markStart records the first physical send. It reports true only once.
func (ex *execution) markStart() bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if !ex.startAt.IsZero() {
		return false
	}
	ex.startAt = time.Now()
	return true
}

// deadline returns startAt + Timeout once both are known.
func (ex *execution) deadline() (time.Time, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.config.Timeout <= 0 || ex.startAt.IsZero() {
		return time.Time{}, false
	}
	return ex.startAt.Add(ex.config.Timeout), true
}

// armTimer starts the call timeout. When it fires the execution is aborted
// with the last recorded failure if there is one, else with a timeout error.
func (ex *execution) armTimer() {
	if ex.config.Timeout <= 0 {
		return
	}
	t := time.AfterFunc(ex.config.Timeout, func() {
		ex.mu.Lock()
		last := ex.lastErr
		ex.mu.Unlock()

		if last != nil {
			ex.abort(last)
			return
		}
		ex.abort(newTimeoutError(ex, nil))
	})

	ex.mu.Lock()
	ex.timer = t
	ex.mu.Unlock()
}

func (ex *execution) stopTimer() {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.timer != nil {
		ex.timer.Stop()
		ex.timer = nil
	}
}

// release stops the timer and detaches the execution from the caller's
// context. It runs on every settlement path.
func (ex *execution) release() {
	ex.stopTimer()
	ex.cancel(errReleased)
}

// recordFailure counts a failed attempt and returns the new retry count.
func (ex *execution) recordFailure(err error) int {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.retryCount++
	if e, ok := err.(*Error); ok {
		ex.lastErr = e
	}
	return ex.retryCount
}

func (ex *execution) setResponse(resp *Response) {
	ex.mu.Lock()
	ex.response = resp
	ex.mu.Unlock()
}

// snapshot returns the last built request and the last received response.
func (ex *execution) snapshot() (*http.Request, *Response) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.request, ex.response
}

// buildRequest assembles the transport request for the next attempt.
//
// The URL, query and body are rebuilt from the config every time so request
// hooks can change them between attempts.
func (ex *execution) buildRequest() (*http.Request, error) {
	cfg := ex.config

	if accept := cfg.ResponseType.accept(); accept != "" {
		cfg.Headers.Set("accept", accept, false)
	}

	target, err := ex.buildURL()
	if err != nil {
		return nil, err
	}

	payload, hasBody, err := encodeBody(cfg.Data, cfg.Headers, &ex.body)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if hasBody {
		body = bytes.NewReader(payload)
	}

	ctx := withFetchOptions(ex.ctx, FetchOptions{
		Redirect:    cfg.Redirect,
		Credentials: cfg.Credentials,
		Mode:        cfg.Mode,
		KeepAlive:   cfg.KeepAlive,
	})
	ctx = withOperation(ctx, cfg.Operation)

	req, err := http.NewRequestWithContext(ctx, cfg.Method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header = cfg.Headers.Header()

	ex.mu.Lock()
	ex.request = req
	ex.mu.Unlock()

	return req, nil
}

// buildURL appends the serialized params to the configured URL, keeping any
// query the URL already carries.
func (ex *execution) buildURL() (string, error) {
	u, err := url.Parse(ex.config.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	query := EncodeQuery(ex.config.Params)
	switch {
	case query == "":
	case u.RawQuery == "":
		u.RawQuery = query
	default:
		u.RawQuery += "&" + query
	}
	return u.String(), nil
}

const pkgPath = "github.com/kroma-labs/sentinel-go/httpclient."

// callerFrame returns "file:line" of the first caller outside this package.
func callerFrame() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		inPkg := strings.HasPrefix(frame.Function, pkgPath) && !strings.HasSuffix(frame.File, "_test.go")
		if !inPkg && frame.File != "" {
			return frame.File + ":" + strconv.Itoa(frame.Line)
		}
		if !more {
			return ""
		}
	}
}
