package httpclient

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InitHook runs once per call, before the first attempt.
// Returning an error fails the call with that error, without sending anything
// and without running the error hooks.
type InitHook func(ctx context.Context, cfg *RequestConfig) error

// RequestHook runs before every attempt and may modify the config
// (headers, params, data). Returning an error fails the call; it is not retried.
type RequestHook func(ctx context.Context, cfg *RequestConfig) error

// ResponseHook runs once on success, after status validation.
// Returning an error fails the call with that error.
type ResponseHook func(ctx context.Context, resp *Response) error

// ErrorHook runs once when the call fails.
//
// Every error hook receives the original error. A non-nil return value is a
// replacement candidate; the last non-nil one (in registration order) wins.
// A replacement without its own cause gets the original error attached, so
// errors.Is and errors.As still reach it.
type ErrorHook func(ctx context.Context, err error) error

// HookEvent identifies a hook list.
type HookEvent int

const (
	EventInit HookEvent = iota
	EventRequest
	EventResponse
	EventError
)

func (e HookEvent) String() string {
	switch e {
	case EventInit:
		return "init"
	case EventRequest:
		return "request"
	case EventResponse:
		return "response"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// HookHandle identifies a registered hook so it can be removed with Client.Off.
type HookHandle struct {
	event HookEvent
	id    uint64
}

// Event returns the event the hook was registered for.
func (h HookHandle) Event() HookEvent {
	return h.event
}

type hookEntry[T any] struct {
	id uint64
	fn T
}

// hookList is an ordered, concurrency-safe list of hooks.
type hookList[T any] struct {
	mu      sync.RWMutex
	entries []hookEntry[T]
}

func (l *hookList[T]) add(id uint64, fn T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, hookEntry[T]{id: id, fn: fn})
}

func (l *hookList[T]) remove(id uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns the hooks in registration order. Hooks added or removed
// while a call is running do not affect the snapshot that call is using.
func (l *hookList[T]) snapshot() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}

// hookRegistry holds the per-event hook lists of a client.
type hookRegistry struct {
	nextID   atomic.Uint64
	init     hookList[InitHook]
	request  hookList[RequestHook]
	response hookList[ResponseHook]
	errors   hookList[ErrorHook]
}

func (r *hookRegistry) addInit(fn InitHook) HookHandle {
	id := r.nextID.Add(1)
	r.init.add(id, fn)
	return HookHandle{event: EventInit, id: id}
}

func (r *hookRegistry) addRequest(fn RequestHook) HookHandle {
	id := r.nextID.Add(1)
	r.request.add(id, fn)
	return HookHandle{event: EventRequest, id: id}
}

func (r *hookRegistry) addResponse(fn ResponseHook) HookHandle {
	id := r.nextID.Add(1)
	r.response.add(id, fn)
	return HookHandle{event: EventResponse, id: id}
}

func (r *hookRegistry) addError(fn ErrorHook) HookHandle {
	id := r.nextID.Add(1)
	r.errors.add(id, fn)
	return HookHandle{event: EventError, id: id}
}

// remove deletes the hook behind h. Removing twice is a no-op.
func (r *hookRegistry) remove(h HookHandle) bool {
	switch h.event {
	case EventInit:
		return r.init.remove(h.id)
	case EventRequest:
		return r.request.remove(h.id)
	case EventResponse:
		return r.response.remove(h.id)
	case EventError:
		return r.errors.remove(h.id)
	}
	return false
}

func (r *hookRegistry) runInit(ctx context.Context, cfg *RequestConfig) error {
	for _, fn := range r.init.snapshot() {
		if err := fn(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (r *hookRegistry) runRequest(ctx context.Context, cfg *RequestConfig) error {
	for _, fn := range r.request.snapshot() {
		if err := fn(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (r *hookRegistry) runResponse(ctx context.Context, resp *Response) error {
	for _, fn := range r.response.snapshot() {
		if err := fn(ctx, resp); err != nil {
			return err
		}
	}
	return nil
}

// runError runs every error hook with the original error and returns the
// final error of the call.
func (r *hookRegistry) runError(ctx context.Context, err error) error {
	list := r.errors.snapshot()
	results := make([]error, 0, len(list))
	for _, fn := range list {
		results = append(results, fn(ctx, err))
	}

	var final error
	for i := len(results) - 1; i >= 0; i-- {
		if results[i] != nil {
			final = results[i]
			break
		}
	}

	if final == nil || final == err {
		return err
	}
	return attachCause(final, err)
}

// attachCause links original to a replacement error that has no cause.
func attachCause(replacement, original error) error {
	if hasCause(replacement) {
		return replacement
	}
	if e, ok := replacement.(*Error); ok {
		e.Err = original
		return e
	}
	return &replacedError{err: replacement, cause: original}
}

func hasCause(err error) bool {
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return u.Unwrap() != nil
	case interface{ Unwrap() []error }:
		return len(u.Unwrap()) > 0
	}
	return false
}

// replacedError is a replacement error carrying the error it replaced.
type replacedError struct {
	err   error
	cause error
}

func (e *replacedError) Error() string {
	return e.err.Error()
}

func (e *replacedError) Unwrap() []error {
	return []error{e.err, e.cause}
}

// Common hook helpers

// BearerTokenHook sets a static Bearer token on every attempt.
func BearerTokenHook(token string) RequestHook {
	return func(_ context.Context, cfg *RequestConfig) error {
		cfg.Headers.Set("authorization", "Bearer "+token, true)
		return nil
	}
}

// BearerTokenFuncHook sets a Bearer token obtained from tokenFunc on every
// attempt, which suits tokens that are refreshed between retries.
func BearerTokenFuncHook(tokenFunc func(ctx context.Context) (string, error)) RequestHook {
	return func(ctx context.Context, cfg *RequestConfig) error {
		token, err := tokenFunc(ctx)
		if err != nil {
			return err
		}
		cfg.Headers.Set("authorization", "Bearer "+token, true)
		return nil
	}
}

// APIKeyHook sets an API key header.
func APIKeyHook(headerName, apiKey string) RequestHook {
	return func(_ context.Context, cfg *RequestConfig) error {
		cfg.Headers.Set(headerName, apiKey, true)
		return nil
	}
}

// CorrelationIDHook sets a correlation ID header unless the call already has
// one. The first attempt's ID is kept for retries. A nil idFunc generates UUIDs.
func CorrelationIDHook(headerName string, idFunc func() string) InitHook {
	if idFunc == nil {
		idFunc = uuid.NewString
	}
	return func(_ context.Context, cfg *RequestConfig) error {
		cfg.Headers.Set(headerName, idFunc(), false)
		return nil
	}
}

// UserAgentHook sets the User-Agent header unless the call already has one.
func UserAgentHook(userAgent string) InitHook {
	return func(_ context.Context, cfg *RequestConfig) error {
		cfg.Headers.Set("user-agent", userAgent, false)
		return nil
	}
}

// LoggingHook logs every attempt at debug level.
func LoggingHook(logger zerolog.Logger) RequestHook {
	return func(_ context.Context, cfg *RequestConfig) error {
		logger.Debug().
			Str("operation", cfg.Operation).
			Str("method", cfg.Method).
			Str("url", cfg.URL).
			Msg("HTTP attempt")
		return nil
	}
}

// ErrorLoggingHook logs failed calls without replacing the error.
func ErrorLoggingHook(logger zerolog.Logger) ErrorHook {
	return func(_ context.Context, err error) error {
		ev := logger.Error()
		if e, ok := IsError(err); ok {
			ev = ev.Object("error", e)
		} else {
			ev = ev.Err(err)
		}
		ev.Msg("HTTP call failed")
		return nil
	}
}
