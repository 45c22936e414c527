package httpclient

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// ErrorKind tags the variant of an Error.
type ErrorKind int

const (
	// KindRequest covers network, decode and status validation failures.
	KindRequest ErrorKind = iota
	// KindTimeout is produced when the call deadline elapses.
	KindTimeout
	// KindCanceled is produced when the call is canceled by its owner.
	KindCanceled
)

// String returns the lower-case variant name.
func (k ErrorKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Well-known error codes.
const (
	CodeTimeout  = "E_TIMEOUT"
	CodeCanceled = "E_CANCELED"
)

// Messages used by errors built inside the pipeline.
const (
	msgNetwork        = "network error"
	msgDecode         = "failed to process response data"
	msgEncode         = "failed to encode request body"
	msgTimeout        = "request timed out"
	msgCanceled       = "request was canceled"
	msgStatusTemplate = "request failed with status code %d"
)

// ErrInvalidConfig is returned, wrapped, when a call is configured in a way
// that can never succeed (unknown method, unknown response type, bad URL).
// Such calls fail before anything is sent: no hooks run and nothing is retried.
var ErrInvalidConfig = errors.New("invalid request config")

// Error describes a failed call.
//
// Status is the status code of the last response observed during the call,
// or -1 when no response was ever received. It is set for timeouts and
// cancellations too, when an earlier attempt got a response.
//
// Use errors.As or IsError to recover it from an error chain:
//
//	resp, err := client.Get(ctx, "/users/1")
//	if e, ok := httpclient.IsError(err); ok && e.Status == http.StatusNotFound {
//	    return nil, ErrUserNotFound
//	}
type Error struct {
	Kind     ErrorKind
	Message  string
	Code     string
	Status   int
	Config   *RequestConfig
	Request  *http.Request
	Response *Response
	Data     any

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timeout reports whether the call ran out of time.
func (e *Error) Timeout() bool {
	return e.Kind == KindTimeout
}

// Canceled reports whether the call was canceled.
func (e *Error) Canceled() bool {
	return e.Kind == KindCanceled
}

// IsError reports whether err carries an *Error and returns it.
func IsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ErrorRecord is the serializable form of an Error.
type ErrorRecord struct {
	Client  string `json:"client"`
	URL     string `json:"url"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Status  int    `json:"status"`
	Data    any    `json:"data"`
}

// Record returns the serializable view of the error.
func (e *Error) Record() ErrorRecord {
	rec := ErrorRecord{
		Message: e.Message,
		Code:    e.Code,
		Status:  e.Status,
		Data:    e.Data,
	}
	if e.Config != nil {
		rec.Client = e.Config.ClientID
		rec.URL = e.Config.URL
		rec.Method = e.Config.Method
		rec.Params = e.Config.Params
	}
	return rec
}

// MarshalJSON encodes the error as its ErrorRecord.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Record())
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (e *Error) MarshalZerologObject(ev *zerolog.Event) {
	rec := e.Record()
	ev.Str("kind", e.Kind.String()).
		Str("message", rec.Message).
		Str("code", rec.Code).
		Int("status", rec.Status).
		Str("method", rec.Method).
		Str("url", rec.URL)
	if rec.Client != "" {
		ev.Str("client", rec.Client)
	}
	if e.Err != nil {
		ev.AnErr("cause", e.Err)
	}
}

// newRequestError builds a KindRequest error from the execution's current state.
func newRequestError(ex *execution, message, code string, cause error) *Error {
	return fillError(ex, &Error{
		Kind:    KindRequest,
		Message: message,
		Code:    code,
		Err:     cause,
	})
}

func newTimeoutError(ex *execution, cause error) *Error {
	return fillError(ex, &Error{
		Kind:    KindTimeout,
		Message: msgTimeout,
		Code:    CodeTimeout,
		Err:     cause,
	})
}

func newCanceledError(ex *execution, cause error) *Error {
	return fillError(ex, &Error{
		Kind:    KindCanceled,
		Message: msgCanceled,
		Code:    CodeCanceled,
		Err:     cause,
	})
}

func fillError(ex *execution, e *Error) *Error {
	req, resp := ex.snapshot()
	e.Config = ex.config
	e.Request = req
	e.Response = resp
	e.Status = -1
	if resp != nil {
		e.Status = resp.StatusCode
		e.Data = resp.Data
	}
	return e
}
