package httpclient

import (
	"fmt"
	"net/http"
	"time"
)

// ResponseType selects how a response body is decoded into Response.Data.
type ResponseType string

const (
	// ResponseAuto decodes JSON media types as JSON, empty or text/* as text,
	// and leaves everything else undecoded.
	ResponseAuto ResponseType = "auto"
	// ResponseJSON decodes the body as JSON.
	ResponseJSON ResponseType = "json"
	// ResponseText returns the body as a string.
	ResponseText ResponseType = "text"
	// ResponseBlob returns the raw body bytes.
	ResponseBlob ResponseType = "blob"
	// ResponseArrayBuffer returns the raw body bytes.
	ResponseArrayBuffer ResponseType = "arrayBuffer"
	// ResponseNone skips body decoding and sends no Accept header.
	ResponseNone ResponseType = "none"
)

// accept returns the Accept header implied by the response type.
func (t ResponseType) accept() string {
	switch t {
	case ResponseAuto, ResponseJSON:
		return "application/json"
	case ResponseText:
		return "text/*"
	case ResponseBlob, ResponseArrayBuffer:
		return "*/*"
	default:
		return ""
	}
}

func (t ResponseType) valid() bool {
	switch t {
	case ResponseAuto, ResponseJSON, ResponseText, ResponseBlob, ResponseArrayBuffer, ResponseNone:
		return true
	}
	return false
}

// RedirectPolicy controls how redirects are handled by the transport.
type RedirectPolicy string

const (
	RedirectFollow RedirectPolicy = "follow"
	RedirectError  RedirectPolicy = "error"
	RedirectManual RedirectPolicy = "manual"
)

// Credentials controls whether credentials are sent with the request.
type Credentials string

const (
	CredentialsSameOrigin Credentials = "same-origin"
	CredentialsInclude    Credentials = "include"
	CredentialsOmit       Credentials = "omit"
)

// Mode is the request mode hint passed through to the transport.
type Mode string

const (
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
	ModeSameOrigin Mode = "same-origin"
)

var validMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

// RequestOptions describes a single call.
//
// Zero values inherit the client defaults: an empty Method means GET, an
// empty ResponseType means auto, a zero Timeout uses the client timeout and a
// nil Retry uses the client retry policy. A negative Timeout disables the
// deadline and NoRetry() disables retries for this call.
type RequestOptions struct {
	URL          string
	Method       string
	Params       any
	Headers      map[string]any
	Data         any
	ResponseType ResponseType
	Timeout      time.Duration
	Retry        *RetryPolicy
	Redirect     RedirectPolicy
	Credentials  Credentials
	Mode         Mode
	KeepAlive    bool

	// Result, when set, receives the decoded JSON body.
	Result any

	// Operation names the call in spans and logs.
	Operation string
}

// RequestConfig is the resolved configuration of a call.
//
// It is built once per call and shared by every attempt. Request hooks may
// modify Headers, Params and Data; the next request build picks the changes up.
type RequestConfig struct {
	ClientID     string
	Operation    string
	URL          string
	Method       string
	Params       any
	Headers      *Headers
	Data         any
	ResponseType ResponseType
	Timeout      time.Duration
	Retry        *RetryPolicy
	Redirect     RedirectPolicy
	Credentials  Credentials
	Mode         Mode
	KeepAlive    bool
	Result       any
}

// validate rejects configurations that cannot produce a request.
func (c *RequestConfig) validate() error {
	if _, ok := validMethods[c.Method]; !ok {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidConfig, c.Method)
	}
	if !c.ResponseType.valid() {
		return fmt.Errorf("%w: invalid response type %q", ErrInvalidConfig, c.ResponseType)
	}
	switch c.Redirect {
	case RedirectFollow, RedirectError, RedirectManual:
	default:
		return fmt.Errorf("%w: invalid redirect policy %q", ErrInvalidConfig, c.Redirect)
	}
	return nil
}
