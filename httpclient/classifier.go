package httpclient

import (
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	gobreaker "github.com/sony/gobreaker/v2"
)

// Transport error codes derived from network failures.
//
// The retry policy matches these against RetryPolicy.Codes.
const (
	CodeConnReset     = "ECONNRESET"
	CodeConnRefused   = "ECONNREFUSED"
	CodeConnAborted   = "ECONNABORTED"
	CodeTimedOut      = "ETIMEDOUT"
	CodeNotFound      = "ENOTFOUND"
	CodeDNSTemporary  = "EAI_AGAIN"
	CodeNetUnreach    = "ENETUNREACH"
	CodeHostUnreach   = "EHOSTUNREACH"
	CodeBrokenPipe    = "EPIPE"
	CodeCircuitOpen   = "E_CIRCUIT_OPEN"
	CodeRateLimited   = "E_RATE_LIMITED"
	CodeTooManyInHalf = "E_TOO_MANY_REQUESTS"
)

// coder is implemented by errors that carry their own code.
type coder interface {
	Code() string
}

// transportCode derives a code for a transport failure.
//
// An error exposing a Code() method wins. Otherwise the chain is checked for
// syscall errnos, DNS failures and timeouts, then the message text as a last
// resort for wrapped errors from third-party transports.
func transportCode(err error) string {
	if err == nil {
		return ""
	}

	var c coder
	if errors.As(err, &c) {
		if code := c.Code(); code != "" {
			return code
		}
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		return CodeCircuitOpen
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return CodeTooManyInHalf
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return CodeConnReset
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnRefused
	case errors.Is(err, syscall.ECONNABORTED):
		return CodeConnAborted
	case errors.Is(err, syscall.ETIMEDOUT):
		return CodeTimedOut
	case errors.Is(err, syscall.ENETUNREACH):
		return CodeNetUnreach
	case errors.Is(err, syscall.EHOSTUNREACH):
		return CodeHostUnreach
	case errors.Is(err, syscall.EPIPE):
		return CodeBrokenPipe
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		switch {
		case dnsErr.IsNotFound:
			return CodeNotFound
		case dnsErr.IsTimeout:
			return CodeTimedOut
		default:
			return CodeDNSTemporary
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimedOut
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return CodeTimedOut
	}

	// A connection closed mid-response surfaces as an unexpected EOF.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return CodeConnReset
	}

	return codeFromMessage(err)
}

// codeFromMessage is a fallback for edge cases where type checks fail.
func codeFromMessage(err error) string {
	errStr := strings.ToLower(err.Error())
	patterns := []struct {
		pattern string
		code    string
	}{
		{"connection refused", CodeConnRefused},
		{"connection reset", CodeConnReset},
		{"no such host", CodeNotFound},
		{"i/o timeout", CodeTimedOut},
		{"network is unreachable", CodeNetUnreach},
		{"broken pipe", CodeBrokenPipe},
		{"server closed", CodeConnReset},
		{"eof", CodeConnReset},
	}
	for _, p := range patterns {
		if strings.Contains(errStr, p.pattern) {
			return p.code
		}
	}
	return ""
}
