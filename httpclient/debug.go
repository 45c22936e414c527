package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// newDebugLogger returns the console logger used by WithDebug.
func newDebugLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return zerolog.New(w).With().Timestamp().Str("component", "httpclient").Logger().Level(zerolog.DebugLevel)
}

// generateCurlCommand creates a cURL command equivalent for the given request.
//
// Example output:
//
//	curl -X POST 'https://api.example.com/users' -H 'Content-Type: application/json' -d '{"name":"John"}'
func generateCurlCommand(req *http.Request) string {
	parts := []string{"curl"}

	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}
	parts = append(parts, shellQuote(req.URL.String()))

	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range req.Header[k] {
			parts = append(parts, "-H", shellQuote(k+": "+v))
		}
	}

	if body := requestBody(req); len(body) > 0 {
		parts = append(parts, "-d", shellQuote(string(body)))
	}

	return strings.Join(parts, " ")
}

// requestBody returns a copy of the request body without consuming it.
func requestBody(req *http.Request) []byte {
	if req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	return b
}

func shellQuote(s string) string {
	return fmt.Sprintf("'%s'", strings.ReplaceAll(s, "'", `'\''`))
}

func logRequest(logger zerolog.Logger, ex *execution, req *http.Request) {
	logger.Debug().
		Str("execution_id", ex.id).
		Str("operation", ex.config.Operation).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("HTTP request")
}

func logResponse(logger zerolog.Logger, ex *execution, resp *Response, duration time.Duration) {
	logger.Debug().
		Str("execution_id", ex.id).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Int("body_size", len(resp.body)).
		Msg("HTTP response")
}

// logSettled logs the final outcome of a call.
func logSettled(logger zerolog.Logger, ex *execution, err error, duration time.Duration) {
	if err == nil {
		logger.Debug().
			Str("execution_id", ex.id).
			Str("caller", ex.caller).
			Dur("duration", duration).
			Msg("HTTP call succeeded")
		return
	}

	ev := logger.Debug().
		Str("execution_id", ex.id).
		Str("caller", ex.caller).
		Dur("duration", duration)
	if e, ok := IsError(err); ok {
		ev = ev.Object("error", e)
	} else {
		ev = ev.Err(err)
	}
	ev.Msg("HTTP call failed")
}
