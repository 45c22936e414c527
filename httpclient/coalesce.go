package httpclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"
)

// GenerateCoalesceKey creates the deduplication key of an attempt.
//
// Key = SHA256(method | scheme://host/path | sorted query | sorted headers).
// Two attempts with the same key would receive the same response.
func GenerateCoalesceKey(method, rawURL string, header http.Header) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return hashString(method + "|" + rawURL + "|" + canonicalHeader(header))
	}

	query := parsedURL.Query()
	var sortedParams []string
	for key, values := range query {
		values = append([]string(nil), values...)
		sort.Strings(values)
		for _, v := range values {
			sortedParams = append(sortedParams, key+"="+v)
		}
	}
	sort.Strings(sortedParams)

	normalizedURL := fmt.Sprintf("%s://%s%s", parsedURL.Scheme, parsedURL.Host, parsedURL.Path)

	return hashString(strings.Join([]string{
		method,
		normalizedURL,
		strings.Join(sortedParams, "&"),
		canonicalHeader(header),
	}, "|"))
}

// propagationHeaders differ on every attempt and are left out of the key.
var propagationHeaders = map[string]bool{
	"traceparent": true,
	"tracestate":  true,
	"baggage":     true,
}

func canonicalHeader(h http.Header) string {
	lines := make([]string, 0, len(h))
	for k, v := range h {
		k = strings.ToLower(k)
		if propagationHeaders[k] {
			continue
		}
		lines = append(lines, k+":"+strings.Join(v, ","))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}

// sharedResponse is a fully read response handed to every coalesced caller.
type sharedResponse struct {
	status     int
	statusText string
	proto      string
	header     http.Header
	body       []byte
}

func (s *sharedResponse) response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        s.statusText,
		StatusCode:    s.status,
		Proto:         s.proto,
		Header:        s.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(s.body)),
		ContentLength: int64(len(s.body)),
		Request:       req,
	}
}

// coalesceTransport deduplicates identical bodiless GET and HEAD attempts
// that are in flight at the same time. Only one reaches the next transport;
// the others receive a copy of its response.
type coalesceTransport struct {
	next  http.RoundTripper
	group singleflight.Group
}

func newCoalesceTransport(next http.RoundTripper, enabled bool) http.RoundTripper {
	if !enabled {
		return next
	}
	return &coalesceTransport{next: next}
}

func coalescable(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return false
	}
	return req.Body == nil || req.Body == http.NoBody
}

// RoundTrip implements http.RoundTripper.
func (t *coalesceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !coalescable(req) {
		return t.next.RoundTrip(req)
	}

	ctx := req.Context()
	key := GenerateCoalesceKey(req.Method, req.URL.String(), req.Header)

	ch := t.group.DoChan(key, func() (any, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &sharedResponse{
			status:     resp.StatusCode,
			statusText: resp.Status,
			proto:      resp.Proto,
			header:     resp.Header,
			body:       body,
		}, nil
	})

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case res := <-ch:
		if res.Err != nil {
			// The attempt that led the group was aborted by its own caller;
			// this one is still live and goes out on its own.
			if res.Shared && isContextError(res.Err) && ctx.Err() == nil {
				return t.next.RoundTrip(req)
			}
			return nil, res.Err
		}
		return res.Val.(*sharedResponse).response(req), nil
	}
}

func (t *coalesceTransport) Unwrap() http.RoundTripper {
	return t.next
}

func isContextError(err error) bool {
	var e *Error
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.As(err, &e)
}
