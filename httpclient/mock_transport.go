package httpclient

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// MockTransport provides a configurable http.RoundTripper for testing.
// It allows stubbing responses and verifying request expectations.
//
// Stubs are checked in registration order and the first match wins. A stub
// built with StubSequence answers with its replies in turn and repeats the
// last one once they run out.
type MockTransport struct {
	mu          sync.RWMutex
	stubs       []*stub
	fallback    *stub
	requests    []*http.Request
	bodies      [][]byte
	requestHook func(*http.Request)
}

// MockReply is one canned answer of a MockTransport.
type MockReply struct {
	Status int
	Header http.Header
	Body   string
	Err    error

	// Delay holds the reply back. The request context still interrupts it.
	Delay time.Duration
}

type stub struct {
	matcher func(*http.Request) bool

	mu      sync.Mutex
	replies []MockReply
	next    int
}

func (s *stub) reply() MockReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.replies[s.next]
	if s.next < len(s.replies)-1 {
		s.next++
	}
	return r
}

// NewMockTransport creates a new MockTransport for testing.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse answers every unmatched request with the given response.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	return m.setFallback(MockReply{Status: statusCode, Body: body})
}

// StubError answers every unmatched request with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	return m.setFallback(MockReply{Err: err})
}

// StubJSON answers requests for path with v encoded as JSON.
func (m *MockTransport) StubJSON(path string, statusCode int, v any) *MockTransport {
	body, err := json.Marshal(v)
	if err != nil {
		panic("httpclient: StubJSON: " + err.Error())
	}
	return m.StubReplies(matchPath(path), MockReply{
		Status: statusCode,
		Header: http.Header{"Content-Type": {contentTypeJSON}},
		Body:   string(body),
	})
}

// StubPath stubs requests matching the path to return the given response.
func (m *MockTransport) StubPath(path string, statusCode int, body string) *MockTransport {
	return m.StubFunc(matchPath(path), statusCode, body)
}

// StubPathRegex stubs requests matching the path regex to return the given response.
func (m *MockTransport) StubPathRegex(pattern string, statusCode int, body string) *MockTransport {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *http.Request) bool {
		return re.MatchString(req.URL.Path)
	}, statusCode, body)
}

// StubMethod stubs requests with the given method to return the given response.
func (m *MockTransport) StubMethod(method string, statusCode int, body string) *MockTransport {
	return m.StubFunc(func(req *http.Request) bool {
		return req.Method == method
	}, statusCode, body)
}

// StubFunc stubs requests matching the predicate to return the given response.
func (m *MockTransport) StubFunc(matcher func(*http.Request) bool, statusCode int, body string) *MockTransport {
	return m.StubReplies(matcher, MockReply{Status: statusCode, Body: body})
}

// StubFuncError stubs requests matching the predicate to return the given error.
func (m *MockTransport) StubFuncError(matcher func(*http.Request) bool, err error) *MockTransport {
	return m.StubReplies(matcher, MockReply{Err: err})
}

// StubSequence answers requests for path with replies in order.
//
// Example - fail twice, then succeed:
//
//	mock.StubSequence("/flaky",
//	    httpclient.MockReply{Status: 503},
//	    httpclient.MockReply{Status: 503},
//	    httpclient.MockReply{Status: 200, Body: "ok"},
//	)
func (m *MockTransport) StubSequence(path string, replies ...MockReply) *MockTransport {
	return m.StubReplies(matchPath(path), replies...)
}

// StubReplies stubs requests matching the predicate with replies in order.
func (m *MockTransport) StubReplies(matcher func(*http.Request) bool, replies ...MockReply) *MockTransport {
	if len(replies) == 0 {
		panic("httpclient: StubReplies needs at least one reply")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, &stub{matcher: matcher, replies: replies})
	return m
}

// StubHang makes requests for path block until their context is done.
func (m *MockTransport) StubHang(path string) *MockTransport {
	return m.StubReplies(matchPath(path), MockReply{Delay: time.Duration(1<<63 - 1)})
}

func (m *MockTransport) setFallback(r MockReply) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &stub{replies: []MockReply{r}}
	return m
}

// OnRequest sets a hook that is called for each request.
// Useful for assertions or capturing request details.
func (m *MockTransport) OnRequest(fn func(*http.Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		req.Body.Close()
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)
	hook := m.requestHook
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	s := m.match(req)
	if s == nil {
		return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL.String())
	}

	r := s.reply()
	if r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		select {
		case <-t.C:
		case <-req.Context().Done():
			t.Stop()
			return nil, req.Context().Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return r.response(req), nil
}

func (m *MockTransport) match(req *http.Request) *stub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.stubs {
		if s.matcher(req) {
			return s
		}
	}
	return m.fallback
}

func (r MockReply) response(req *http.Request) *http.Response {
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        http.StatusText(status),
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewBufferString(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

func matchPath(path string) func(*http.Request) bool {
	return func(req *http.Request) bool {
		return req.URL.Path == path
	}
}

// Requests returns all requests made through this transport.
func (m *MockTransport) Requests() []*http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*http.Request{}, m.requests...)
}

// Bodies returns the request bodies in the order the requests were made.
func (m *MockTransport) Bodies() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte{}, m.bodies...)
}

// RequestCount returns the number of requests made.
func (m *MockTransport) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil if none.
func (m *MockTransport) LastRequest() *http.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears all recorded requests and stubs.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.bodies = nil
	m.stubs = nil
	m.fallback = nil
	m.requestHook = nil
}

// WithMockTransport is a convenience function to create a client with a mock transport.
func WithMockTransport(mock *MockTransport) Option {
	return WithTransport(mock)
}
