package httpclient

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Headers is a case-insensitive header store.
//
// Names are lower-cased on the way in, so "Content-Type" and "content-type"
// address the same entry. Set does not overwrite an existing entry unless
// override is true, which lets client defaults sit under call-level values
// without clobbering them. Setting a nil value deletes the entry.
//
// A Headers value is owned by a single call and is not safe for concurrent use.
type Headers struct {
	values map[string]string
}

// NewHeaders creates a header store seeded with values.
//
// Example:
//
//	h := httpclient.NewHeaders(map[string]any{
//	    "Accept":    "application/json",
//	    "X-Retries": 3,
//	})
func NewHeaders(values map[string]any) *Headers {
	h := &Headers{values: make(map[string]string, len(values))}
	h.SetAll(values, false)
	return h
}

// Get returns the value stored for name, or "" when absent.
func (h *Headers) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup returns the value stored for name and whether it was present.
func (h *Headers) Lookup(name string) (string, bool) {
	if h == nil || h.values == nil {
		return "", false
	}
	v, ok := h.values[normalizeHeaderName(name)]
	return v, ok
}

// Has reports whether name is present.
func (h *Headers) Has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// Set stores value under name.
//
// When override is false and name already exists, Set is a no-op.
// A nil value removes name instead of storing it.
func (h *Headers) Set(name string, value any, override bool) *Headers {
	if h.values == nil {
		h.values = make(map[string]string)
	}

	key := normalizeHeaderName(name)
	if !override {
		if _, ok := h.values[key]; ok {
			return h
		}
	}

	if value == nil {
		delete(h.values, key)
		return h
	}

	h.values[key] = headerValue(value)
	return h
}

// SetAll applies Set for every entry of values.
// Entries are applied in sorted name order so the outcome does not depend on
// map iteration when two names differ only in case.
func (h *Headers) SetAll(values map[string]any, override bool) *Headers {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		h.Set(name, values[name], override)
	}
	return h
}

// Delete removes name.
func (h *Headers) Delete(name string) *Headers {
	if h.values != nil {
		delete(h.values, normalizeHeaderName(name))
	}
	return h
}

// Len returns the number of stored headers.
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.values)
}

// Clone returns an independent copy.
func (h *Headers) Clone() *Headers {
	c := &Headers{values: make(map[string]string, h.Len())}
	if h != nil {
		for k, v := range h.values {
			c.values[k] = v
		}
	}
	return c
}

// Map returns a copy of the stored values keyed by lower-cased name.
func (h *Headers) Map() map[string]string {
	out := make(map[string]string, h.Len())
	if h != nil {
		for k, v := range h.values {
			out[k] = v
		}
	}
	return out
}

// Header converts the store into the http.Header handed to the transport.
func (h *Headers) Header() http.Header {
	out := make(http.Header, h.Len())
	if h != nil {
		for k, v := range h.values {
			out.Set(k, v)
		}
	}
	return out
}

func normalizeHeaderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func headerValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
