package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"strings"

	json "github.com/goccy/go-json"
)

// Content types recognized or produced by the body codec.
const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeText = "text/plain; charset=utf-8"
)

// errBodyEncoding marks failures while turning a request body into bytes.
var errBodyEncoding = errors.New("body encoding failed")

// bodyKind is the closed set of request payload categories.
type bodyKind int

const (
	bodyNone bodyKind = iota
	bodyMultipart
	bodyURLValues
	bodyBinary
	bodyStream
	bodyObject
	bodyScalar
)

// classifyBody assigns data to exactly one payload category.
func classifyBody(data any) bodyKind {
	switch data.(type) {
	case nil:
		return bodyNone
	case *MultipartBody:
		return bodyMultipart
	case url.Values:
		return bodyURLValues
	case []byte:
		return bodyBinary
	case io.Reader:
		return bodyStream
	case string, bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return bodyScalar
	}

	rv := reflect.ValueOf(data)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return bodyNone
	}
	return bodyObject
}

// streamCache holds one-shot payloads (readers, multipart forms) after their
// first read so later attempts can send the same bytes again.
type streamCache struct {
	read        bool
	data        []byte
	contentType string
	err         error
}

func (c *streamCache) load(fn func() ([]byte, string, error)) ([]byte, string, error) {
	if !c.read {
		c.data, c.contentType, c.err = fn()
		c.read = true
	}
	return c.data, c.contentType, c.err
}

// encodeBody turns data into wire bytes, adjusting headers as needed.
//
// The second return value is false when the request carries no body.
// Header changes never override values the caller already set.
func encodeBody(data any, headers *Headers, cache *streamCache) ([]byte, bool, error) {
	switch classifyBody(data) {
	case bodyNone:
		return nil, false, nil

	case bodyMultipart:
		mb := data.(*MultipartBody)
		payload, contentType, err := cache.load(mb.encode)
		if err != nil {
			return nil, false, fmt.Errorf("%w: multipart: %w", errBodyEncoding, err)
		}
		headers.Set("content-type", contentType, false)
		return payload, true, nil

	case bodyURLValues:
		headers.Set("content-type", contentTypeForm, false)
		return []byte(data.(url.Values).Encode()), true, nil

	case bodyBinary:
		return data.([]byte), true, nil

	case bodyStream:
		r := data.(io.Reader)
		payload, _, err := cache.load(func() ([]byte, string, error) {
			b, err := io.ReadAll(r)
			if closer, ok := r.(io.Closer); ok {
				closer.Close()
			}
			return b, "", err
		})
		if err != nil {
			return nil, false, fmt.Errorf("%w: read: %w", errBodyEncoding, err)
		}
		return payload, true, nil

	case bodyScalar:
		s, _ := scalarString(data)
		headers.Set("content-type", contentTypeText, false)
		return []byte(s), true, nil
	}

	if strings.Contains(strings.ToLower(headers.Get("content-type")), contentTypeForm) {
		tree, err := formTree(data)
		if err != nil {
			return nil, false, err
		}
		return []byte(encodePairs(SerializeParams(tree))), true, nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", errBodyEncoding, err)
	}
	headers.Set("content-type", contentTypeJSON, false)
	return payload, true, nil
}

// formTree returns a parameter tree for form encoding. Top-level structs go
// through their JSON shape here so an unencodable value fails the call.
func formTree(data any) (any, error) {
	if reflect.Indirect(reflect.ValueOf(data)).Kind() != reflect.Struct {
		return data, nil
	}
	tree, err := jsonTree(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBodyEncoding, err)
	}
	return tree, nil
}
