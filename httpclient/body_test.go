package httpclient

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBody(t *testing.T) {
	var nilUser *struct{ Name string }

	tests := []struct {
		name string
		data any
		want bodyKind
	}{
		{name: "given nil, then none", data: nil, want: bodyNone},
		{name: "given nil pointer, then none", data: nilUser, want: bodyNone},
		{name: "given multipart body, then multipart", data: NewMultipartBody(), want: bodyMultipart},
		{name: "given url.Values, then form", data: url.Values{"a": {"1"}}, want: bodyURLValues},
		{name: "given bytes, then binary", data: []byte("raw"), want: bodyBinary},
		{name: "given reader, then stream", data: strings.NewReader("x"), want: bodyStream},
		{name: "given string, then scalar", data: "hello", want: bodyScalar},
		{name: "given number, then scalar", data: 42, want: bodyScalar},
		{name: "given uint8, then scalar", data: uint8(7), want: bodyScalar},
		{name: "given map, then object", data: map[string]any{"a": 1}, want: bodyObject},
		{name: "given struct, then object", data: struct{ A int }{1}, want: bodyObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyBody(tt.data))
		})
	}
}

func TestEncodeBody(t *testing.T) {
	type user struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	tests := []struct {
		name            string
		data            any
		headers         map[string]any
		wantBody        string
		wantHasBody     bool
		wantContentType string
	}{
		{
			name:        "given nil data, then no body is sent",
			data:        nil,
			wantHasBody: false,
		},
		{
			name:            "given struct, then JSON with JSON content type",
			data:            user{Name: "john", Age: 30},
			wantBody:        `{"name":"john","age":30}`,
			wantHasBody:     true,
			wantContentType: contentTypeJSON,
		},
		{
			name:            "given struct and form content type, then form encoded",
			data:            map[string]any{"name": "john", "tags": []string{"a", "b"}},
			headers:         map[string]any{"Content-Type": contentTypeForm},
			wantBody:        "name=john&tags%5B%5D=a&tags%5B%5D=b",
			wantHasBody:     true,
			wantContentType: contentTypeForm,
		},
		{
			name:            "given typed map and form content type, then form encoded",
			data:            map[string]int{"b": 2, "a": 1},
			headers:         map[string]any{"Content-Type": contentTypeForm},
			wantBody:        "a=1&b=2",
			wantHasBody:     true,
			wantContentType: contentTypeForm,
		},
		{
			name:            "given map of lists and form content type, then form encoded",
			data:            map[string][]string{"tag": {"x", "y"}},
			headers:         map[string]any{"Content-Type": contentTypeForm},
			wantBody:        "tag%5B%5D=x&tag%5B%5D=y",
			wantHasBody:     true,
			wantContentType: contentTypeForm,
		},
		{
			name:            "given struct and mixed-case form content type, then form encoded",
			data:            user{Name: "john", Age: 30},
			headers:         map[string]any{"Content-Type": "Application/X-WWW-Form-Urlencoded; charset=UTF-8"},
			wantBody:        "age=30&name=john",
			wantHasBody:     true,
			wantContentType: "Application/X-WWW-Form-Urlencoded; charset=UTF-8",
		},
		{
			name:            "given uint8, then text plain",
			data:            uint8(7),
			wantBody:        "7",
			wantHasBody:     true,
			wantContentType: contentTypeText,
		},
		{
			name:            "given url.Values, then form encoded",
			data:            url.Values{"user": {"john"}},
			wantBody:        "user=john",
			wantHasBody:     true,
			wantContentType: contentTypeForm,
		},
		{
			name:            "given string, then text plain",
			data:            "hello",
			wantBody:        "hello",
			wantHasBody:     true,
			wantContentType: contentTypeText,
		},
		{
			name:            "given bool, then text plain",
			data:            true,
			wantBody:        "true",
			wantHasBody:     true,
			wantContentType: contentTypeText,
		},
		{
			name:        "given bytes, then sent as is without content type",
			data:        []byte{0x01, 0x02},
			wantBody:    "\x01\x02",
			wantHasBody: true,
		},
		{
			name:            "given explicit content type, then it is kept",
			data:            map[string]any{"a": 1},
			headers:         map[string]any{"content-type": "application/vnd.api+json"},
			wantBody:        `{"a":1}`,
			wantHasBody:     true,
			wantContentType: "application/vnd.api+json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := NewHeaders(tt.headers)
			var cache streamCache

			body, hasBody, err := encodeBody(tt.data, headers, &cache)
			require.NoError(t, err)

			assert.Equal(t, tt.wantHasBody, hasBody)
			assert.Equal(t, tt.wantBody, string(body))
			assert.Equal(t, tt.wantContentType, headers.Get("content-type"))
		})
	}
}

func TestEncodeBody_JSONRoundTrips(t *testing.T) {
	data := map[string]any{
		"name":   "john",
		"age":    30.0,
		"tags":   []any{"a", "b"},
		"active": true,
		"nested": map[string]any{"k": nil, "n": 1.5},
	}

	body, hasBody, err := encodeBody(data, NewHeaders(nil), &streamCache{})
	require.NoError(t, err)
	require.True(t, hasBody)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, data, decoded)
}

func TestEncodeBody_StreamIsReadOnce(t *testing.T) {
	var cache streamCache
	reader := strings.NewReader("payload")

	first, _, err := encodeBody(reader, NewHeaders(nil), &cache)
	require.NoError(t, err)
	second, _, err := encodeBody(reader, NewHeaders(nil), &cache)
	require.NoError(t, err)

	assert.Equal(t, "payload", string(first))
	assert.Equal(t, "payload", string(second))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestEncodeBody_StreamError(t *testing.T) {
	var cache streamCache

	_, _, err := encodeBody(failingReader{}, NewHeaders(nil), &cache)

	require.Error(t, err)
	assert.ErrorIs(t, err, errBodyEncoding)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestEncodeBody_UnencodableJSON(t *testing.T) {
	var cache streamCache

	_, _, err := encodeBody(map[string]any{"ch": make(chan int)}, NewHeaders(nil), &cache)

	assert.ErrorIs(t, err, errBodyEncoding)
}

func TestMultipartBody_Encode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("q4 numbers"), 0o600))

	mb := NewMultipartBody().
		Field("title", "Q4").
		File("document", path).
		FileReader("avatar", "me.png", bytes.NewReader([]byte("png")))

	headers := NewHeaders(nil)
	var cache streamCache
	body, hasBody, err := encodeBody(mb, headers, &cache)
	require.NoError(t, err)
	require.True(t, hasBody)

	mediaType, params, err := mime.ParseMediaType(headers.Get("content-type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/form-data", mediaType)

	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	parts := map[string]string{}
	files := map[string]string{}
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(part)
		require.NoError(t, err)
		parts[part.FormName()] = string(content)
		if part.FileName() != "" {
			files[part.FormName()] = part.FileName()
		}
	}

	assert.Equal(t, map[string]string{
		"title":    "Q4",
		"document": "q4 numbers",
		"avatar":   "png",
	}, parts)
	assert.Equal(t, map[string]string{
		"document": "report.txt",
		"avatar":   "me.png",
	}, files)
}

func TestMultipartBody_MissingFile(t *testing.T) {
	mb := NewMultipartBody().File("doc", filepath.Join(t.TempDir(), "missing.pdf"))
	var cache streamCache

	_, _, err := encodeBody(mb, NewHeaders(nil), &cache)

	assert.ErrorIs(t, err, errBodyEncoding)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
