package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	json "github.com/goccy/go-json"
)

var jsonContentType = regexp.MustCompile(`application/(?:[\w.]+\+)?json`)

// Response wraps http.Response with the decoded body.
//
// The body is read completely before the call settles, so it can be read any
// number of times through Body, String or Decode.
//
// Example usage:
//
//	resp, err := client.Get(ctx, "/users", nil)
//	if err != nil {
//	    return err
//	}
//
//	users := resp.Data.([]any)
type Response struct {
	// Response embeds the standard http.Response.
	// All http.Response fields and methods are accessible directly.
	//
	// Example: resp.StatusCode, resp.Header.Get("Content-Type")
	*http.Response

	// Data is the decoded body, according to the call's ResponseType:
	//   - json: the JSON value (any), or the Result target when one was given
	//   - text: string
	//   - blob, arrayBuffer: []byte
	//   - auto: as json or text depending on Content-Type, else nil
	//   - none: nil
	Data any

	// body is the raw response body, read once.
	body []byte

	// curlCommand is the equivalent cURL command for this request.
	// Only populated if WithGenerateCurl(true) was set on the client.
	curlCommand string
}

// newResponse reads the whole body of r and closes it.
func newResponse(r *http.Response) (*Response, error) {
	resp := &Response{Response: r}
	if r.Body == nil {
		r.Body = http.NoBody
		return resp, nil
	}

	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return resp, err
	}

	resp.body = body
	r.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// Body returns the raw response body.
func (r *Response) Body() []byte {
	return r.body
}

// String returns the raw response body as a string.
func (r *Response) String() string {
	return string(r.body)
}

// Decode unmarshals the raw JSON body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.body, v)
}

// IsSuccess returns true if the response status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError returns true if the response status code is 4xx or 5xx.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// CurlCommand returns the cURL command equivalent for this request.
//
// This is only populated if WithGenerateCurl(true) was set on the client.
func (r *Response) CurlCommand() string {
	return r.curlCommand
}

// decode fills Data according to the response type.
func (r *Response) decode(typ ResponseType, result any) error {
	switch typ {
	case ResponseNone:
		return nil
	case ResponseBlob, ResponseArrayBuffer:
		r.Data = r.body
		return nil
	case ResponseText:
		r.Data = string(r.body)
		return nil
	case ResponseJSON:
		return r.decodeJSON(result)
	case ResponseAuto:
		contentType := r.Header.Get("Content-Type")
		if jsonContentType.MatchString(contentType) {
			return r.decodeJSON(result)
		}
		if contentType == "" || strings.HasPrefix(strings.ToLower(contentType), "text/") {
			r.Data = string(r.body)
		}
		return nil
	default:
		return fmt.Errorf("%w: invalid response type %q", ErrInvalidConfig, typ)
	}
}

// decodeJSON decodes the body into result when given, else into a generic value.
// An empty body decodes to nil.
func (r *Response) decodeJSON(result any) error {
	if len(bytes.TrimSpace(r.body)) == 0 {
		return nil
	}
	if result != nil {
		if err := json.Unmarshal(r.body, result); err != nil {
			return err
		}
		r.Data = result
		return nil
	}

	var v any
	if err := json.Unmarshal(r.body, &v); err != nil {
		return err
	}
	r.Data = v
	return nil
}
