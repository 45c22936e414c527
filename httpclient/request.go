package httpclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestBuilder provides a fluent API for constructing calls.
//
// Create a RequestBuilder using Client.Request():
//
//	resp, err := client.Request("CreateUser").
//	    Path("/users").
//	    Body(user).
//	    Post(ctx)
//
// A builder describes one call and is not safe for concurrent use.
type RequestBuilder struct {
	client     *Client
	opts       RequestOptions
	path       string
	pathParams map[string]string
	params     Params
	multipart  *MultipartBody
}

// Request creates a new RequestBuilder for the given operation name.
//
// The operation name is used in attempt span names
// (e.g. "HTTP POST CreatePayment"), logs and call metrics.
func (c *Client) Request(operationName string) *RequestBuilder {
	return &RequestBuilder{
		client: c,
		opts: RequestOptions{
			Operation: operationName,
			Headers:   make(map[string]any),
		},
		pathParams: make(map[string]string),
	}
}

// Path sets the request path, joined to the client's base URL.
// Path parameters can be written as {name} and filled with PathParam.
//
// Example:
//
//	client.Request("GetUser").
//	    Path("/users/{id}").
//	    PathParam("id", userID).
//	    Get(ctx)
func (rb *RequestBuilder) Path(path string) *RequestBuilder {
	rb.path = path
	return rb
}

// PathParam sets a path parameter value. The value is path-escaped.
func (rb *RequestBuilder) PathParam(key, value string) *RequestBuilder {
	rb.pathParams[key] = value
	return rb
}

// Param appends a query parameter. Values may be scalars, slices or nested
// maps; see SerializeParams.
//
// Example:
//
//	client.Request("SearchUsers").
//	    Path("/users").
//	    Param("name", "john").
//	    Param("id", []int{1, 2, 3}).
//	    Get(ctx) // /users?name=john&id%5B%5D=1&id%5B%5D=2&id%5B%5D=3
func (rb *RequestBuilder) Param(key string, value any) *RequestBuilder {
	rb.params = rb.params.Add(key, value)
	return rb
}

// Params sets the whole parameter tree, replacing any Param calls.
func (rb *RequestBuilder) Params(tree any) *RequestBuilder {
	rb.params = nil
	rb.opts.Params = tree
	return rb
}

// Header sets a single request header.
func (rb *RequestBuilder) Header(key string, value any) *RequestBuilder {
	rb.opts.Headers[key] = value
	return rb
}

// Headers sets multiple request headers.
func (rb *RequestBuilder) Headers(headers map[string]any) *RequestBuilder {
	for k, v := range headers {
		rb.opts.Headers[k] = v
	}
	return rb
}

// Body sets the request body.
//
// Encoding rules:
//   - *MultipartBody: multipart/form-data
//   - url.Values: form encoded
//   - []byte, io.Reader: sent as is
//   - string, numbers, bool: text/plain
//   - anything else: JSON, or form encoded when the Content-Type header
//     already says application/x-www-form-urlencoded
func (rb *RequestBuilder) Body(v any) *RequestBuilder {
	rb.opts.Data = v
	return rb
}

// BodyForm sets form data as the request body.
//
// Example:
//
//	client.Request("Login").
//	    BodyForm(map[string]string{
//	        "username": "john",
//	        "password": "secret",
//	    }).
//	    Post(ctx, "/login")
func (rb *RequestBuilder) BodyForm(data map[string]string) *RequestBuilder {
	form := make(url.Values, len(data))
	for k, v := range data {
		form.Set(k, v)
	}
	rb.opts.Data = form
	return rb
}

// File adds a file from disk to a multipart body.
//
// Example:
//
//	client.Request("UploadAvatar").
//	    File("avatar", "/tmp/me.png").
//	    FormField("user_id", "42").
//	    Post(ctx, "/avatars")
func (rb *RequestBuilder) File(fieldName, filePath string) *RequestBuilder {
	rb.ensureMultipart().File(fieldName, filePath)
	return rb
}

// FormField adds a text field to a multipart body.
func (rb *RequestBuilder) FormField(key, value string) *RequestBuilder {
	rb.ensureMultipart().Field(key, value)
	return rb
}

func (rb *RequestBuilder) ensureMultipart() *MultipartBody {
	if rb.multipart == nil {
		rb.multipart = NewMultipartBody()
		rb.opts.Data = rb.multipart
	}
	return rb.multipart
}

// ResponseType selects how the body is decoded into Response.Data.
func (rb *RequestBuilder) ResponseType(t ResponseType) *RequestBuilder {
	rb.opts.ResponseType = t
	return rb
}

// Timeout overrides the client timeout for this call. A negative value
// disables the timeout.
func (rb *RequestBuilder) Timeout(d time.Duration) *RequestBuilder {
	rb.opts.Timeout = d
	return rb
}

// Retry overrides the client retry policy for this call.
func (rb *RequestBuilder) Retry(p RetryPolicy) *RequestBuilder {
	rb.opts.Retry = &p
	return rb
}

// NoRetry disables retries for this call.
func (rb *RequestBuilder) NoRetry() *RequestBuilder {
	rb.opts.Retry = NoRetry()
	return rb
}

// Redirect overrides the client redirect policy for this call.
func (rb *RequestBuilder) Redirect(p RedirectPolicy) *RequestBuilder {
	rb.opts.Redirect = p
	return rb
}

// Credentials sets the credentials mode. With CredentialsOmit the default
// transport drops Authorization and Cookie headers.
func (rb *RequestBuilder) Credentials(c Credentials) *RequestBuilder {
	rb.opts.Credentials = c
	return rb
}

// Decode sets the target a JSON body is decoded into. Response.Data then
// holds the target.
//
// Example:
//
//	var users []User
//	_, err := client.Request("GetUsers").
//	    Decode(&users).
//	    Get(ctx, "/users")
func (rb *RequestBuilder) Decode(v any) *RequestBuilder {
	rb.opts.Result = v
	return rb
}

// Get executes a GET request.
//
// Example:
//
//	resp, err := client.Request("GetUsers").Get(ctx, "/users")
func (rb *RequestBuilder) Get(ctx context.Context, path ...string) (*Response, error) {
	return rb.Send(ctx, http.MethodGet, path...)
}

// Head executes a HEAD request.
func (rb *RequestBuilder) Head(ctx context.Context, path ...string) (*Response, error) {
	return rb.Send(ctx, http.MethodHead, path...)
}

// Options executes an OPTIONS request.
func (rb *RequestBuilder) Options(ctx context.Context, path ...string) (*Response, error) {
	return rb.Send(ctx, http.MethodOptions, path...)
}

// Post executes a POST request.
//
// Example:
//
//	resp, err := client.Request("CreateUser").
//	    Body(user).
//	    Post(ctx, "/users")
func (rb *RequestBuilder) Post(ctx context.Context, path ...string) (*Response, error) {
	return rb.Send(ctx, http.MethodPost, path...)
}

// Put executes a PUT request.
func (rb *RequestBuilder) Put(ctx context.Context, path ...string) (*Response, error) {
	return rb.Send(ctx, http.MethodPut, path...)
}

// Patch executes a PATCH request.
func (rb *RequestBuilder) Patch(ctx context.Context, path ...string) (*Response, error) {
	return rb.Send(ctx, http.MethodPatch, path...)
}

// Delete executes a DELETE request.
//
// Example:
//
//	resp, err := client.Request("DeleteUser").
//	    PathParam("id", id).
//	    Delete(ctx, "/users/{id}")
func (rb *RequestBuilder) Delete(ctx context.Context, path ...string) (*Response, error) {
	return rb.Send(ctx, http.MethodDelete, path...)
}

// Send executes the call with the given method and waits for it.
// An optional path replaces the one set with Path.
func (rb *RequestBuilder) Send(ctx context.Context, method string, path ...string) (*Response, error) {
	return rb.Async(ctx, method, path...).Wait()
}

// Async starts the call with the given method and returns without waiting.
func (rb *RequestBuilder) Async(ctx context.Context, method string, path ...string) *Call {
	if len(path) > 0 {
		rb.path = path[0]
	}
	return rb.client.Go(ctx, rb.options(method))
}

// options returns the RequestOptions described by the builder.
func (rb *RequestBuilder) options(method string) RequestOptions {
	opts := rb.opts
	opts.Method = method
	opts.URL = rb.expandPath()
	if rb.params != nil {
		opts.Params = rb.params
	}
	return opts
}

func (rb *RequestBuilder) expandPath() string {
	path := rb.path
	for k, v := range rb.pathParams {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}
	return path
}
