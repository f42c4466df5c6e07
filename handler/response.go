// Copyright 2025 The Gantry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Response is a fully formed HTTP response. A *Response is also a Result,
// so handlers can return one directly.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse returns an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{StatusCode: status, Header: http.Header{}}
}

// WithHeader sets a header and returns the response for chaining.
func (r *Response) WithHeader(key, value string) *Response {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	r.Header.Set(key, value)
	return r
}

// WithText sets a plain-text body.
func (r *Response) WithText(body string) *Response {
	r.Body = []byte(body)
	return r.WithHeader("Content-Type", plainTextType)
}

// WithBody sets a raw body with the given media type.
func (r *Response) WithBody(body []byte, mediaType string) *Response {
	r.Body = body
	return r.WithHeader("Content-Type", mediaType)
}

// WithJSON sets a JSON body. Marshal failures panic; use JSON results for
// values that may not marshal.
func (r *Response) WithJSON(v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("handler: response body does not marshal: %v", err))
	}
	r.Body = body
	return r.WithHeader("Content-Type", jsonType)
}

func (r *Response) clone() *Response {
	out := &Response{StatusCode: r.StatusCode, Header: r.Header.Clone(), Body: r.Body}
	if out.Header == nil {
		out.Header = http.Header{}
	}
	return out
}

// ResponseError carries a response through an error return. Middleware and
// handlers use it to short-circuit the pipeline with a specific response
// rather than a failure.
type ResponseError struct {
	Response *Response
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("handler: aborted with response %d", e.Response.StatusCode)
}

// Abort wraps resp so that returning it as an error short-circuits the
// pipeline with resp.
//
// Example:
//
//	func adminOnly(ctx context.Context, req *handler.Request) error {
//	    if req.User == nil {
//	        return handler.Abort(handler.NewResponse(http.StatusUnauthorized))
//	    }
//	    return nil
//	}
func Abort(resp *Response) error {
	if resp == nil {
		resp = NewResponse(http.StatusInternalServerError)
	}
	return &ResponseError{Response: resp}
}

// AsResponse unwraps a response carried by err, if any.
func AsResponse(err error) (*Response, bool) {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Response, true
	}
	return nil, false
}
