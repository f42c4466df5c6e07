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
	"fmt"
	"net/http"
)

const (
	plainTextType = "text/plain; charset=utf-8"
	jsonType      = "application/json"
	octetType     = "application/octet-stream"
)

// Result is the tagged value a route handler returns. The variants are
// Raw, Text, JSON, a *Response, and nil for an empty 204.
type Result interface {
	isResult()
}

type rawResult struct {
	body      []byte
	mediaType string
}

type textResult struct {
	body string
}

type jsonResult struct {
	value any
}

func (rawResult) isResult()  {}
func (textResult) isResult() {}
func (jsonResult) isResult() {}
func (*Response) isResult()  {}

// Raw returns a 200 result with the given body and media type. An empty
// media type defaults to application/octet-stream.
func Raw(body []byte, mediaType string) Result {
	return rawResult{body: body, mediaType: mediaType}
}

// Text returns a 200 result with a text/plain body.
func Text(body string) Result {
	return textResult{body: body}
}

// JSON returns a 200 result whose body is the JSON encoding of v. Encoding
// happens during coercion; a value that does not marshal fails the
// handler.
func JSON(v any) Result {
	return jsonResult{value: v}
}

// Materialize converts a result into a base response. Route-level
// post-processing (ETag, Cache-Control, CORS) is applied by the engine
// afterwards. A nil result materializes as an empty 204.
func Materialize(res Result) (*Response, error) {
	switch v := res.(type) {
	case nil:
		return NewResponse(http.StatusNoContent), nil

	case *Response:
		out := v.clone()
		if out.StatusCode == 0 {
			out.StatusCode = http.StatusOK
		}
		return out, nil

	case rawResult:
		mediaType := v.mediaType
		if mediaType == "" {
			mediaType = octetType
		}
		return NewResponse(http.StatusOK).WithBody(v.body, mediaType), nil

	case textResult:
		return NewResponse(http.StatusOK).WithText(v.body), nil

	case jsonResult:
		body, err := json.Marshal(v.value)
		if err != nil {
			return nil, fmt.Errorf("handler: result does not marshal: %w", err)
		}
		return NewResponse(http.StatusOK).WithBody(body, jsonType), nil

	default:
		return nil, fmt.Errorf("handler: unknown result type %T", res)
	}
}
