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

package urlpath

import "errors"

var (
	// ErrInvalidSegment is returned when a template segment is neither a
	// valid literal nor a valid parameter.
	ErrInvalidSegment = errors.New("urlpath: invalid segment")

	// ErrDuplicateParam is returned when two parameters in one template
	// share a name.
	ErrDuplicateParam = errors.New("urlpath: duplicate parameter name")

	// ErrCatchAllNotLast is returned when a catch-all parameter appears
	// anywhere but the final segment.
	ErrCatchAllNotLast = errors.New("urlpath: catch-all must be the final segment")

	// ErrMissingParam is returned by Expand when a declared parameter has
	// no value.
	ErrMissingParam = errors.New("urlpath: missing parameter")

	// ErrEmptyCatchAll is returned by Expand when a catch-all parameter
	// expands to zero segments.
	ErrEmptyCatchAll = errors.New("urlpath: catch-all requires at least one segment")

	// ErrInvalidBaseURL is returned by the builder when a configured base
	// URL cannot be parsed or lacks a scheme or host.
	ErrInvalidBaseURL = errors.New("urlpath: invalid base URL")

	// ErrBadParamValue is returned when a parameter value cannot be
	// rendered as a path segment.
	ErrBadParamValue = errors.New("urlpath: unsupported parameter value")
)
