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

package config

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownFormat is returned for files whose extension maps to no
	// decoder and for unrecognized explicit types.
	ErrUnknownFormat = errors.New("config: unknown format")

	// ErrNilSource is returned when a nil source is registered.
	ErrNilSource = errors.New("config: source cannot be nil")

	// ErrNotLoaded is returned by Bind before Load has run.
	ErrNotLoaded = errors.New("config: not loaded")
)

// Error wraps a failure with the source and operation that produced it.
type Error struct {
	Source    string
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("config error in %s during %s: %v", e.Source, e.Operation, e.Err)
}

// Unwrap exposes the underlying error for errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Err }

func newError(source, operation string, err error) *Error {
	return &Error{Source: source, Operation: operation, Err: err}
}
