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

package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateRoute is returned when two routes share a collision
	// shape, e.g. "/a/:x" and "/a/:y".
	ErrDuplicateRoute = errors.New("manifest: duplicate route shape")

	// ErrDuplicateQueue is returned when two queue modules share a
	// logical name.
	ErrDuplicateQueue = errors.New("manifest: duplicate queue name")

	// ErrReservedPath is returned when a registered module path contains
	// a segment with a leading underscore.
	ErrReservedPath = errors.New("manifest: reserved path segment")

	// ErrOutsideLayout is returned when a module's source path is not
	// under the directory its kind requires (api/ or queues/).
	ErrOutsideLayout = errors.New("manifest: source not under a recognized directory")

	// ErrNoHandler is returned when a module declares no handler.
	ErrNoHandler = errors.New("manifest: module has no handler")

	// ErrInvalidQueueName is returned when a queue's logical name violates
	// the name grammar.
	ErrInvalidQueueName = errors.New("manifest: invalid queue name")

	// ErrMissingGroupParam is returned when a FIFO queue projects an HTTP
	// path without a :group parameter.
	ErrMissingGroupParam = errors.New("manifest: fifo queue url requires a :group parameter")

	// ErrDuplicateSocket is returned when more than one WebSocket module
	// is registered.
	ErrDuplicateSocket = errors.New("manifest: multiple websocket modules")

	// ErrDuplicateMiddleware is returned when two middleware sets are
	// registered for the same directory.
	ErrDuplicateMiddleware = errors.New("manifest: duplicate middleware directory")
)

// Error is a file-scoped manifest failure. Loading stops on the first
// Error; the process must not start serving with a partial manifest.
type Error struct {
	File string
	Err  error
	msg  string
}

func newError(file string, sentinel error, format string, args ...any) *Error {
	return &Error{File: file, Err: sentinel, msg: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.msg == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.File)
	}
	return fmt.Sprintf("%v: %s: %s", e.Err, e.File, e.msg)
}

// Unwrap exposes the sentinel for errors.Is.
func (e *Error) Unwrap() error { return e.Err }
