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

package ambient

import "errors"

var (
	// ErrNotAvailable is returned by every accessor outside a live scope.
	// The message is part of the contract with user code.
	ErrNotAvailable = errors.New("Runtime not available")

	// ErrNestedScope is returned when NewContext finds a live scope on the
	// context.
	ErrNestedScope = errors.New("ambient: scope already open for this event")

	// ErrUserPinned is returned on a second PinUser call; the user cell
	// transitions exactly once per scope.
	ErrUserPinned = errors.New("ambient: user already pinned to this scope")

	// ErrNoOps is returned when the scope has no operation broker, e.g. a
	// host that serves HTTP without a queue backend.
	ErrNoOps = errors.New("ambient: no runtime operations wired")

	// ErrNoURLTable is returned by URLFor when no route table was wired.
	ErrNoURLTable = errors.New("ambient: no url table wired")

	// ErrUnknownRoute is returned by URLFor for an unregistered source.
	ErrUnknownRoute = errors.New("ambient: no route registered for source")
)
