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

package lambdahost

import "errors"

var (
	// ErrNilProject is returned by New when no project is supplied.
	ErrNilProject = errors.New("lambdahost: nil project")

	// ErrUnknownEvent is returned by Handle when an invocation payload
	// matches none of the supported trigger shapes.
	ErrUnknownEvent = errors.New("lambdahost: unrecognized event shape")

	// ErrBadEndpoint is returned when a WebSocket base URL cannot be
	// turned into a management API endpoint.
	ErrBadEndpoint = errors.New("lambdahost: invalid websocket endpoint")
)
