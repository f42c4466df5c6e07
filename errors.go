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

package gantry

import "errors"

var (
	// ErrNoQueueTransport is returned by QueueJob when the project was
	// built without an enqueuer.
	ErrNoQueueTransport = errors.New("gantry: no queue transport configured")

	// ErrNoGateway is returned by WebSocket operations when the project
	// was built without a gateway.
	ErrNoGateway = errors.New("gantry: no websocket gateway configured")

	// ErrGroupRequired rejects a FIFO enqueue without a group id.
	ErrGroupRequired = errors.New("gantry: fifo queue requires a group id")

	// ErrGroupOnStandardQueue rejects a group id on a standard queue.
	ErrGroupOnStandardQueue = errors.New("gantry: standard queue does not take a group id")

	// ErrBadPayload reports a payload that cannot be encoded for
	// transport.
	ErrBadPayload = errors.New("gantry: payload does not encode")
)
