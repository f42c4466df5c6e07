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

package queue

import "errors"

var (
	// ErrNilServices is returned by New when no manifest is provided.
	ErrNilServices = errors.New("queue: nil services")

	// ErrUnknownQueue marks a message whose queue has no registered module.
	ErrUnknownQueue = errors.New("queue: no module registered")

	// ErrNoBudget marks a message whose batch budget was spent before its
	// handler could run.
	ErrNoBudget = errors.New("queue: batch time budget exhausted")
)
