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

package wsengine

import "errors"

var (
	// ErrNilServices is returned by New when no services are supplied.
	ErrNilServices = errors.New("wsengine: nil services")

	// ErrNilStore is returned by New when no connection store is supplied.
	ErrNilStore = errors.New("wsengine: nil connection store")

	// ErrConnectionGone reports a send to a connection that no longer
	// exists. Gateways return it (possibly wrapped) so callers can retire
	// the binding.
	ErrConnectionGone = errors.New("wsengine: connection gone")
)
