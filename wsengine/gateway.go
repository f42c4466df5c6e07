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

import "context"

// Gateway pushes frames to live connections. Hosts implement it over
// their transport: the dev server writes to its own upgraded
// connections, deployments call their connection management API.
//
// Send returns ErrConnectionGone (possibly wrapped) when the connection
// no longer exists, so callers can retire its binding instead of
// treating the send as a delivery failure.
type Gateway interface {
	Send(ctx context.Context, connectionID string, data []byte) error
	Close(ctx context.Context, connectionID string) error
}
