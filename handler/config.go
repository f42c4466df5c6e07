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

import "time"

// Timeout bounds. Configured values are clamped into [MinTimeout, max];
// zero values take the defaults.
const (
	MinTimeout = 1 * time.Second

	DefaultRouteTimeout = 30 * time.Second
	MaxRouteTimeout     = 30 * time.Second

	DefaultQueueTimeout = 30 * time.Second
	MaxQueueTimeout     = 500 * time.Second

	DefaultSocketTimeout = 10 * time.Second
	MaxSocketTimeout     = 30 * time.Second
)

// PayloadType declares how a queue or WebSocket message body is decoded
// before it reaches the handler.
type PayloadType string

const (
	// PayloadAuto attempts JSON and falls back to the raw string.
	PayloadAuto PayloadType = ""
	// PayloadJSON decodes strictly as JSON; malformed bodies fail.
	PayloadJSON PayloadType = "json"
	// PayloadText passes the body through as a string.
	PayloadText PayloadType = "text"
	// PayloadBinary passes the raw bytes through.
	PayloadBinary PayloadType = "binary"
)

// CachePolicy yields the max-age, in seconds, for 200 responses. The zero
// value adds no caching headers. Func takes precedence over Seconds.
type CachePolicy struct {
	Seconds int
	Func    func(Result) int
}

// MaxAge resolves the policy against a result. Values ≤ 0 disable the
// Cache-Control header.
func (p CachePolicy) MaxAge(res Result) int {
	if p.Func != nil {
		return p.Func(res)
	}
	return p.Seconds
}

// ETagPolicy controls the ETag added to 200 responses. The zero value
// hashes the response body. Func takes precedence over Value; Disabled
// suppresses the header.
type ETagPolicy struct {
	Disabled bool
	Value    string
	Func     func(Result) string
}

// Tag resolves the policy against a result. An empty return with
// Disabled unset means "hash the body".
func (p ETagPolicy) Tag(res Result) (tag string, ok bool) {
	if p.Disabled {
		return "", false
	}
	if p.Func != nil {
		return p.Func(res), true
	}
	return p.Value, true
}

// RouteConfig tunes one HTTP endpoint. The zero value accepts every
// method and media type, times out after DefaultRouteTimeout, disables
// CORS, hashes ETags, and adds no caching headers.
type RouteConfig struct {
	// Accepts lists acceptable request media types, exact ("application/json")
	// or by family ("text/*"). Empty accepts everything.
	Accepts []string

	// Methods restricts the allowed HTTP methods. Empty derives the set
	// from the module's bound verb handlers.
	Methods []string

	// Timeout bounds handler execution. Clamped to [MinTimeout,
	// MaxRouteTimeout]; zero means DefaultRouteTimeout.
	Timeout time.Duration

	CORS  bool
	Cache CachePolicy
	ETag  ETagPolicy
}

// EffectiveTimeout resolves and clamps the route timeout. Safe on a nil
// receiver.
func (c *RouteConfig) EffectiveTimeout() time.Duration {
	var configured time.Duration
	if c != nil {
		configured = c.Timeout
	}
	return clampTimeout(configured, DefaultRouteTimeout, MaxRouteTimeout)
}

// QueueConfig tunes one queue handler.
type QueueConfig struct {
	// URL optionally projects the queue into the route table as a
	// POST-only endpoint. FIFO queues must declare a :group parameter.
	URL string

	// Accepts lists acceptable media types for the HTTP projection, exact
	// or by family. Empty accepts everything.
	Accepts []string

	// Timeout bounds per-message handling. Clamped to [MinTimeout,
	// MaxQueueTimeout]; zero means DefaultQueueTimeout.
	Timeout time.Duration

	// Type declares the payload decoding. PayloadAuto tries JSON first.
	Type PayloadType
}

// EffectiveTimeout resolves and clamps the queue timeout. Safe on a nil
// receiver.
func (c *QueueConfig) EffectiveTimeout() time.Duration {
	var configured time.Duration
	if c != nil {
		configured = c.Timeout
	}
	return clampTimeout(configured, DefaultQueueTimeout, MaxQueueTimeout)
}

// PayloadKind resolves the declared payload type. Safe on a nil receiver.
func (c *QueueConfig) PayloadKind() PayloadType {
	if c == nil {
		return PayloadAuto
	}
	return normalizePayloadType(c.Type)
}

// SocketConfig tunes the WebSocket endpoint.
type SocketConfig struct {
	// Type declares message decoding. PayloadAuto tries JSON first.
	Type PayloadType

	// Timeout bounds per-message handling. Clamped to [MinTimeout,
	// MaxSocketTimeout]; zero means DefaultSocketTimeout.
	Timeout time.Duration
}

// EffectiveTimeout resolves and clamps the socket timeout. Safe on a nil
// receiver.
func (c *SocketConfig) EffectiveTimeout() time.Duration {
	var configured time.Duration
	if c != nil {
		configured = c.Timeout
	}
	return clampTimeout(configured, DefaultSocketTimeout, MaxSocketTimeout)
}

// PayloadKind resolves the declared payload type. Safe on a nil receiver.
func (c *SocketConfig) PayloadKind() PayloadType {
	if c == nil {
		return PayloadAuto
	}
	return normalizePayloadType(c.Type)
}

func normalizePayloadType(t PayloadType) PayloadType {
	switch t {
	case PayloadJSON, PayloadText, PayloadBinary:
		return t
	case "application/json":
		return PayloadJSON
	default:
		return PayloadAuto
	}
}

func clampTimeout(configured, def, max time.Duration) time.Duration {
	switch {
	case configured == 0:
		return def
	case configured < MinTimeout:
		return MinTimeout
	case configured > max:
		return max
	default:
		return configured
	}
}
