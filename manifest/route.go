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
	"net/http"
	"time"

	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/urlpath"
)

// Route binds one canonical URL path to a handler module. Routes are built
// once during Load and immutable afterwards.
type Route struct {
	// Path is the canonical colon-form template, e.g. "/posts/:id".
	Path string

	// Template is the compiled matcher for Path.
	Template *urlpath.Template

	// Methods is the accepted method set. Derived from the module's bound
	// verbs unless the config names methods explicitly.
	Methods MethodSet

	// Accepts is the accepted request media-type set for body-carrying
	// methods.
	Accepts AcceptSet

	// Timeout bounds the request pipeline, already clamped.
	Timeout time.Duration

	CORS  bool
	Cache handler.CachePolicy
	ETag  handler.ETagPolicy

	// Source is the project-relative file the module declared, kept for
	// diagnostics.
	Source string

	// Module is the handler module, nil for queue-backed routes.
	Module *handler.RouteModule

	// Queue is set on queue-backed routes: POST enqueues instead of
	// invoking a handler.
	Queue *Queue

	// Chain is the effective middleware for this route, merged from
	// _middleware ancestors with module hooks overriding.
	Chain handler.Middleware
}

// HandlerFor returns the handler bound to method. HEAD falls back to GET
// when no HEAD handler is bound; any verb falls back to the module's
// Default. Returns nil for queue-backed routes and unbound methods.
func (r *Route) HandlerFor(method string) handler.Func {
	if r.Module == nil {
		return nil
	}
	handlers := r.Module.Handlers()
	if fn, ok := handlers[method]; ok {
		return fn
	}
	if method == http.MethodHead {
		if fn, ok := handlers[http.MethodGet]; ok {
			return fn
		}
	}
	return r.Module.Default
}

// Queue describes one logical queue. FIFO queues preserve per-group order;
// standard queues dispatch members independently.
type Queue struct {
	// Name is the logical queue name, including any ".fifo" suffix.
	Name string

	// FIFO is derived from the ".fifo" suffix on Name.
	FIFO bool

	// Path is the canonical template of the queue-backed route, "" when
	// the queue has no HTTP projection.
	Path string

	// Timeout bounds per-message handling, already clamped.
	Timeout time.Duration

	// Accepts is the accepted media-type set for the HTTP projection.
	Accepts AcceptSet

	// Kind declares payload decoding for incoming messages.
	Kind handler.PayloadType

	// Source is the project-relative file the module declared.
	Source string

	// Module is the queue handler module.
	Module *handler.QueueModule

	// Chain is the effective middleware for the queue's HTTP projection.
	Chain handler.Middleware
}

// Socket describes the project's WebSocket endpoint.
type Socket struct {
	// Timeout bounds per-message handling, already clamped.
	Timeout time.Duration

	// Kind declares message decoding.
	Kind handler.PayloadType

	// Source is the project-relative file the module declared.
	Source string

	// Module is the socket handler module.
	Module *handler.SocketModule

	// Chain is the effective middleware, merged from _middleware ancestors
	// with module hooks overriding.
	Chain handler.Middleware
}
