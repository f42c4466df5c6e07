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

// Package ambient carries the request-scoped runtime context that lets
// deeply nested user code reach the runtime without threading it through
// every signature.
//
// The engines open exactly one Scope per event (HTTP request, WebSocket
// event, or queue message) before any user code runs, and destroy it when
// the event completes. User code retrieves it from the context:
//
//	func handle(ctx context.Context, req *handler.Request) (handler.Result, error) {
//	    id, err := ambient.QueueJob(ctx, ambient.Job{
//	        QueueName: "mail",
//	        Payload:   map[string]string{"to": req.Params["user"]},
//	    })
//	    ...
//	}
//
// Outside any scope, every accessor fails with ErrNotAvailable. Opening a
// scope inside a live scope is a programmer error; Escape clears the scope
// for callbacks that must not inherit it, such as the dev server's
// simulated enqueue.
package ambient

import (
	"context"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/urlpath"
)

// Job describes a message to enqueue through QueueJob.
type Job struct {
	// QueueName is the logical queue name, including any ".fifo" suffix.
	QueueName string

	// Payload is the message body: a JSON-marshalable value, a string, or
	// raw bytes.
	Payload any

	// GroupID orders the message within a FIFO queue. Required for FIFO
	// queues, rejected for standard ones.
	GroupID string

	// DedupeID deduplicates FIFO sends within the backend's window.
	DedupeID string

	// ContentType annotates the payload's media type. Empty derives it
	// from the payload: application/json for marshaled values, text/plain
	// for strings, application/octet-stream for raw bytes.
	ContentType string

	// Params ride along as message metadata and surface in QueueMeta.
	Params map[string]string

	// User overrides the principal recorded on the message. Nil inherits
	// the scope's authenticated user.
	User *handler.User
}

// Ops brokers the out-of-band operations a scope exposes. Hosts implement
// it against their queue backend and WebSocket gateway.
type Ops interface {
	// QueueJob enqueues a message and returns its id.
	QueueJob(ctx context.Context, job Job) (string, error)

	// SendWebSocketMessage delivers data to the given connections.
	SendWebSocketMessage(ctx context.Context, data any, connectionIDs []string) error

	// CloseWebSocket terminates one connection.
	CloseWebSocket(ctx context.Context, connectionID string) error

	// GetConnections lists the live connection ids for the given users.
	GetConnections(ctx context.Context, userIDs []string) ([]string, error)
}

// URLTable resolves route templates for outbound URL construction, by
// declared source file or canonical path. *manifest.Services implements
// it.
type URLTable interface {
	TemplateFor(sourceOrPath string) (*urlpath.Template, bool)
}

// Scope is the per-event runtime context. Create one with NewScope,
// install it with NewContext, and drop it when the event completes.
type Scope struct {
	ops     Ops
	builder *urlpath.Builder
	table   URLTable
	logger  *slog.Logger

	// connectionID is set for WebSocket events only.
	connectionID string

	mu     sync.Mutex
	user   *handler.User
	pinned bool
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

// WithOps wires the operation broker.
func WithOps(ops Ops) ScopeOption {
	return func(s *Scope) { s.ops = ops }
}

// WithURLs wires outbound URL construction: the builder carries the base
// URLs, the table resolves templates by source.
func WithURLs(builder *urlpath.Builder, table URLTable) ScopeOption {
	return func(s *Scope) {
		s.builder = builder
		s.table = table
	}
}

// WithLogger attaches the event's logger.
func WithLogger(logger *slog.Logger) ScopeOption {
	return func(s *Scope) { s.logger = logger }
}

// WithConnectionID records the WebSocket connection the event arrived on.
func WithConnectionID(id string) ScopeOption {
	return func(s *Scope) { s.connectionID = id }
}

// NewScope returns a fresh scope with an unset user cell.
func NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PinUser records the authenticated principal. The cell transitions
// exactly once per scope, nil→value or nil→nil; a second pin fails with
// ErrUserPinned. Only the engines call this, after authentication.
func (s *Scope) PinUser(user *handler.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinned {
		return ErrUserPinned
	}
	s.pinned = true
	s.user = user
	return nil
}

// User returns the pinned principal, nil when the event is anonymous or
// authentication has not run yet.
func (s *Scope) User() *handler.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// ConnectionID returns the WebSocket connection id, "" for HTTP and queue
// events.
func (s *Scope) ConnectionID() string { return s.connectionID }

// Logger returns the event's logger, never nil.
func (s *Scope) Logger() *slog.Logger {
	if s.logger == nil {
		return noopLogger
	}
	return s.logger
}

// QueueJob enqueues a message. A job without an explicit user inherits the
// scope's pinned user.
func (s *Scope) QueueJob(ctx context.Context, job Job) (string, error) {
	if s.ops == nil {
		return "", ErrNoOps
	}
	if job.User == nil {
		job.User = s.User()
	}
	return s.ops.QueueJob(ctx, job)
}

// SendWebSocketMessage delivers data to the given connections.
func (s *Scope) SendWebSocketMessage(ctx context.Context, data any, connectionIDs []string) error {
	if s.ops == nil {
		return ErrNoOps
	}
	return s.ops.SendWebSocketMessage(ctx, data, connectionIDs)
}

// CloseWebSocket terminates one connection.
func (s *Scope) CloseWebSocket(ctx context.Context, connectionID string) error {
	if s.ops == nil {
		return ErrNoOps
	}
	return s.ops.CloseWebSocket(ctx, connectionID)
}

// GetConnections lists the live connection ids for the given users.
func (s *Scope) GetConnections(ctx context.Context, userIDs []string) ([]string, error) {
	if s.ops == nil {
		return nil, ErrNoOps
	}
	return s.ops.GetConnections(ctx, userIDs)
}

// URL builds an outbound URL from a template, path parameters, and query
// values, against the configured HTTP base.
func (s *Scope) URL(template string, params map[string]any, query url.Values) (string, error) {
	return s.urls().URL(template, params, query)
}

// WSURL is URL against the WebSocket base.
func (s *Scope) WSURL(template string, params map[string]any, query url.Values) (string, error) {
	return s.urls().WSURL(template, params, query)
}

// URLFor returns a constructor bound to the route declared by the given
// source file or canonical path, so a module can build links to itself:
//
//	self, _ := scope.URLFor("api/posts/[id].go")
//	u, _ := self(map[string]any{"id": 9}, nil)
func (s *Scope) URLFor(sourceOrPath string) (func(params map[string]any, query url.Values) (string, error), error) {
	if s.table == nil {
		return nil, ErrNoURLTable
	}
	tmpl, ok := s.table.TemplateFor(sourceOrPath)
	if !ok {
		return nil, ErrUnknownRoute
	}
	builder := s.urls()
	return func(params map[string]any, query url.Values) (string, error) {
		return builder.Build(tmpl, params, query)
	}, nil
}

func (s *Scope) urls() *urlpath.Builder {
	if s.builder == nil {
		return zeroBuilder
	}
	return s.builder
}

var zeroBuilder, _ = urlpath.NewBuilder()
