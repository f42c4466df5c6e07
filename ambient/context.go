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

import (
	"context"
	"io"
	"log/slog"
	"net/url"

	"github.com/gantry-run/gantry/handler"
)

type scopeKey struct{}

var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// NewContext installs scope on ctx. Installing over a live scope fails
// with ErrNestedScope: every event owns exactly one scope, and nesting
// almost always means an engine was invoked from inside a handler. Use
// Escape first when that is intended.
func NewContext(ctx context.Context, scope *Scope) (context.Context, error) {
	if live, _ := ctx.Value(scopeKey{}).(*Scope); live != nil {
		return nil, ErrNestedScope
	}
	return context.WithValue(ctx, scopeKey{}, scope), nil
}

// FromContext returns the live scope. It fails closed with
// ErrNotAvailable outside any event.
func FromContext(ctx context.Context) (*Scope, error) {
	scope, _ := ctx.Value(scopeKey{}).(*Scope)
	if scope == nil {
		return nil, ErrNotAvailable
	}
	return scope, nil
}

// Escape returns a context with the scope cleared, so a callback can run
// outside the event; the dev server uses it to dispatch a simulated
// enqueue from within the request that produced it. The original context
// and its scope are untouched.
func Escape(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, (*Scope)(nil))
}

// QueueJob enqueues a message through the live scope.
func QueueJob(ctx context.Context, job Job) (string, error) {
	scope, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return scope.QueueJob(ctx, job)
}

// SendWebSocketMessage delivers data to connections through the live
// scope.
func SendWebSocketMessage(ctx context.Context, data any, connectionIDs []string) error {
	scope, err := FromContext(ctx)
	if err != nil {
		return err
	}
	return scope.SendWebSocketMessage(ctx, data, connectionIDs)
}

// CloseWebSocket terminates a connection through the live scope.
func CloseWebSocket(ctx context.Context, connectionID string) error {
	scope, err := FromContext(ctx)
	if err != nil {
		return err
	}
	return scope.CloseWebSocket(ctx, connectionID)
}

// GetConnections lists connection ids for users through the live scope.
func GetConnections(ctx context.Context, userIDs []string) ([]string, error) {
	scope, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return scope.GetConnections(ctx, userIDs)
}

// CurrentUser returns the principal pinned to the live scope. A nil user
// with a nil error means the event is anonymous.
func CurrentUser(ctx context.Context) (*handler.User, error) {
	scope, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return scope.User(), nil
}

// ConnectionID returns the WebSocket connection id of the live scope.
func ConnectionID(ctx context.Context) (string, error) {
	scope, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return scope.ConnectionID(), nil
}

// URL builds an outbound URL through the live scope.
func URL(ctx context.Context, template string, params map[string]any, query url.Values) (string, error) {
	scope, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return scope.URL(template, params, query)
}

// URLFor returns a constructor for the route declared by sourceOrPath.
func URLFor(ctx context.Context, sourceOrPath string) (func(params map[string]any, query url.Values) (string, error), error) {
	scope, err := FromContext(ctx)
	if err != nil {
		return nil, err
	}
	return scope.URLFor(sourceOrPath)
}
