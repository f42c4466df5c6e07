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

// Package wsengine dispatches WebSocket events (connect, message,
// disconnect) against the project's socket module.
//
// Connections are opaque ids handed in by the host. The engine keeps the
// (connection → user) relation in a ConnectionStore, fires the presence
// hooks on a user's first connect and last disconnect, and bounds every
// message by the socket module's timeout.
//
// A connect response of 204 accepts the upgrade; any other status denies
// it.
package wsengine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gantry-run/gantry/ambient"
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/manifest"
	"github.com/gantry-run/gantry/metrics"
	"github.com/gantry-run/gantry/urlpath"
)

const tracerName = "github.com/gantry-run/gantry/wsengine"

var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ConnectionStore is the external (connection → user) relation. Hosts back
// it with their connection registry; MemoryStore serves local use.
type ConnectionStore interface {
	// Bind records the connection. wentOnline reports the user's first
	// live connection; always false for anonymous binds.
	Bind(ctx context.Context, connectionID, userID string) (wentOnline bool, err error)

	// Unbind drops the connection and reports whether the bound user went
	// offline with it. Unknown connections unbind to ("", false, nil).
	Unbind(ctx context.Context, connectionID string) (userID string, wentOffline bool, err error)

	// ResolveUser returns the user bound to the connection, "" when the
	// connection is anonymous or unknown.
	ResolveUser(ctx context.Context, connectionID string) (string, error)

	// ConnectionsFor lists the live connection ids for the given users.
	ConnectionsFor(ctx context.Context, userIDs []string) ([]string, error)
}

// Engine dispatches WebSocket events. Safe for concurrent use.
type Engine struct {
	services *manifest.Services
	store    ConnectionStore
	ops      ambient.Ops
	urls     *urlpath.Builder
	logger   *slog.Logger
	recorder metrics.Recorder
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithOps wires the operation broker handlers reach through the ambient
// scope.
func WithOps(ops ambient.Ops) Option {
	return func(e *Engine) { e.ops = ops }
}

// WithURLBuilder wires the base URLs for outbound URL construction.
func WithURLBuilder(b *urlpath.Builder) Option {
	return func(e *Engine) { e.urls = b }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRecorder wires event metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// New returns an engine over the loaded services and connection store.
func New(services *manifest.Services, store ConnectionStore, opts ...Option) (*Engine, error) {
	if services == nil {
		return nil, ErrNilServices
	}
	if store == nil {
		return nil, ErrNilStore
	}
	e := &Engine{
		services: services,
		store:    store,
		logger:   noopLogger,
		recorder: metrics.Nop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = noopLogger
	}
	return e, nil
}

// MustNew is New, panicking on error.
func MustNew(services *manifest.Services, store ConnectionStore, opts ...Option) *Engine {
	e, err := New(services, store, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Connect authenticates a connection upgrade and binds the connection.
// The request is synthesized from the upgrade headers by the host. 204
// accepts; a response thrown by authenticate denies with its status; any
// other failure denies with 500.
func (e *Engine) Connect(ctx context.Context, connectionID string, req *handler.Request) *handler.Response {
	start := time.Now()
	socket := e.services.Socket()
	if socket == nil {
		return e.observed("connect", plainStatus(http.StatusNotFound), metrics.OutcomeError, start)
	}

	ctx, span := e.tracer.Start(ctx, "websocket connect", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(attribute.String("websocket.connection.id", connectionID))

	logger := e.eventLogger(connectionID, req.RequestID)
	if req.Cookies == nil {
		req.Cookies = handler.ParseCookies(req.Header)
	}

	resp, outcome := e.race(ctx, socket.Timeout, logger, func(ctx context.Context) *handler.Response {
		return e.connect(ctx, socket, connectionID, req, logger)
	})

	span.SetAttributes(attribute.Int("websocket.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return e.observed("connect", resp, outcome, start)
}

func (e *Engine) connect(ctx context.Context, socket *manifest.Socket, connectionID string, req *handler.Request, logger *slog.Logger) *handler.Response {
	scope := ambient.NewScope(
		ambient.WithOps(e.ops),
		ambient.WithURLs(e.urls, e.services),
		ambient.WithLogger(logger),
		ambient.WithConnectionID(connectionID),
	)
	ctx, err := ambient.NewContext(ctx, scope)
	if err != nil {
		logger.Error("ambient scope rejected", "error", err)
		return plainStatus(http.StatusInternalServerError)
	}

	var user *handler.User
	if socket.Chain.Authenticate != nil {
		user, err = socket.Chain.Authenticate(ctx, req)
		if err != nil {
			if thrown, ok := handler.AsResponse(err); ok {
				resp, _ := handler.Materialize(thrown)
				return resp
			}
			logger.Error("connect authentication failed", "error", err)
			return plainStatus(http.StatusInternalServerError)
		}
		if user != nil && user.ID == "" {
			logger.Error("authenticate returned a user without an id", "source", socket.Source)
			return plainStatus(http.StatusForbidden)
		}
	}
	_ = scope.PinUser(user)

	userID := ""
	if user != nil {
		userID = user.ID
	}
	wentOnline, err := e.store.Bind(ctx, connectionID, userID)
	if err != nil {
		logger.Error("failed to bind connection", "error", err)
		return plainStatus(http.StatusInternalServerError)
	}

	if wentOnline && socket.Chain.OnOnline != nil {
		if hookErr := callHook(func() error { return socket.Chain.OnOnline(ctx, userID) }); hookErr != nil {
			logger.Error("onOnline hook failed", "userId", userID, "error", hookErr)
		}
	}
	return handler.NewResponse(http.StatusNoContent)
}

// Message decodes one inbound frame and invokes the socket handler. 200
// reports success to the host, 500 failure.
func (e *Engine) Message(ctx context.Context, connectionID, requestID string, body []byte, base64Encoded bool) *handler.Response {
	start := time.Now()
	socket := e.services.Socket()
	if socket == nil {
		return e.observed("message", plainStatus(http.StatusNotFound), metrics.OutcomeError, start)
	}

	ctx, span := e.tracer.Start(ctx, "websocket message", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(attribute.String("websocket.connection.id", connectionID))

	logger := e.eventLogger(connectionID, requestID)

	resp, outcome := e.race(ctx, socket.Timeout, logger, func(ctx context.Context) *handler.Response {
		return e.message(ctx, socket, connectionID, requestID, body, base64Encoded, logger)
	})

	span.SetAttributes(attribute.Int("websocket.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return e.observed("message", resp, outcome, start)
}

func (e *Engine) message(ctx context.Context, socket *manifest.Socket, connectionID, requestID string, body []byte, base64Encoded bool, logger *slog.Logger) *handler.Response {
	data, err := decodeMessage(socket.Kind, body, base64Encoded)
	if err != nil {
		logger.Error("message does not decode", "error", err)
		return plainStatus(http.StatusInternalServerError)
	}

	userID, err := e.store.ResolveUser(ctx, connectionID)
	if err != nil {
		logger.Error("failed to resolve connection user", "error", err)
		return plainStatus(http.StatusInternalServerError)
	}
	var user *handler.User
	if userID != "" {
		user = &handler.User{ID: userID}
	}

	scope := ambient.NewScope(
		ambient.WithOps(e.ops),
		ambient.WithURLs(e.urls, e.services),
		ambient.WithLogger(logger),
		ambient.WithConnectionID(connectionID),
	)
	_ = scope.PinUser(user)
	ctx, err = ambient.NewContext(ctx, scope)
	if err != nil {
		logger.Error("ambient scope rejected", "error", err)
		return plainStatus(http.StatusInternalServerError)
	}

	msg := &handler.SocketMessage{
		ConnectionID: connectionID,
		RequestID:    requestID,
		Data:         data,
		User:         user,
	}

	if socket.Chain.OnMessageReceived != nil {
		if hookErr := callHook(func() error { return socket.Chain.OnMessageReceived(ctx, msg) }); hookErr != nil {
			logger.Error("onMessageReceived hook failed", "error", hookErr)
		}
	}

	if err := invokeSocket(ctx, socket.Module.Default, msg); err != nil {
		logger.Error("message handler failed", "error", err)
		return plainStatus(http.StatusInternalServerError)
	}
	return handler.NewResponse(http.StatusOK)
}

// Disconnect unbinds the connection and fires onOffline when the user's
// last connection goes away.
func (e *Engine) Disconnect(ctx context.Context, connectionID string) *handler.Response {
	start := time.Now()
	socket := e.services.Socket()

	logger := e.eventLogger(connectionID, "")
	userID, wentOffline, err := e.store.Unbind(ctx, connectionID)
	if err != nil {
		logger.Error("failed to unbind connection", "error", err)
		return e.observed("disconnect", plainStatus(http.StatusInternalServerError), metrics.OutcomeError, start)
	}

	if wentOffline && userID != "" && socket != nil && socket.Chain.OnOffline != nil {
		scope := ambient.NewScope(
			ambient.WithOps(e.ops),
			ambient.WithURLs(e.urls, e.services),
			ambient.WithLogger(logger),
			ambient.WithConnectionID(connectionID),
		)
		_ = scope.PinUser(&handler.User{ID: userID})
		hctx, scopeErr := ambient.NewContext(ctx, scope)
		if scopeErr != nil {
			hctx = ctx
		}
		if hookErr := callHook(func() error { return socket.Chain.OnOffline(hctx, userID) }); hookErr != nil {
			logger.Error("onOffline hook failed", "userId", userID, "error", hookErr)
		}
	}
	return e.observed("disconnect", handler.NewResponse(http.StatusNoContent), metrics.OutcomeOK, start)
}

// race runs fn against the event deadline on its own goroutine, exactly
// like the HTTP pipeline: the loser is abandoned, and a panic inside fn
// becomes a 500 instead of taking the process down.
func (e *Engine) race(ctx context.Context, timeout time.Duration, logger *slog.Logger, fn func(context.Context) *handler.Response) (*handler.Response, metrics.Outcome) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *handler.Response, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("websocket event panicked",
					"error", fmt.Sprintf("panic: %v", r),
					"stack", string(debug.Stack()),
				)
				done <- plainStatus(http.StatusInternalServerError)
			}
		}()
		done <- fn(rctx)
	}()

	select {
	case resp := <-done:
		outcome := metrics.OutcomeOK
		if resp.StatusCode >= http.StatusInternalServerError {
			outcome = metrics.OutcomeError
		}
		return resp, outcome
	case <-rctx.Done():
		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			e.recorder.Timeout("websocket")
			logger.Warn("websocket event timed out", "timeout", timeout.String())
			return handler.NewResponse(http.StatusInternalServerError).WithText("Timed Out"), metrics.OutcomeTimeout
		}
		logger.Warn("websocket event canceled", "error", rctx.Err())
		return plainStatus(http.StatusInternalServerError), metrics.OutcomeError
	}
}

func (e *Engine) observed(event string, resp *handler.Response, outcome metrics.Outcome, start time.Time) *handler.Response {
	e.recorder.SocketEvent(event, outcome, time.Since(start))
	return resp
}

func (e *Engine) eventLogger(connectionID, requestID string) *slog.Logger {
	logger := e.logger.With("connectionId", connectionID)
	if requestID != "" {
		logger = logger.With("requestId", requestID)
	}
	return logger
}

// Store exposes the connection store so hosts can answer GetConnections
// through the same relation the engine maintains.
func (e *Engine) Store() ConnectionStore { return e.store }

// invokeSocket recovers handler panics.
func invokeSocket(ctx context.Context, fn handler.SocketFunc, msg *handler.SocketMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, msg)
}

// decodeMessage converts a frame to the handler's view of it: bytes when
// the module declares binary, a string for text, parsed JSON when
// declared, and best-effort JSON with a string fallback otherwise.
func decodeMessage(kind handler.PayloadType, body []byte, base64Encoded bool) (any, error) {
	raw := body
	if base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 frame: %w", err)
		}
		raw = decoded
	}

	switch kind {
	case handler.PayloadJSON:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil

	case handler.PayloadText:
		return string(raw), nil

	case handler.PayloadBinary:
		return raw, nil

	default:
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		return string(raw), nil
	}
}

// callHook invokes an observability hook, converting a panic into an
// error.
func callHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func plainStatus(status int) *handler.Response {
	return handler.NewResponse(status).WithText(http.StatusText(status))
}
