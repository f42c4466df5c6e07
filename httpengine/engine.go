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

// Package httpengine drives one HTTP request through the pipeline: route
// resolution, CORS preflight, method and media-type checks, the ambient
// scope, the middleware chain, handler invocation, result coercion, and
// response post-processing.
//
// The engine is host-agnostic. It consumes a normalized *handler.Request
// and produces a *handler.Response; adapters translate to and from Lambda
// events or net/http on either side:
//
//	engine, err := httpengine.New(services,
//	    httpengine.WithOps(ops),
//	    httpengine.WithLogger(logger),
//	)
//	...
//	resp := engine.Serve(ctx, req)
//
// Each request runs under a deadline of the route's timeout. The handler
// races the deadline on its own goroutine: whichever resolves first wins.
// A handler that misses the deadline is abandoned, its context canceled
// and its eventual return value discarded, and the client receives
// 500 "Timed Out".
package httpengine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
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

const tracerName = "github.com/gantry-run/gantry/httpengine"

// Engine dispatches normalized HTTP requests against a loaded manifest.
// Safe for concurrent use.
type Engine struct {
	services *manifest.Services
	ops      ambient.Ops
	urls     *urlpath.Builder
	logger   *slog.Logger
	recorder metrics.Recorder
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithOps wires the operation broker handlers reach through the ambient
// scope. Without it, ambient operations fail with ambient.ErrNoOps.
func WithOps(ops ambient.Ops) Option {
	return func(e *Engine) { e.ops = ops }
}

// WithURLBuilder wires the base URLs for outbound URL construction.
func WithURLBuilder(b *urlpath.Builder) Option {
	return func(e *Engine) { e.urls = b }
}

// WithLogger sets the engine logger. Handlers see it through the ambient
// scope, enriched with the request id.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRecorder wires request metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// New returns an engine over the loaded services.
func New(services *manifest.Services, opts ...Option) (*Engine, error) {
	if services == nil {
		return nil, ErrNilServices
	}
	e := &Engine{
		services: services,
		recorder: metrics.Nop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// MustNew is New, panicking on error.
func MustNew(services *manifest.Services, opts ...Option) *Engine {
	e, err := New(services, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// Serve drives one request through the pipeline and always returns a
// response.
func (e *Engine) Serve(ctx context.Context, req *handler.Request) *handler.Response {
	start := time.Now()
	method := strings.ToUpper(req.Method)

	path := "/"
	if req.URL != nil {
		path = req.URL.Path
	}

	route, params, ok := e.services.Match(path)
	if !ok {
		resp := plainStatus(http.StatusNotFound)
		e.observe(req, method, "unmatched", resp, start)
		return resp
	}
	req.Params = params
	if req.Cookies == nil {
		req.Cookies = handler.ParseCookies(req.Header)
	}

	resp := e.handle(ctx, req, route, method)
	if route.CORS {
		resp.Header.Set("Access-Control-Allow-Origin", "*")
	}
	e.observe(req, method, route.Path, resp, start)
	return resp
}

// handle runs everything after route resolution up to, but not including,
// the final CORS merge.
func (e *Engine) handle(ctx context.Context, req *handler.Request, route *manifest.Route, method string) *handler.Response {
	if route.CORS && method == http.MethodOptions {
		return preflight(route)
	}

	if !allowsMethod(route, method) {
		resp := plainStatus(http.StatusMethodNotAllowed)
		if !route.Methods.All() {
			resp.Header.Set("Allow", strings.Join(route.Methods.List(), ", "))
		}
		return resp
	}

	if method != http.MethodGet && method != http.MethodHead {
		if !route.Accepts.Accepts(req.ContentType()) {
			return plainStatus(http.StatusUnsupportedMediaType)
		}
	}

	return e.dispatch(ctx, req, route, method)
}

// dispatch races the pipeline against the route deadline. The pipeline
// goroutine owns its response exclusively and recovers its own panics, so
// an abandoned handler cannot race the timeout response or kill the
// process.
func (e *Engine) dispatch(ctx context.Context, req *handler.Request, route *manifest.Route, method string) *handler.Response {
	ctx, span := e.tracer.Start(ctx, method+" "+route.Path, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route.Path),
	)

	logger := e.requestLogger(req)

	rctx, cancel := context.WithTimeout(ctx, route.Timeout)
	defer cancel()

	done := make(chan *handler.Response, 1)
	go func() {
		done <- e.run(rctx, req, route, method, logger)
	}()

	var resp *handler.Response
	select {
	case resp = <-done:
	case <-rctx.Done():
		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			logger.Warn("request timed out",
				"method", method,
				"route", route.Path,
				"timeout", route.Timeout.String(),
			)
			e.recorder.Timeout("http")
			resp = handler.NewResponse(http.StatusInternalServerError).WithText("Timed Out")
		} else {
			logger.Warn("request canceled", "method", method, "route", route.Path)
			resp = plainStatus(http.StatusInternalServerError)
		}
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp
}

func (e *Engine) requestLogger(req *handler.Request) *slog.Logger {
	logger := e.logger
	if logger == nil {
		logger = noopLogger
	}
	if req.RequestID != "" {
		logger = logger.With("requestId", req.RequestID)
	}
	return logger
}

// observe emits the access log line and request metrics.
func (e *Engine) observe(req *handler.Request, method, routeLabel string, resp *handler.Response, start time.Time) {
	elapsed := time.Since(start)
	e.recorder.HTTPRequest(routeLabel, method, resp.StatusCode, elapsed)
	if e.logger == nil {
		return
	}
	path := ""
	if req.URL != nil {
		path = req.URL.Path
	}
	e.logger.Info("request completed",
		"method", method,
		"path", path,
		"route", routeLabel,
		"status", resp.StatusCode,
		"duration", elapsed.String(),
		"requestId", req.RequestID,
	)
}

func allowsMethod(route *manifest.Route, method string) bool {
	if route.Methods.Allows(method) {
		return true
	}
	// HEAD is served by the GET handler when no HEAD handler is bound.
	return method == http.MethodHead && route.Methods.Allows(http.MethodGet)
}
