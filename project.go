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

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/gantry-run/gantry/ambient"
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/httpengine"
	"github.com/gantry-run/gantry/manifest"
	"github.com/gantry-run/gantry/metrics"
	"github.com/gantry-run/gantry/queue"
	"github.com/gantry-run/gantry/urlpath"
	"github.com/gantry-run/gantry/wsengine"
)

var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Project is the composition root: the loaded manifest wired to a host's
// collaborators, exposing the three engines the host feeds events into.
// Construct one per process with New after all modules have registered.
type Project struct {
	services *manifest.Services
	logger   *slog.Logger
	urls     *urlpath.Builder
	store    wsengine.ConnectionStore
	ops      ambient.Ops

	http       *httpengine.Engine
	ws         *wsengine.Engine
	dispatcher *queue.Dispatcher

	started atomic.Bool
}

type settings struct {
	registry *manifest.Registry
	logger   *slog.Logger
	recorder metrics.Recorder
	tp       trace.TracerProvider
	store    wsengine.ConnectionStore
	enqueuer Enqueuer
	gateway  wsengine.Gateway
	client   queue.Client
	httpBase string
	wsBase   string
}

// Option configures a Project.
type Option func(*settings)

// WithRegistry loads modules from reg instead of the default registry.
func WithRegistry(reg *manifest.Registry) Option {
	return func(s *settings) { s.registry = reg }
}

// WithLogger sets the logger shared by the engines and ambient scopes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithRecorder wires engine metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *settings) { s.recorder = r }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider
// for all engines.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) { s.tp = tp }
}

// WithConnectionStore replaces the default in-memory connection store.
// Deployments need a store shared across instances.
func WithConnectionStore(store wsengine.ConnectionStore) Option {
	return func(s *settings) { s.store = store }
}

// WithEnqueuer wires the queue transport behind ambient QueueJob.
func WithEnqueuer(e Enqueuer) Option {
	return func(s *settings) { s.enqueuer = e }
}

// WithGateway wires the WebSocket send/close transport.
func WithGateway(g wsengine.Gateway) Option {
	return func(s *settings) { s.gateway = g }
}

// WithQueueClient wires message deletion for the dispatcher.
func WithQueueClient(c queue.Client) Option {
	return func(s *settings) { s.client = c }
}

// WithHTTPBase sets the absolute base for generated HTTP URLs.
func WithHTTPBase(base string) Option {
	return func(s *settings) { s.httpBase = base }
}

// WithWSBase sets the absolute base for generated WebSocket URLs.
func WithWSBase(base string) Option {
	return func(s *settings) { s.wsBase = base }
}

// New loads the registry into an immutable manifest and wires the
// engines. Call it once module registration is complete; a Load failure
// names the offending file.
func New(opts ...Option) (*Project, error) {
	s := settings{
		registry: manifest.Default(),
		logger:   noopLogger,
		recorder: metrics.Nop(),
		store:    wsengine.NewMemoryStore(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = noopLogger
	}

	services, err := manifest.Load(s.registry)
	if err != nil {
		return nil, err
	}

	var builderOpts []urlpath.BuilderOption
	if s.httpBase != "" {
		builderOpts = append(builderOpts, urlpath.WithHTTPBase(s.httpBase))
	}
	if s.wsBase != "" {
		builderOpts = append(builderOpts, urlpath.WithWSBase(s.wsBase))
	}
	urls, err := urlpath.NewBuilder(builderOpts...)
	if err != nil {
		return nil, err
	}

	ops := ambient.Ops(&brokerOps{
		services: services,
		enqueuer: s.enqueuer,
		gateway:  s.gateway,
		store:    s.store,
		logger:   s.logger,
	})
	ops = wsengine.ObserveOps(ops, services.Socket(), s.logger)

	httpOpts := []httpengine.Option{
		httpengine.WithOps(ops),
		httpengine.WithURLBuilder(urls),
		httpengine.WithLogger(s.logger),
		httpengine.WithRecorder(s.recorder),
	}
	wsOpts := []wsengine.Option{
		wsengine.WithOps(ops),
		wsengine.WithURLBuilder(urls),
		wsengine.WithLogger(s.logger),
		wsengine.WithRecorder(s.recorder),
	}
	queueOpts := []queue.Option{
		queue.WithOps(ops),
		queue.WithURLBuilder(urls),
		queue.WithLogger(s.logger),
		queue.WithRecorder(s.recorder),
	}
	if s.client != nil {
		queueOpts = append(queueOpts, queue.WithClient(s.client))
	}
	if s.tp != nil {
		httpOpts = append(httpOpts, httpengine.WithTracerProvider(s.tp))
		wsOpts = append(wsOpts, wsengine.WithTracerProvider(s.tp))
		queueOpts = append(queueOpts, queue.WithTracerProvider(s.tp))
	}

	httpEngine, err := httpengine.New(services, httpOpts...)
	if err != nil {
		return nil, err
	}
	wsEngine, err := wsengine.New(services, s.store, wsOpts...)
	if err != nil {
		return nil, err
	}
	dispatcher, err := queue.New(services, queueOpts...)
	if err != nil {
		return nil, err
	}

	return &Project{
		services:   services,
		logger:     s.logger,
		urls:       urls,
		store:      s.store,
		ops:        ops,
		http:       httpEngine,
		ws:         wsEngine,
		dispatcher: dispatcher,
	}, nil
}

// MustNew is New, panicking on error.
func MustNew(opts ...Option) *Project {
	p, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Start runs the warmup hook, if declared, inside an ambient scope.
// Hosts call it once before serving; later calls are no-ops.
func (p *Project) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return nil
	}

	if warmup := p.services.Warmup(); warmup != nil {
		scope := ambient.NewScope(
			ambient.WithOps(p.ops),
			ambient.WithURLs(p.urls, p.services),
			ambient.WithLogger(p.logger),
		)
		wctx, err := ambient.NewContext(ctx, scope)
		if err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
		if err := runWarmup(wctx, warmup); err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
	}

	p.logger.Info("project started",
		"routes", len(p.services.Routes()),
		"queues", len(p.services.Queues()),
		"socket", p.services.Socket() != nil,
	)
	return nil
}

func runWarmup(ctx context.Context, fn handler.WarmupFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}

// HTTP returns the request engine.
func (p *Project) HTTP() *httpengine.Engine { return p.http }

// WebSocket returns the socket engine.
func (p *Project) WebSocket() *wsengine.Engine { return p.ws }

// Queues returns the queue dispatcher.
func (p *Project) Queues() *queue.Dispatcher { return p.dispatcher }

// Services returns the loaded manifest.
func (p *Project) Services() *manifest.Services { return p.services }

// Ops returns the operation broker ambient scopes reach.
func (p *Project) Ops() ambient.Ops { return p.ops }

// Store returns the connection store.
func (p *Project) Store() wsengine.ConnectionStore { return p.store }

// URLs returns the outbound URL builder.
func (p *Project) URLs() *urlpath.Builder { return p.urls }

// Logger returns the project logger, never nil.
func (p *Project) Logger() *slog.Logger { return p.logger }
