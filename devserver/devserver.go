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

// Package devserver runs a gantry project on localhost. It serves the
// same three surfaces the deployed adapter does: HTTP requests drive
// the HTTP engine, a /ws WebSocket endpoint drives the socket engine,
// and an in-process broker plays the queue host against the
// dispatcher, including FIFO ordering and redelivery of failures.
//
// Handlers are compiled into the binary, so changing a module source
// file has no effect on a running server. A filesystem watcher spots
// layout drift under api/ and queues/ and tells the developer to
// restart.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gantry-run/gantry"
	"github.com/gantry-run/gantry/config"
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/metrics"
)

// Paths the mux reserves for the server itself. Project routes shadowed
// by these are unreachable locally.
const (
	wsPath      = "/ws"
	metricsPath = "/metrics"
)

var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Server hosts a project over net/http for local development.
type Server struct {
	project *gantry.Project
	broker  *broker
	hub     *hub
	logger  *slog.Logger
	mux     *http.ServeMux

	addr            string
	root            string
	shutdownTimeout time.Duration
	projectOpts     []gantry.Option

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Server.
type Option func(*Server)

// WithAddr overrides the listen address from the project settings.
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithProjectRoot sets the directory holding gantry.yaml and the api/
// and queues/ source trees. Defaults to the working directory.
func WithProjectRoot(root string) Option {
	return func(s *Server) { s.root = root }
}

// WithLogger overrides the settings-derived logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithShutdownTimeout bounds graceful shutdown, queue drain included.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// WithProjectOptions appends options to the project the server builds,
// after the local wiring so any of it can be overridden.
func WithProjectOptions(opts ...gantry.Option) Option {
	return func(s *Server) { s.projectOpts = append(s.projectOpts, opts...) }
}

// New builds a Server: settings from the project root, a local queue
// broker as the queue transport, the /ws hub as the WebSocket gateway,
// and a Prometheus recorder served on /metrics. Base URLs default to
// the listen address so URL builders resolve against the local server.
func New(ctx context.Context, opts ...Option) (*Server, error) {
	s := &Server{
		root:            ".",
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	settings, err := config.LoadSettings(ctx, s.root)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if s.logger == nil {
		logger, err := newLogger(settings)
		if err != nil {
			return nil, err
		}
		s.logger = logger
	}
	if s.addr == "" {
		s.addr = net.JoinHostPort(settings.Dev.Host, strconv.Itoa(settings.Dev.Port))
	}

	recorder := metrics.NewPrometheus()
	s.broker = newBroker(s.logger)
	s.hub = newHub(s.logger)

	httpBase := settings.URLs.HTTP
	if httpBase == "" {
		httpBase = "http://" + s.addr
	}
	wsBase := settings.URLs.WS
	if wsBase == "" {
		wsBase = "ws://" + s.addr + wsPath
	}

	options := []gantry.Option{
		gantry.WithLogger(s.logger),
		gantry.WithRecorder(recorder),
		gantry.WithEnqueuer(s.broker),
		gantry.WithGateway(s.hub),
		gantry.WithHTTPBase(httpBase),
		gantry.WithWSBase(wsBase),
	}
	options = append(options, s.projectOpts...)

	project, err := gantry.New(options...)
	if err != nil {
		return nil, err
	}
	s.project = project
	s.broker.bind(project.Queues(), project.Services())
	s.hub.bind(project.WebSocket())

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, s.hub.serve)
	mux.Handle(metricsPath, recorder.Handler())
	mux.HandleFunc("/", s.serveHTTP)
	s.mux = mux

	return s, nil
}

// Project returns the project the server hosts.
func (s *Server) Project() *gantry.Project { return s.project }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Handler returns the server's root handler. Tests mount it on
// httptest.Server instead of calling Start.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs warmup, starts the layout watcher, and serves until ctx
// is canceled, then drains in-flight work within the shutdown timeout.
//
// Signal handling belongs to the caller:
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer cancel()
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
func (s *Server) Start(ctx context.Context) error {
	if err := s.project.Start(ctx); err != nil {
		return err
	}

	watcher, err := newLayoutWatcher(s.root, s.project.Services(), s.logger)
	if err != nil {
		s.logger.Warn("layout watcher disabled", "error", err)
	} else {
		go watcher.run()
		defer watcher.close()
	}

	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("dev server listening",
			"http", "http://"+s.addr,
			"websocket", "ws://"+s.addr+wsPath,
			"metrics", "http://"+s.addr+metricsPath,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		s.logger.Info("dev server shutting down", "reason", ctx.Err())
	}

	// The parent ctx is already canceled; a fresh context carries the
	// drain budget.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	httpErr := server.Shutdown(shutdownCtx)
	drainErr := s.Shutdown(shutdownCtx)
	if httpErr != nil {
		return fmt.Errorf("dev server forced to shutdown: %w", httpErr)
	}
	if drainErr != nil {
		return drainErr
	}
	s.logger.Info("dev server exited")
	return nil
}

// Shutdown closes client WebSocket connections and stops the queue
// broker, waiting for queued messages to drain until ctx expires. Start
// calls it on the way out; tests that never Start call it directly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.hub.closeAll()
		s.closeErr = s.broker.stop(ctx)
	})
	return s.closeErr
}

// serveHTTP adapts one net/http exchange onto the engine's request and
// response shapes.
func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	req := &handler.Request{
		Method:    r.Method,
		URL:       r.URL,
		Header:    r.Header.Clone(),
		Body:      body,
		RequestID: requestID(r.Header),
	}

	resp := s.project.HTTP().Serve(r.Context(), req)
	writeResponse(w, resp, req.RequestID)
}

// requestID honors an inbound X-Request-Id so local clients can
// correlate, otherwise mints one.
func requestID(header http.Header) string {
	if id := header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func writeResponse(w http.ResponseWriter, resp *handler.Response, requestID string) {
	h := w.Header()
	for name, values := range resp.Header {
		h[name] = values
	}
	h.Set("X-Request-Id", requestID)
	w.WriteHeader(resp.StatusCode)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}
