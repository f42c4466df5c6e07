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

// Package metrics defines the Recorder interface the engines report
// through and a Prometheus-backed implementation of it.
//
// Engines hold a Recorder, never a concrete registry, so hosts decide
// whether activity is counted at all: the zero value injected by the
// runtime is a no-op, and the dev server swaps in a Prometheus recorder
// scraped from its /metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome classifies how a unit of work finished.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeTimeout Outcome = "timeout"
)

// Recorder observes engine activity. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// HTTPRequest records one completed HTTP exchange.
	HTTPRequest(route, method string, status int, elapsed time.Duration)

	// QueueMessage records one dispatched queue message.
	QueueMessage(queue string, fifo bool, outcome Outcome, elapsed time.Duration)

	// SocketEvent records one WebSocket lifecycle event
	// (connect, message, disconnect).
	SocketEvent(event string, outcome Outcome, elapsed time.Duration)

	// Timeout records a handler exceeding its deadline in the named
	// component.
	Timeout(component string)
}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nopRecorder{} }

type nopRecorder struct{}

func (nopRecorder) HTTPRequest(string, string, int, time.Duration)    {}
func (nopRecorder) QueueMessage(string, bool, Outcome, time.Duration) {}
func (nopRecorder) SocketEvent(string, Outcome, time.Duration)        {}
func (nopRecorder) Timeout(string)                                    {}

// Prometheus is a Recorder backed by prometheus/client_golang
// instruments on a private registry. The private registry avoids
// collisions with whatever the host process registers globally.
type Prometheus struct {
	registry  *prometheus.Registry
	namespace string
	buckets   []float64

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	queueMessages *prometheus.CounterVec
	queueDuration *prometheus.HistogramVec
	socketEvents  *prometheus.CounterVec
	timeouts      *prometheus.CounterVec
}

// POption configures a Prometheus recorder.
type POption func(*Prometheus)

// WithNamespace prefixes every metric name.
func WithNamespace(ns string) POption {
	return func(p *Prometheus) { p.namespace = ns }
}

// WithRegistry uses a caller-owned registry instead of a private one.
func WithRegistry(reg *prometheus.Registry) POption {
	return func(p *Prometheus) { p.registry = reg }
}

// WithDurationBuckets overrides the histogram buckets (seconds).
func WithDurationBuckets(buckets []float64) POption {
	return func(p *Prometheus) { p.buckets = buckets }
}

// NewPrometheus creates a Prometheus recorder and registers its
// instruments. Registration panics on duplicate metric names, which
// only happens when two recorders share a registry and namespace.
func NewPrometheus(opts ...POption) *Prometheus {
	p := &Prometheus{
		namespace: "gantry",
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.registry == nil {
		p.registry = prometheus.NewRegistry()
	}

	factory := promauto.With(p.registry)

	p.httpRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      "http_requests_total",
		Help:      "Completed HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	p.httpDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and method.",
		Buckets:   p.buckets,
	}, []string{"route", "method"})

	p.queueMessages = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      "queue_messages_total",
		Help:      "Dispatched queue messages by queue, mode and outcome.",
	}, []string{"queue", "mode", "outcome"})

	p.queueDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      "queue_message_duration_seconds",
		Help:      "Queue message handling latency by queue.",
		Buckets:   p.buckets,
	}, []string{"queue"})

	p.socketEvents = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      "websocket_events_total",
		Help:      "WebSocket lifecycle events by event and outcome.",
	}, []string{"event", "outcome"})

	p.timeouts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      "timeouts_total",
		Help:      "Handler deadline hits by component.",
	}, []string{"component"})

	return p
}

// HTTPRequest implements Recorder.
func (p *Prometheus) HTTPRequest(route, method string, status int, elapsed time.Duration) {
	p.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// QueueMessage implements Recorder.
func (p *Prometheus) QueueMessage(queue string, fifo bool, outcome Outcome, elapsed time.Duration) {
	mode := "standard"
	if fifo {
		mode = "fifo"
	}
	p.queueMessages.WithLabelValues(queue, mode, string(outcome)).Inc()
	p.queueDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// SocketEvent implements Recorder.
func (p *Prometheus) SocketEvent(event string, outcome Outcome, elapsed time.Duration) {
	p.socketEvents.WithLabelValues(event, string(outcome)).Inc()
}

// Timeout implements Recorder.
func (p *Prometheus) Timeout(component string) {
	p.timeouts.WithLabelValues(component).Inc()
}

// Registry exposes the backing registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an http.Handler serving the scrape endpoint for this
// recorder's registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
