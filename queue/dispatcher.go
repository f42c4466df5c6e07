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

// Package queue dispatches batches of queue messages to their handler
// modules and reports which messages must stay on the queue.
//
// Standard queues dispatch every message in the batch concurrently; the
// returned failure set is exactly the messages whose handlers failed. FIFO
// queues dispatch strictly in arrival order, and the first failure fails
// that message and every message after it, so the host's redelivery
// preserves per-group ordering. Successes before the cutoff stand; those
// messages were already deleted.
//
// Each message runs under an effective timeout of
// min(queue timeout, remaining batch budget). A message whose budget is
// already spent is failed without invoking its handler.
package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/gantry-run/gantry/ambient"
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/manifest"
	"github.com/gantry-run/gantry/metrics"
	"github.com/gantry-run/gantry/urlpath"
)

const tracerName = "github.com/gantry-run/gantry/queue"

var noopLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Client deletes handled messages from the backing queue. Hosts without
// explicit deletion (the dev server consumes on read) leave it nil.
type Client interface {
	DeleteMessage(ctx context.Context, queueName, receiptHandle string) error
}

// Dispatcher drives queue batches against a loaded manifest. Safe for
// concurrent use.
type Dispatcher struct {
	services *manifest.Services
	client   Client
	ops      ambient.Ops
	urls     *urlpath.Builder
	logger   *slog.Logger
	recorder metrics.Recorder
	tracer   trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClient wires message deletion.
func WithClient(c Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithOps wires the operation broker handlers reach through the ambient
// scope.
func WithOps(ops ambient.Ops) Option {
	return func(d *Dispatcher) { d.ops = ops }
}

// WithURLBuilder wires the base URLs for outbound URL construction.
func WithURLBuilder(b *urlpath.Builder) Option {
	return func(d *Dispatcher) { d.urls = b }
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithRecorder wires message metrics.
func WithRecorder(r metrics.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracer = tp.Tracer(tracerName) }
}

// New returns a dispatcher over the loaded services.
func New(services *manifest.Services, opts ...Option) (*Dispatcher, error) {
	if services == nil {
		return nil, ErrNilServices
	}
	d := &Dispatcher{
		services: services,
		logger:   noopLogger,
		recorder: metrics.Nop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = noopLogger
	}
	return d, nil
}

// MustNew is New, panicking on error.
func MustNew(services *manifest.Services, opts ...Option) *Dispatcher {
	d, err := New(services, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Dispatch handles one delivery batch and returns the ids of the messages
// that must remain on the queue. remaining reports the budget left for the
// whole batch; nil means unbounded.
func (d *Dispatcher) Dispatch(ctx context.Context, messages []Message, remaining func() time.Duration) []string {
	if len(messages) == 0 {
		return nil
	}
	if isFIFO(messages) {
		return d.dispatchFIFO(ctx, messages, remaining)
	}
	return d.dispatchStandard(ctx, messages, remaining)
}

// isFIFO classifies the batch: a ".fifo" queue name or a message group id
// on the first message marks the whole batch FIFO.
func isFIFO(messages []Message) bool {
	return strings.HasSuffix(messages[0].QueueName, ".fifo") || messages[0].GroupID != ""
}

func (d *Dispatcher) dispatchStandard(ctx context.Context, messages []Message, remaining func() time.Duration) []string {
	var mu sync.Mutex
	var failed []string

	g := new(errgroup.Group)
	for _, m := range messages {
		g.Go(func() error {
			if err := d.handleMessage(ctx, m, remaining, false); err != nil {
				mu.Lock()
				failed = append(failed, m.ID)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

func (d *Dispatcher) dispatchFIFO(ctx context.Context, messages []Message, remaining func() time.Duration) []string {
	for i, m := range messages {
		if err := d.handleMessage(ctx, m, remaining, true); err != nil {
			failed := make([]string, 0, len(messages)-i)
			for _, rest := range messages[i:] {
				failed = append(failed, rest.ID)
			}
			d.logger.Warn("fifo batch cut off",
				"queue", m.QueueName,
				"messageId", m.ID,
				"remaining", len(failed)-1,
				"error", err,
			)
			return failed
		}
	}
	return nil
}

// handleMessage runs one message end to end: module lookup, budget check,
// scope open, payload decode, the handler racing its deadline, and
// deletion on success. A non-nil return marks the message failed.
func (d *Dispatcher) handleMessage(ctx context.Context, m Message, remaining func() time.Duration, fifo bool) error {
	start := time.Now()
	outcome := metrics.OutcomeOK
	defer func() {
		d.recorder.QueueMessage(m.QueueName, fifo, outcome, time.Since(start))
	}()

	q, ok := d.services.QueueByName(m.QueueName)
	if !ok {
		outcome = metrics.OutcomeError
		d.logger.Error("queue module not found", "queue", m.QueueName, "messageId", m.ID)
		return fmt.Errorf("%w: %q", ErrUnknownQueue, m.QueueName)
	}

	timeout := q.Timeout
	if remaining != nil {
		if left := remaining(); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		outcome = metrics.OutcomeTimeout
		d.logger.Warn("batch budget exhausted before dispatch", "queue", m.QueueName, "messageId", m.ID)
		return ErrNoBudget
	}

	ctx, span := d.tracer.Start(ctx, "queue "+m.QueueName, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination.name", m.QueueName),
		attribute.String("messaging.message.id", m.ID),
		attribute.Bool("messaging.fifo", fifo),
	)

	err := d.invoke(ctx, q, m, timeout, &outcome)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		d.fireOnError(ctx, q, m, err)
		return err
	}

	if d.client != nil {
		if derr := d.client.DeleteMessage(ctx, m.QueueName, m.ReceiptHandle); derr != nil {
			// The handler already succeeded; redelivering would double
			// process, so log and let the success stand.
			d.logger.Error("failed to delete handled message",
				"queue", m.QueueName,
				"messageId", m.ID,
				"error", derr,
			)
		}
	}
	return nil
}

// invoke opens the message scope and races the handler against its
// deadline.
func (d *Dispatcher) invoke(ctx context.Context, q *manifest.Queue, m Message, timeout time.Duration, outcome *metrics.Outcome) error {
	logger := d.logger.With("queue", m.QueueName, "messageId", m.ID)

	user := m.user()
	scope := ambient.NewScope(
		ambient.WithOps(d.ops),
		ambient.WithURLs(d.urls, d.services),
		ambient.WithLogger(logger),
	)
	_ = scope.PinUser(user)

	sctx, err := ambient.NewContext(ctx, scope)
	if err != nil {
		*outcome = metrics.OutcomeError
		return err
	}

	params, err := m.params()
	if err != nil {
		logger.Warn("malformed params attribute", "error", err)
		params = map[string]string{}
	}

	payload, err := decodePayload(q.Kind, m.ContentType, m.Body)
	if err != nil {
		*outcome = metrics.OutcomeError
		logger.Error("payload does not decode", "error", err)
		return err
	}

	meta := &handler.QueueMeta{
		MessageID:      m.ID,
		GroupID:        m.GroupID,
		Params:         params,
		QueueName:      m.QueueName,
		ReceivedCount:  m.ReceivedCount,
		SentAt:         m.SentAt,
		SequenceNumber: m.SequenceNumber,
		User:           user,
	}

	tctx, cancel := context.WithTimeout(sctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- runHandler(tctx, q.Module.Default, payload, meta)
	}()

	select {
	case err = <-done:
	case <-tctx.Done():
		*outcome = metrics.OutcomeTimeout
		d.recorder.Timeout("queue")
		logger.Warn("message timed out", "timeout", timeout.String())
		return fmt.Errorf("message timed out after %s: %w", timeout, tctx.Err())
	}

	if err != nil {
		*outcome = metrics.OutcomeError
		logger.Error("message handler failed", "error", err)
		return err
	}
	return nil
}

// runHandler recovers handler panics so an abandoned goroutine cannot take
// the process down.
func runHandler(ctx context.Context, fn handler.QueueFunc, payload any, meta *handler.QueueMeta) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx, payload, meta)
}

// fireOnError reports a failed message to the module's onError hook before
// the failure is returned to the host. Hook failures are logged only.
func (d *Dispatcher) fireOnError(ctx context.Context, q *manifest.Queue, m Message, err error) {
	if q.Module.OnError == nil {
		return
	}
	meta := &handler.QueueMeta{
		MessageID: m.ID,
		GroupID:   m.GroupID,
		QueueName: m.QueueName,
		User:      m.user(),
	}
	hookErr := func() (hookErr error) {
		defer func() {
			if r := recover(); r != nil {
				hookErr = fmt.Errorf("panic: %v", r)
			}
		}()
		return q.Module.OnError(ctx, err, meta)
	}()
	if hookErr != nil {
		d.logger.Error("onError hook failed", "queue", m.QueueName, "messageId", m.ID, "error", hookErr)
	}
}
