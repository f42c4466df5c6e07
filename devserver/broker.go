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

package devserver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gantry-run/gantry"
	"github.com/gantry-run/gantry/manifest"
	"github.com/gantry-run/gantry/queue"
)

const (
	// maxBatch is how many messages one delivery carries.
	maxBatch = 10

	// maxReceives is how many deliveries a message gets before the broker
	// drops it. There is no local dead-letter queue; dropping keeps a
	// failing handler from redelivering forever.
	maxReceives = 3

	// batchBudget is the invocation budget granted to each delivery.
	batchBudget = 15 * time.Minute

	// dedupeWindow is how long a FIFO dedupe id suppresses duplicates.
	dedupeWindow = 5 * time.Minute
)

// broker is the local queue transport. Each registered queue gets an
// in-memory buffer and one consumer goroutine that plays the host side
// of the batch protocol: take a batch, dispatch, redeliver failures.
// Standard failures go to the back of the buffer; a failed FIFO tail
// goes back to the front so order holds across redeliveries.
type broker struct {
	logger *slog.Logger

	mu         sync.Mutex
	dispatcher *queue.Dispatcher
	queues     map[string]*brokerQueue
	started    bool
	done       chan struct{}
	wg         sync.WaitGroup
}

type brokerQueue struct {
	name string
	fifo bool

	mu      sync.Mutex
	pending []queue.Message
	wake    chan struct{}
	seq     uint64
	dedupe  map[string]dedupeEntry
}

type dedupeEntry struct {
	id string
	at time.Time
}

func newBroker(logger *slog.Logger) *broker {
	if logger == nil {
		logger = noopLogger
	}
	return &broker{
		logger: logger,
		done:   make(chan struct{}),
	}
}

// bind attaches the dispatcher and starts one consumer per registered
// queue. Enqueue rejects messages until bind has run.
func (b *broker) bind(dispatcher *queue.Dispatcher, services *manifest.Services) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dispatcher = dispatcher
	b.queues = make(map[string]*brokerQueue)
	for _, q := range services.Queues() {
		bq := &brokerQueue{
			name:   q.Name,
			fifo:   q.FIFO,
			wake:   make(chan struct{}, 1),
			dedupe: make(map[string]dedupeEntry),
		}
		b.queues[q.Name] = bq
		b.wg.Add(1)
		go b.consume(bq)
	}
	b.started = true
}

// Enqueue implements gantry.Enqueuer.
func (b *broker) Enqueue(ctx context.Context, msg gantry.OutboundMessage) (string, error) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return "", ErrBrokerStopped
	}
	bq := b.queues[msg.QueueName]
	b.mu.Unlock()

	if bq == nil {
		return "", fmt.Errorf("%w: %q", queue.ErrUnknownQueue, msg.QueueName)
	}
	return bq.push(msg), nil
}

// stop closes the consumers and waits for buffered messages to drain,
// giving up when ctx expires.
func (b *broker) stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	close(b.done)
	b.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue broker did not drain: %w", ctx.Err())
	}
}

func (b *broker) consume(bq *brokerQueue) {
	defer b.wg.Done()
	for {
		batch := bq.take(maxBatch)
		if batch != nil {
			b.deliver(bq, batch)
			continue
		}
		select {
		case <-bq.wake:
		case <-b.done:
			b.drain(bq)
			return
		}
	}
}

// drain finishes whatever was buffered before the close. Enqueue
// rejects new work once stopping and the receive cap bounds
// redeliveries, so this terminates.
func (b *broker) drain(bq *brokerQueue) {
	for {
		batch := bq.take(maxBatch)
		if batch == nil {
			return
		}
		b.deliver(bq, batch)
	}
}

func (b *broker) deliver(bq *brokerQueue, batch []queue.Message) {
	deadline := time.Now().Add(batchBudget)
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	failed := b.dispatcher.Dispatch(ctx, batch, func() time.Duration {
		return time.Until(deadline)
	})
	if len(failed) == 0 {
		return
	}

	failedSet := make(map[string]bool, len(failed))
	for _, id := range failed {
		failedSet[id] = true
	}

	var retry []queue.Message
	for _, m := range batch {
		if !failedSet[m.ID] {
			continue
		}
		if m.ReceivedCount >= maxReceives {
			b.logger.Error("dropping message after repeated failures",
				"queue", bq.name,
				"messageId", m.ID,
				"receiveCount", m.ReceivedCount,
			)
			continue
		}
		retry = append(retry, m)
	}
	if len(retry) == 0 {
		return
	}
	if bq.fifo {
		bq.requeueFront(retry)
	} else {
		bq.requeueBack(retry)
	}
}

// push stores one outbound message and returns its id. Duplicate FIFO
// dedupe ids inside the window return the original id without storing
// a second copy.
func (q *brokerQueue) push(msg gantry.OutboundMessage) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UTC()
	if q.fifo && msg.DedupeID != "" {
		if prior, ok := q.dedupe[msg.DedupeID]; ok && now.Sub(prior.at) < dedupeWindow {
			return prior.id
		}
	}

	m := queue.Message{
		ID:          uuid.NewString(),
		QueueName:   q.name,
		Body:        string(msg.Body),
		GroupID:     msg.GroupID,
		SentAt:      now,
		ContentType: msg.ContentType,
		UserID:      msg.UserID,
		RawParams:   queue.EncodeParams(msg.Params),
	}
	m.ReceiptHandle = m.ID
	if q.fifo {
		q.seq++
		m.SequenceNumber = strconv.FormatUint(q.seq, 10)
		if msg.DedupeID != "" {
			q.pruneDedupe(now)
			q.dedupe[msg.DedupeID] = dedupeEntry{id: m.ID, at: now}
		}
	}

	q.pending = append(q.pending, m)
	q.signal()
	return m.ID
}

// take pops up to n messages from the head and stamps the delivery.
func (q *brokerQueue) take(n int) []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	if n > len(q.pending) {
		n = len(q.pending)
	}
	batch := make([]queue.Message, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]
	for i := range batch {
		batch[i].ReceivedCount++
	}
	return batch
}

func (q *brokerQueue) requeueFront(msgs []queue.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(append([]queue.Message{}, msgs...), q.pending...)
	q.signal()
}

func (q *brokerQueue) requeueBack(msgs []queue.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, msgs...)
	q.signal()
}

func (q *brokerQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *brokerQueue) pruneDedupe(now time.Time) {
	for id, entry := range q.dedupe {
		if now.Sub(entry.at) >= dedupeWindow {
			delete(q.dedupe, id)
		}
	}
}
