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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gantry-run/gantry/ambient"
	"github.com/gantry-run/gantry/manifest"
	"github.com/gantry-run/gantry/queue"
	"github.com/gantry-run/gantry/wsengine"
)

// OutboundMessage is a queue job normalized for transport: body bytes,
// media type, and FIFO attributes already validated against the
// manifest.
type OutboundMessage struct {
	QueueName   string
	FIFO        bool
	Body        []byte
	ContentType string
	GroupID     string
	DedupeID    string
	Params      map[string]string
	UserID      string
}

// Enqueuer is the host's queue transport. The dev server feeds its
// in-process broker; the Lambda host sends to SQS.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg OutboundMessage) (string, error)
}

// brokerOps implements ambient.Ops over the host's collaborators. It
// owns the host-agnostic halves of each operation: manifest validation,
// payload encoding, dedupe derivation, and gateway fan-out with
// gone-connection cleanup.
type brokerOps struct {
	services *manifest.Services
	enqueuer Enqueuer
	gateway  wsengine.Gateway
	store    wsengine.ConnectionStore
	logger   *slog.Logger
}

func (b *brokerOps) QueueJob(ctx context.Context, job ambient.Job) (string, error) {
	if b.enqueuer == nil {
		return "", ErrNoQueueTransport
	}
	q, ok := b.services.QueueByName(job.QueueName)
	if !ok {
		return "", fmt.Errorf("%w: %q", queue.ErrUnknownQueue, job.QueueName)
	}
	if q.FIFO && job.GroupID == "" {
		return "", fmt.Errorf("%w: %q", ErrGroupRequired, job.QueueName)
	}
	if !q.FIFO && job.GroupID != "" {
		return "", fmt.Errorf("%w: %q", ErrGroupOnStandardQueue, job.QueueName)
	}

	body, contentType, err := encodePayload(job.Payload, job.ContentType)
	if err != nil {
		return "", err
	}

	msg := OutboundMessage{
		QueueName:   q.Name,
		FIFO:        q.FIFO,
		Body:        body,
		ContentType: contentType,
		GroupID:     job.GroupID,
		DedupeID:    job.DedupeID,
		Params:      job.Params,
	}
	if q.FIFO && msg.DedupeID == "" {
		sum := sha256.Sum256(body)
		msg.DedupeID = hex.EncodeToString(sum[:])
	}
	if job.User != nil {
		msg.UserID = job.User.ID
	}
	return b.enqueuer.Enqueue(ctx, msg)
}

func (b *brokerOps) SendWebSocketMessage(ctx context.Context, data any, connectionIDs []string) error {
	if b.gateway == nil {
		return ErrNoGateway
	}
	frame, err := encodeFrame(data)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range connectionIDs {
		err := b.gateway.Send(ctx, id, frame)
		switch {
		case err == nil:
		case errors.Is(err, wsengine.ErrConnectionGone):
			// Stale binding; retire it instead of failing the send.
			if _, _, uerr := b.store.Unbind(ctx, id); uerr != nil {
				b.logger.Warn("failed to retire gone connection", "connectionId", id, "error", uerr)
			}
		default:
			errs = append(errs, fmt.Errorf("send to %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (b *brokerOps) CloseWebSocket(ctx context.Context, connectionID string) error {
	if b.gateway == nil {
		return ErrNoGateway
	}
	return b.gateway.Close(ctx, connectionID)
}

func (b *brokerOps) GetConnections(ctx context.Context, userIDs []string) ([]string, error) {
	return b.store.ConnectionsFor(ctx, userIDs)
}

// encodePayload renders a job payload for transport. An explicit content
// type wins; otherwise the type is derived from the payload's shape.
func encodePayload(payload any, contentType string) ([]byte, string, error) {
	var (
		body    []byte
		derived string
	)
	switch p := payload.(type) {
	case nil:
		body, derived = nil, "text/plain"
	case []byte:
		body, derived = p, "application/octet-stream"
	case json.RawMessage:
		body, derived = p, "application/json"
	case string:
		body, derived = []byte(p), "text/plain"
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		body, derived = encoded, "application/json"
	}
	if contentType == "" {
		contentType = derived
	}
	return body, contentType, nil
}

// encodeFrame renders data for a WebSocket send: bytes pass through,
// strings are their bytes, everything else marshals to JSON.
func encodeFrame(data any) ([]byte, error) {
	switch d := data.(type) {
	case []byte:
		return d, nil
	case json.RawMessage:
		return d, nil
	case string:
		return []byte(d), nil
	default:
		frame, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		return frame, nil
	}
}
