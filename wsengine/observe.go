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

package wsengine

import (
	"context"
	"log/slog"

	"github.com/gantry-run/gantry/ambient"
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/manifest"
)

// ObserveOps decorates ops so the socket module's onMessageSent hook
// sees every outbound WebSocket delivery, wherever it originates: an
// HTTP handler pushing to subscribers goes through the same broker
// as a socket handler replying. Hook failures are logged, never
// propagated, because observability must not veto a delivered message.
//
// When there is no socket module or no hook, ops is returned unchanged.
func ObserveOps(ops ambient.Ops, socket *manifest.Socket, logger *slog.Logger) ambient.Ops {
	if ops == nil || socket == nil || socket.Chain.OnMessageSent == nil {
		return ops
	}
	if logger == nil {
		logger = noopLogger
	}
	return &observedOps{Ops: ops, hook: socket.Chain.OnMessageSent, logger: logger}
}

type observedOps struct {
	ambient.Ops
	hook   handler.MessageHookFunc
	logger *slog.Logger
}

func (o *observedOps) SendWebSocketMessage(ctx context.Context, data any, connectionIDs []string) error {
	if err := o.Ops.SendWebSocketMessage(ctx, data, connectionIDs); err != nil {
		return err
	}
	for _, id := range connectionIDs {
		msg := &handler.SocketMessage{ConnectionID: id, Data: data}
		if err := callHook(func() error { return o.hook(ctx, msg) }); err != nil {
			o.logger.Error("onMessageSent hook failed", "connectionId", id, "error", err)
		}
	}
	return nil
}
