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
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/wsengine"
)

// hub is the local WebSocket side: the /ws endpoint that mints opaque
// connection ids and feeds the socket engine, and the Gateway the
// runtime sends outbound frames through.
type hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	engine *wsengine.Engine
	conns  map[string]*hubConn
}

// hubConn serializes writes; gorilla allows one concurrent writer.
type hubConn struct {
	id string

	mu   sync.Mutex
	sock *websocket.Conn
}

func newHub(logger *slog.Logger) *hub {
	if logger == nil {
		logger = noopLogger
	}
	return &hub{
		logger: logger,
		conns:  make(map[string]*hubConn),
		upgrader: websocket.Upgrader{
			// Local tooling connects from any origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *hub) bind(engine *wsengine.Engine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.engine = engine
}

// serve handles the /ws endpoint. The connect hooks run before the
// upgrade so a denial stays an ordinary HTTP response; only an accepted
// connection is upgraded and registered.
func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	connectionID := uuid.NewString()
	req := &handler.Request{
		Method:    http.MethodGet,
		URL:       r.URL,
		Header:    r.Header.Clone(),
		RequestID: requestID(r.Header),
	}

	resp := h.engine.Connect(r.Context(), connectionID, req)
	if resp.StatusCode != http.StatusNoContent {
		writeResponse(w, resp, req.RequestID)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade wrote the HTTP error; release the accepted binding.
		h.engine.Disconnect(context.Background(), connectionID)
		h.logger.Warn("websocket upgrade failed", "connectionId", connectionID, "error", err)
		return
	}

	conn := &hubConn{id: connectionID, sock: sock}
	h.add(conn)
	h.logger.Debug("websocket connected", "connectionId", connectionID)
	h.read(conn)
}

// read pumps client frames into the socket engine until the connection
// drops, then runs the single disconnect path.
func (h *hub) read(conn *hubConn) {
	defer func() {
		h.remove(conn.id)
		_ = conn.sock.Close()
		h.engine.Disconnect(context.Background(), conn.id)
		h.logger.Debug("websocket disconnected", "connectionId", conn.id)
	}()

	for {
		_, data, err := conn.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				h.logger.Debug("websocket read failed", "connectionId", conn.id, "error", err)
			}
			return
		}
		h.engine.Message(context.Background(), conn.id, uuid.NewString(), data, false)
	}
}

// Send implements wsengine.Gateway. Unknown ids and write failures both
// report the connection gone so stale bindings get retired.
func (h *hub) Send(ctx context.Context, connectionID string, data []byte) error {
	conn := h.get(connectionID)
	if conn == nil {
		return wsengine.ErrConnectionGone
	}

	kind := websocket.TextMessage
	if !utf8.Valid(data) {
		kind = websocket.BinaryMessage
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if err := conn.sock.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("%w: %v", wsengine.ErrConnectionGone, err)
	}
	return nil
}

// Close implements wsengine.Gateway. Closing the socket ends the read
// loop, which unbinds and fires the offline hook.
func (h *hub) Close(ctx context.Context, connectionID string) error {
	conn := h.get(connectionID)
	if conn == nil {
		return wsengine.ErrConnectionGone
	}
	conn.close(websocket.CloseNormalClosure, "closed by server")
	return nil
}

// closeAll disconnects every client, used at shutdown.
func (h *hub) closeAll() {
	h.mu.Lock()
	conns := make([]*hubConn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.close(websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *hub) add(conn *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.id] = conn
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
}

func (h *hub) get(id string) *hubConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[id]
}

func (c *hubConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.sock.Close()
}
