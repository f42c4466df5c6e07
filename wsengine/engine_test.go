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

//go:build !integration

package wsengine

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-run/gantry/ambient"
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/manifest"
)

func newEngine(t *testing.T, reg *manifest.Registry, store ConnectionStore, opts ...Option) *Engine {
	t.Helper()
	services, err := manifest.Load(reg)
	require.NoError(t, err)
	engine, err := New(services, store, opts...)
	require.NoError(t, err)
	return engine
}

func upgradeRequest(header http.Header) *handler.Request {
	u, err := url.Parse("/ws")
	if err != nil {
		panic(err)
	}
	if header == nil {
		header = http.Header{}
	}
	return &handler.Request{
		Method:    http.MethodGet,
		URL:       u,
		Header:    header,
		RequestID: "req-1",
	}
}

func socketModule(fn handler.SocketFunc, cfg *handler.SocketConfig, mw handler.Middleware) *handler.SocketModule {
	if fn == nil {
		fn = func(context.Context, *handler.SocketMessage) error { return nil }
	}
	return &handler.SocketModule{
		Source:     "socket.go",
		Config:     cfg,
		Default:    fn,
		Middleware: mw,
	}
}

func authAs(id string) handler.AuthenticateFunc {
	return func(context.Context, *handler.Request) (*handler.User, error) {
		return &handler.User{ID: id}, nil
	}
}

type sentFrame struct {
	data        any
	connections []string
}

type fakeOps struct {
	mu      sync.Mutex
	sends   []sentFrame
	sendErr error
}

func (f *fakeOps) QueueJob(context.Context, ambient.Job) (string, error) { return "m-1", nil }

func (f *fakeOps) SendWebSocketMessage(_ context.Context, data any, connectionIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sends = append(f.sends, sentFrame{data: data, connections: connectionIDs})
	return nil
}

func (f *fakeOps) CloseWebSocket(context.Context, string) error { return nil }
func (f *fakeOps) GetConnections(context.Context, []string) ([]string, error) {
	return nil, nil
}

func (f *fakeOps) recorded() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sends...)
}

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, NewMemoryStore())
	assert.ErrorIs(t, err, ErrNilServices)

	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{}))
	services, err := manifest.Load(reg)
	require.NoError(t, err)

	_, err = New(services, nil)
	assert.ErrorIs(t, err, ErrNilStore)
}

func TestConnectAcceptsAndBindsUser(t *testing.T) {
	t.Parallel()

	var online []string
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{
		Authenticate: authAs("u1"),
		OnOnline: func(_ context.Context, userID string) error {
			online = append(online, userID)
			return nil
		},
	}))
	store := NewMemoryStore()
	engine := newEngine(t, reg, store)

	resp := engine.Connect(context.Background(), "c1", upgradeRequest(nil))

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	userID, err := store.ResolveUser(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, []string{"u1"}, online)
}

func TestConnectSecondConnectionSkipsOnOnline(t *testing.T) {
	t.Parallel()

	var online atomic.Int32
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{
		Authenticate: authAs("u1"),
		OnOnline: func(context.Context, string) error {
			online.Add(1)
			return nil
		},
	}))
	engine := newEngine(t, reg, NewMemoryStore())

	require.Equal(t, http.StatusNoContent, engine.Connect(context.Background(), "c1", upgradeRequest(nil)).StatusCode)
	require.Equal(t, http.StatusNoContent, engine.Connect(context.Background(), "c2", upgradeRequest(nil)).StatusCode)

	assert.Equal(t, int32(1), online.Load())
}

func TestConnectAnonymousWithoutAuthenticate(t *testing.T) {
	t.Parallel()

	var online atomic.Int32
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{
		OnOnline: func(context.Context, string) error {
			online.Add(1)
			return nil
		},
	}))
	store := NewMemoryStore()
	engine := newEngine(t, reg, store)

	resp := engine.Connect(context.Background(), "c1", upgradeRequest(nil))

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	userID, err := store.ResolveUser(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, userID)
	assert.Zero(t, online.Load(), "anonymous connections have no presence")
}

func TestConnectThrownResponseDenies(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{
		Authenticate: func(context.Context, *handler.Request) (*handler.User, error) {
			return nil, handler.Abort(handler.NewResponse(http.StatusUnauthorized).WithText("who are you"))
		},
	}))
	store := NewMemoryStore()
	engine := newEngine(t, reg, store)

	resp := engine.Connect(context.Background(), "c1", upgradeRequest(nil))

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "who are you", string(resp.Body))
	assert.Empty(t, store.Connections(), "denied connections are not bound")
}

func TestConnectAuthenticateErrorDenies(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{
		Authenticate: func(context.Context, *handler.Request) (*handler.User, error) {
			return nil, errors.New("directory offline")
		},
	}))
	engine := newEngine(t, reg, NewMemoryStore())

	resp := engine.Connect(context.Background(), "c1", upgradeRequest(nil))

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestConnectUserWithoutIDForbidden(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{
		Authenticate: func(context.Context, *handler.Request) (*handler.User, error) {
			return &handler.User{}, nil
		},
	}))
	store := NewMemoryStore()
	engine := newEngine(t, reg, store)

	resp := engine.Connect(context.Background(), "c1", upgradeRequest(nil))

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, store.Connections())
}

func TestConnectWithoutSocketModule(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Route(&handler.RouteModule{
		Source: "api/index.go",
		Get: func(context.Context, *handler.Request) (handler.Result, error) {
			return handler.Text("ok"), nil
		},
	})
	engine := newEngine(t, reg, NewMemoryStore())

	resp := engine.Connect(context.Background(), "c1", upgradeRequest(nil))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = engine.Message(context.Background(), "c1", "req-1", []byte("{}"), false)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessageDeliversDecodedData(t *testing.T) {
	t.Parallel()

	var got *handler.SocketMessage
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(func(_ context.Context, msg *handler.SocketMessage) error {
		got = msg
		return nil
	}, nil, handler.Middleware{}))
	engine := newEngine(t, reg, NewMemoryStore())

	resp := engine.Message(context.Background(), "c1", "req-7", []byte(`{"n":1}`), false)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, got)
	assert.Equal(t, "c1", got.ConnectionID)
	assert.Equal(t, "req-7", got.RequestID)
	assert.Equal(t, map[string]any{"n": float64(1)}, got.Data)
	assert.Nil(t, got.User)
}

func TestMessageResolvesUserFromStore(t *testing.T) {
	t.Parallel()

	var (
		gotUser *handler.User
		ambUser *handler.User
		ambConn string
	)
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(func(ctx context.Context, msg *handler.SocketMessage) error {
		gotUser = msg.User
		ambUser, _ = ambient.CurrentUser(ctx)
		ambConn, _ = ambient.ConnectionID(ctx)
		return nil
	}, nil, handler.Middleware{Authenticate: authAs("u1")}))
	engine := newEngine(t, reg, NewMemoryStore())

	require.Equal(t, http.StatusNoContent, engine.Connect(context.Background(), "c1", upgradeRequest(nil)).StatusCode)
	resp := engine.Message(context.Background(), "c1", "req-2", []byte(`"hi"`), false)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, gotUser)
	assert.Equal(t, "u1", gotUser.ID)
	require.NotNil(t, ambUser)
	assert.Equal(t, "u1", ambUser.ID)
	assert.Equal(t, "c1", ambConn)
}

func TestMessageBase64Decodes(t *testing.T) {
	t.Parallel()

	var got any
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(func(_ context.Context, msg *handler.SocketMessage) error {
		got = msg.Data
		return nil
	}, &handler.SocketConfig{Type: handler.PayloadText}, handler.Middleware{}))
	engine := newEngine(t, reg, NewMemoryStore())

	frame := []byte(base64.StdEncoding.EncodeToString([]byte("hi")))
	resp := engine.Message(context.Background(), "c1", "req-1", frame, true)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hi", got)
}

func TestMessageKinds(t *testing.T) {
	t.Parallel()

	t.Run("declared json rejects malformed frames", func(t *testing.T) {
		t.Parallel()

		var invoked atomic.Int32
		reg := manifest.NewRegistry()
		reg.Socket(socketModule(func(context.Context, *handler.SocketMessage) error {
			invoked.Add(1)
			return nil
		}, &handler.SocketConfig{Type: handler.PayloadJSON}, handler.Middleware{}))
		engine := newEngine(t, reg, NewMemoryStore())

		resp := engine.Message(context.Background(), "c1", "req-1", []byte("not json"), false)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Zero(t, invoked.Load())
	})

	t.Run("declared binary passes raw bytes", func(t *testing.T) {
		t.Parallel()

		var got any
		reg := manifest.NewRegistry()
		reg.Socket(socketModule(func(_ context.Context, msg *handler.SocketMessage) error {
			got = msg.Data
			return nil
		}, &handler.SocketConfig{Type: handler.PayloadBinary}, handler.Middleware{}))
		engine := newEngine(t, reg, NewMemoryStore())

		frame := []byte(base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03}))
		resp := engine.Message(context.Background(), "c1", "req-1", frame, true)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []byte{0x01, 0x02, 0x03}, got)
	})

	t.Run("auto falls back to text", func(t *testing.T) {
		t.Parallel()

		var got any
		reg := manifest.NewRegistry()
		reg.Socket(socketModule(func(_ context.Context, msg *handler.SocketMessage) error {
			got = msg.Data
			return nil
		}, nil, handler.Middleware{}))
		engine := newEngine(t, reg, NewMemoryStore())

		resp := engine.Message(context.Background(), "c1", "req-1", []byte("plain words"), false)

		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "plain words", got)
	})
}

func TestMessageHandlerErrorIs500(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Socket(socketModule(func(context.Context, *handler.SocketMessage) error {
		return errors.New("boom")
	}, nil, handler.Middleware{}))
	engine := newEngine(t, reg, NewMemoryStore())

	resp := engine.Message(context.Background(), "c1", "req-1", []byte(`{}`), false)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestMessagePanicRecovered(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Socket(socketModule(func(_ context.Context, msg *handler.SocketMessage) error {
		if msg.Data == "explode" {
			panic("kaboom")
		}
		return nil
	}, &handler.SocketConfig{Type: handler.PayloadText}, handler.Middleware{}))
	engine := newEngine(t, reg, NewMemoryStore())

	resp := engine.Message(context.Background(), "c1", "req-1", []byte("explode"), false)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp = engine.Message(context.Background(), "c1", "req-2", []byte("fine"), false)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "engine keeps serving after a panic")
}

func TestMessageTimeout(t *testing.T) {
	t.Parallel()

	canceled := make(chan time.Time, 1)
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(func(ctx context.Context, _ *handler.SocketMessage) error {
		<-ctx.Done()
		canceled <- time.Now()
		return ctx.Err()
	}, &handler.SocketConfig{Timeout: time.Second}, handler.Middleware{}))
	engine := newEngine(t, reg, NewMemoryStore())

	start := time.Now()
	resp := engine.Message(context.Background(), "c1", "req-1", []byte(`{}`), false)
	elapsed := time.Since(start)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Timed Out", string(resp.Body))
	assert.Less(t, elapsed, 1500*time.Millisecond)

	select {
	case at := <-canceled:
		assert.WithinDuration(t, start.Add(time.Second), at, 500*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("handler context never fired")
	}
}

func TestMessageReceivedHookObserves(t *testing.T) {
	t.Parallel()

	var order []string
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(func(context.Context, *handler.SocketMessage) error {
		order = append(order, "handler")
		return nil
	}, nil, handler.Middleware{
		OnMessageReceived: func(_ context.Context, msg *handler.SocketMessage) error {
			order = append(order, "received")
			return errors.New("observer hiccup")
		},
	}))
	engine := newEngine(t, reg, NewMemoryStore())

	resp := engine.Message(context.Background(), "c1", "req-1", []byte(`{}`), false)

	assert.Equal(t, http.StatusOK, resp.StatusCode, "observer failures never veto the message")
	assert.Equal(t, []string{"received", "handler"}, order)
}

func TestDisconnectFiresOnOfflineOnLastConnection(t *testing.T) {
	t.Parallel()

	var offline []string
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{
		Authenticate: authAs("u1"),
		OnOffline: func(_ context.Context, userID string) error {
			offline = append(offline, userID)
			return nil
		},
	}))
	store := NewMemoryStore()
	engine := newEngine(t, reg, store)

	require.Equal(t, http.StatusNoContent, engine.Connect(context.Background(), "c1", upgradeRequest(nil)).StatusCode)
	require.Equal(t, http.StatusNoContent, engine.Connect(context.Background(), "c2", upgradeRequest(nil)).StatusCode)

	resp := engine.Disconnect(context.Background(), "c1")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, offline, "user still has a live connection")

	resp = engine.Disconnect(context.Background(), "c2")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []string{"u1"}, offline)
}

func TestDisconnectUnknownConnection(t *testing.T) {
	t.Parallel()

	var offline atomic.Int32
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{
		OnOffline: func(context.Context, string) error {
			offline.Add(1)
			return nil
		},
	}))
	engine := newEngine(t, reg, NewMemoryStore())

	resp := engine.Disconnect(context.Background(), "ghost")

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, offline.Load())
}

func TestObserveOpsFiresOnMessageSent(t *testing.T) {
	t.Parallel()

	var seen []string
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{
		OnMessageSent: func(_ context.Context, msg *handler.SocketMessage) error {
			seen = append(seen, msg.ConnectionID)
			return nil
		},
	}))
	services, err := manifest.Load(reg)
	require.NoError(t, err)

	ops := &fakeOps{}
	wrapped := ObserveOps(ops, services.Socket(), nil)
	require.NotSame(t, ambient.Ops(ops), wrapped)

	err = wrapped.SendWebSocketMessage(context.Background(), "hello", []string{"c1", "c2"})
	require.NoError(t, err)

	assert.Equal(t, []string{"c1", "c2"}, seen)
	require.Len(t, ops.recorded(), 1)
	assert.Equal(t, "hello", ops.recorded()[0].data)
}

func TestObserveOpsSkipsHookOnSendFailure(t *testing.T) {
	t.Parallel()

	var seen atomic.Int32
	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{
		OnMessageSent: func(context.Context, *handler.SocketMessage) error {
			seen.Add(1)
			return nil
		},
	}))
	services, err := manifest.Load(reg)
	require.NoError(t, err)

	ops := &fakeOps{sendErr: errors.New("gateway gone")}
	wrapped := ObserveOps(ops, services.Socket(), nil)

	err = wrapped.SendWebSocketMessage(context.Background(), "hello", []string{"c1"})
	require.Error(t, err)
	assert.Zero(t, seen.Load(), "undelivered messages are not observed")
}

func TestObserveOpsPassthroughWithoutHook(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Socket(socketModule(nil, nil, handler.Middleware{}))
	services, err := manifest.Load(reg)
	require.NoError(t, err)

	ops := &fakeOps{}
	assert.Same(t, ambient.Ops(ops), ObserveOps(ops, services.Socket(), nil))
	assert.Same(t, ambient.Ops(ops), ObserveOps(ops, nil, nil))
}
