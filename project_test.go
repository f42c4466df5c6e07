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

package gantry

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-run/gantry/ambient"
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/manifest"
)

func getRequest(target string) *handler.Request {
	u, err := url.Parse(target)
	if err != nil {
		panic(err)
	}
	return &handler.Request{
		Method:    http.MethodGet,
		URL:       u,
		Header:    http.Header{},
		RequestID: "req-1",
	}
}

func TestNewWiresEnginesOverRegistry(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Route(&handler.RouteModule{
		Source: "api/ping.go",
		Get: func(context.Context, *handler.Request) (handler.Result, error) {
			return handler.Text("pong"), nil
		},
	})

	project, err := New(WithRegistry(reg))
	require.NoError(t, err)

	resp := project.HTTP().Serve(context.Background(), getRequest("/ping"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(resp.Body))

	assert.NotNil(t, project.WebSocket())
	assert.NotNil(t, project.Queues())
	assert.NotNil(t, project.Services())
	assert.NotNil(t, project.Store())
	assert.NotNil(t, project.Logger())
}

func TestNewReportsLoadFailures(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Route(&handler.RouteModule{Source: "api/bad segment.go", Get: func(context.Context, *handler.Request) (handler.Result, error) {
		return nil, nil
	}})

	_, err := New(WithRegistry(reg))
	require.Error(t, err)
	var merr *manifest.Error
	assert.ErrorAs(t, err, &merr)
}

func TestProjectThreadsAmbientOpsIntoHandlers(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Queue(&handler.QueueModule{Source: "queues/mail.go", Default: queueFn()})
	reg.Route(&handler.RouteModule{
		Source: "api/send.go",
		Post: func(ctx context.Context, req *handler.Request) (handler.Result, error) {
			id, err := ambient.QueueJob(ctx, ambient.Job{QueueName: "mail", Payload: map[string]string{"to": req.Text()}})
			if err != nil {
				return nil, err
			}
			return handler.Text(id), nil
		},
	})

	enq := &fakeEnqueuer{}
	project, err := New(WithRegistry(reg), WithEnqueuer(enq))
	require.NoError(t, err)

	req := getRequest("/send")
	req.Method = http.MethodPost
	req.Body = []byte("kim@example.com")
	resp := project.HTTP().Serve(context.Background(), req)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "m-1", string(resp.Body))

	msgs := enq.recorded()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mail", msgs[0].QueueName)
	assert.JSONEq(t, `{"to":"kim@example.com"}`, string(msgs[0].Body))
	assert.Equal(t, "application/json", msgs[0].ContentType)
}

func TestProjectObservesOutboundSends(t *testing.T) {
	t.Parallel()

	var observed atomic.Int32
	reg := manifest.NewRegistry()
	reg.Socket(&handler.SocketModule{
		Source:  "socket.go",
		Default: func(context.Context, *handler.SocketMessage) error { return nil },
		Middleware: handler.Middleware{
			OnMessageSent: func(context.Context, *handler.SocketMessage) error {
				observed.Add(1)
				return nil
			},
		},
	})
	reg.Route(&handler.RouteModule{
		Source: "api/notify.go",
		Post: func(ctx context.Context, _ *handler.Request) (handler.Result, error) {
			if err := ambient.SendWebSocketMessage(ctx, "ping", []string{"c1", "c2"}); err != nil {
				return nil, err
			}
			return nil, nil
		},
	})

	gw := newFakeGateway()
	project, err := New(WithRegistry(reg), WithGateway(gw))
	require.NoError(t, err)

	req := getRequest("/notify")
	req.Method = http.MethodPost
	resp := project.HTTP().Serve(context.Background(), req)

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(2), observed.Load(), "one observation per connection")
	assert.Len(t, gw.sent["c1"], 1)
	assert.Len(t, gw.sent["c2"], 1)
}

func TestStartRunsWarmupInsideScope(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	reg := manifest.NewRegistry()
	reg.Queue(&handler.QueueModule{Source: "queues/mail.go", Default: queueFn()})
	reg.Warmup(func(ctx context.Context) error {
		runs.Add(1)
		_, err := ambient.QueueJob(ctx, ambient.Job{QueueName: "mail", Payload: "warm"})
		return err
	})

	enq := &fakeEnqueuer{}
	project, err := New(WithRegistry(reg), WithEnqueuer(enq))
	require.NoError(t, err)

	require.NoError(t, project.Start(context.Background()))
	require.NoError(t, project.Start(context.Background()), "second start is a no-op")

	assert.Equal(t, int32(1), runs.Load())
	require.Len(t, enq.recorded(), 1, "warmup ran inside a live scope")
}

func TestStartPropagatesWarmupFailures(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Warmup(func(context.Context) error { return errors.New("cold cache") })
	reg.Route(&handler.RouteModule{Source: "api/x.go", Get: func(context.Context, *handler.Request) (handler.Result, error) {
		return nil, nil
	}})

	project, err := New(WithRegistry(reg))
	require.NoError(t, err)

	err = project.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warmup")
	assert.Contains(t, err.Error(), "cold cache")
}

func TestStartRecoversWarmupPanics(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Warmup(func(context.Context) error { panic("boot loop") })
	reg.Route(&handler.RouteModule{Source: "api/x.go", Get: func(context.Context, *handler.Request) (handler.Result, error) {
		return nil, nil
	}})

	project, err := New(WithRegistry(reg))
	require.NoError(t, err)

	err = project.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boot loop")
}

func TestPackageRegistrationTargetsDefaultRegistry(t *testing.T) {
	t.Parallel()

	Route(&handler.RouteModule{
		Source: "api/registered/by/facade.go",
		Get: func(context.Context, *handler.Request) (handler.Result, error) {
			return handler.Text("here"), nil
		},
	})

	project, err := New()
	require.NoError(t, err)

	route, ok := project.Services().RouteByPath("/registered/by/facade")
	require.True(t, ok)
	assert.Equal(t, "api/registered/by/facade.go", route.Source)
}

func TestProjectBaseURLs(t *testing.T) {
	t.Parallel()

	reg := manifest.NewRegistry()
	reg.Route(&handler.RouteModule{
		Source: "api/posts/[id].go",
		Get: func(ctx context.Context, req *handler.Request) (handler.Result, error) {
			self, err := ambient.URLFor(ctx, "api/posts/[id].go")
			if err != nil {
				return nil, err
			}
			u, err := self(map[string]any{"id": req.Params["id"]}, nil)
			if err != nil {
				return nil, err
			}
			return handler.Text(u), nil
		},
	})

	project, err := New(WithRegistry(reg), WithHTTPBase("https://api.example.com"))
	require.NoError(t, err)

	resp := project.HTTP().Serve(context.Background(), getRequest("/posts/7"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://api.example.com/posts/7", string(resp.Body))
}
