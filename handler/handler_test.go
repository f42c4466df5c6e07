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

package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(string) Func {
	return func(context.Context, *Request) (Result, error) { return nil, nil }
}

func TestRouteModuleHandlers(t *testing.T) {
	t.Parallel()

	m := &RouteModule{
		Get:  noopHandler("get"),
		Post: noopHandler("post"),
		Del:  noopHandler("del"),
	}

	handlers := m.Handlers()
	assert.Len(t, handlers, 3)
	assert.Contains(t, handlers, http.MethodGet)
	assert.Contains(t, handlers, http.MethodPost)
	assert.Contains(t, handlers, http.MethodDelete)

	assert.NotNil(t, m.HandlerFor("delete"))
	assert.Nil(t, m.HandlerFor("PUT"))

	m.Default = noopHandler("default")
	assert.NotNil(t, m.HandlerFor("PUT"))
}

func TestMiddlewareMerge(t *testing.T) {
	t.Parallel()

	base := Middleware{
		Authenticate: func(context.Context, *Request) (*User, error) { return &User{ID: "base"}, nil },
		OnRequest:    func(context.Context, *Request) error { return nil },
	}
	over := Middleware{
		Authenticate: func(context.Context, *Request) (*User, error) { return &User{ID: "over"}, nil },
		OnError:      func(context.Context, error, *Request) error { return nil },
	}

	merged := base.Merge(over)

	u, err := merged.Authenticate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "over", u.ID)

	assert.NotNil(t, merged.OnRequest, "unset hooks inherit from the base")
	assert.NotNil(t, merged.OnError)
	assert.Nil(t, merged.OnResponse)

	// The base is untouched.
	u, _ = base.Authenticate(context.Background(), nil)
	assert.Equal(t, "base", u.ID)
}

func TestRequestContentType(t *testing.T) {
	t.Parallel()

	req := &Request{Header: http.Header{}}
	assert.Equal(t, "", req.ContentType())

	req.Header.Set("Content-Type", "Application/JSON; charset=utf-8")
	assert.Equal(t, "application/json", req.ContentType())

	req.Header.Set("Content-Type", "text/plain")
	assert.Equal(t, "text/plain", req.ContentType())
}

func TestRequestJSONAndText(t *testing.T) {
	t.Parallel()

	req := &Request{Body: []byte(`{"n":3}`)}
	var v struct{ N int }
	require.NoError(t, req.JSON(&v))
	assert.Equal(t, 3, v.N)
	assert.Equal(t, `{"n":3}`, req.Text())
}

func TestParseCookies(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	h.Add("Cookie", "session=abc; theme=dark")

	cookies := ParseCookies(h)
	assert.Equal(t, "abc", cookies["session"])
	assert.Equal(t, "dark", cookies["theme"])

	assert.Empty(t, ParseCookies(http.Header{}))
}

func TestTimeoutClamping(t *testing.T) {
	t.Parallel()

	var nilRoute *RouteConfig
	assert.Equal(t, DefaultRouteTimeout, nilRoute.EffectiveTimeout())

	assert.Equal(t, MaxRouteTimeout, (&RouteConfig{Timeout: time.Minute}).EffectiveTimeout())
	assert.Equal(t, MinTimeout, (&RouteConfig{Timeout: time.Millisecond}).EffectiveTimeout())
	assert.Equal(t, 5*time.Second, (&RouteConfig{Timeout: 5 * time.Second}).EffectiveTimeout())

	var nilQueue *QueueConfig
	assert.Equal(t, DefaultQueueTimeout, nilQueue.EffectiveTimeout())
	assert.Equal(t, MaxQueueTimeout, (&QueueConfig{Timeout: time.Hour}).EffectiveTimeout())
	assert.Equal(t, 400*time.Second, (&QueueConfig{Timeout: 400 * time.Second}).EffectiveTimeout())

	var nilSocket *SocketConfig
	assert.Equal(t, DefaultSocketTimeout, nilSocket.EffectiveTimeout())
	assert.Equal(t, MaxSocketTimeout, (&SocketConfig{Timeout: time.Minute}).EffectiveTimeout())
}

func TestCachePolicy(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, CachePolicy{}.MaxAge(nil))
	assert.Equal(t, 60, CachePolicy{Seconds: 60}.MaxAge(nil))

	dynamic := CachePolicy{Func: func(Result) int { return 17 }}
	assert.Equal(t, 17, dynamic.MaxAge(Text("x")))
}

func TestETagPolicy(t *testing.T) {
	t.Parallel()

	tag, ok := ETagPolicy{}.Tag(nil)
	assert.True(t, ok)
	assert.Empty(t, tag, "empty tag means hash the body")

	_, ok = ETagPolicy{Disabled: true}.Tag(nil)
	assert.False(t, ok)

	tag, ok = ETagPolicy{Value: `"v1"`}.Tag(nil)
	assert.True(t, ok)
	assert.Equal(t, `"v1"`, tag)

	tag, _ = ETagPolicy{Func: func(Result) string { return "dyn" }}.Tag(nil)
	assert.Equal(t, "dyn", tag)
}

func TestPayloadKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PayloadAuto, (&QueueConfig{}).PayloadKind())
	assert.Equal(t, PayloadJSON, (&QueueConfig{Type: "application/json"}).PayloadKind())
	assert.Equal(t, PayloadJSON, (&QueueConfig{Type: PayloadJSON}).PayloadKind())
	assert.Equal(t, PayloadText, (&SocketConfig{Type: PayloadText}).PayloadKind())
	assert.Equal(t, PayloadAuto, (&SocketConfig{Type: "bogus"}).PayloadKind())
}
