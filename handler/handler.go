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

// Package handler defines the contract between user modules and the
// runtime: the request and response shapes, the tagged result values a
// handler may return, module declarations for routes, queues, and the
// WebSocket endpoint, and the middleware hook set.
//
// A module declares its place in the project layout through its Source
// path. The manifest loader translates that path into a canonical URL
// the same way it would translate a file on disk, so
//
//	handler.RouteModule{
//	    Source: "api/posts/[id]",
//	    Get:    showPost,
//	}
//
// serves GET /posts/:id.
package handler

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Func is an HTTP route handler. The returned Result may be nil for an
// empty 204 response. Returning an error produced by Abort short-circuits
// with that response; any other error is a handler failure.
type Func func(ctx context.Context, req *Request) (Result, error)

// QueueFunc handles one queue message. The payload is the decoded body:
// a JSON value, a string, or raw bytes, depending on the declared payload
// type. A non-nil error returns the message to the queue.
type QueueFunc func(ctx context.Context, payload any, meta *QueueMeta) error

// SocketFunc handles one WebSocket message.
type SocketFunc func(ctx context.Context, msg *SocketMessage) error

// WarmupFunc runs once before the process starts serving events.
type WarmupFunc func(ctx context.Context) error

// AuthenticateFunc establishes the request principal. Returning (nil, nil)
// leaves the request anonymous. The returned user must carry a non-empty
// ID.
type AuthenticateFunc func(ctx context.Context, req *Request) (*User, error)

// OnRequestFunc runs before authentication. Returning an Abort error
// short-circuits the request with that response.
type OnRequestFunc func(ctx context.Context, req *Request) error

// OnResponseFunc observes the outgoing response. Returning an Abort error
// replaces the response; any other error is reported to OnError without
// disturbing the response.
type OnResponseFunc func(ctx context.Context, req *Request, resp *Response) error

// OnErrorFunc observes handler failures. It runs at most once per event.
type OnErrorFunc func(ctx context.Context, err error, req *Request) error

// PresenceFunc observes a user going online or offline.
type PresenceFunc func(ctx context.Context, userID string) error

// MessageHookFunc observes WebSocket messages entering or leaving the
// process.
type MessageHookFunc func(ctx context.Context, msg *SocketMessage) error

// QueueErrorFunc observes a failed queue message before it is reported
// back to the host.
type QueueErrorFunc func(ctx context.Context, err error, meta *QueueMeta) error

// User is the authenticated principal pinned to an event. ID must be
// non-empty; everything else rides in Claims.
type User struct {
	ID     string
	Claims map[string]any
}

// Request is the normalized inbound HTTP request. For WebSocket connects
// it is synthesized from the upgrade headers.
type Request struct {
	Method    string
	URL       *url.URL
	Header    http.Header
	Body      []byte
	Params    map[string]string
	Cookies   map[string]string
	User      *User
	RequestID string
}

// ContentType returns the lowercased primary media type of the request
// body, without parameters, or "" when absent.
func (r *Request) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	}
	return mediaType
}

// JSON unmarshals the request body into v.
func (r *Request) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Text returns the request body as a string.
func (r *Request) Text() string {
	return string(r.Body)
}

// Query returns the parsed query parameters.
func (r *Request) Query() url.Values {
	if r.URL == nil {
		return url.Values{}
	}
	return r.URL.Query()
}

// ParseCookies extracts request cookies from headers into a name→value
// map. Later duplicates win.
func ParseCookies(header http.Header) map[string]string {
	req := http.Request{Header: header}
	cookies := req.Cookies()
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}

// QueueMeta describes the queue message being handled.
type QueueMeta struct {
	MessageID      string
	GroupID        string
	Params         map[string]string
	QueueName      string
	ReceivedCount  int
	SentAt         time.Time
	SequenceNumber string
	User           *User
}

// SocketMessage is a message arriving on, or leaving through, a WebSocket
// connection.
type SocketMessage struct {
	ConnectionID string
	RequestID    string
	Data         any
	User         *User
}

// Middleware is the hook set attached to a module or a _middleware
// declaration. Nil fields inherit from the enclosing chain.
type Middleware struct {
	Authenticate      AuthenticateFunc
	OnRequest         OnRequestFunc
	OnResponse        OnResponseFunc
	OnError           OnErrorFunc
	OnOnline          PresenceFunc
	OnOffline         PresenceFunc
	OnMessageReceived MessageHookFunc
	OnMessageSent     MessageHookFunc
}

// Merge returns m with over's non-nil hooks taking precedence. Merging
// never mutates either operand.
func (m Middleware) Merge(over Middleware) Middleware {
	out := m
	if over.Authenticate != nil {
		out.Authenticate = over.Authenticate
	}
	if over.OnRequest != nil {
		out.OnRequest = over.OnRequest
	}
	if over.OnResponse != nil {
		out.OnResponse = over.OnResponse
	}
	if over.OnError != nil {
		out.OnError = over.OnError
	}
	if over.OnOnline != nil {
		out.OnOnline = over.OnOnline
	}
	if over.OnOffline != nil {
		out.OnOffline = over.OnOffline
	}
	if over.OnMessageReceived != nil {
		out.OnMessageReceived = over.OnMessageReceived
	}
	if over.OnMessageSent != nil {
		out.OnMessageSent = over.OnMessageSent
	}
	return out
}

// RouteModule declares one HTTP endpoint. Verb fields bind handlers to
// methods; Del serves DELETE. Default serves any verb without a dedicated
// handler. When Config.Methods is empty, the allowed method set is derived
// from the bound verbs, or all methods if only Default is set.
type RouteModule struct {
	Source string
	Config *RouteConfig

	Get     Func
	Post    Func
	Put     Func
	Patch   Func
	Del     Func
	Head    Func
	Options Func
	Default Func

	Middleware Middleware
}

// Handlers returns the verb→handler table for all bound verb fields.
func (m *RouteModule) Handlers() map[string]Func {
	out := make(map[string]Func, 7)
	for verb, fn := range map[string]Func{
		http.MethodGet:     m.Get,
		http.MethodPost:    m.Post,
		http.MethodPut:     m.Put,
		http.MethodPatch:   m.Patch,
		http.MethodDelete:  m.Del,
		http.MethodHead:    m.Head,
		http.MethodOptions: m.Options,
	} {
		if fn != nil {
			out[verb] = fn
		}
	}
	return out
}

// HandlerFor returns the handler bound to method, falling back to Default.
// It does not apply the HEAD→GET fallthrough; that is engine policy.
func (m *RouteModule) HandlerFor(method string) Func {
	if fn, ok := m.Handlers()[strings.ToUpper(method)]; ok {
		return fn
	}
	return m.Default
}

// QueueModule declares one queue handler. The queue's logical name derives
// from Source: "queues/tasks.fifo" names the FIFO queue "tasks.fifo".
type QueueModule struct {
	Source  string
	Config  *QueueConfig
	Default QueueFunc
	OnError QueueErrorFunc
}

// SocketModule declares the project's WebSocket endpoint.
type SocketModule struct {
	Source     string
	Config     *SocketConfig
	Default    SocketFunc
	Middleware Middleware
}
