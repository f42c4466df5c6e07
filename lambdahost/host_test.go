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

package lambdahost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry-run/gantry"
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/manifest"
)

func newHost(t *testing.T, reg *manifest.Registry, opts ...gantry.Option) *Host {
	t.Helper()
	project, err := gantry.New(append([]gantry.Option{gantry.WithRegistry(reg)}, opts...)...)
	require.NoError(t, err)
	host, err := New(project)
	require.NoError(t, err)
	return host
}

func marshalEvent(t *testing.T, event any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return raw
}

func TestNewRequiresProject(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilProject)
}

func TestHandleRejectsUnknownEvents(t *testing.T) {
	t.Parallel()

	host := newHost(t, manifest.NewRegistry())

	_, err := host.Handle(context.Background(), json.RawMessage(`{"detail":"cron"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = host.Handle(context.Background(), json.RawMessage(`not json`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestHandleHTTPEvent(t *testing.T) {
	t.Parallel()

	var got *handler.Request
	reg := manifest.NewRegistry()
	reg.Route(&handler.RouteModule{
		Source: "api/posts/[id].go",
		Post: func(_ context.Context, req *handler.Request) (handler.Result, error) {
			got = req
			resp := handler.NewResponse(http.StatusCreated)
			resp.Header.Add("Set-Cookie", "session=abc")
			resp.Header.Add("Set-Cookie", "theme=dark")
			resp.Header.Set("X-Request-Id", req.RequestID)
			return resp.WithText("made"), nil
		},
	})
	host := newHost(t, reg)

	body := base64.StdEncoding.EncodeToString([]byte(`{"title":"hi"}`))
	event := events.APIGatewayV2HTTPRequest{
		RawPath:        "/posts/7",
		RawQueryString: "tag=go",
		Headers:        map[string]string{"content-type": "application/json"},
		Cookies:        []string{"sid=42"},
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			RequestID: "rid-1",
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{
				Method: http.MethodPost,
				Path:   "/posts/7",
			},
		},
		Body:            body,
		IsBase64Encoded: true,
	}

	out, err := host.Handle(context.Background(), marshalEvent(t, event))
	require.NoError(t, err)
	resp, ok := out.(events.APIGatewayV2HTTPResponse)
	require.True(t, ok)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "7", got.Params["id"])
	assert.Equal(t, "go", got.URL.Query().Get("tag"))
	assert.Equal(t, "42", got.Cookies["sid"])
	assert.Equal(t, `{"title":"hi"}`, string(got.Body))
	assert.Equal(t, "rid-1", got.RequestID)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "made", resp.Body)
	assert.False(t, resp.IsBase64Encoded)
	assert.Equal(t, "rid-1", resp.Headers["X-Request-Id"])
	assert.ElementsMatch(t, []string{"session=abc", "theme=dark"}, resp.Cookies)
	assert.NotContains(t, resp.Headers, "Set-Cookie")
}

func TestHandleHTTPRejectsBadBase64(t *testing.T) {
	t.Parallel()

	host := newHost(t, manifest.NewRegistry())
	event := events.APIGatewayV2HTTPRequest{
		RawPath: "/anything",
		RequestContext: events.APIGatewayV2HTTPRequestContext{
			HTTP: events.APIGatewayV2HTTPRequestContextHTTPDescription{Method: http.MethodPost},
		},
		Body:            "%%not-base64%%",
		IsBase64Encoded: true,
	}

	out, err := host.Handle(context.Background(), marshalEvent(t, event))
	require.NoError(t, err)
	resp, ok := out.(events.APIGatewayV2HTTPResponse)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPResponseEncodesBinaryBodies(t *testing.T) {
	t.Parallel()

	resp := httpResponse(&handler.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/octet-stream"}},
		Body:       []byte{0xff, 0x00, 0x9f},
	})

	assert.True(t, resp.IsBase64Encoded)
	decoded, err := base64.StdEncoding.DecodeString(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x00, 0x9f}, decoded)
}

func TestHandleWebSocketLifecycle(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		data     any
		user     string
		offlines []string
	)
	reg := manifest.NewRegistry()
	reg.Socket(&handler.SocketModule{
		Source: "socket.go",
		Default: func(_ context.Context, msg *handler.SocketMessage) error {
			mu.Lock()
			defer mu.Unlock()
			data = msg.Data
			if msg.User != nil {
				user = msg.User.ID
			}
			return nil
		},
		Middleware: handler.Middleware{
			Authenticate: func(_ context.Context, req *handler.Request) (*handler.User, error) {
				if id := req.Header.Get("X-User"); id != "" {
					return &handler.User{ID: id}, nil
				}
				return nil, nil
			},
			OnOffline: func(_ context.Context, id string) error {
				mu.Lock()
				defer mu.Unlock()
				offlines = append(offlines, id)
				return nil
			},
		},
	})
	host := newHost(t, reg)

	connect := events.APIGatewayWebsocketProxyRequest{
		MultiValueHeaders: map[string][]string{"X-User": {"u9"}},
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			ConnectionID: "c-1",
			RouteKey:     routeConnect,
			RequestID:    "rid-connect",
		},
	}
	out, err := host.Handle(context.Background(), marshalEvent(t, connect))
	require.NoError(t, err)
	resp, ok := out.(events.APIGatewayProxyResponse)
	require.True(t, ok)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	bound, err := host.project.Store().ResolveUser(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "u9", bound)

	frame := events.APIGatewayWebsocketProxyRequest{
		Body: `{"n":1}`,
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			ConnectionID: "c-1",
			RouteKey:     "$default",
			RequestID:    "rid-frame",
		},
	}
	out, err = host.Handle(context.Background(), marshalEvent(t, frame))
	require.NoError(t, err)
	resp, ok = out.(events.APIGatewayProxyResponse)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	assert.Equal(t, map[string]any{"n": float64(1)}, data)
	assert.Equal(t, "u9", user)
	mu.Unlock()

	disconnect := events.APIGatewayWebsocketProxyRequest{
		RequestContext: events.APIGatewayWebsocketProxyRequestContext{
			ConnectionID: "c-1",
			RouteKey:     routeDisconnect,
		},
	}
	out, err = host.Handle(context.Background(), marshalEvent(t, disconnect))
	require.NoError(t, err)
	resp, ok = out.(events.APIGatewayProxyResponse)
	require.True(t, ok)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	mu.Lock()
	assert.Equal(t, []string{"u9"}, offlines)
	mu.Unlock()

	bound, err = host.project.Store().ResolveUser(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Empty(t, bound)
}

func TestHandleSQSEvent(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		metas    = map[string]*handler.QueueMeta{}
		payloads = map[string]any{}
	)
	reg := manifest.NewRegistry()
	reg.Queue(&handler.QueueModule{
		Source: "queues/tasks.go",
		Default: func(_ context.Context, payload any, meta *handler.QueueMeta) error {
			mu.Lock()
			defer mu.Unlock()
			metas[meta.MessageID] = meta
			payloads[meta.MessageID] = payload
			if meta.MessageID == "m-2" {
				return errors.New("transient failure")
			}
			return nil
		},
	})
	host := newHost(t, reg)

	sentAt := time.Now().Truncate(time.Millisecond)
	event := events.SQSEvent{Records: []events.SQSMessage{
		{
			MessageId:      "m-1",
			EventSource:    sqsEventSource,
			EventSourceARN: "arn:aws:sqs:us-east-1:123456789012:tasks",
			Body:           `{"n":1}`,
			ReceiptHandle:  "rh-1",
			Attributes: map[string]string{
				"ApproximateReceiveCount": "1",
				"SentTimestamp":           strconv.FormatInt(sentAt.UnixMilli(), 10),
			},
			MessageAttributes: map[string]events.SQSMessageAttribute{
				typeAttribute:   {DataType: "String", StringValue: aws.String("application/json")},
				userAttribute:   {DataType: "String", StringValue: aws.String("u1")},
				paramsAttribute: {DataType: "String", StringValue: aws.String("tenant=acme")},
			},
		},
		{
			MessageId:      "m-2",
			EventSource:    sqsEventSource,
			EventSourceARN: "arn:aws:sqs:us-east-1:123456789012:tasks",
			Body:           "plain text",
			ReceiptHandle:  "rh-2",
			Attributes:     map[string]string{"ApproximateReceiveCount": "2"},
		},
	}}

	out, err := host.Handle(context.Background(), marshalEvent(t, event))
	require.NoError(t, err)
	resp, ok := out.(events.SQSEventResponse)
	require.True(t, ok)

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m-2", resp.BatchItemFailures[0].ItemIdentifier)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, metas, "m-1")
	meta := metas["m-1"]
	assert.Equal(t, "tasks", meta.QueueName)
	assert.Equal(t, 1, meta.ReceivedCount)
	assert.Equal(t, map[string]string{"tenant": "acme"}, meta.Params)
	require.NotNil(t, meta.User)
	assert.Equal(t, "u1", meta.User.ID)
	assert.True(t, meta.SentAt.Equal(sentAt), "sentAt should round-trip through the record")

	assert.Equal(t, map[string]any{"n": float64(1)}, payloads["m-1"])
	assert.Equal(t, "plain text", payloads["m-2"])
}

func TestHandleSQSReportsUndecodableRecords(t *testing.T) {
	t.Parallel()

	invoked := false
	reg := manifest.NewRegistry()
	reg.Queue(&handler.QueueModule{
		Source: "queues/tasks.go",
		Default: func(context.Context, any, *handler.QueueMeta) error {
			invoked = true
			return nil
		},
	})
	host := newHost(t, reg)

	event := events.SQSEvent{Records: []events.SQSMessage{{
		MessageId:      "m-bad",
		EventSource:    sqsEventSource,
		EventSourceARN: "arn:aws:sqs:us-east-1:123456789012:tasks",
		Body:           "%%not-base64%%",
		MessageAttributes: map[string]events.SQSMessageAttribute{
			encodingAttribute: {DataType: "String", StringValue: aws.String(base64Encoding)},
		},
	}}}

	out, err := host.Handle(context.Background(), marshalEvent(t, event))
	require.NoError(t, err)
	resp, ok := out.(events.SQSEventResponse)
	require.True(t, ok)

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m-bad", resp.BatchItemFailures[0].ItemIdentifier)
	assert.False(t, invoked)
}

func TestQueueMessageDecodesBase64Bodies(t *testing.T) {
	t.Parallel()

	record := events.SQSMessage{
		MessageId:      "m-1",
		EventSourceARN: "arn:aws:sqs:us-east-1:123456789012:blobs",
		Body:           base64.StdEncoding.EncodeToString([]byte{0xde, 0xad}),
		MessageAttributes: map[string]events.SQSMessageAttribute{
			encodingAttribute: {DataType: "String", StringValue: aws.String(base64Encoding)},
			typeAttribute:     {DataType: "String", StringValue: aws.String("application/octet-stream")},
		},
	}

	message, err := queueMessage(record)
	require.NoError(t, err)
	assert.Equal(t, "blobs", message.QueueName)
	assert.Equal(t, string([]byte{0xde, 0xad}), message.Body)
	assert.Equal(t, "application/octet-stream", message.ContentType)
}

func TestQueueNameFromARN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tasks.fifo", queueNameFromARN("arn:aws:sqs:us-east-1:123456789012:tasks.fifo"))
	assert.Equal(t, "tasks", queueNameFromARN("tasks"))
}

func TestRemainingBudgetFollowsDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	remaining := remainingBudget(ctx)()
	assert.Greater(t, remaining, time.Second)
	assert.LessOrEqual(t, remaining, 2*time.Second)

	assert.Equal(t, maxInvocationTime, remainingBudget(context.Background())())
}
