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

// Package lambdahost runs a gantry project on AWS Lambda. One function
// serves every trigger the deploy wires up: API Gateway HTTP API
// payloads drive the HTTP engine, WebSocket proxy events drive the
// socket engine, and SQS batches drive the queue dispatcher with
// partial-failure reporting, so only failed messages redeliver.
package lambdahost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/gantry-run/gantry"
	"github.com/gantry-run/gantry/handler"
	"github.com/gantry-run/gantry/queue"
)

const sqsEventSource = "aws:sqs"

// WebSocket route keys API Gateway invokes the function with. Anything
// else carries a client frame.
const (
	routeConnect    = "$connect"
	routeDisconnect = "$disconnect"
)

// maxInvocationTime is the Lambda platform ceiling, used as the budget
// when the context carries no deadline.
const maxInvocationTime = 15 * time.Minute

// Host adapts a project to the Lambda runtime.
type Host struct {
	project *gantry.Project
	logger  *slog.Logger
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger. Defaults to the project's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// New builds a Host around a project.
func New(project *gantry.Project, opts ...Option) (*Host, error) {
	if project == nil {
		return nil, ErrNilProject
	}
	h := &Host{project: project}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = project.Logger()
	}
	return h, nil
}

// MustNew is New, panicking on error.
func MustNew(project *gantry.Project, opts ...Option) *Host {
	h, err := New(project, opts...)
	if err != nil {
		panic(err)
	}
	return h
}

// Start runs the project warmup, then hands control to the Lambda
// runtime. It blocks for the lifetime of the execution environment.
func (h *Host) Start(ctx context.Context) error {
	if err := h.project.Start(ctx); err != nil {
		return err
	}
	lambda.StartWithOptions(h.Handle, lambda.WithContext(ctx))
	return nil
}

// Handle dispatches one raw invocation. The payload shape selects the
// engine: SQS records, a WebSocket connection id, or an HTTP request
// context.
func (h *Host) Handle(ctx context.Context, raw json.RawMessage) (any, error) {
	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownEvent, err)
	}

	switch {
	case len(p.Records) > 0 && p.Records[0].EventSource == sqsEventSource:
		var event events.SQSEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("decode sqs event: %w", err)
		}
		return h.handleSQS(ctx, event), nil

	case p.RequestContext.ConnectionID != "":
		var event events.APIGatewayWebsocketProxyRequest
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("decode websocket event: %w", err)
		}
		return h.handleWebSocket(ctx, event), nil

	case p.RequestContext.HTTP != nil:
		var event events.APIGatewayV2HTTPRequest
		if err := json.Unmarshal(raw, &event); err != nil {
			return nil, fmt.Errorf("decode http event: %w", err)
		}
		return h.handleHTTP(ctx, event), nil

	default:
		return nil, ErrUnknownEvent
	}
}

// probe reads just enough of a payload to classify it.
type probe struct {
	Records []struct {
		EventSource string `json:"eventSource"`
	} `json:"Records"`
	RequestContext struct {
		ConnectionID string `json:"connectionId"`
		HTTP         *struct {
			Method string `json:"method"`
		} `json:"http"`
	} `json:"requestContext"`
}

func (h *Host) handleHTTP(ctx context.Context, event events.APIGatewayV2HTTPRequest) events.APIGatewayV2HTTPResponse {
	req, err := httpRequest(&event)
	if err != nil {
		h.logger.Warn("rejecting request with undecodable body",
			"requestId", event.RequestContext.RequestID, "error", err)
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusBadRequest,
			Body:       http.StatusText(http.StatusBadRequest),
		}
	}
	return httpResponse(h.project.HTTP().Serve(ctx, req))
}

// httpRequest maps an HTTP API v2 payload onto an engine request. The
// provider request id becomes the request id, so entries correlate with
// the API Gateway access log.
func httpRequest(event *events.APIGatewayV2HTTPRequest) (*handler.Request, error) {
	header := make(http.Header, len(event.Headers)+1)
	for name, value := range event.Headers {
		header.Set(name, value)
	}
	for _, cookie := range event.Cookies {
		header.Add("Cookie", cookie)
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		body = decoded
	}

	return &handler.Request{
		Method:    event.RequestContext.HTTP.Method,
		URL:       &url.URL{Path: event.RawPath, RawQuery: event.RawQueryString},
		Header:    header,
		Body:      body,
		RequestID: event.RequestContext.RequestID,
	}, nil
}

// httpResponse maps an engine response back onto the v2 payload shape.
// Set-Cookie moves to the dedicated cookies field; binary bodies are
// base64-encoded and flagged.
func httpResponse(resp *handler.Response) events.APIGatewayV2HTTPResponse {
	out := events.APIGatewayV2HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Header)),
	}
	for name, values := range resp.Header {
		if http.CanonicalHeaderKey(name) == "Set-Cookie" {
			out.Cookies = append(out.Cookies, values...)
			continue
		}
		out.Headers[name] = strings.Join(values, ", ")
	}

	if len(resp.Body) == 0 {
		return out
	}
	if utf8.Valid(resp.Body) {
		out.Body = string(resp.Body)
		return out
	}
	out.Body = base64.StdEncoding.EncodeToString(resp.Body)
	out.IsBase64Encoded = true
	return out
}

func (h *Host) handleWebSocket(ctx context.Context, event events.APIGatewayWebsocketProxyRequest) events.APIGatewayProxyResponse {
	rc := event.RequestContext
	engine := h.project.WebSocket()

	var resp *handler.Response
	switch rc.RouteKey {
	case routeConnect:
		resp = engine.Connect(ctx, rc.ConnectionID, connectRequest(&event))
	case routeDisconnect:
		resp = engine.Disconnect(ctx, rc.ConnectionID)
	default:
		resp = engine.Message(ctx, rc.ConnectionID, rc.RequestID, []byte(event.Body), event.IsBase64Encoded)
	}

	out := events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Body:       string(resp.Body),
	}
	if len(resp.Header) > 0 {
		out.Headers = make(map[string]string, len(resp.Header))
		for name, values := range resp.Header {
			out.Headers[name] = strings.Join(values, ", ")
		}
	}
	return out
}

// connectRequest synthesizes the request authenticators see on
// $connect from the upgrade handshake.
func connectRequest(event *events.APIGatewayWebsocketProxyRequest) *handler.Request {
	header := http.Header{}
	for name, values := range event.MultiValueHeaders {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	if len(header) == 0 {
		for name, value := range event.Headers {
			header.Set(name, value)
		}
	}

	query := url.Values{}
	for name, values := range event.MultiValueQueryStringParameters {
		for _, value := range values {
			query.Add(name, value)
		}
	}
	if len(query) == 0 {
		for name, value := range event.QueryStringParameters {
			query.Set(name, value)
		}
	}

	return &handler.Request{
		Method:    http.MethodGet,
		URL:       &url.URL{Path: "/", RawQuery: query.Encode()},
		Header:    header,
		RequestID: event.RequestContext.RequestID,
	}
}

// handleSQS maps the batch onto dispatcher messages and reports the
// ones that failed, so SQS redelivers only those.
func (h *Host) handleSQS(ctx context.Context, event events.SQSEvent) events.SQSEventResponse {
	messages := make([]queue.Message, 0, len(event.Records))
	var failed []string
	for _, record := range event.Records {
		message, err := queueMessage(record)
		if err != nil {
			h.logger.Error("queue message does not decode",
				"queue", queueNameFromARN(record.EventSourceARN),
				"messageId", record.MessageId, "error", err)
			failed = append(failed, record.MessageId)
			continue
		}
		messages = append(messages, message)
	}

	failed = append(failed, h.project.Queues().Dispatch(ctx, messages, remainingBudget(ctx))...)

	var response events.SQSEventResponse
	for _, id := range failed {
		response.BatchItemFailures = append(response.BatchItemFailures,
			events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return response
}

func queueMessage(record events.SQSMessage) (queue.Message, error) {
	message := queue.Message{
		ID:             record.MessageId,
		QueueName:      queueNameFromARN(record.EventSourceARN),
		Body:           record.Body,
		ReceiptHandle:  record.ReceiptHandle,
		GroupID:        record.Attributes["MessageGroupId"],
		SequenceNumber: record.Attributes["SequenceNumber"],
		ContentType:    messageAttribute(record, typeAttribute),
		UserID:         messageAttribute(record, userAttribute),
		RawParams:      messageAttribute(record, paramsAttribute),
	}
	if count, err := strconv.Atoi(record.Attributes["ApproximateReceiveCount"]); err == nil {
		message.ReceivedCount = count
	}
	if ms, err := strconv.ParseInt(record.Attributes["SentTimestamp"], 10, 64); err == nil {
		message.SentAt = time.UnixMilli(ms)
	}

	if messageAttribute(record, encodingAttribute) == base64Encoding {
		decoded, err := base64.StdEncoding.DecodeString(record.Body)
		if err != nil {
			return queue.Message{}, fmt.Errorf("decode base64 body: %w", err)
		}
		message.Body = string(decoded)
	}
	return message, nil
}

func messageAttribute(record events.SQSMessage, name string) string {
	if attr, ok := record.MessageAttributes[name]; ok && attr.StringValue != nil {
		return *attr.StringValue
	}
	return ""
}

func queueNameFromARN(arn string) string {
	if i := strings.LastIndexByte(arn, ':'); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

// remainingBudget reads the time left in the invocation off the
// context deadline the runtime sets.
func remainingBudget(ctx context.Context) func() time.Duration {
	return func() time.Duration {
		deadline, ok := ctx.Deadline()
		if !ok {
			return maxInvocationTime
		}
		return time.Until(deadline)
	}
}
