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

package queue

import (
	"encoding/json"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/gantry-run/gantry/handler"
)

// Message is one normalized queue message. Hosts translate their native
// record shape (an SQS record, a dev-server envelope) into this form.
type Message struct {
	// ID identifies the message within its batch; failed messages are
	// reported back to the host by this id.
	ID string

	// QueueName is the logical queue name, including any ".fifo" suffix.
	QueueName string

	// Body is the raw message body.
	Body string

	// ReceiptHandle authorizes deletion through the Client.
	ReceiptHandle string

	// GroupID is the FIFO message group, "" on standard queues.
	GroupID string

	// SequenceNumber is the FIFO sequence, "" on standard queues.
	SequenceNumber string

	// ReceivedCount is how many times the host has delivered this message.
	ReceivedCount int

	// SentAt is when the message entered the queue.
	SentAt time.Time

	// ContentType is the media type recorded when the message was sent.
	ContentType string

	// UserID is the principal recorded when the message was sent, "" for
	// anonymous messages.
	UserID string

	// RawParams carries the enqueuing route's path parameters as a
	// query-string.
	RawParams string
}

// user converts the recorded principal to a *handler.User.
func (m Message) user() *handler.User {
	if m.UserID == "" {
		return nil
	}
	return &handler.User{ID: m.UserID}
}

// params parses the query-string params attribute, first value per key.
func (m Message) params() (map[string]string, error) {
	out := map[string]string{}
	if m.RawParams == "" {
		return out, nil
	}
	values, err := url.ParseQuery(m.RawParams)
	if err != nil {
		return nil, err
	}
	for key := range values {
		out[key] = values.Get(key)
	}
	return out, nil
}

// EncodeParams renders path parameters into the query-string form carried
// by the params attribute. Senders use it; params reverses it.
func EncodeParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	values := url.Values{}
	for key, value := range params {
		values.Set(key, value)
	}
	return values.Encode()
}

// decodePayload converts the raw body into the value handed to the
// handler. A declared kind is authoritative; auto decoding trusts a JSON
// content type, then attempts JSON, then falls back to the raw string.
func decodePayload(kind handler.PayloadType, contentType, body string) (any, error) {
	switch kind {
	case handler.PayloadJSON:
		return decodeJSON(body)

	case handler.PayloadText:
		return body, nil

	case handler.PayloadBinary:
		return []byte(body), nil

	default:
		if isJSONType(contentType) {
			return decodeJSON(body)
		}
		var v any
		if err := json.Unmarshal([]byte(body), &v); err == nil {
			return v, nil
		}
		return body, nil
	}
}

func decodeJSON(body string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func isJSONType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType == "application/json"
}
