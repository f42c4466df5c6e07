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

package lambdahost

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/gantry-run/gantry"
	"github.com/gantry-run/gantry/queue"
)

// Message attribute names carried on every SQS message. The receiving
// side of the host reads the same names back off the record.
const (
	typeAttribute     = "type"
	userAttribute     = "userId"
	paramsAttribute   = "params"
	encodingAttribute = "encoding"

	base64Encoding = "base64"
)

// sqsAPI is the slice of the SQS client the host exercises.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
}

// SQSClient moves queue messages through Amazon SQS. It is both the
// project's outbound transport (gantry.Enqueuer) and its deletion
// client (queue.Client). Queue URLs are resolved by name once and
// cached for the lifetime of the execution environment.
type SQSClient struct {
	api sqsAPI

	mu   sync.Mutex
	urls map[string]string
}

// NewSQSClient builds an SQS client from an AWS configuration.
func NewSQSClient(cfg aws.Config) *SQSClient {
	return &SQSClient{
		api:  sqs.NewFromConfig(cfg),
		urls: map[string]string{},
	}
}

// Enqueue sends one message. The payload content type, pinned user, and
// invocation params travel as message attributes. Bodies that are not
// valid UTF-8 are base64-encoded and flagged, since SQS only carries
// text bodies.
func (c *SQSClient) Enqueue(ctx context.Context, msg gantry.OutboundMessage) (string, error) {
	queueURL, err := c.queueURL(ctx, msg.QueueName)
	if err != nil {
		return "", err
	}

	body := string(msg.Body)
	attrs := map[string]types.MessageAttributeValue{}
	if !utf8.ValidString(body) {
		body = base64.StdEncoding.EncodeToString(msg.Body)
		attrs[encodingAttribute] = stringAttribute(base64Encoding)
	}
	if msg.ContentType != "" {
		attrs[typeAttribute] = stringAttribute(msg.ContentType)
	}
	if msg.UserID != "" {
		attrs[userAttribute] = stringAttribute(msg.UserID)
	}
	if encoded := queue.EncodeParams(msg.Params); encoded != "" {
		attrs[paramsAttribute] = stringAttribute(encoded)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(body),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = attrs
	}
	if msg.FIFO {
		input.MessageGroupId = aws.String(msg.GroupID)
		input.MessageDeduplicationId = aws.String(msg.DedupeID)
	}

	out, err := c.api.SendMessage(ctx, input)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", msg.QueueName, err)
	}
	return aws.ToString(out.MessageId), nil
}

// DeleteMessage acknowledges a handled message so SQS stops
// redelivering it.
func (c *SQSClient) DeleteMessage(ctx context.Context, queueName, receiptHandle string) error {
	queueURL, err := c.queueURL(ctx, queueName)
	if err != nil {
		return err
	}

	_, err = c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", queueName, err)
	}
	return nil
}

func (c *SQSClient) queueURL(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	cached, ok := c.urls[name]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	out, err := c.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("resolve queue %s: %w", name, err)
	}
	resolved := aws.ToString(out.QueueUrl)

	c.mu.Lock()
	c.urls[name] = resolved
	c.mu.Unlock()
	return resolved, nil
}

func stringAttribute(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}
