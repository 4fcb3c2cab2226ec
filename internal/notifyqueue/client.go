/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package notifyqueue adapts the AWS SQS SDK to the ingest.NotificationQueue
// capability interface: long-poll receive plus delete-on-ack.
package notifyqueue

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/coinbase/tradeindex/internal/ingest"
)

// api is the subset of the SQS client this package calls.
type api interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Client is a NotificationQueue backed by a single SQS queue URL.
type Client struct {
	api      api
	queueURL string
}

// New wraps an sqs.Client for the given queue URL.
func New(c *sqs.Client, queueURL string) *Client {
	return &Client{api: c, queueURL: queueURL}
}

// Receive long-polls the queue for up to maxMessages messages. The
// receipt handle is carried as Message.AckHandle.
func (c *Client) Receive(ctx context.Context, maxMessages int32, waitSeconds int32) ([]ingest.Message, error) {
	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("notifyqueue: receive from %s: %w", c.queueURL, err)
	}

	messages := make([]ingest.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, ingest.Message{
			Body:      aws.ToString(m.Body),
			AckHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// Ack deletes the message identified by m.AckHandle so it is not
// redelivered.
func (c *Client) Ack(ctx context.Context, m ingest.Message) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(m.AckHandle),
	})
	if err != nil {
		return fmt.Errorf("notifyqueue: ack against %s: %w", c.queueURL, err)
	}
	return nil
}
