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

package notifyqueue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/coinbase/tradeindex/internal/ingest"
)

type fakeAPI struct {
	receiveOut *sqs.ReceiveMessageOutput
	receiveErr error

	deletedHandles []string
	deleteErr      error
}

func (f *fakeAPI) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	return f.receiveOut, nil
}

func (f *fakeAPI) DeleteMessage(_ context.Context, params *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	f.deletedHandles = append(f.deletedHandles, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestClient_ReceiveMapsBodyAndReceiptHandle(t *testing.T) {
	fa := &fakeAPI{receiveOut: &sqs.ReceiveMessageOutput{
		Messages: []types.Message{
			{Body: aws.String(`{"Records":[]}`), ReceiptHandle: aws.String("h1")},
		},
	}}
	c := New(nil, "queue-url")
	c.api = fa

	messages, err := c.Receive(context.Background(), 10, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Body != `{"Records":[]}` || messages[0].AckHandle != "h1" {
		t.Fatalf("unexpected message: %+v", messages[0])
	}
}

func TestClient_ReceiveWrapsTransportError(t *testing.T) {
	fa := &fakeAPI{receiveErr: errors.New("throttled")}
	c := New(nil, "queue-url")
	c.api = fa

	_, err := c.Receive(context.Background(), 10, 20)
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestClient_AckDeletesByReceiptHandle(t *testing.T) {
	fa := &fakeAPI{}
	c := New(nil, "queue-url")
	c.api = fa

	err := c.Ack(context.Background(), ingest.Message{AckHandle: "h2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fa.deletedHandles) != 1 || fa.deletedHandles[0] != "h2" {
		t.Fatalf("expected delete for h2, got %v", fa.deletedHandles)
	}
}

func TestClient_AckWrapsTransportError(t *testing.T) {
	fa := &fakeAPI{deleteErr: errors.New("queue gone")}
	c := New(nil, "queue-url")
	c.api = fa

	err := c.Ack(context.Background(), ingest.Message{AckHandle: "h3"})
	if err == nil {
		t.Fatal("expected an error")
	}
}
