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

package ingest

import "context"

// ObjectStore is the external object-store capability the coordinator
// consumes for paginated listing and object retrieval. Any implementation
// of list/get (S3, GCS, a local filesystem shim) satisfies the core.
type ObjectStore interface {
	// List returns up to one page of keys under prefix. A non-empty
	// nextContinuation means more pages remain; pass it back in the next
	// call to List to continue.
	List(ctx context.Context, prefix, continuation string) (keys []string, nextContinuation string, err error)
	// Get returns the raw bytes of the object at key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Message is one notification-queue message: an opaque body (expected to
// be the S3-style notification JSON) and an ack handle to delete it.
type Message struct {
	Body      string
	AckHandle string
}

// NotificationQueue is the external event-notification capability the
// coordinator polls in event-driven mode.
type NotificationQueue interface {
	// Receive long-polls for up to maxMessages messages, waiting at most
	// waitSeconds for at least one to arrive.
	Receive(ctx context.Context, maxMessages int32, waitSeconds int32) ([]Message, error)
	// Ack deletes/acknowledges a message so it is not redelivered.
	Ack(ctx context.Context, m Message) error
}

// fetcherFromObjectStore adapts ObjectStore.Get to loader.Fetcher so the
// coordinator can hand the loader a narrow capability instead of the full
// ObjectStore interface.
type fetcherFromObjectStore struct {
	store ObjectStore
}

func (f fetcherFromObjectStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	return f.store.Get(ctx, key)
}
