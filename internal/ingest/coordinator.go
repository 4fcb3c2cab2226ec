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

// Package ingest drives initial backfill and incremental discovery of
// trade objects, deduplicates already-processed objects, and routes
// validated entries into the tradeindex store.
//
// HOT PATH: processKey is called for every newly discovered object, in
// both backfill and incremental modes; it is the single place that loads
// an object and inserts its entries.
package ingest

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/coinbase/tradeindex/internal/loader"
	"github.com/coinbase/tradeindex/internal/tradeindex"
)

// DefaultPollingInterval is used when Config.PollingInterval is zero.
const DefaultPollingInterval = 30 * time.Second

const (
	eventReceiveMaxMessages = 10
	eventReceiveWaitSeconds = 20
	eventErrorBackoff       = 5 * time.Second
)

// Config configures a Coordinator. The mode is chosen by the queue passed
// to New, not by Config: nil selects polling mode, non-nil event-driven.
type Config struct {
	Prefix          string
	PollingInterval time.Duration
}

// ObjectError records a per-object failure encountered during Backfill.
type ObjectError struct {
	Key     string
	Message string
}

// BackfillResult summarizes one Backfill call.
type BackfillResult struct {
	FilesProcessed int
	EntriesLoaded  int
	Errors         []ObjectError
}

type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateWatching
	stateStopped
)

// Coordinator owns the processed-key set and drives backfill plus
// incremental discovery (event-driven or polling) into a tradeindex.Store.
type Coordinator struct {
	store       *tradeindex.Store
	objectStore ObjectStore
	queue       NotificationQueue // nil => polling mode
	cfg         Config

	admitMu   sync.Mutex
	processed map[string]struct{}

	lifecycleMu sync.Mutex
	state       lifecycleState
	stop        chan struct{}
	done        chan struct{}
}

// New constructs a Coordinator in the idle state. queue may be nil to
// select polling mode.
func New(store *tradeindex.Store, objectStore ObjectStore, queue NotificationQueue, cfg Config) *Coordinator {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = DefaultPollingInterval
	}
	return &Coordinator{
		store:       store,
		objectStore: objectStore,
		queue:       queue,
		cfg:         cfg,
		processed:   make(map[string]struct{}),
	}
}

// tryAdmit records key as processed and returns true iff this call is the
// first to admit it. This is the coordinator's single critical section for
// the dedup guarantee: the set-membership check and set-add are atomic per
// key, and because processKey admits before it loads and inserts, only the
// first caller for a key ever inserts its entries.
func (c *Coordinator) tryAdmit(key string) bool {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()
	if _, seen := c.processed[key]; seen {
		return false
	}
	c.processed[key] = struct{}{}
	return true
}

// isAdmitted reports whether key has already been processed, without
// admitting it. Used to skip re-reading an object before attempting the
// (slower) load.
func (c *Coordinator) isAdmitted(key string) bool {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()
	_, seen := c.processed[key]
	return seen
}

// ProcessedCount returns the number of distinct keys admitted so far.
func (c *Coordinator) ProcessedCount() int {
	c.admitMu.Lock()
	defer c.admitMu.Unlock()
	return len(c.processed)
}

func isJSONKey(key string) bool {
	return strings.HasSuffix(key, ".json")
}

// Backfill paginates the object listing under cfg.Prefix. For each
// returned .json key not already processed, it loads and batch-inserts
// the object; load/transport failures are recorded per-object and do not
// abort the pagination. A List failure is recorded under the prefix as the
// key and ends the pass, keeping the progress made on earlier pages. The
// returned error is always nil.
func (c *Coordinator) Backfill(ctx context.Context) (BackfillResult, error) {
	var result BackfillResult
	continuation := ""

	for {
		keys, next, err := c.objectStore.List(ctx, c.cfg.Prefix, continuation)
		if err != nil {
			result.Errors = append(result.Errors, ObjectError{Key: c.cfg.Prefix, Message: err.Error()})
			break
		}

		for _, key := range keys {
			if !isJSONKey(key) || c.isAdmitted(key) {
				continue
			}
			n, err := c.processKey(ctx, key)
			if err != nil {
				result.Errors = append(result.Errors, ObjectError{Key: key, Message: err.Error()})
				continue
			}
			result.FilesProcessed++
			result.EntriesLoaded += n
		}

		if next == "" {
			break
		}
		continuation = next
	}

	return result, nil
}

// processKey admits key first, then loads and batch-inserts its entries.
// Admitting before loading serializes concurrent first-time notifications
// for the same key (event-driven mode may redeliver): only the caller that
// wins tryAdmit proceeds to load and insert, so a key's entries are never
// inserted twice regardless of how many notifications name it.
func (c *Coordinator) processKey(ctx context.Context, key string) (int, error) {
	if !c.tryAdmit(key) {
		return 0, nil
	}

	entries, err := loader.Load(ctx, fetcherFromObjectStore{store: c.objectStore}, key)
	if err != nil {
		return 0, err
	}
	if len(entries) > 0 {
		c.store.InsertBatch(entries)
	}
	return len(entries), nil
}

// StartWatching transitions idle -> watching and spawns the configured
// incremental-discovery driver (event-driven if a queue is configured,
// polling otherwise) on its own goroutine.
func (c *Coordinator) StartWatching(ctx context.Context) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.state == stateWatching {
		return
	}
	c.state = stateWatching
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	stop, done := c.stop, c.done
	if c.queue != nil {
		go c.runEventDriven(ctx, stop, done)
	} else {
		go c.runPolling(ctx, stop, done)
	}
}

// StopWatching transitions watching -> stopped: sets the cooperative stop
// flag and blocks until the driver goroutine observes it and returns, so
// no stale in-flight call mutates state after StopWatching returns.
func (c *Coordinator) StopWatching() {
	c.lifecycleMu.Lock()
	if c.state != stateWatching {
		c.state = stateStopped
		c.lifecycleMu.Unlock()
		return
	}
	stop, done := c.stop, c.done
	c.state = stateStopped
	c.lifecycleMu.Unlock()

	close(stop)
	<-done
}

func (c *Coordinator) runPolling(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		if _, err := c.Backfill(ctx); err != nil {
			log.Printf("ingest: polling pass failed: %v", err)
		}

		select {
		case <-stop:
			return
		case <-time.After(c.cfg.PollingInterval):
		}
	}
}

type s3Notification struct {
	Records []struct {
		S3 struct {
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

func (c *Coordinator) runEventDriven(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}

		messages, err := c.queue.Receive(ctx, eventReceiveMaxMessages, eventReceiveWaitSeconds)
		if err != nil {
			log.Printf("ingest: receive failed: %v", err)
			select {
			case <-stop:
				return
			case <-time.After(eventErrorBackoff):
			}
			continue
		}

		for _, m := range messages {
			c.handleNotification(ctx, m)
		}
	}
}

// handleNotification processes every candidate key in one notification
// message and acknowledges the message afterward regardless of per-key
// outcome, per the tolerate-duplicate-notifications contract.
func (c *Coordinator) handleNotification(ctx context.Context, m Message) {
	var notif s3Notification
	if err := json.Unmarshal([]byte(m.Body), &notif); err != nil {
		log.Printf("ingest: malformed notification body: %v", err)
	} else {
		for _, rec := range notif.Records {
			key := rec.S3.Object.Key
			if key == "" || !isJSONKey(key) || c.isAdmitted(key) {
				continue
			}
			if _, err := c.processKey(ctx, key); err != nil {
				log.Printf("ingest: process key %q: %v", key, err)
			}
		}
	}

	if err := c.queue.Ack(ctx, m); err != nil {
		log.Printf("ingest: ack failed: %v", err)
	}
}
