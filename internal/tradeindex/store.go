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

// Package tradeindex provides an in-memory, time-bucketed index of trade
// events with range/point/nearest retrieval and a publish/subscribe feed
// over new entries.
//
// HOT PATH: Insert and InsertBatch are called for every object the
// ingestion coordinator loads; they must stay allocation-light on the
// per-entry path. Range/At/Nearest are called from consumer goroutines
// concurrently with the single writer.
//
// Concurrency Model:
// - Single writer (the ingestion coordinator) per Store instance
// - Multiple readers (query API, dashboards) via sync.RWMutex
// - Subscriber delivery happens synchronously inside the writer's call,
//   after the mutating state is visible to the lock
package tradeindex

import (
	"log"
	"sort"
	"sync"
)

// BucketWidthMillis is the fixed granularity of a bucket. Kept constant
// (not configurable) so bucket_count expectations in tests stay stable.
const BucketWidthMillis int64 = 60_000

// estimatedBytesPerEntry is a rough fixed-size-per-entry accounting used by
// Stats.EstimatedBytes. Not a contract, only required to be monotone in
// TotalEntries.
const estimatedBytesPerEntry = 96

// Side is the aggressor side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeEntry is an immutable trade record. Created by the loader from
// object payloads (or directly by test/backfill callers), never mutated
// after insertion, and destroyed only by Store.Clear.
type TradeEntry struct {
	Timestamp int64 // milliseconds since epoch
	Price     float64
	Size      float64
	Side      Side
	Source    string
}

// EntryEvent is delivered to entry subscribers once per Insert call.
type EntryEvent struct {
	Entry TradeEntry
}

// BatchEvent is delivered to batch subscribers once per InsertBatch call,
// carrying the batch sorted ascending by timestamp.
type BatchEvent struct {
	Entries []TradeEntry
}

// EntryCallback observes a single inserted entry.
type EntryCallback func(EntryEvent)

// BatchCallback observes one completed InsertBatch call.
type BatchCallback func(BatchEvent)

// CancelFunc cancels a subscription. Idempotent: calling it more than once
// has no additional effect. No events are delivered after a call to
// CancelFunc returns, though an event already in flight when cancellation
// races with delivery may or may not be received.
type CancelFunc func()

// Stats summarizes the store's current contents.
type Stats struct {
	TotalEntries   int
	BucketCount    int
	Earliest       *int64
	Latest         *int64
	EstimatedBytes int64
}

// Filters narrow Range/At results to a source and/or side. A nil field
// means "don't filter on this dimension".
type Filters struct {
	Source *string
	Side   *Side
}

func (f *Filters) matches(e TradeEntry) bool {
	if f == nil {
		return true
	}
	if f.Source != nil && e.Source != *f.Source {
		return false
	}
	if f.Side != nil && e.Side != *f.Side {
		return false
	}
	return true
}

type subscriber[T any] struct {
	id int
	cb func(T)
}

// Store is the bucketed, in-memory time-series index. Zero value is not
// usable; construct with New.
type Store struct {
	mu sync.RWMutex

	buckets map[int64][]TradeEntry

	totalCount int
	minTS      *int64
	maxTS      *int64

	nextSubID  int
	entrySubs  []subscriber[EntryEvent]
	batchSubs  []subscriber[BatchEvent]
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		buckets: make(map[int64][]TradeEntry),
	}
}

func bucketKey(ts int64) int64 {
	// floor division toward negative infinity, in case a producer ever
	// emits a pre-epoch timestamp.
	q := ts / BucketWidthMillis
	if ts%BucketWidthMillis != 0 && (ts < 0) != (BucketWidthMillis < 0) {
		q--
	}
	return q
}

// Insert adds a single entry to the store, delivering it to entry
// subscribers once the mutation is visible.
//
// Algorithm: locate (or create) the entry's bucket, binary-search for the
// first position whose timestamp is > the entry's, splice the entry
// there. This keeps the bucket non-decreasing by timestamp with ties
// broken by insertion order (first inserted sorts first).
//
// Performance: O(log n + b) where b is the target bucket's size.
func (s *Store) Insert(e TradeEntry) {
	s.mu.Lock()
	s.insertLocked(e)
	subs := s.entrySubs
	s.mu.Unlock()

	deliverEntry(subs, EntryEvent{Entry: e})
}

// insertLocked performs the splice and aggregate maintenance. Caller must
// hold the write lock.
func (s *Store) insertLocked(e TradeEntry) {
	k := bucketKey(e.Timestamp)
	bucket := s.buckets[k]
	i := sort.Search(len(bucket), func(i int) bool { return bucket[i].Timestamp > e.Timestamp })
	bucket = append(bucket, TradeEntry{})
	copy(bucket[i+1:], bucket[i:])
	bucket[i] = e
	s.buckets[k] = bucket

	s.totalCount++
	if s.minTS == nil || e.Timestamp < *s.minTS {
		ts := e.Timestamp
		s.minTS = &ts
	}
	if s.maxTS == nil || e.Timestamp > *s.maxTS {
		ts := e.Timestamp
		s.maxTS = &ts
	}
}

// InsertBatch adds a finite sequence of entries, delivering exactly one
// batch event carrying the sequence sorted ascending by timestamp (stable,
// so within-batch ties preserve input order).
//
// Edge case: a batch entry landing in a bucket that already has entries
// must be spliced at its correct position, not blindly appended, because
// an out-of-order pre-existing tail would otherwise violate the
// non-decreasing invariant. InsertBatch therefore routes every entry
// through the same binary-search splice Insert uses.
func (s *Store) InsertBatch(es []TradeEntry) {
	if len(es) == 0 {
		return
	}
	sorted := make([]TradeEntry, len(es))
	copy(sorted, es)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	s.mu.Lock()
	for _, e := range sorted {
		s.insertLocked(e)
	}
	subs := s.batchSubs
	s.mu.Unlock()

	deliverBatch(subs, BatchEvent{Entries: sorted})
}

// Range returns entries with start <= timestamp < end, ascending, honoring
// optional filters and limit. Half-open: inclusive of start, exclusive of
// end.
func (s *Store) Range(start, end int64, filters *Filters, limit int) []TradeEntry {
	if start >= end {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	k0 := bucketKey(start)
	k1 := bucketKey(end - 1)

	var result []TradeEntry
	for k := k0; k <= k1; k++ {
		bucket, ok := s.buckets[k]
		if !ok {
			continue
		}
		startIdx := 0
		if k == k0 {
			startIdx = sort.Search(len(bucket), func(i int) bool { return bucket[i].Timestamp >= start })
		}
		for i := startIdx; i < len(bucket); i++ {
			e := bucket[i]
			if e.Timestamp >= end {
				break
			}
			if !filters.matches(e) {
				continue
			}
			result = append(result, e)
			if limit > 0 && len(result) >= limit {
				return result
			}
		}
	}
	return result
}

// At returns every entry with timestamp exactly t, in insertion order.
func (s *Store) At(t int64) []TradeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket, ok := s.buckets[bucketKey(t)]
	if !ok {
		return nil
	}
	lo := sort.Search(len(bucket), func(i int) bool { return bucket[i].Timestamp >= t })
	if lo == len(bucket) || bucket[lo].Timestamp != t {
		return nil
	}
	hi := lo
	for hi < len(bucket) && bucket[hi].Timestamp == t {
		hi++
	}
	out := make([]TradeEntry, hi-lo)
	copy(out, bucket[lo:hi])
	return out
}

// DefaultNearestTolerance is the conventional tolerance for Nearest. It is
// not applied implicitly: Store.Nearest and QueryAPI.Nearest both use the
// tol they are given, and a tol of 0 means an exact match.
const DefaultNearestTolerance int64 = 60_000

// Nearest returns an entry within tol of t, or absent. t's own bucket is
// searched first and its closest candidate is returned if one is within
// tol; only when it has none are the two neighboring buckets examined. A
// closer entry just across a bucket boundary is therefore not considered
// when t's own bucket already has a candidate. Ties prefer the candidate
// at or after t.
func (s *Store) Nearest(t int64, tol int64) (TradeEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := bucketKey(t)
	if e, ok := nearestInBucket(s.buckets[k], t, tol); ok {
		return e, true
	}
	// Fall back to neighboring buckets: a candidate within tol of t may
	// live in the adjacent minute if t sits near a bucket boundary.
	var best TradeEntry
	found := false
	bestDist := tol + 1
	for _, nk := range [2]int64{k - 1, k + 1} {
		if e, ok := nearestInBucket(s.buckets[nk], t, tol); ok {
			d := absInt64(e.Timestamp - t)
			if !found || d < bestDist || (d == bestDist && e.Timestamp >= t) {
				best, bestDist, found = e, d, true
			}
		}
	}
	return best, found
}

// nearestInBucket applies the two-candidate rule within a single bucket:
// the first entry >= t and its predecessor. Ties (equal distance) prefer
// the >= t candidate, which is why it is evaluated first and only a
// strictly smaller distance overwrites it.
func nearestInBucket(bucket []TradeEntry, t int64, tol int64) (TradeEntry, bool) {
	if len(bucket) == 0 {
		return TradeEntry{}, false
	}
	idx := sort.Search(len(bucket), func(i int) bool { return bucket[i].Timestamp >= t })

	var best TradeEntry
	bestDist := tol + 1
	found := false

	if idx < len(bucket) {
		d := absInt64(bucket[idx].Timestamp - t)
		if d <= tol {
			best, bestDist, found = bucket[idx], d, true
		}
	}
	if idx > 0 {
		d := absInt64(bucket[idx-1].Timestamp - t)
		if d <= tol && d < bestDist {
			best, found = bucket[idx-1], true
		}
	}
	return best, found
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Stats reports aggregate counts. EstimatedBytes is monotone in
// TotalEntries but otherwise not a contract.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucketCount := 0
	for _, b := range s.buckets {
		if len(b) > 0 {
			bucketCount++
		}
	}

	st := Stats{
		TotalEntries:   s.totalCount,
		BucketCount:    bucketCount,
		EstimatedBytes: int64(s.totalCount) * estimatedBytesPerEntry,
	}
	if s.minTS != nil {
		ts := *s.minTS
		st.Earliest = &ts
	}
	if s.maxTS != nil {
		ts := *s.maxTS
		st.Latest = &ts
	}
	return st
}

// Clear resets the store to empty: no buckets, zeroed aggregates.
func (s *Store) Clear() {
	s.mu.Lock()
	s.buckets = make(map[int64][]TradeEntry)
	s.totalCount = 0
	s.minTS = nil
	s.maxTS = nil
	s.mu.Unlock()
}

// SubscribeEntry registers cb to be invoked once per subsequent Insert
// call. Returns a CancelFunc to unregister.
func (s *Store) SubscribeEntry(cb EntryCallback) CancelFunc {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.entrySubs = append(s.entrySubs, subscriber[EntryEvent]{id: id, cb: func(e EntryEvent) { cb(e) }})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.entrySubs {
				if sub.id == id {
					s.entrySubs = append(s.entrySubs[:i:i], s.entrySubs[i+1:]...)
					break
				}
			}
		})
	}
}

// SubscribeBatch registers cb to be invoked once per subsequent
// InsertBatch call. Returns a CancelFunc to unregister.
func (s *Store) SubscribeBatch(cb BatchCallback) CancelFunc {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.batchSubs = append(s.batchSubs, subscriber[BatchEvent]{id: id, cb: func(e BatchEvent) { cb(e) }})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.batchSubs {
				if sub.id == id {
					s.batchSubs = append(s.batchSubs[:i:i], s.batchSubs[i+1:]...)
					break
				}
			}
		})
	}
}

// deliverEntry and deliverBatch invoke each subscriber's callback,
// isolating panics so one misbehaving subscriber cannot block delivery to
// the others or corrupt store state (the mutation has already committed
// under the lock by the time delivery runs).
func deliverEntry(subs []subscriber[EntryEvent], evt EntryEvent) {
	for _, sub := range subs {
		callSafely(func() { sub.cb(evt) })
	}
}

func deliverBatch(subs []subscriber[BatchEvent], evt BatchEvent) {
	for _, sub := range subs {
		callSafely(func() { sub.cb(evt) })
	}
}

func callSafely(f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("tradeindex: subscriber callback panicked: %v", r)
		}
	}()
	f()
}
