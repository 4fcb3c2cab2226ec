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

package tradeindex

import (
	"strconv"
	"sync"
	"testing"
)

// Tests for Store behavior. These verify the observable contract of the
// bucketed index: ordered insertion, range/point/nearest retrieval,
// aggregate bookkeeping, and subscription delivery.

func mustPtr(v int64) *int64 { return &v }

func TestStore_InsertOutOfOrderIsRangeSorted(t *testing.T) {
	s := New()
	base := int64(1_700_000_000_000)

	s.Insert(TradeEntry{Timestamp: base + 3_000, Side: SideBuy, Price: 100, Size: 1, Source: "T"})
	s.Insert(TradeEntry{Timestamp: base + 1_000, Side: SideSell, Price: 101, Size: 2, Source: "T"})
	s.Insert(TradeEntry{Timestamp: base + 2_000, Side: SideBuy, Price: 102, Size: 3, Source: "T"})

	got := s.Range(base, base+4_000, nil, 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i := 0; i < len(got)-1; i++ {
		if got[i].Timestamp > got[i+1].Timestamp {
			t.Fatalf("entries not ascending by timestamp: %+v", got)
		}
	}
	if got[0].Timestamp != base+1_000 || got[2].Timestamp != base+3_000 {
		t.Fatalf("unexpected ordering: %+v", got)
	}
}

func TestStore_RangeFiltersAndLimit(t *testing.T) {
	s := New()
	base := int64(1_700_000_000_000)

	for i := 0; i < 100; i++ {
		src := "source1"
		if i >= 50 {
			src = "source2"
		}
		side := SideSell
		if i%2 == 0 {
			side = SideBuy
		}
		s.Insert(TradeEntry{Timestamp: base + int64(i)*1000, Side: side, Price: 1, Size: 1, Source: src})
	}

	if got := s.Range(base, base+5_000, nil, 0); len(got) != 5 {
		t.Fatalf("expected 5 entries in first 5s, got %d", len(got))
	}

	src1 := "source1"
	got := s.Range(base, base+100_000, &Filters{Source: &src1}, 0)
	if len(got) != 50 {
		t.Fatalf("expected 50 source1 entries, got %d", len(got))
	}
	for _, e := range got {
		if e.Source != "source1" {
			t.Fatalf("expected only source1, got %s", e.Source)
		}
	}

	buy := SideBuy
	got = s.Range(base, base+100_000, &Filters{Side: &buy}, 0)
	if len(got) != 50 {
		t.Fatalf("expected 50 buy entries, got %d", len(got))
	}

	got = s.Range(base, base+100_000, nil, 10)
	if len(got) != 10 {
		t.Fatalf("expected limit=10 to cap results, got %d", len(got))
	}
}

func TestStore_RangeHalfOpenBoundary(t *testing.T) {
	s := New()
	s.Insert(TradeEntry{Timestamp: 1000, Side: SideBuy, Price: 1, Size: 1, Source: "T"})

	if got := s.Range(1000, 1000, nil, 0); got != nil {
		t.Fatalf("range(t,t) should be empty, got %v", got)
	}
	if got := s.Range(1000, 1001, nil, 0); len(got) != 1 {
		t.Fatalf("expected start inclusive, got %d", len(got))
	}
	if got := s.Range(999, 1000, nil, 0); got != nil {
		t.Fatalf("expected end exclusive, got %v", got)
	}
}

func TestStore_AtReturnsAllTiesInInsertionOrder(t *testing.T) {
	s := New()
	T := int64(2_000_000)
	s.Insert(TradeEntry{Timestamp: T, Source: "first", Side: SideBuy, Price: 1, Size: 1})
	s.Insert(TradeEntry{Timestamp: T, Source: "second", Side: SideSell, Price: 2, Size: 2})

	got := s.At(T)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries at T, got %d", len(got))
	}
	if got[0].Source != "first" || got[1].Source != "second" {
		t.Fatalf("expected insertion order, got %+v", got)
	}
}

func TestStore_AtNoMatchReturnsEmpty(t *testing.T) {
	s := New()
	s.Insert(TradeEntry{Timestamp: 5000})
	if got := s.At(6000); got != nil {
		t.Fatalf("expected nil for non-matching timestamp, got %v", got)
	}
}

func TestStore_NearestTieBreaksToLaterCandidate(t *testing.T) {
	s := New()
	T := int64(10_000_000)
	s.Insert(TradeEntry{Timestamp: T, Source: "before"})
	s.Insert(TradeEntry{Timestamp: T + 10_000, Source: "after"})

	got, ok := s.Nearest(T+5_000, DefaultNearestTolerance)
	if !ok {
		t.Fatal("expected a nearest match")
	}
	if got.Source != "after" {
		t.Fatalf("expected tie to prefer later candidate, got %s", got.Source)
	}

	if _, ok := s.Nearest(T+5_000, 100); ok {
		t.Fatal("expected no match within tight tolerance")
	}
}

func TestStore_NearestZeroToleranceRequiresExactMatch(t *testing.T) {
	s := New()
	s.Insert(TradeEntry{Timestamp: 5000})

	if _, ok := s.Nearest(5000, 0); !ok {
		t.Fatal("expected exact match at tol=0")
	}
	if _, ok := s.Nearest(5001, 0); ok {
		t.Fatal("expected no match at tol=0 for non-exact timestamp")
	}
}

func TestStore_NearestAcrossBucketBoundary(t *testing.T) {
	s := New()
	// Two entries straddling a bucket boundary, each in adjacent minutes.
	boundary := BucketWidthMillis * 10
	s.Insert(TradeEntry{Timestamp: boundary - 5_000, Source: "prev"})
	s.Insert(TradeEntry{Timestamp: boundary + 5_000, Source: "next"})

	got, ok := s.Nearest(boundary, 6_000)
	if !ok {
		t.Fatal("expected a match across the bucket boundary")
	}
	if got.Source != "next" {
		t.Fatalf("expected tie-break to the later (>= t) candidate, got %s", got.Source)
	}
}

func TestStore_StatsTracksAggregates(t *testing.T) {
	s := New()
	st := s.Stats()
	if st.TotalEntries != 0 || st.Earliest != nil || st.Latest != nil {
		t.Fatalf("expected zero stats on empty store, got %+v", st)
	}

	s.Insert(TradeEntry{Timestamp: 1000})
	s.Insert(TradeEntry{Timestamp: 3000})
	s.Insert(TradeEntry{Timestamp: 2000})

	st = s.Stats()
	if st.TotalEntries != 3 {
		t.Fatalf("expected total=3, got %d", st.TotalEntries)
	}
	if st.Earliest == nil || *st.Earliest != 1000 {
		t.Fatalf("expected earliest=1000, got %v", st.Earliest)
	}
	if st.Latest == nil || *st.Latest != 3000 {
		t.Fatalf("expected latest=3000, got %v", st.Latest)
	}
	if st.EstimatedBytes <= 0 {
		t.Fatalf("expected positive estimated bytes, got %d", st.EstimatedBytes)
	}
}

func TestStore_ClearResetsEverything(t *testing.T) {
	s := New()
	s.Insert(TradeEntry{Timestamp: 1000})
	s.Insert(TradeEntry{Timestamp: 2000})

	s.Clear()

	st := s.Stats()
	if st.TotalEntries != 0 {
		t.Fatalf("expected 0 entries after clear, got %d", st.TotalEntries)
	}
	if st.BucketCount != 0 {
		t.Fatalf("expected 0 buckets after clear, got %d", st.BucketCount)
	}
	if st.Earliest != nil || st.Latest != nil {
		t.Fatal("expected nil earliest/latest after clear")
	}
	if got := s.Range(0, 10_000, nil, 0); got != nil {
		t.Fatalf("expected empty range after clear, got %v", got)
	}
}

func TestStore_InsertBatchSortsAndDeliversOnce(t *testing.T) {
	s := New()
	base := int64(5_000_000)

	var delivered []BatchEvent
	var mu sync.Mutex
	cancel := s.SubscribeBatch(func(evt BatchEvent) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, evt)
	})
	defer cancel()

	batch := []TradeEntry{
		{Timestamp: base + 3000, Source: "c"},
		{Timestamp: base + 1000, Source: "a"},
		{Timestamp: base + 2000, Source: "b"},
	}
	s.InsertBatch(batch)

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 {
		t.Fatalf("expected exactly 1 batch event, got %d", len(delivered))
	}
	got := delivered[0].Entries
	if len(got) != 3 || got[0].Source != "a" || got[1].Source != "b" || got[2].Source != "c" {
		t.Fatalf("expected sorted batch, got %+v", got)
	}
}

func TestStore_InsertBatchIntoNonEmptyBucketSplicesCorrectly(t *testing.T) {
	s := New()
	base := int64(9_000_000)

	s.Insert(TradeEntry{Timestamp: base + 5000, Source: "existing"})
	// This batch entry lands before the existing tail of the bucket and
	// must be spliced at its correct position, not appended after it.
	s.InsertBatch([]TradeEntry{{Timestamp: base + 1000, Source: "earlier"}})

	got := s.Range(base, base+60_000, nil, 0)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Source != "earlier" || got[1].Source != "existing" {
		t.Fatalf("expected spliced order, got %+v", got)
	}
}

func TestStore_InsertBatchLargerAndRangeRoundTrips(t *testing.T) {
	s := New()
	base := int64(1_000_000)
	var batch []TradeEntry
	for i := 0; i < 200; i++ {
		batch = append(batch, TradeEntry{Timestamp: base + int64(199-i)*1000, Source: strconv.Itoa(i)})
	}
	s.InsertBatch(batch)

	got := s.Range(base, base+200_000, nil, 0)
	if len(got) != 200 {
		t.Fatalf("expected 200 entries, got %d", len(got))
	}
	for i := 0; i < len(got)-1; i++ {
		if got[i].Timestamp > got[i+1].Timestamp {
			t.Fatal("range result not sorted ascending")
		}
	}
}

func TestStore_SubscribeEntryReceivesExactlyOnce(t *testing.T) {
	s := New()
	count := 0
	var mu sync.Mutex
	cancel := s.SubscribeEntry(func(EntryEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer cancel()

	s.Insert(TradeEntry{Timestamp: 1})
	s.Insert(TradeEntry{Timestamp: 2})

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Fatalf("expected 2 deliveries, got %d", count)
	}
}

func TestStore_CancelStopsFutureDelivery(t *testing.T) {
	s := New()
	count := 0
	var mu sync.Mutex
	cancel := s.SubscribeEntry(func(EntryEvent) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	s.Insert(TradeEntry{Timestamp: 1})
	cancel()
	cancel() // idempotent
	s.Insert(TradeEntry{Timestamp: 2})

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly 1 delivery before cancel, got %d", count)
	}
}

func TestStore_SubscriberPanicDoesNotStopOtherSubscribers(t *testing.T) {
	s := New()
	secondCalled := false
	s.SubscribeEntry(func(EntryEvent) { panic("boom") })
	s.SubscribeEntry(func(EntryEvent) { secondCalled = true })

	s.Insert(TradeEntry{Timestamp: 1})

	if !secondCalled {
		t.Fatal("expected second subscriber to still be invoked after first panicked")
	}
	if st := s.Stats(); st.TotalEntries != 1 {
		t.Fatalf("expected store state unaffected by panic, got %+v", st)
	}
}

func TestStore_ConcurrentReadWriteSafety(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	base := int64(1_000_000)

	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Insert(TradeEntry{Timestamp: base + int64(id*1000+i), Source: "w"})
			}
		}(w)
	}
	for r := 0; r < 5; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = s.Range(base, base+10_000, nil, 0)
				_ = s.Stats()
			}
		}()
	}
	wg.Wait()

	if st := s.Stats(); st.TotalEntries != 1000 {
		t.Fatalf("expected 1000 entries after concurrent inserts, got %d", st.TotalEntries)
	}
}
