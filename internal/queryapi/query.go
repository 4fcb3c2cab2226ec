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

// Package queryapi provides a validated consumer façade over the
// tradeindex store: argument validation, derived aggregates, and
// convenience lookups that compose the store's primitive operations.
package queryapi

import (
	"errors"
	"fmt"
	"math"

	"github.com/coinbase/tradeindex/internal/tradeindex"
)

// ErrInvalidRange is returned when start >= end.
var ErrInvalidRange = errors.New("queryapi: start must be before end")

// ErrInvalidTimestamp is returned when a timestamp argument is NaN or
// otherwise non-finite.
var ErrInvalidTimestamp = errors.New("queryapi: timestamp must be finite")

// DefaultLookback is the default window for FirstBefore.
const DefaultLookback int64 = 3_600_000

// DefaultLookahead is the default window for FirstAfter.
const DefaultLookahead int64 = 3_600_000

// Filters narrows results to a source and/or side.
type Filters = tradeindex.Filters

// Aggregates summarizes a range: counts, per-side breakdowns, and price
// statistics. An empty range yields all-zero fields by convention, not as
// a mathematical identity for min/max/avg.
type Aggregates struct {
	Count       int
	BuyCount    int
	SellCount   int
	BuyVolume   float64
	SellVolume  float64
	TotalVolume float64
	MeanPrice   float64
	MinPrice    float64
	MaxPrice    float64
}

// QueryAPI is a thin façade over *tradeindex.Store.
type QueryAPI struct {
	store *tradeindex.Store
}

// New wraps store in a validated query façade.
func New(store *tradeindex.Store) *QueryAPI {
	return &QueryAPI{store: store}
}

// ByRange rejects start >= end, otherwise delegates to the store.
func (q *QueryAPI) ByRange(start, end int64, filters *Filters, limit int) ([]tradeindex.TradeEntry, error) {
	if start >= end {
		return nil, fmt.Errorf("%w: start=%d end=%d", ErrInvalidRange, start, end)
	}
	return q.store.Range(start, end, filters, limit), nil
}

// At rejects a non-finite t.
func (q *QueryAPI) At(t float64) ([]tradeindex.TradeEntry, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return nil, fmt.Errorf("%w: t=%v", ErrInvalidTimestamp, t)
	}
	return q.store.At(int64(t)), nil
}

// AtFiltered calls At, then applies source/side post-filters in order.
func (q *QueryAPI) AtFiltered(t float64, filters *Filters) ([]tradeindex.TradeEntry, error) {
	entries, err := q.At(t)
	if err != nil {
		return nil, err
	}
	if filters == nil {
		return entries, nil
	}
	out := make([]tradeindex.TradeEntry, 0, len(entries))
	for _, e := range entries {
		if filters.Source != nil && e.Source != *filters.Source {
			continue
		}
		if filters.Side != nil && e.Side != *filters.Side {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Nearest rejects a non-finite t.
func (q *QueryAPI) Nearest(t float64, tol int64) (tradeindex.TradeEntry, bool, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return tradeindex.TradeEntry{}, false, fmt.Errorf("%w: t=%v", ErrInvalidTimestamp, t)
	}
	e, ok := q.store.Nearest(int64(t), tol)
	return e, ok, nil
}

// FirstBefore returns the last entry of [t-lookback, t), or absent.
func (q *QueryAPI) FirstBefore(t int64, lookback int64) (tradeindex.TradeEntry, bool) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	entries := q.store.Range(t-lookback, t, nil, 0)
	if len(entries) == 0 {
		return tradeindex.TradeEntry{}, false
	}
	return entries[len(entries)-1], true
}

// FirstAfter returns the first entry of (t, t+lookahead], or absent.
func (q *QueryAPI) FirstAfter(t int64, lookahead int64) (tradeindex.TradeEntry, bool) {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	entries := q.store.Range(t+1, t+1+lookahead, nil, 1)
	if len(entries) == 0 {
		return tradeindex.TradeEntry{}, false
	}
	return entries[0], true
}

// Aggregates walks [start,end) once, computing count, per-side breakdowns,
// and price statistics. An empty range returns the zero Aggregates.
func (q *QueryAPI) Aggregates(start, end int64) (Aggregates, error) {
	entries, err := q.ByRange(start, end, nil, 0)
	if err != nil {
		return Aggregates{}, err
	}
	var agg Aggregates
	if len(entries) == 0 {
		return agg, nil
	}

	var priceSum float64
	agg.MinPrice = entries[0].Price
	agg.MaxPrice = entries[0].Price

	for _, e := range entries {
		agg.Count++
		priceSum += e.Price
		agg.TotalVolume += e.Size
		if e.Price < agg.MinPrice {
			agg.MinPrice = e.Price
		}
		if e.Price > agg.MaxPrice {
			agg.MaxPrice = e.Price
		}
		switch e.Side {
		case tradeindex.SideBuy:
			agg.BuyCount++
			agg.BuyVolume += e.Size
		case tradeindex.SideSell:
			agg.SellCount++
			agg.SellVolume += e.Size
		}
	}
	agg.MeanPrice = priceSum / float64(agg.Count)
	return agg, nil
}

// RangeRequest is one input to BatchByRange.
type RangeRequest struct {
	Start int64
	End   int64
}

func (r RangeRequest) key() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// BatchByRange fans out to ByRange for each request, keyed by
// "${start}-${end}". If two requests collide on that key, the later one
// in the input order overwrites the earlier result.
func (q *QueryAPI) BatchByRange(requests []RangeRequest, filters *Filters) (map[string][]tradeindex.TradeEntry, map[string]error) {
	results := make(map[string][]tradeindex.TradeEntry, len(requests))
	errs := make(map[string]error)
	for _, r := range requests {
		k := r.key()
		entries, err := q.ByRange(r.Start, r.End, filters, 0)
		if err != nil {
			errs[k] = err
			delete(results, k)
			continue
		}
		delete(errs, k)
		results[k] = entries
	}
	return results, errs
}
