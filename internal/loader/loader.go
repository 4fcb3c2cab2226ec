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

// Package loader loads and validates a single object-store payload into a
// slice of trade entries.
//
// Parses into a schema-typed shape (rawEntry, using json.Number for the
// numeric fields) rather than duck-typing a map[string]any, per the
// Dynamic JSON Validation design note: reject at parse/validate time, but
// keep the semantics of dropping invalid rows while surfacing file-level
// errors to the caller.
package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/coinbase/tradeindex/internal/tradeindex"
)

// Fetcher is the loader's sole external dependency: given an object key,
// return its raw bytes.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// rawEntry mirrors the on-object JSON shape. Pointer fields let toEntry
// distinguish "missing" from "present but zero/empty".
type rawEntry struct {
	Timestamp *json.Number `json:"timestamp"`
	Price     *json.Number `json:"price"`
	Size      *json.Number `json:"size"`
	Side      *string      `json:"side"`
	Source    *string      `json:"source"`
}

// toEntry validates a rawEntry and converts it to a tradeindex.TradeEntry.
// All five fields are required; timestamp/price/size must be finite
// numbers and side must be exactly "buy" or "sell".
func (r rawEntry) toEntry() (tradeindex.TradeEntry, bool) {
	if r.Timestamp == nil || r.Price == nil || r.Size == nil || r.Side == nil || r.Source == nil {
		return tradeindex.TradeEntry{}, false
	}

	ts, ok := finiteFloat(*r.Timestamp)
	if !ok {
		return tradeindex.TradeEntry{}, false
	}
	price, ok := finiteFloat(*r.Price)
	if !ok {
		return tradeindex.TradeEntry{}, false
	}
	size, ok := finiteFloat(*r.Size)
	if !ok {
		return tradeindex.TradeEntry{}, false
	}

	var side tradeindex.Side
	switch *r.Side {
	case string(tradeindex.SideBuy):
		side = tradeindex.SideBuy
	case string(tradeindex.SideSell):
		side = tradeindex.SideSell
	default:
		return tradeindex.TradeEntry{}, false
	}

	return tradeindex.TradeEntry{
		Timestamp: int64(ts),
		Price:     price,
		Size:      size,
		Side:      side,
		Source:    *r.Source,
	}, true
}

func finiteFloat(n json.Number) (float64, bool) {
	f, err := n.Float64()
	if err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Load fetches key's bytes, decodes them as a single object or an array of
// objects (a single object is treated as a one-element array), validates
// each candidate entry, and returns the entries that survive validation.
// Rows that fail validation are dropped silently; a transport or JSON
// parse failure is returned as a single fatal-for-this-object error.
func Load(ctx context.Context, f Fetcher, key string) ([]tradeindex.TradeEntry, error) {
	body, err := f.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loader: fetch %q: %w", key, err)
	}

	raws, err := decodeRaws(body)
	if err != nil {
		return nil, fmt.Errorf("loader: parse %q: %w", key, err)
	}

	entries := make([]tradeindex.TradeEntry, 0, len(raws))
	for _, r := range raws {
		if e, ok := r.toEntry(); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// decodeRaws accepts either a single JSON object or a JSON array of
// objects at the document root. Malformed JSON is an error; a row whose
// fields have the wrong JSON type is dropped on its own.
func decodeRaws(body []byte) ([]rawEntry, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var items []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
	} else {
		var single json.RawMessage
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, err
		}
		items = []json.RawMessage{single}
	}

	raws := make([]rawEntry, 0, len(items))
	for _, item := range items {
		var r rawEntry
		if err := json.Unmarshal(item, &r); err == nil {
			raws = append(raws, r)
		}
	}
	return raws, nil
}
