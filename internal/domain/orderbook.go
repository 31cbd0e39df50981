package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// sizeEpsilon is the size below which a remainder is treated as zero.
const sizeEpsilon = 1e-9

// OrderBook is an immutable per-tick snapshot of one token's price levels.
// A new tick replaces the snapshot, it is never mutated in place.
type OrderBook struct {
	TokenID        string      `json:"token_id"`
	Bids           []BookEntry `json:"bids"` // sorted high to low
	Asks           []BookEntry `json:"asks"` // sorted low to high
	Timestamp      time.Time   `json:"timestamp"`
	LastTradePrice float64     `json:"last_trade_price,omitempty"`
}

// BookEntry is one price level. It serializes as a [price, size] pair.
type BookEntry struct {
	Price float64
	Size  float64
}

// MarshalJSON encodes the level as [price, size].
func (e BookEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{e.Price, e.Size})
}

// UnmarshalJSON accepts [price, size] with numbers or numeric strings.
func (e *BookEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("book entry: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("book entry: want [price,size], got %d elements", len(raw))
	}
	price, err := parseNumber(raw[0])
	if err != nil {
		return fmt.Errorf("book entry price: %w", err)
	}
	size, err := parseNumber(raw[1])
	if err != nil {
		return fmt.Errorf("book entry size: %w", err)
	}
	e.Price, e.Size = price, size
	return nil
}

func parseNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return ParsePrice(s)
}

// NewOrderBook builds a normalized snapshot: inputs are copied, levels with
// non-positive price or size are dropped, bids sorted descending and asks
// ascending.
func NewOrderBook(tokenID string, bids, asks []BookEntry, ts time.Time) OrderBook {
	return OrderBook{
		TokenID:   tokenID,
		Bids:      normalizeLevels(bids, false),
		Asks:      normalizeLevels(asks, true),
		Timestamp: ts,
	}
}

// Normalized returns a copy of the book with levels cleaned and sorted.
func (ob OrderBook) Normalized() OrderBook {
	out := NewOrderBook(ob.TokenID, ob.Bids, ob.Asks, ob.Timestamp)
	out.LastTradePrice = ob.LastTradePrice
	return out
}

func normalizeLevels(levels []BookEntry, ascending bool) []BookEntry {
	out := make([]BookEntry, 0, len(levels))
	for _, l := range levels {
		if l.Price <= 0 || l.Size <= 0 {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].Price < out[j].Price
		}
		return out[i].Price > out[j].Price
	})
	return out
}

// BestBid returns the highest bid, or 0 when there are no bids.
func (ob OrderBook) BestBid() float64 {
	if len(ob.Bids) == 0 {
		return 0
	}
	return ob.Bids[0].Price
}

// BestAsk returns the lowest ask, or 0 when there are no asks.
func (ob OrderBook) BestAsk() float64 {
	if len(ob.Asks) == 0 {
		return 0
	}
	return ob.Asks[0].Price
}

// Mid returns the midpoint. With a one-sided book it falls back to the
// side that exists; an empty book returns 0.
func (ob OrderBook) Mid() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	switch {
	case bid > 0 && ask > 0:
		return (bid + ask) / 2
	case bid > 0:
		return bid
	default:
		return ask
	}
}

// Spread returns ask - bid, or 0 if either side is empty.
func (ob OrderBook) Spread() float64 {
	bid, ask := ob.BestBid(), ob.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// SpreadBps returns the spread relative to mid in basis points.
func (ob OrderBook) SpreadBps() float64 {
	mid := ob.Mid()
	spread := ob.Spread()
	if mid == 0 || spread == 0 {
		return 0
	}
	return spread / mid * 10_000
}

// IsCrossed reports best_bid >= best_ask with both sides present.
func (ob OrderBook) IsCrossed() bool {
	bid, ask := ob.BestBid(), ob.BestAsk()
	return bid > 0 && ask > 0 && bid >= ask
}

// Depth returns the total size resting on the given book side:
// SideBuy sums bids, SideSell sums asks.
func (ob OrderBook) Depth(side Side) float64 {
	levels := ob.Bids
	if side == SideSell {
		levels = ob.Asks
	}
	var total float64
	for _, l := range levels {
		total += l.Size
	}
	return total
}

// Opposite returns the levels a taker on the given side consumes:
// asks for a BUY, bids for a SELL.
func (ob OrderBook) Opposite(side Side) []BookEntry {
	if side == SideBuy {
		return ob.Asks
	}
	return ob.Bids
}

// Touch returns the best opposing price for a taker on side, or 0.
func (ob OrderBook) Touch(side Side) float64 {
	if side == SideBuy {
		return ob.BestAsk()
	}
	return ob.BestBid()
}

// WalkLevel is one level consumed by a walk.
type WalkLevel struct {
	Price float64
	Size  float64
}

// WalkResult is the outcome of walking the book. DepthExhausted is set when
// the target could not be met from the available levels.
type WalkResult struct {
	Levels         []WalkLevel
	Filled         float64
	DepthExhausted bool
}

// VWAP returns the volume-weighted price of the consumed levels.
func (w WalkResult) VWAP() float64 {
	if w.Filled <= 0 {
		return 0
	}
	var notional float64
	for _, l := range w.Levels {
		notional += l.Price * l.Size
	}
	return notional / w.Filled
}

// WorstPrice returns the last (least favorable) level price consumed.
func (w WalkResult) WorstPrice() float64 {
	if len(w.Levels) == 0 {
		return 0
	}
	return w.Levels[len(w.Levels)-1].Price
}

// Walk consumes the opposite side of a taker order until target is
// exhausted or the book runs out.
func (ob OrderBook) Walk(side Side, target float64) WalkResult {
	return ob.walk(side, target, 0, false)
}

// WalkLimit is Walk bounded by a limit price: a BUY stops at the first ask
// above limit, a SELL at the first bid below limit. Levels beyond the limit
// are not consumed. DepthExhausted is only set when the book itself ran out
// inside the limit.
func (ob OrderBook) WalkLimit(side Side, target, limit float64) WalkResult {
	return ob.walk(side, target, limit, true)
}

func (ob OrderBook) walk(side Side, target, limit float64, bounded bool) WalkResult {
	var res WalkResult
	remaining := target
	levels := ob.Opposite(side)
	for _, l := range levels {
		if remaining <= sizeEpsilon {
			break
		}
		if bounded && beyondLimit(side, l.Price, limit) {
			return res
		}
		take := l.Size
		if take > remaining {
			take = remaining
		}
		res.Levels = append(res.Levels, WalkLevel{Price: l.Price, Size: take})
		res.Filled += take
		remaining -= take
	}
	res.DepthExhausted = remaining > sizeEpsilon
	return res
}

// beyondLimit reports whether a level price is worse than the limit for a
// taker on side.
func beyondLimit(side Side, price, limit float64) bool {
	if side == SideBuy {
		return price > limit+priceEpsilon
	}
	return price < limit-priceEpsilon
}

// ParsePrice converts a decimal string from the API to float64.
func ParsePrice(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
