// Package matching simulates order execution for one token against
// order-book snapshots.
//
// An Engine is single-writer: the market pipeline that owns it feeds it
// submissions, cancels and snapshots sequentially. Matching is synchronous,
// bounded by book depth and fully deterministic: fill timestamps come from
// the snapshot and no randomness or wall clock is involved.
package matching

import (
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/polysim/internal/domain"
)

const sizeEpsilon = 1e-9

// restingOrder is a LIMIT order waiting in the per-token pending set.
type restingOrder struct {
	order *domain.Order
	// touched is set once a snapshot after the order rested showed the
	// opposing best at or through the limit. CONSERVATIVE orders need it
	// before they can fill on a later snapshot: the queue ahead of the order
	// is assumed to trade first, so the tick that first reaches the limit
	// never fills it, even when that tick already trades through. The one
	// tick lag is intended; a resting ask at 0.95 against a 0.955 buy stays
	// OPEN on that tick.
	touched bool
}

// Engine matches orders for a single token.
type Engine struct {
	token   domain.Token
	feeRate float64

	orders  map[string]*domain.Order
	pending []*restingOrder // FIFO by arrival
	book    domain.OrderBook
}

// New creates an engine for token with a per-run fee rate.
func New(token domain.Token, feeRate float64) *Engine {
	return &Engine{
		token:   token,
		feeRate: feeRate,
		orders:  make(map[string]*domain.Order),
	}
}

// Token returns the token this engine matches.
func (e *Engine) Token() domain.Token {
	return e.token
}

// Book returns the latest snapshot seen by the engine.
func (e *Engine) Book() domain.OrderBook {
	return e.book
}

// Validate checks an order against the token's constraints. It never
// changes state.
func (e *Engine) Validate(o domain.Order) error {
	switch {
	case o.ID == "":
		return domain.Reject(domain.ReasonInvalidOrder, "missing order_id")
	case o.TokenID != e.token.ID:
		return domain.Reject(domain.ReasonInvalidOrder,
			fmt.Sprintf("order token %s does not match engine token %s", o.TokenID, e.token.ID))
	case !o.Side.Valid():
		return domain.Reject(domain.ReasonInvalidOrder, fmt.Sprintf("unknown side %q", o.Side))
	case o.Size <= 0:
		return domain.Reject(domain.ReasonInvalidOrder, "size must be positive")
	case o.Size < e.token.MinSize:
		return domain.Reject(domain.ReasonInvalidOrder,
			fmt.Sprintf("size %.4f below min_size %.4f", o.Size, e.token.MinSize))
	}

	switch o.Type {
	case domain.OrderMarket:
		return nil
	case domain.OrderLimit:
		if o.Price <= 0 || o.Price >= 1 {
			return domain.Reject(domain.ReasonInvalidOrder, fmt.Sprintf("limit price %.4f outside (0,1)", o.Price))
		}
		if !domain.AlignedToTick(o.Price, e.token.TickSize) {
			return domain.Reject(domain.ReasonInvalidOrder,
				fmt.Sprintf("price %.4f not aligned to tick %.4f", o.Price, e.token.TickSize))
		}
		if o.QueueMode != domain.QueueNeutral && o.QueueMode != domain.QueueConservative {
			return domain.Reject(domain.ReasonInvalidOrder, fmt.Sprintf("unknown queue_mode %q", o.QueueMode))
		}
		return nil
	default:
		return domain.Reject(domain.ReasonInvalidOrder, fmt.Sprintf("unknown order type %q", o.Type))
	}
}

// Submit validates the order and matches it against book.
//
//   - MARKET walks the opposite side up to the order size. Whatever cannot
//     be matched is dropped; the order never rests.
//   - A marketable LIMIT walks like MARKET but stops at the limit price;
//     the unfilled remainder rests.
//   - A non-crossing LIMIT rests OPEN with no fills.
func (e *Engine) Submit(order domain.Order, book domain.OrderBook) (domain.Execution, error) {
	if err := e.Validate(order); err != nil {
		return domain.Execution{Order: order}, err
	}
	if _, dup := e.orders[order.ID]; dup {
		return domain.Execution{Order: order}, domain.Reject(domain.ReasonInvalidOrder,
			fmt.Sprintf("duplicate order_id %s", order.ID))
	}
	e.observe(book)

	o := order
	o.Remaining = o.Size
	o.Status = domain.StatusOpen
	o.Filled, o.AvgFillPrice, o.TotalFees = 0, 0, 0

	var exec domain.Execution
	switch o.Type {
	case domain.OrderMarket:
		walk := book.Walk(o.Side, o.Remaining)
		exec = e.take(&o, walk, book)
		if o.Filled == 0 {
			o.Status = domain.StatusCanceled
		}
	case domain.OrderLimit:
		if marketable(o, book) {
			walk := book.WalkLimit(o.Side, o.Remaining, o.Price)
			exec = e.take(&o, walk, book)
		}
		if o.Resting() {
			e.pending = append(e.pending, &restingOrder{order: &o})
		}
	}

	e.orders[o.ID] = &o
	exec.Order = o
	return exec, nil
}

// take turns walked levels into fills, one per level at the level price.
func (e *Engine) take(o *domain.Order, walk domain.WalkResult, book domain.OrderBook) domain.Execution {
	exec := domain.Execution{DepthExhausted: walk.DepthExhausted}
	for _, lvl := range walk.Levels {
		fill := e.fill(o, lvl.Price, lvl.Size, book)
		exec.Fills = append(exec.Fills, fill)
	}
	if touch := book.Touch(o.Side); touch > 0 && len(exec.Fills) > 0 {
		exec.SlippageBps = (domain.VWAP(exec.Fills) - touch) / touch * 10_000 * o.Side.Sign()
	}
	return exec
}

func (e *Engine) fill(o *domain.Order, price, size float64, book domain.OrderBook) domain.Fill {
	fee := size * price * e.feeRate
	o.ApplyFill(price, size, fee)
	return domain.Fill{
		OrderID:   o.ID,
		TokenID:   o.TokenID,
		Side:      o.Side,
		Price:     price,
		Size:      size,
		Fee:       fee,
		Timestamp: book.Timestamp,
	}
}

// OnSnapshot replaces the engine's book and re-evaluates every resting order
// once, in arrival order. Opposing liquidity is shared: a level consumed by
// an earlier resting order is not available to later ones in the same tick.
// Resting fills are priced at the order's own limit.
func (e *Engine) OnSnapshot(book domain.OrderBook) []domain.Execution {
	e.observe(book)
	if len(e.pending) == 0 {
		return nil
	}

	asks := cloneLevels(book.Asks)
	bids := cloneLevels(book.Bids)

	var execs []domain.Execution
	kept := e.pending[:0]
	for _, ro := range e.pending {
		o := ro.order
		if !o.Active() {
			continue
		}
		levels := asks
		if o.Side == domain.SideSell {
			levels = bids
		}

		touchedBefore := ro.touched
		if touchesLimit(o, book) {
			ro.touched = true
		}

		strict := o.QueueMode == domain.QueueConservative
		if !strict || touchedBefore {
			if size := consume(levels, o, strict); size > sizeEpsilon {
				fill := e.fill(o, o.Price, size, book)
				execs = append(execs, domain.Execution{Order: *o, Fills: []domain.Fill{fill}})
			}
		}
		if o.Active() {
			kept = append(kept, ro)
		}
	}
	for i := len(kept); i < len(e.pending); i++ {
		e.pending[i] = nil
	}
	e.pending = kept
	return execs
}

// Cancel voids the unfilled remainder of a resting OPEN or PARTIAL order.
// Canceling a CANCELED order is a no-op returning the same state; canceling
// a FILLED order, or a MARKET order whose remainder was already dropped, is
// rejected.
func (e *Engine) Cancel(orderID string) (domain.Order, error) {
	o, ok := e.orders[orderID]
	if !ok {
		return domain.Order{}, domain.Reject(domain.ReasonOrderNotFound, orderID)
	}
	switch o.Status {
	case domain.StatusCanceled:
		return *o, nil
	case domain.StatusFilled:
		return *o, domain.Reject(domain.ReasonNotCancelable, fmt.Sprintf("order %s is FILLED", orderID))
	}
	if !o.Resting() {
		return *o, domain.Reject(domain.ReasonNotCancelable,
			fmt.Sprintf("order %s is a %s order and never rested", orderID, o.Type))
	}
	o.Status = domain.StatusCanceled
	e.dropPending(orderID)
	return *o, nil
}

// CancelAll cancels every active order and returns them.
func (e *Engine) CancelAll() []domain.Order {
	var out []domain.Order
	for _, ro := range e.pending {
		if ro.order.Active() {
			ro.order.Status = domain.StatusCanceled
			out = append(out, *ro.order)
		}
	}
	e.pending = nil
	return out
}

// Order returns a copy of the order with the given id.
func (e *Engine) Order(orderID string) (domain.Order, bool) {
	o, ok := e.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Resting returns copies of the resting orders in queue order.
func (e *Engine) Resting() []domain.Order {
	out := make([]domain.Order, 0, len(e.pending))
	for _, ro := range e.pending {
		out = append(out, *ro.order)
	}
	return out
}

func (e *Engine) dropPending(orderID string) {
	for i, ro := range e.pending {
		if ro.order.ID == orderID {
			e.pending = append(e.pending[:i], e.pending[i+1:]...)
			return
		}
	}
}

// observe stores the snapshot as the latest book. Crossed books are logged
// and matched against as-is.
func (e *Engine) observe(book domain.OrderBook) {
	if book.IsCrossed() {
		slog.Warn("matching: crossed book",
			"token", domain.TruncateID(e.token.ID, 12),
			"best_bid", book.BestBid(),
			"best_ask", book.BestAsk(),
		)
	}
	e.book = book
}

// marketable reports whether a LIMIT order crosses the book on arrival.
func marketable(o domain.Order, book domain.OrderBook) bool {
	touch := book.Touch(o.Side)
	if touch == 0 {
		return false
	}
	if o.Side == domain.SideBuy {
		return o.Price >= touch || domain.PriceEqual(o.Price, touch)
	}
	return o.Price <= touch || domain.PriceEqual(o.Price, touch)
}

// touchesLimit reports whether the opposing best is at or through the limit.
func touchesLimit(o *domain.Order, book domain.OrderBook) bool {
	return marketable(*o, book)
}

// qualifies reports whether a level price fills a resting order: at or
// through the limit for NEUTRAL, strictly through for CONSERVATIVE.
func qualifies(side domain.Side, price, limit float64, strict bool) bool {
	if domain.PriceEqual(price, limit) {
		return !strict
	}
	if side == domain.SideBuy {
		return price < limit
	}
	return price > limit
}

// consume takes qualifying liquidity from levels for o, up to its remaining
// size, and returns the amount taken.
func consume(levels []domain.BookEntry, o *domain.Order, strict bool) float64 {
	var taken float64
	for i := range levels {
		if !qualifies(o.Side, levels[i].Price, o.Price, strict) {
			break
		}
		need := o.Remaining - taken
		if need <= sizeEpsilon {
			break
		}
		take := levels[i].Size
		if take > need {
			take = need
		}
		levels[i].Size -= take
		taken += take
	}
	return taken
}

func cloneLevels(levels []domain.BookEntry) []domain.BookEntry {
	out := make([]domain.BookEntry, len(levels))
	copy(out, levels)
	return out
}
