// Package account holds the process-wide paper balance shared by every
// market pipeline.
package account

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polysim/internal/domain"
	"github.com/alejandrodnm/polysim/internal/ledger"
)

// Account is the paper cash account. All mutations are serialized by mu;
// each one is additive so the order in which markets apply them does not
// matter.
type Account struct {
	mu sync.Mutex

	initial  decimal.Decimal
	balance  decimal.Decimal
	realized decimal.Decimal
	fees     decimal.Decimal

	reserved      map[string]decimal.Decimal
	reservedTotal decimal.Decimal

	positions map[string]domain.Position

	trades int
	closes int
	wins   int
}

// New creates an account funded with initial.
func New(initial float64) *Account {
	start := decimal.NewFromFloat(initial)
	return &Account{
		initial:   start,
		balance:   start,
		reserved:  make(map[string]decimal.Decimal),
		positions: make(map[string]domain.Position),
	}
}

// Reserve sets aside amount for orderID. The order's previous reservation, if
// any, is replaced. It fails with INSUFFICIENT_BALANCE when the new amount
// exceeds the balance not already reserved by other orders.
func (a *Account) Reserve(orderID string, amount float64) error {
	amt := decimal.NewFromFloat(amount)

	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.reserved[orderID]
	available := a.balance.Sub(a.reservedTotal).Add(prev)
	if amt.GreaterThan(available) {
		return domain.Reject(domain.ReasonInsufficientBalance,
			fmt.Sprintf("need %s, available %s", amt.StringFixed(4), available.StringFixed(4)))
	}
	a.setReserved(orderID, amt)
	return nil
}

// Release frees up to amount of orderID's reservation.
func (a *Account) Release(orderID string, amount float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	left := a.reserved[orderID].Sub(decimal.NewFromFloat(amount))
	if !left.IsPositive() {
		left = decimal.Zero
	}
	a.setReserved(orderID, left)
}

// ReleaseAll drops orderID's reservation.
func (a *Account) ReleaseAll(orderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.setReserved(orderID, decimal.Zero)
}

// Reserved returns the amount currently held for orderID.
func (a *Account) Reserved(orderID string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved[orderID].InexactFloat64()
}

func (a *Account) setReserved(orderID string, amt decimal.Decimal) {
	a.reservedTotal = a.reservedTotal.Sub(a.reserved[orderID]).Add(amt)
	if amt.IsZero() {
		delete(a.reserved, orderID)
		return
	}
	a.reserved[orderID] = amt
}

// ApplyFill books the cash effect of a fill already applied to its ledger.
func (a *Account) ApplyFill(f domain.Fill, ch ledger.Change) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.balance = a.balance.Add(ch.Cash)
	a.fees = a.fees.Add(ch.Fee)
	a.trades++
	a.close(ch)
}

// ApplySettlement books a resolution or void settlement.
func (a *Account) ApplySettlement(ch ledger.Change) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.balance = a.balance.Add(ch.Cash)
	a.close(ch)
}

func (a *Account) close(ch ledger.Change) {
	a.realized = a.realized.Add(ch.Realized)
	if !ch.Closing() {
		return
	}
	a.closes++
	if ch.Realized.IsPositive() {
		a.wins++
	}
}

// UpdatePosition stores the latest view of a position pushed by its market
// pipeline.
func (a *Account) UpdatePosition(p domain.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !p.Open() {
		delete(a.positions, p.TokenID)
		return
	}
	a.positions[p.TokenID] = p
}

// Positions returns the open positions.
func (a *Account) Positions() []domain.Position {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p)
	}
	return out
}

// Balance returns the cash balance.
func (a *Account) Balance() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance.InexactFloat64()
}

// Available returns the balance not held by resting orders.
func (a *Account) Available() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance.Sub(a.reservedTotal).InexactFloat64()
}

// Snapshot returns the boundary view. Equity is the balance plus the cost
// basis and unrealized P&L of every open position; total P&L is equity minus
// the initial balance.
func (a *Account) Snapshot() domain.AccountSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	equity := a.balance
	unrealized := decimal.Zero
	for _, p := range a.positions {
		u := decimal.NewFromFloat(p.UnrealizedPnL)
		equity = equity.Add(decimal.NewFromFloat(p.CostBasis())).Add(u)
		unrealized = unrealized.Add(u)
	}

	var winRate float64
	if a.closes > 0 {
		winRate = float64(a.wins) / float64(a.closes)
	}

	return domain.AccountSnapshot{
		Balance:        a.balance.InexactFloat64(),
		TotalPnL:       equity.Sub(a.initial).InexactFloat64(),
		TotalTrades:    a.trades,
		WinRate:        winRate,
		OpenPositions:  len(a.positions),
		InitialBalance: a.initial.InexactFloat64(),
		Equity:         equity.InexactFloat64(),
		Reserved:       a.reservedTotal.InexactFloat64(),
		FeesPaid:       a.fees.InexactFloat64(),
		UnrealizedPnL:  unrealized.InexactFloat64(),
	}
}

// RequiredFor is the cash an order needs before it may be matched:
// size × price × (1+feeRate). MARKET buys are priced at the worst level the
// requested size would reach, MARKET sells at the best bid. Sells only need
// cover for the quantity beyond held, the long still free for them (see
// Uncommitted).
func RequiredFor(o domain.Order, book domain.OrderBook, feeRate, held float64) float64 {
	size := o.Remaining
	if size == 0 && o.Filled == 0 {
		size = o.Size
	}
	if o.Side == domain.SideSell {
		if held > 0 {
			size -= held
		}
		if size <= 0 {
			return 0
		}
	}

	price := o.Price
	if o.Type == domain.OrderMarket {
		if o.Side == domain.SideBuy {
			price = book.Walk(domain.SideBuy, size).WorstPrice()
		} else {
			price = book.BestBid()
		}
	}

	return decimal.NewFromFloat(size).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromFloat(1 + feeRate)).
		InexactFloat64()
}

// Uncommitted returns the part of a held long that o may sell without cash
// cover: resting SELLs ahead of o in resting (arrival order) claim the long
// first. resting may contain o itself; orders after it are not counted.
func Uncommitted(held float64, o domain.Order, resting []domain.Order) float64 {
	if held <= 0 {
		return held
	}
	free := decimal.NewFromFloat(held)
	for _, r := range resting {
		if r.ID == o.ID {
			break
		}
		if r.Side == domain.SideSell {
			free = free.Sub(decimal.NewFromFloat(r.Remaining))
		}
	}
	if free.IsNegative() {
		return 0
	}
	return free.InexactFloat64()
}
