// Package ledger tracks a single token's position from its fill history.
//
// A Ledger is a pure function of the fills applied to it and the marks
// supplied from outside: it never reads books or clocks on its own.
package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// Change is the effect of one fill or settlement on the position.
// Opened and Closed are unsigned quantities; Cash is the signed balance delta
// including the fee.
type Change struct {
	Opened   decimal.Decimal
	Closed   decimal.Decimal
	Realized decimal.Decimal
	Cash     decimal.Decimal
	Fee      decimal.Decimal
}

// Closing reports whether the change reduced an existing position.
func (c Change) Closing() bool {
	return c.Closed.IsPositive()
}

// Ledger is the position of one token. Quantity is signed.
type Ledger struct {
	token domain.Token

	qty      decimal.Decimal
	avg      decimal.Decimal
	realized decimal.Decimal
	mark     decimal.Decimal
	marked   bool

	lastFill decimal.Decimal
}

// New creates a flat ledger for token.
func New(token domain.Token) *Ledger {
	return &Ledger{token: token}
}

// Apply books a fill. Same-direction fills average into the cost basis;
// opposite-direction fills realize P&L on the closed part and any excess
// opens a new position at the fill price.
func (l *Ledger) Apply(f domain.Fill) Change {
	price := decimal.NewFromFloat(f.Price)
	size := decimal.NewFromFloat(f.Size)
	fee := decimal.NewFromFloat(f.Fee)
	signed := size
	if f.Side == domain.SideSell {
		signed = size.Neg()
	}

	ch := Change{
		Fee:  fee,
		Cash: signed.Mul(price).Neg().Sub(fee),
	}
	l.lastFill = price

	if l.qty.IsZero() || l.qty.Sign() == signed.Sign() {
		held := l.qty.Abs()
		l.avg = l.avg.Mul(held).Add(price.Mul(size)).Div(held.Add(size))
		l.qty = l.qty.Add(signed)
		ch.Opened = size
		return ch
	}

	closed := decimal.Min(size, l.qty.Abs())
	direction := decimal.NewFromInt(int64(l.qty.Sign()))
	ch.Closed = closed
	ch.Realized = price.Sub(l.avg).Mul(closed).Mul(direction)
	l.realized = l.realized.Add(ch.Realized)
	l.qty = l.qty.Add(signed)

	switch {
	case l.qty.IsZero():
		l.avg = decimal.Zero
	case size.GreaterThan(closed):
		l.avg = price
		ch.Opened = size.Sub(closed)
	}
	return ch
}

// Settle force-closes the whole position at price with no fee. Resolution
// settles at the token payoff; a void settles at the average price so that
// nothing is realized.
func (l *Ledger) Settle(price float64) Change {
	if l.qty.IsZero() {
		return Change{}
	}
	p := decimal.NewFromFloat(price)
	direction := decimal.NewFromInt(int64(l.qty.Sign()))
	closed := l.qty.Abs()

	ch := Change{
		Closed:   closed,
		Realized: p.Sub(l.avg).Mul(closed).Mul(direction),
		Cash:     p.Mul(l.qty),
	}
	l.realized = l.realized.Add(ch.Realized)
	l.qty = decimal.Zero
	l.avg = decimal.Zero
	l.mark = p
	l.marked = true
	return ch
}

// SettleAtCost force-closes at the average price.
func (l *Ledger) SettleAtCost() Change {
	return l.Settle(l.avg.InexactFloat64())
}

// Mark picks a mark price from book according to mode and stores it.
// It returns the mark in use, which is unchanged when the book offers no
// usable price.
func (l *Ledger) Mark(book domain.OrderBook, mode domain.MarkMode) float64 {
	if p := markPrice(book, mode, l.qty.Sign(), l.lastFill.InexactFloat64()); p > 0 {
		l.SetMark(p)
	}
	return l.MarkPrice()
}

// SetMark supplies an explicit mark price.
func (l *Ledger) SetMark(price float64) {
	l.mark = decimal.NewFromFloat(price)
	l.marked = true
}

// MarkPrice returns the current mark, or the average price before any mark
// was supplied.
func (l *Ledger) MarkPrice() float64 {
	if !l.marked {
		return l.avg.InexactFloat64()
	}
	return l.mark.InexactFloat64()
}

// Unrealized is (mark − avg) × signed quantity.
func (l *Ledger) Unrealized() decimal.Decimal {
	if l.qty.IsZero() || !l.marked {
		return decimal.Zero
	}
	return l.mark.Sub(l.avg).Mul(l.qty)
}

// Quantity returns the signed position size.
func (l *Ledger) Quantity() decimal.Decimal {
	return l.qty
}

// Realized returns the P&L accumulated on closing fills and settlements.
func (l *Ledger) Realized() decimal.Decimal {
	return l.realized
}

// Position returns the boundary view of the position.
func (l *Ledger) Position() domain.Position {
	return domain.Position{
		TokenID:       l.token.ID,
		MarketID:      l.token.MarketID,
		Side:          l.token.Side,
		Quantity:      l.qty.InexactFloat64(),
		AvgPrice:      l.avg.InexactFloat64(),
		MarkPrice:     l.MarkPrice(),
		UnrealizedPnL: l.Unrealized().InexactFloat64(),
		RealizedPnL:   l.realized.InexactFloat64(),
	}
}

func markPrice(book domain.OrderBook, mode domain.MarkMode, direction int, lastFill float64) float64 {
	switch mode {
	case domain.MarkConservative:
		var p float64
		switch {
		case direction > 0:
			p = book.BestBid()
		case direction < 0:
			p = book.BestAsk()
		}
		if p > 0 {
			return p
		}
	case domain.MarkAggressive:
		if book.LastTradePrice > 0 {
			return book.LastTradePrice
		}
		if lastFill > 0 {
			return lastFill
		}
	}
	return book.Mid()
}
