package account_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polysim/internal/account"
	"github.com/alejandrodnm/polysim/internal/domain"
	"github.com/alejandrodnm/polysim/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ts = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func yesToken() domain.Token {
	return domain.Token{ID: "tok_yes", MarketID: "m1", Side: domain.TokenYes, TickSize: 0.01, MinSize: 1}
}

func scenarioBook() domain.OrderBook {
	return domain.NewOrderBook("tok_yes",
		[]domain.BookEntry{{Price: 0.94, Size: 100}, {Price: 0.93, Size: 200}},
		[]domain.BookEntry{{Price: 0.96, Size: 150}, {Price: 0.97, Size: 100}},
		ts,
	)
}

func book(f domain.Fill, l *ledger.Ledger, acc *account.Account) {
	acc.ApplyFill(f, l.Apply(f))
	acc.UpdatePosition(l.Position())
}

func TestReserve_RejectsBeyondAvailable(t *testing.T) {
	acc := account.New(100)
	require.NoError(t, acc.Reserve("o1", 60))

	err := acc.Reserve("o2", 50)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientBalance))
	assert.InDelta(t, 40.0, acc.Available(), 1e-9)

	// Replacing an order's own reservation only needs the difference.
	require.NoError(t, acc.Reserve("o1", 90))
	assert.InDelta(t, 10.0, acc.Available(), 1e-9)

	acc.Release("o1", 30)
	assert.InDelta(t, 60.0, acc.Reserved("o1"), 1e-9)
	acc.Release("o1", 500)
	assert.Equal(t, 0.0, acc.Reserved("o1"))

	require.NoError(t, acc.Reserve("o3", 100))
	acc.ReleaseAll("o3")
	assert.InDelta(t, 100.0, acc.Available(), 1e-9)
}

func TestApplyFill_CashFeesAndEquity(t *testing.T) {
	acc := account.New(1000)
	l := ledger.New(yesToken())

	book(domain.Fill{OrderID: "o1", Side: domain.SideBuy, Price: 0.50, Size: 100, Fee: 1, Timestamp: ts}, l, acc)
	snap := acc.Snapshot()
	assert.InDelta(t, 949.0, snap.Balance, 1e-9)
	assert.InDelta(t, 999.0, snap.Equity, 1e-9, "equity counts the position at cost before any mark")
	assert.InDelta(t, -1.0, snap.TotalPnL, 1e-9)
	assert.InDelta(t, 1.0, snap.FeesPaid, 1e-9)
	assert.Equal(t, 1, snap.TotalTrades)
	assert.Equal(t, 1, snap.OpenPositions)

	l.SetMark(0.60)
	acc.UpdatePosition(l.Position())
	snap = acc.Snapshot()
	assert.InDelta(t, 1009.0, snap.Equity, 1e-9)
	assert.InDelta(t, 10.0, snap.UnrealizedPnL, 1e-9)
}

func TestApplyFill_WinRateCountsClosingTrades(t *testing.T) {
	acc := account.New(1000)
	l := ledger.New(yesToken())

	book(domain.Fill{Side: domain.SideBuy, Price: 0.50, Size: 100, Timestamp: ts}, l, acc)
	book(domain.Fill{Side: domain.SideSell, Price: 0.60, Size: 50, Timestamp: ts}, l, acc)
	book(domain.Fill{Side: domain.SideSell, Price: 0.40, Size: 50, Timestamp: ts}, l, acc)

	snap := acc.Snapshot()
	assert.Equal(t, 3, snap.TotalTrades)
	assert.InDelta(t, 0.5, snap.WinRate, 1e-12)
	assert.Equal(t, 0, snap.OpenPositions)
	assert.InDelta(t, 1000.0, snap.Balance, 1e-9)
	assert.InDelta(t, 0.0, snap.TotalPnL, 1e-9)
}

func TestApplySettlement_ResolutionPaysOut(t *testing.T) {
	acc := account.New(100)
	l := ledger.New(yesToken())
	book(domain.Fill{Side: domain.SideBuy, Price: 0.62, Size: 10, Timestamp: ts}, l, acc)

	acc.ApplySettlement(l.Settle(1))
	acc.UpdatePosition(l.Position())

	snap := acc.Snapshot()
	assert.InDelta(t, 103.8, snap.Balance, 1e-9)
	assert.InDelta(t, 103.8, snap.Equity, 1e-9)
	assert.InDelta(t, 3.8, snap.TotalPnL, 1e-9)
	assert.Equal(t, 0, snap.OpenPositions)
	assert.InDelta(t, 1.0, snap.WinRate, 1e-12)
}

func TestAccount_ConcurrentFillsSerialize(t *testing.T) {
	acc := account.New(10_000)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := ledger.New(yesToken())
			f := domain.Fill{Side: domain.SideBuy, Price: 0.10, Size: 10, Fee: 0.01, Timestamp: ts}
			acc.ApplyFill(f, l.Apply(f))
		}()
	}
	wg.Wait()

	snap := acc.Snapshot()
	assert.Equal(t, 50, snap.TotalTrades)
	assert.InDelta(t, 10_000-50*1.01, snap.Balance, 1e-9)
	assert.InDelta(t, 0.5, snap.FeesPaid, 1e-9)
}

func TestRequiredFor(t *testing.T) {
	b := scenarioBook()
	limit := domain.NewOrder(domain.OrderRequest{
		OrderID: "l", TokenID: "tok_yes", Side: domain.SideBuy, Price: 0.50, Size: 100, Type: domain.OrderLimit,
	}, ts)
	assert.InDelta(t, 51.0, account.RequiredFor(limit, b, 0.02, 0), 1e-9)

	mkt := domain.NewOrder(domain.OrderRequest{
		OrderID: "m", TokenID: "tok_yes", Side: domain.SideBuy, Size: 200, Type: domain.OrderMarket,
	}, ts)
	assert.InDelta(t, 200*0.97, account.RequiredFor(mkt, b, 0, 0), 1e-9, "priced at the worst level reached")

	sell := domain.NewOrder(domain.OrderRequest{
		OrderID: "s", TokenID: "tok_yes", Side: domain.SideSell, Size: 100, Type: domain.OrderMarket,
	}, ts)
	assert.Equal(t, 0.0, account.RequiredFor(sell, b, 0, 100), "closing a long needs no cash")
	assert.InDelta(t, 40*0.94, account.RequiredFor(sell, b, 0, 60), 1e-9)
}

func TestUncommitted_RestingSellsClaimTheLongFirst(t *testing.T) {
	sell := func(id string, size float64) domain.Order {
		return domain.NewOrder(domain.OrderRequest{
			OrderID: id, TokenID: "tok_yes", Side: domain.SideSell, Price: 0.95, Size: size, Type: domain.OrderLimit,
		}, ts)
	}
	buy := domain.NewOrder(domain.OrderRequest{
		OrderID: "b", TokenID: "tok_yes", Side: domain.SideBuy, Price: 0.90, Size: 50, Type: domain.OrderLimit,
	}, ts)
	first, second := sell("s1", 200), sell("s2", 200)
	resting := []domain.Order{buy, first}

	assert.InDelta(t, 200, account.Uncommitted(200, first, resting), 1e-9, "the first sell owns the long")
	assert.InDelta(t, 0, account.Uncommitted(200, second, resting), 1e-9)
	assert.InDelta(t, 200*0.95, account.RequiredFor(second, scenarioBook(), 0, account.Uncommitted(200, second, resting)), 1e-9,
		"a second sell of the same long is funded as a short")

	assert.InDelta(t, 50, account.Uncommitted(250, second, resting), 1e-9)
	assert.InDelta(t, -10, account.Uncommitted(-10, second, resting), 1e-9, "a short is returned as is")
}
