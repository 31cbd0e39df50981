package paper_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polysim/internal/application/engine/paper"
	"github.com/alejandrodnm/polysim/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// memJournal is an in-memory ports.Journal.
type memJournal struct {
	mu        sync.Mutex
	markets   map[string]domain.Market
	orders    map[string]domain.Order
	fills     []domain.Fill
	decisions map[string]domain.Decision
	fail      error
}

func newMemJournal() *memJournal {
	return &memJournal{
		markets:   make(map[string]domain.Market),
		orders:    make(map[string]domain.Order),
		decisions: make(map[string]domain.Decision),
	}
}

func (j *memJournal) SaveMarket(_ context.Context, m domain.Market) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.markets[m.ID] = m
	return j.fail
}

func (j *memJournal) SaveOrder(_ context.Context, o domain.Order) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orders[o.ID] = o
	return j.fail
}

func (j *memJournal) SaveFill(_ context.Context, f domain.Fill) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fills = append(j.fills, f)
	return j.fail
}

func (j *memJournal) SaveDecision(_ context.Context, d domain.Decision) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.decisions[d.ID] = d
	return j.fail
}

func (j *memJournal) LoadDecisions(context.Context) ([]domain.Decision, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]domain.Decision, 0, len(j.decisions))
	for _, d := range j.decisions {
		out = append(out, d)
	}
	return out, nil
}

func (j *memJournal) LoadFills(context.Context) ([]domain.Fill, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.Fill(nil), j.fills...), nil
}

func (j *memJournal) Close() error { return nil }

func seqIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("id-%d", n.Add(1)) }
}

func lvl(price, size float64) domain.BookEntry {
	return domain.BookEntry{Price: price, Size: size}
}

func book(token string, at time.Time, bids, asks []domain.BookEntry) domain.OrderBook {
	return domain.NewOrderBook(token, bids, asks, at)
}

func registerMarket(t *testing.T, sim *paper.Simulation, marketID string) {
	t.Helper()
	err := sim.RegisterMarket(context.Background(),
		domain.Market{ID: marketID, Category: "politics", EndTime: t0.Add(24 * time.Hour)},
		[]domain.Token{
			{ID: marketID + "-yes", Side: domain.TokenYes, TickSize: 0.001, MinSize: 1},
			{ID: marketID + "-no", Side: domain.TokenNo, TickSize: 0.001, MinSize: 1},
		})
	require.NoError(t, err)
}

func newSim(t *testing.T, initial float64) (*paper.Simulation, *memJournal) {
	t.Helper()
	j := newMemJournal()
	sim := paper.New(paper.Config{
		InitialBalance: initial,
		MarkMode:       domain.MarkNeutral,
		CohortWindow:   time.Hour,
		CohortEpoch:    t0,
	}, paper.WithJournal(j), paper.WithIDGenerator(seqIDs()), paper.WithClock(func() time.Time { return t0 }))
	registerMarket(t, sim, "m1")
	return sim, j
}

func scenarioBook(at time.Time) domain.OrderBook {
	return book("m1-yes", at,
		[]domain.BookEntry{lvl(0.94, 100)},
		[]domain.BookEntry{lvl(0.96, 150), lvl(0.97, 300)})
}

func signal(fair, mkt float64) domain.Signal {
	return domain.Signal{FairProb: fair, MarketProb: mkt, Edge: fair - mkt}
}

func TestSubmit_MarketBuyWalksBook(t *testing.T) {
	ctx := context.Background()
	sim, j := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	exec, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Size: 200, Type: domain.OrderMarket,
	}, signal(0.99, 0.96))
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFilled, exec.Order.Status)
	require.Len(t, exec.Fills, 2)
	assert.InDelta(t, 0.9625, exec.Order.AvgFillPrice, 1e-9)

	snap := sim.Account().Snapshot()
	assert.InDelta(t, 807.5, snap.Balance, 1e-9)
	assert.Equal(t, 2, snap.TotalTrades)
	assert.Equal(t, 1, snap.OpenPositions)
	// marked at mid 0.95
	assert.InDelta(t, -2.5, snap.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 997.5, snap.Equity, 1e-9)
	assert.InDelta(t, 0, snap.Reserved, 1e-12)

	pos, ok := sim.Position("m1-yes")
	require.True(t, ok)
	assert.InDelta(t, 200, pos.Quantity, 1e-9)
	assert.InDelta(t, 0.9625, pos.AvgPrice, 1e-9)
	assert.Equal(t, "m1", pos.MarketID)

	decisions := sim.Tracker().Decisions()
	require.Len(t, decisions, 1)
	d := decisions[0]
	assert.Equal(t, exec.Order.ID, d.OrderID)
	assert.InDelta(t, 0.9625, d.EntryPrice, 1e-9)
	assert.InDelta(t, 0.96, d.MarketProb, 1e-12)
	assert.InDelta(t, 200, d.Size, 1e-9)
	assert.True(t, d.Timestamp.Equal(t0))

	assert.Len(t, j.fills, 2)
	assert.Equal(t, domain.StatusFilled, j.orders[exec.Order.ID].Status)
	assert.Contains(t, j.decisions, d.ID)
}

func TestSubmit_MarketDepthExhaustedFreesReservation(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	exec, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Size: 500, Type: domain.OrderMarket,
	}, signal(0.99, 0.96))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, exec.Order.Status)
	assert.InDelta(t, 450, exec.Order.Filled, 1e-9)
	assert.True(t, exec.DepthExhausted)

	snap := sim.Account().Snapshot()
	assert.InDelta(t, 565, snap.Balance, 1e-9)
	assert.InDelta(t, 0, snap.Reserved, 1e-12, "the dropped remainder holds no cash")
	assert.InDelta(t, 565, sim.Account().Available(), 1e-9)
	assert.Empty(t, sim.Report().Orders)

	_, err = sim.Cancel(ctx, "m1-yes", exec.Order.ID)
	assert.ErrorIs(t, err, domain.ErrNotCancelable)
	o, _ := sim.Order("m1-yes", exec.Order.ID)
	assert.Equal(t, domain.StatusPartial, o.Status)

	d := sim.Tracker().Decisions()[0]
	assert.False(t, d.Excluded)
	assert.InDelta(t, 450, d.Size, 1e-9)

	yes := 1.0
	require.NoError(t, sim.UpdateMarket(ctx, "m1", domain.ResolutionResolved, &yes))
	assert.InDelta(t, 0, sim.Account().Snapshot().Reserved, 1e-12)
	assert.InDelta(t, 1015, sim.Account().Balance(), 1e-9)
}

func TestSubmit_Rejections(t *testing.T) {
	ctx := context.Background()
	sim, j := newSim(t, 10)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	_, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "nope", Side: domain.SideBuy, Size: 10, Type: domain.OrderMarket,
	}, signal(0.6, 0.5))
	assert.ErrorIs(t, err, domain.ErrUnknownToken)

	_, err = sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.5, Size: 100, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.6, 0.5))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, domain.ReasonInsufficientBalance, domain.ReasonOf(err))

	_, err = sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.5, Size: 0.5, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.6, 0.5))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)

	_, err = sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.5005, Size: 2, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.6, 0.5))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "price off tick")

	snap := sim.Account().Snapshot()
	assert.InDelta(t, 10, snap.Balance, 1e-12, "rejections leave no state behind")
	assert.InDelta(t, 0, snap.Reserved, 1e-12)
	assert.Empty(t, sim.Tracker().Decisions())
	assert.Empty(t, j.orders)
	assert.Empty(t, sim.Fills())
}

func TestSubmit_DefaultQueueMode(t *testing.T) {
	ctx := context.Background()
	req := domain.OrderRequest{
		OrderID: "o-1", TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.9, Size: 10, Type: domain.OrderLimit,
	}

	sim, _ := newSim(t, 100)
	_, err := sim.Submit(ctx, req, signal(0.95, 0.9))
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "no queue_mode and no default")

	withDefault := paper.New(paper.Config{InitialBalance: 100, DefaultQueueMode: domain.QueueConservative},
		paper.WithClock(func() time.Time { return t0 }))
	registerMarket(t, withDefault, "m1")
	exec, err := withDefault.Submit(ctx, req, signal(0.95, 0.9))
	require.NoError(t, err)
	assert.Equal(t, domain.QueueConservative, exec.Order.QueueMode)
	assert.Equal(t, domain.StatusOpen, exec.Order.Status)
}

func TestSubmit_MarketClosed(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 100)
	require.NoError(t, sim.UpdateMarket(ctx, "m1", domain.ResolutionEnded, nil))

	_, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.5, Size: 2, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.6, 0.5))
	assert.ErrorIs(t, err, domain.ErrMarketClosed)
}

func TestOnSnapshot_RestingNeutralFillAndReservation(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	exec, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.955, Size: 200, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.99, 0.96))
	require.NoError(t, err)
	require.Equal(t, domain.StatusOpen, exec.Order.Status)
	assert.InDelta(t, 191, sim.Account().Reserved(exec.Order.ID), 1e-9)
	assert.InDelta(t, 809, sim.Account().Available(), 1e-9)

	next := book("m1-yes", t0.Add(time.Second),
		[]domain.BookEntry{lvl(0.94, 100)},
		[]domain.BookEntry{lvl(0.95, 50)})
	require.NoError(t, sim.OnSnapshot(ctx, next))

	o, ok := sim.Order("m1-yes", exec.Order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPartial, o.Status)
	assert.InDelta(t, 150, o.Remaining, 1e-9)
	assert.InDelta(t, 0.955, o.AvgFillPrice, 1e-9)

	assert.InDelta(t, 952.25, sim.Account().Balance(), 1e-9)
	assert.InDelta(t, 143.25, sim.Account().Reserved(exec.Order.ID), 1e-9)
	assert.InDelta(t, 809, sim.Account().Available(), 1e-9)

	fills := sim.Fills()
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Timestamp.Equal(t0.Add(time.Second)))

	d := sim.Tracker().Decisions()[0]
	assert.InDelta(t, 0.955, d.EntryPrice, 1e-12, "a resting limit is expected to pay its limit")
}

func TestOnSnapshot_ConservativeNeedsTradeThrough(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	exec, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.955, Size: 200, Type: domain.OrderLimit, QueueMode: domain.QueueConservative,
	}, signal(0.99, 0.96))
	require.NoError(t, err)

	require.NoError(t, sim.OnSnapshot(ctx, book("m1-yes", t0.Add(time.Second),
		[]domain.BookEntry{lvl(0.94, 100)}, []domain.BookEntry{lvl(0.95, 50)})))

	o, _ := sim.Order("m1-yes", exec.Order.ID)
	assert.Equal(t, domain.StatusOpen, o.Status)
	assert.Empty(t, sim.Fills())
}

func TestCancel_ReleasesReservationAndExcludesUnfilledDecision(t *testing.T) {
	ctx := context.Background()
	sim, j := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	exec, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.90, Size: 100, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.95, 0.95))
	require.NoError(t, err)
	assert.InDelta(t, 90, sim.Account().Reserved(exec.Order.ID), 1e-9)

	o, err := sim.Cancel(ctx, "m1-yes", exec.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, o.Status)
	assert.InDelta(t, 0, sim.Account().Reserved(exec.Order.ID), 1e-12)
	assert.InDelta(t, 1000, sim.Account().Available(), 1e-9)
	assert.Equal(t, domain.StatusCanceled, j.orders[exec.Order.ID].Status)

	d := sim.Tracker().Decisions()[0]
	assert.True(t, d.Excluded)
	assert.Equal(t, "order never filled", d.ExcludeReason)

	again, err := sim.Cancel(ctx, "m1-yes", exec.Order.ID)
	require.NoError(t, err, "canceling twice is a no-op")
	assert.Equal(t, domain.StatusCanceled, again.Status)

	_, err = sim.Cancel(ctx, "m1-yes", "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	filled, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Size: 10, Type: domain.OrderMarket,
	}, signal(0.99, 0.96))
	require.NoError(t, err)
	_, err = sim.Cancel(ctx, "m1-yes", filled.Order.ID)
	assert.ErrorIs(t, err, domain.ErrNotCancelable)
}

func TestCancel_PartialFillScoresFilledSizeOnly(t *testing.T) {
	ctx := context.Background()
	sim, j := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	exec, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.955, Size: 200, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.99, 0.95))
	require.NoError(t, err)
	require.NoError(t, sim.OnSnapshot(ctx, book("m1-yes", t0.Add(time.Second),
		[]domain.BookEntry{lvl(0.94, 100)}, []domain.BookEntry{lvl(0.95, 50)})))

	o, err := sim.Cancel(ctx, "m1-yes", exec.Order.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50, o.Filled, 1e-9)

	d := sim.Tracker().Decisions()[0]
	assert.False(t, d.Excluded, "a partly filled order keeps its decision")
	require.NotNil(t, d.ExecutedSize)
	assert.InDelta(t, 50, *d.ExecutedSize, 1e-9)
	assert.InDelta(t, 200, d.Size, 1e-9)
	assert.InDelta(t, 0.955, d.EntryPrice, 1e-12)
	require.NotNil(t, j.decisions[d.ID].ExecutedSize)

	yes := 1.0
	require.NoError(t, sim.UpdateMarket(ctx, "m1", domain.ResolutionResolved, &yes))

	snap := sim.Account().Snapshot()
	assert.InDelta(t, 2.25, snap.TotalPnL, 1e-9)
	assert.InDelta(t, 1002.25, snap.Balance, 1e-9)
	assert.InDelta(t, 2.25, sim.Tracker().Stats().TotalPnL, 1e-9, "evaluation agrees with the account")
}

func TestUpdateMarket_ResolutionScoresPartlyFilledRestingOrder(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	_, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.955, Size: 200, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.99, 0.95))
	require.NoError(t, err)
	require.NoError(t, sim.OnSnapshot(ctx, book("m1-yes", t0.Add(time.Second),
		[]domain.BookEntry{lvl(0.94, 100)}, []domain.BookEntry{lvl(0.95, 50)})))

	yes := 1.0
	require.NoError(t, sim.UpdateMarket(ctx, "m1", domain.ResolutionResolved, &yes))

	stats := sim.Tracker().Stats()
	assert.Equal(t, 1, stats.ResolvedDecisions)
	assert.InDelta(t, 2.25, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 0, sim.Account().Snapshot().Reserved, 1e-12)
}

func TestSubmit_RestingSellsShareOneLong(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	_, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Size: 200, Type: domain.OrderMarket,
	}, signal(0.99, 0.96))
	require.NoError(t, err)
	require.InDelta(t, 807.5, sim.Account().Balance(), 1e-9)

	sell := func() domain.Execution {
		exec, err := sim.Submit(ctx, domain.OrderRequest{
			TokenID: "m1-yes", Side: domain.SideSell, Price: 0.99, Size: 200, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
		}, signal(0.90, 0.95))
		require.NoError(t, err)
		require.Equal(t, domain.StatusOpen, exec.Order.Status)
		return exec
	}
	first, second := sell(), sell()

	assert.InDelta(t, 0, sim.Account().Reserved(first.Order.ID), 1e-12, "covered by the long")
	assert.InDelta(t, 198, sim.Account().Reserved(second.Order.ID), 1e-9, "the long is already promised")
	assert.InDelta(t, 609.5, sim.Account().Available(), 1e-9)

	_, err = sim.Cancel(ctx, "m1-yes", first.Order.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0, sim.Account().Reserved(second.Order.ID), 1e-12, "the long is free again")
	assert.InDelta(t, 807.5, sim.Account().Available(), 1e-9)
}

func TestSubmit_BeforeFirstTickUsesMarketTime(t *testing.T) {
	ctx := context.Background()
	wall := t0.Add(72 * time.Hour)
	sim := paper.New(paper.Config{
		InitialBalance: 1000,
		MarkMode:       domain.MarkNeutral,
		CohortWindow:   time.Hour,
		CohortEpoch:    t0,
	}, paper.WithIDGenerator(seqIDs()), paper.WithClock(func() time.Time { return wall }))
	registerMarket(t, sim, "m1")

	noTick := t0.Add(5 * time.Minute)
	require.NoError(t, sim.OnSnapshot(ctx, book("m1-no", noTick,
		[]domain.BookEntry{lvl(0.04, 100)}, []domain.BookEntry{lvl(0.06, 100)})))

	exec, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.90, Size: 10, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.95, 0.94))
	require.NoError(t, err)
	assert.True(t, exec.Order.CreatedAt.Equal(noTick))

	d := sim.Tracker().Decisions()[0]
	assert.True(t, d.Timestamp.Equal(noTick))
	assert.Equal(t, int64(0), d.CohortID, "cohort follows market time, not the wall clock")
}

func TestUpdateMarket_ResolutionSettlesAndScores(t *testing.T) {
	ctx := context.Background()
	sim, j := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, book("m1-yes", t0,
		[]domain.BookEntry{lvl(0.60, 100)}, []domain.BookEntry{lvl(0.62, 100)})))

	_, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Size: 10, Type: domain.OrderMarket,
	}, signal(0.70, 0.60))
	require.NoError(t, err)
	assert.InDelta(t, 993.8, sim.Account().Balance(), 1e-9)

	yes := 1.0
	require.NoError(t, sim.UpdateMarket(ctx, "m1", domain.ResolutionResolved, &yes))

	snap := sim.Account().Snapshot()
	assert.InDelta(t, 1003.8, snap.Balance, 1e-9)
	assert.InDelta(t, 3.8, snap.TotalPnL, 1e-9)
	assert.Equal(t, 0, snap.OpenPositions)
	assert.InDelta(t, 1.0, snap.WinRate, 1e-12)

	stats := sim.Tracker().Stats()
	assert.Equal(t, 1, stats.ResolvedDecisions)
	assert.InDelta(t, 3.8, stats.EdgePreservationRatio, 1e-9)
	assert.InDelta(t, 0.09, stats.BrierScore, 1e-12)

	m, _ := sim.Market("m1")
	assert.Equal(t, domain.ResolutionResolved, j.markets["m1"].ResolutionStatus)
	assert.Equal(t, domain.ResolutionResolved, m.ResolutionStatus)

	// final markets ignore ticks and refuse orders
	require.NoError(t, sim.OnSnapshot(ctx, book("m1-yes", t0.Add(time.Minute),
		[]domain.BookEntry{lvl(0.10, 100)}, []domain.BookEntry{lvl(0.12, 100)})))
	assert.InDelta(t, 1003.8, sim.Account().Snapshot().Equity, 1e-9)
	_, err = sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Size: 10, Type: domain.OrderMarket,
	}, signal(0.70, 0.60))
	assert.ErrorIs(t, err, domain.ErrMarketClosed)

	no := 0.0
	require.NoError(t, sim.UpdateMarket(ctx, "m1", domain.ResolutionResolved, &no), "repeated resolution is a no-op")
	assert.InDelta(t, 1003.8, sim.Account().Balance(), 1e-9)
	assert.Equal(t, 1, sim.Tracker().Stats().ResolvedDecisions)

	err = sim.UpdateMarket(ctx, "m1", domain.ResolutionOpen, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUpdateMarket_DisputeKeepsEverythingOpen(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, book("m1-yes", t0,
		[]domain.BookEntry{lvl(0.60, 100)}, []domain.BookEntry{lvl(0.62, 100)})))
	require.NoError(t, sim.OnSnapshot(ctx, book("m1-no", t0,
		[]domain.BookEntry{lvl(0.37, 100)}, []domain.BookEntry{lvl(0.39, 100)})))

	resting, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.50, Size: 10, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.70, 0.60))
	require.NoError(t, err)
	_, err = sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-no", Side: domain.SideBuy, Size: 10, Type: domain.OrderMarket,
	}, signal(0.45, 0.38))
	require.NoError(t, err)

	require.NoError(t, sim.UpdateMarket(ctx, "m1", domain.ResolutionProposed, nil))
	require.NoError(t, sim.UpdateMarket(ctx, "m1", domain.ResolutionDisputed, nil))

	pos, _ := sim.Position("m1-no")
	assert.InDelta(t, 10, pos.Quantity, 1e-9)
	o, _ := sim.Order("m1-yes", resting.Order.ID)
	assert.Equal(t, domain.StatusOpen, o.Status)
	assert.Len(t, sim.Tracker().Pending(), 2)
	assert.InDelta(t, 5, sim.Account().Reserved(resting.Order.ID), 1e-9)

	no := 0.0
	require.NoError(t, sim.UpdateMarket(ctx, "m1", domain.ResolutionResolved, &no))

	o, _ = sim.Order("m1-yes", resting.Order.ID)
	assert.Equal(t, domain.StatusCanceled, o.Status)
	assert.InDelta(t, 0, sim.Account().Reserved(resting.Order.ID), 1e-12)
	assert.InDelta(t, 1006.1, sim.Account().Balance(), 1e-9)

	stats := sim.Tracker().Stats()
	assert.Equal(t, 1, stats.ResolvedDecisions)
	assert.Equal(t, 1, stats.ExcludedDecisions, "the never-filled limit is not scored")
	assert.InDelta(t, 0.61, stats.MeanEdge, 1e-9)
}

func TestVoidMarket_ClosesAtCostAndExcludes(t *testing.T) {
	ctx := context.Background()
	sim, j := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, book("m1-yes", t0,
		[]domain.BookEntry{lvl(0.60, 100)}, []domain.BookEntry{lvl(0.62, 100)})))

	_, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Size: 10, Type: domain.OrderMarket,
	}, signal(0.70, 0.60))
	require.NoError(t, err)
	resting, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.50, Size: 10, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.70, 0.60))
	require.NoError(t, err)

	require.NoError(t, sim.VoidMarket(ctx, "m1"))

	snap := sim.Account().Snapshot()
	assert.InDelta(t, 1000, snap.Balance, 1e-9)
	assert.InDelta(t, 0, snap.Reserved, 1e-12)
	assert.Equal(t, 0, snap.OpenPositions)
	assert.InDelta(t, 0, snap.TotalPnL, 1e-9)

	o, _ := sim.Order("m1-yes", resting.Order.ID)
	assert.Equal(t, domain.StatusCanceled, o.Status)

	stats := sim.Tracker().Stats()
	assert.Equal(t, 2, stats.ExcludedDecisions)
	assert.Equal(t, 0, stats.ResolvedDecisions)
	for _, d := range j.decisions {
		assert.Equal(t, "market voided", d.ExcludeReason)
	}
}

func TestSubmit_MarketWithoutLiquidityIsExcluded(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, book("m1-yes", t0, []domain.BookEntry{lvl(0.40, 10)}, nil)))

	exec, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Size: 10, Type: domain.OrderMarket,
	}, signal(0.70, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceled, exec.Order.Status)

	d := sim.Tracker().Decisions()[0]
	assert.True(t, d.Excluded)
	assert.Equal(t, "no liquidity", d.ExcludeReason)
}

func TestJournalFailureDoesNotFailSubmission(t *testing.T) {
	ctx := context.Background()
	sim, j := newSim(t, 1000)
	j.fail = errors.New("disk full")
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	exec, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Size: 10, Type: domain.OrderMarket,
	}, signal(0.99, 0.96))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFilled, exec.Order.Status)
	assert.Len(t, sim.Fills(), 1)
}

func TestRegisterMarket_Duplicates(t *testing.T) {
	sim, _ := newSim(t, 100)
	ctx := context.Background()

	err := sim.RegisterMarket(ctx, domain.Market{ID: "m1"}, []domain.Token{{ID: "x"}})
	assert.Error(t, err)
	err = sim.RegisterMarket(ctx, domain.Market{ID: "m2"}, []domain.Token{{ID: "m1-yes"}})
	assert.Error(t, err)
	err = sim.RegisterMarket(ctx, domain.Market{ID: "m3"}, nil)
	assert.Error(t, err)

	assert.Equal(t, []string{"m1-no", "m1-yes"}, sim.TokenIDs())
}

func TestSimulation_ConcurrentMarkets(t *testing.T) {
	ctx := context.Background()
	j := newMemJournal()
	sim := paper.New(paper.Config{InitialBalance: 100000}, paper.WithJournal(j))

	const markets, rounds = 8, 25
	for i := 0; i < markets; i++ {
		registerMarket(t, sim, fmt.Sprintf("c%d", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < markets; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := fmt.Sprintf("c%d-yes", i)
			for r := 0; r < rounds; r++ {
				at := t0.Add(time.Duration(r) * time.Second)
				_ = sim.OnSnapshot(ctx, book(token, at,
					[]domain.BookEntry{lvl(0.49, 1000)}, []domain.BookEntry{lvl(0.51, 1000)}))
				_, err := sim.Submit(ctx, domain.OrderRequest{
					TokenID: token, Side: domain.SideBuy, Size: 2, Type: domain.OrderMarket,
				}, signal(0.6, 0.5))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	fills := sim.Fills()
	assert.Len(t, fills, markets*rounds)
	assert.Equal(t, markets*rounds, sim.Account().Snapshot().TotalTrades)
	assert.InDelta(t, 100000-float64(markets*rounds)*2*0.51, sim.Account().Balance(), 1e-6)
	assert.Equal(t, fills, j.fills, "journal sees fills in audit order")
	assert.Len(t, sim.Tracker().Decisions(), markets*rounds)
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))
	_, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.90, Size: 10, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.95, 0.95))
	require.NoError(t, err)
	_, err = sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Size: 10, Type: domain.OrderMarket,
	}, signal(0.99, 0.96))
	require.NoError(t, err)

	r := sim.Report()
	assert.True(t, r.GeneratedAt.Equal(t0))
	assert.Len(t, r.Positions, 1)
	assert.Len(t, r.Orders, 1)
	assert.Equal(t, 2, r.Evaluation.TotalDecisions)
	assert.Len(t, r.Cohorts, 1)
	require.Len(t, r.Activity, 1)
	assert.Equal(t, "m1", r.Activity[0].MarketID)
	assert.Equal(t, 1, r.Activity[0].Fills)
	assert.InDelta(t, 9.6, r.Activity[0].Notional, 1e-9)
}
