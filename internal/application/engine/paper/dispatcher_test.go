package paper_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polysim/internal/application/engine/paper"
	"github.com/alejandrodnm/polysim/internal/domain"
)

func TestDispatcher_LastSnapshotAlwaysApplied(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 1000)
	require.NoError(t, sim.OnSnapshot(ctx, scenarioBook(t0)))

	exec, err := sim.Submit(ctx, domain.OrderRequest{
		TokenID: "m1-yes", Side: domain.SideBuy, Price: 0.955, Size: 100, Type: domain.OrderLimit, QueueMode: domain.QueueNeutral,
	}, signal(0.99, 0.96))
	require.NoError(t, err)

	d := paper.NewDispatcher(ctx, sim)
	const n = 500
	for i := 1; i <= n; i++ {
		asks := []domain.BookEntry{lvl(0.97, 100)}
		if i == n {
			asks = []domain.BookEntry{lvl(0.95, 100)}
		}
		require.NoError(t, d.OnSnapshot(ctx, book("m1-yes", t0.Add(time.Duration(i)*time.Millisecond),
			[]domain.BookEntry{lvl(0.94, 100)}, asks)))
	}
	d.Close()

	stats := d.Stats()
	assert.Equal(t, int64(n), stats.Published)
	assert.Equal(t, stats.Published, stats.Processed+stats.Dropped)

	o, ok := sim.Order("m1-yes", exec.Order.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusFilled, o.Status, "the crossing snapshot was the last one and is never dropped")
	require.Len(t, sim.Fills(), 1)
	assert.True(t, sim.Fills()[0].Timestamp.Equal(t0.Add(n*time.Millisecond)))
}

func TestDispatcher_ManyMarkets(t *testing.T) {
	ctx := context.Background()
	sim := paper.New(paper.Config{InitialBalance: 1000})
	const markets, ticks = 6, 200
	for i := 0; i < markets; i++ {
		registerMarket(t, sim, fmt.Sprintf("d%d", i))
	}

	d := paper.NewDispatcher(ctx, sim)
	var wg sync.WaitGroup
	for i := 0; i < markets; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for k := 0; k < ticks; k++ {
				mid := 0.30 + float64(k%10)*0.01
				for _, side := range []string{"yes", "no"} {
					err := d.OnSnapshot(ctx, book(fmt.Sprintf("d%d-%s", i, side), t0.Add(time.Duration(k)*time.Second),
						[]domain.BookEntry{lvl(mid-0.01, 10)}, []domain.BookEntry{lvl(mid+0.01, 10)}))
					assert.NoError(t, err)
				}
			}
		}(i)
	}
	wg.Wait()
	d.Close()

	stats := d.Stats()
	assert.Equal(t, int64(markets*ticks*2), stats.Published)
	assert.Equal(t, stats.Published, stats.Processed+stats.Dropped)
	assert.GreaterOrEqual(t, stats.Processed, int64(markets*2), "every token's last snapshot is processed")
}

func TestDispatcher_Errors(t *testing.T) {
	ctx := context.Background()
	sim, _ := newSim(t, 1000)
	d := paper.NewDispatcher(ctx, sim)

	err := d.OnSnapshot(ctx, book("unknown", t0, nil, nil))
	assert.ErrorIs(t, err, domain.ErrUnknownToken)

	d.Close()
	d.Close()
	err = d.OnSnapshot(ctx, scenarioBook(t0))
	assert.ErrorIs(t, err, paper.ErrDispatcherClosed)
}

func TestDispatcher_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sim, _ := newSim(t, 1000)
	d := paper.NewDispatcher(ctx, sim)

	require.NoError(t, d.OnSnapshot(ctx, scenarioBook(t0)))
	cancel()

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after context cancel")
	}
}
