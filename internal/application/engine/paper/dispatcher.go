package paper

// dispatcher.go: un worker por mercado con buzón "último snapshot por token".
//
// Cada mercado se procesa en su propio goroutine, en orden. Si los snapshots
// llegan más rápido de lo que se procesan, solo se conserva el más reciente
// de cada token: los intermedios se descartan y se cuentan. Fills y decisiones
// nunca se descartan, se generan al procesar.

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alejandrodnm/polysim/internal/domain"
	"github.com/alejandrodnm/polysim/internal/metrics"
)

// ErrDispatcherClosed is returned by OnSnapshot after Close.
var ErrDispatcherClosed = errors.New("paper: dispatcher closed")

// DispatchStats counts snapshots through the dispatcher.
type DispatchStats struct {
	Published int64
	Processed int64
	Dropped   int64
}

// Dispatcher fans snapshots out to one worker per market.
type Dispatcher struct {
	ctx context.Context
	sim *Simulation

	mu      sync.Mutex
	workers map[string]*mailbox
	closed  bool
	wg      sync.WaitGroup

	published atomic.Int64
	processed atomic.Int64
	dropped   atomic.Int64
}

type mailbox struct {
	mu     sync.Mutex
	latest map[string]domain.OrderBook
	order  []string // tokens with a pending snapshot, in arrival order

	wake chan struct{}
	done chan struct{}
}

// NewDispatcher creates a dispatcher feeding sim. Workers stop when ctx is
// canceled or Close is called.
func NewDispatcher(ctx context.Context, sim *Simulation) *Dispatcher {
	return &Dispatcher{
		ctx:     ctx,
		sim:     sim,
		workers: make(map[string]*mailbox),
	}
}

// OnSnapshot queues book for its market's worker, replacing any snapshot of
// the same token that has not been processed yet.
func (d *Dispatcher) OnSnapshot(_ context.Context, book domain.OrderBook) error {
	marketID, ok := d.sim.MarketOf(book.TokenID)
	if !ok {
		return domain.Reject(domain.ReasonUnknownToken, book.TokenID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	mb, ok := d.workers[marketID]
	if !ok {
		mb = &mailbox{
			latest: make(map[string]domain.OrderBook),
			wake:   make(chan struct{}, 1),
			done:   make(chan struct{}),
		}
		d.workers[marketID] = mb
		d.wg.Add(1)
		go d.run(marketID, mb)
	}

	d.published.Add(1)
	mb.mu.Lock()
	if _, stale := mb.latest[book.TokenID]; stale {
		d.dropped.Add(1)
		metrics.SnapshotsDropped.Inc()
	} else {
		mb.order = append(mb.order, book.TokenID)
	}
	mb.latest[book.TokenID] = book
	mb.mu.Unlock()

	select {
	case mb.wake <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) run(marketID string, mb *mailbox) {
	defer d.wg.Done()
	for {
		select {
		case <-mb.wake:
			d.drain(marketID, mb)
		case <-mb.done:
			d.drain(marketID, mb)
			return
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) drain(marketID string, mb *mailbox) {
	for {
		mb.mu.Lock()
		if len(mb.order) == 0 {
			mb.mu.Unlock()
			return
		}
		tokens, books := mb.order, mb.latest
		mb.order = nil
		mb.latest = make(map[string]domain.OrderBook, len(books))
		mb.mu.Unlock()

		for _, tokenID := range tokens {
			if err := d.sim.OnSnapshot(d.ctx, books[tokenID]); err != nil {
				slog.Warn("paper: snapshot failed",
					"market", domain.TruncateID(marketID, 16),
					"token", domain.TruncateID(tokenID, 12),
					"err", err,
				)
			}
			d.processed.Add(1)
		}
	}
}

// Close stops accepting snapshots, lets every worker drain what is queued
// and waits for them to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, mb := range d.workers {
		close(mb.done)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Published: d.published.Load(),
		Processed: d.processed.Load(),
		Dropped:   d.dropped.Load(),
	}
}
