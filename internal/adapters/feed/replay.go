package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polysim/internal/application/engine"
	"github.com/alejandrodnm/polysim/internal/domain"
)

// Target es lo que un feed alimenta. paper.Simulation lo implementa.
type Target interface {
	engine.SnapshotSink
	RegisterMarket(ctx context.Context, m domain.Market, tokens []domain.Token) error
	Submit(ctx context.Context, req domain.OrderRequest, sig domain.Signal) (domain.Execution, error)
	Cancel(ctx context.Context, tokenID, orderID string) (domain.Order, error)
	UpdateMarket(ctx context.Context, marketID string, status domain.ResolutionStatus, outcome *float64) error
}

// Stats resume una reproducción.
type Stats struct {
	Events   map[EventType]int
	Rejected int
	Filled   int
	LastTick time.Time
}

// Apply aplica un evento sobre target. Devuelve el error de la simulación tal
// cual, incluidos los *domain.RejectError.
func Apply(ctx context.Context, target Target, ev Event) (domain.Execution, error) {
	switch ev.Type {
	case EventMarket:
		return domain.Execution{}, target.RegisterMarket(ctx, *ev.Market, ev.Tokens)
	case EventSnapshot:
		return domain.Execution{}, target.OnSnapshot(ctx, *ev.Book)
	case EventOrder:
		var sig domain.Signal
		if ev.Signal != nil {
			sig = *ev.Signal
		}
		return target.Submit(ctx, *ev.Order, sig)
	case EventCancel:
		o, err := target.Cancel(ctx, ev.TokenID, ev.OrderID)
		return domain.Execution{Order: o}, err
	case EventResolution:
		return domain.Execution{}, target.UpdateMarket(ctx, ev.MarketID, ev.Status, ev.Outcome)
	case EventVoid:
		return domain.Execution{}, target.UpdateMarket(ctx, ev.MarketID, domain.ResolutionVoided, nil)
	}
	return domain.Execution{}, fmt.Errorf("feed.Apply: unknown event type %q", ev.Type)
}

// Replay lee todos los eventos de r y los aplica en orden. Los rechazos de
// la simulación se cuentan y se registran; cualquier otro error aborta la
// reproducción indicando la línea.
func Replay(ctx context.Context, r *Reader, target Target) (Stats, error) {
	stats := Stats{Events: make(map[EventType]int)}
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("feed.Replay: %w", err)
		}
		stats.Events[ev.Type]++
		if ts := ev.stamp(); ts.After(stats.LastTick) {
			stats.LastTick = ts
		}

		exec, err := Apply(ctx, target, ev)
		var rej *domain.RejectError
		switch {
		case errors.As(err, &rej):
			stats.Rejected++
			slog.Warn("feed: event rejected",
				"line", r.Line(),
				"type", ev.Type,
				"reason", rej.Reason,
				"err", err,
			)
		case err != nil:
			return stats, fmt.Errorf("feed.Replay: line %d (%s): %w", r.Line(), ev.Type, err)
		case len(exec.Fills) > 0:
			stats.Filled++
		}
	}

	slog.Info("feed: replay finished",
		"lines", r.Line(),
		"markets", stats.Events[EventMarket],
		"snapshots", stats.Events[EventSnapshot],
		"orders", stats.Events[EventOrder],
		"rejected", stats.Rejected,
	)
	return stats, nil
}
