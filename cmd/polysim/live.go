package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/alejandrodnm/polysim/config"
	"github.com/alejandrodnm/polysim/internal/adapters/feed"
	"github.com/alejandrodnm/polysim/internal/adapters/notify"
	"github.com/alejandrodnm/polysim/internal/adapters/polymarket"
	"github.com/alejandrodnm/polysim/internal/application/engine/live"
	"github.com/alejandrodnm/polysim/internal/application/engine/paper"
	"github.com/alejandrodnm/polysim/internal/domain"
)

// intentResult es la respuesta, una línea JSON en stdout, a cada evento leído de stdin.
type intentResult struct {
	Line     int                 `json:"line"`
	Type     feed.EventType      `json:"type"`
	Order    *domain.Order       `json:"order,omitempty"`
	Fills    []domain.Fill       `json:"fills,omitempty"`
	Rejected domain.RejectReason `json:"rejected,omitempty"`
	Error    string              `json:"error,omitempty"`
}

func runLive(ctx context.Context, cfg *config.Config, sim *paper.Simulation, reporter *notify.Console) error {
	slog.Info("=== LIVE PAPER MODE ===",
		"markets", len(cfg.API.Markets),
		"poll", cfg.PollInterval(),
		"status_every", cfg.StatusInterval(),
	)

	client := polymarket.NewClient(cfg.API.CLOBBase, cfg.API.GammaBase,
		polymarket.WithDataAPIBase(cfg.API.DataBase),
	)

	dispatcher := paper.NewDispatcher(ctx, sim)

	opts := []live.Option{live.WithTradeProvider(client)}
	if cfg.Feed.Record != "" {
		rec, err := newRecorder(cfg.Feed.Record)
		if err != nil {
			return err
		}
		defer rec.Close()
		opts = append(opts, live.WithRecorder(rec.market, rec.book))
	}

	mode, _ := cfg.MarkMode()
	feedEngine := live.New(client, client, dispatcher, sim, live.Config{
		MarketIDs:      cfg.API.Markets,
		PollInterval:   cfg.PollInterval(),
		StatusInterval: cfg.StatusInterval(),
		LastTrades:     mode == domain.MarkAggressive,
	}, opts...)

	n, err := feedEngine.Bootstrap(ctx)
	if err != nil {
		return err
	}
	slog.Info("live: markets registered", "count", n, "tokens", len(sim.TokenIDs()))

	go readIntents(ctx, sim, os.Stdin, os.Stdout)

	var lastReport time.Time
	every := cfg.ReportInterval()
	err = feedEngine.Run(ctx, func(*live.CycleResult) {
		if every <= 0 || time.Since(lastReport) < every {
			return
		}
		lastReport = time.Now()
		r := sim.Report()
		r.DroppedSnapshots = dispatcher.Stats().Dropped
		reporter.PrintStatus(r)
	})

	dispatcher.Close()
	stats := dispatcher.Stats()
	slog.Info("live: dispatcher drained",
		"published", stats.Published,
		"processed", stats.Processed,
		"dropped", stats.Dropped,
	)

	r := sim.Report()
	r.DroppedSnapshots = stats.Dropped
	if repErr := reporter.Report(context.Background(), r); repErr != nil {
		slog.Warn("report error", "err", repErr)
	}
	return err
}

// readIntents aplica los eventos JSONL de in (órdenes, cancelaciones,
// resoluciones manuales) y responde una línea por evento en out.
func readIntents(ctx context.Context, sim *paper.Simulation, in io.Reader, out io.Writer) {
	r := feed.NewReader(in)
	enc := json.NewEncoder(out)
	for ctx.Err() == nil {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			slog.Info("live: intent stream closed")
			return
		}
		res := intentResult{Line: r.Line(), Type: ev.Type}
		if err != nil {
			res.Error = err.Error()
			_ = enc.Encode(res)
			continue
		}

		exec, err := feed.Apply(ctx, sim, ev)
		if exec.Order.ID != "" {
			o := exec.Order
			res.Order = &o
			res.Fills = exec.Fills
		}
		if err != nil {
			res.Rejected = domain.ReasonOf(err)
			res.Error = err.Error()
		}
		if encErr := enc.Encode(res); encErr != nil {
			slog.Warn("live: could not write intent result", "err", encErr)
		}
	}
}

// recorder graba la sesión live como un feed reproducible.
type recorder struct {
	mu sync.Mutex
	f  *os.File
}

func newRecorder(path string) (*recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("live: open recording: %w", err)
	}
	return &recorder{f: f}, nil
}

func (r *recorder) market(l domain.Listing) { r.write(feed.MarketEvent(l)) }

func (r *recorder) book(b domain.OrderBook) { r.write(feed.SnapshotEvent(b)) }

func (r *recorder) write(ev feed.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := feed.Encode(r.f, ev); err != nil {
		slog.Warn("live: recording write failed", "err", err)
	}
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
