package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/alejandrodnm/polysim/internal/adapters/feed"
	"github.com/alejandrodnm/polysim/internal/application/engine/paper"
	"github.com/alejandrodnm/polysim/internal/ports"
)

func runReplay(ctx context.Context, path string, sim *paper.Simulation, reporter ports.Reporter) error {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		defer f.Close()
		in = f
	}

	slog.Info("=== REPLAY MODE ===", "source", path)

	stats, err := feed.Replay(ctx, feed.NewReader(in), sim)
	if err != nil {
		return err
	}
	slog.Info("replay complete",
		"orders", stats.Events[feed.EventOrder],
		"filled", stats.Filled,
		"rejected", stats.Rejected,
		"last_tick", stats.LastTick,
	)
	return reporter.Report(ctx, sim.Report())
}
