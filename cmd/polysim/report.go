package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/polysim/config"
	"github.com/alejandrodnm/polysim/internal/adapters/storage"
	"github.com/alejandrodnm/polysim/internal/domain"
	"github.com/alejandrodnm/polysim/internal/evaluation"
	"github.com/alejandrodnm/polysim/internal/ports"
)

// runReport rebuilds the evaluation from the journal. Account state is not
// journaled, so the report carries decisions, activity and resting orders only.
func runReport(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, reporter ports.Reporter) error {
	epoch, err := cfg.CohortEpoch()
	if err != nil {
		return err
	}
	var opts []evaluation.Option
	if !epoch.IsZero() {
		opts = append(opts, evaluation.WithEpoch(epoch))
	}
	tracker := evaluation.NewTracker(cfg.CohortWindow(), opts...)

	decisions, err := store.LoadDecisions(ctx)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if _, err := tracker.Restore(decisions); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	activity, err := store.Activity(ctx)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	var orders []domain.Order
	for _, status := range []domain.OrderStatus{domain.StatusOpen, domain.StatusPartial} {
		o, err := store.LoadOrders(ctx, status)
		if err != nil {
			return fmt.Errorf("report: %w", err)
		}
		orders = append(orders, o...)
	}

	return reporter.Report(ctx, domain.Report{
		GeneratedAt: time.Now().UTC(),
		Orders:      orders,
		Activity:    activity,
		Evaluation:  tracker.Stats(),
		Cohorts:     tracker.Cohorts(),
	})
}
