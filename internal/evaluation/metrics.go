package evaluation

import "github.com/alejandrodnm/polysim/internal/domain"

// Compute aggregates a population of decisions.
//
// Excluded decisions (voided markets, orders that never executed) are counted
// but contribute to no metric. Resolution-dependent metrics use resolved
// decisions only; execution drag is known at decision time and uses every
// included decision.
func Compute(decisions []domain.Decision) domain.EvaluationStats {
	stats := domain.EvaluationStats{TotalDecisions: len(decisions)}

	var (
		brier, edge, pnl      float64
		realizedSum, theoSum  float64
		drag                  float64
		included, wins, right int
	)
	for _, d := range decisions {
		if d.Excluded {
			stats.ExcludedDecisions++
			continue
		}
		included++
		drag += d.ExecutionDragBps()

		if !d.Resolved() {
			stats.PendingDecisions++
			continue
		}
		stats.ResolvedDecisions++

		outcome := *d.ResolvedOutcome
		diff := d.FairProb - outcome
		brier += diff * diff
		edge += d.RealizedEdge()
		pnl += d.PnL()
		if d.PnL() > 0 {
			wins++
		}
		if predicted(d.FairProb) == outcome {
			right++
		}
		if theo := d.TheoreticalEdge(); theo != 0 {
			theoSum += theo
			realizedSum += d.RealizedEdge()
		}
	}

	if included > 0 {
		stats.MeanExecutionDragBps = drag / float64(included)
	}
	if n := float64(stats.ResolvedDecisions); n > 0 {
		stats.BrierScore = brier / n
		stats.MeanEdge = edge / n
		stats.WinRate = float64(wins) / n
		stats.PredictionAccuracy = float64(right) / n
	}
	if theoSum != 0 {
		stats.EdgePreservationRatio = realizedSum / theoSum
	}
	stats.TotalPnL = pnl
	return stats
}

// predicted maps a probability forecast to the binary outcome it favors.
func predicted(fair float64) float64 {
	if fair >= 0.5 {
		return 1
	}
	return 0
}
