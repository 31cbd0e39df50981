package domain

import "time"

// Signal is the probability model output consumed at decision time.
type Signal struct {
	FairProb   float64  `json:"fair_prob"`
	MarketProb float64  `json:"market_prob"`
	Edge       float64  `json:"edge"`
	RiskFlags  []string `json:"risk_flags,omitempty"`
}

// Decision is one evaluation record per strategy decision.
// FairProb, MarketProb and EntryPrice are fixed when the decision is logged.
// ExecutedSize is written once, when an order that filled only part of Size
// is canceled.
type Decision struct {
	ID         string    `json:"decision_id"`
	MarketID   string    `json:"market_id"`
	TokenID    string    `json:"token_id"`
	OrderID    string    `json:"order_id"`
	Side       Side      `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	FairProb   float64   `json:"fair_prob"`
	MarketProb float64   `json:"market_prob"`
	Edge       float64   `json:"edge"`
	RiskFlags  []string  `json:"risk_flags,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	CohortID   int64     `json:"cohort_id"`

	ExecutedSize    *float64   `json:"executed_size,omitempty"`
	ResolvedOutcome *float64   `json:"resolved_outcome,omitempty"`
	ExitPrice       *float64   `json:"exit_price,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	Excluded        bool       `json:"excluded,omitempty"`
	ExcludeReason   string     `json:"exclude_reason,omitempty"`
}

// Resolved reports whether an outcome has been recorded.
func (d Decision) Resolved() bool {
	return d.ResolvedOutcome != nil
}

// Direction is +1 for BUY decisions and -1 for SELL.
func (d Decision) Direction() float64 {
	return d.Side.Sign()
}

// TheoreticalEdge is fair_prob - market_prob, signed by direction.
func (d Decision) TheoreticalEdge() float64 {
	return (d.FairProb - d.MarketProb) * d.Direction()
}

// RealizedEdge is outcome - entry_price, signed by direction.
// Zero until resolved.
func (d Decision) RealizedEdge() float64 {
	if d.ExitPrice == nil {
		return 0
	}
	return (*d.ExitPrice - d.EntryPrice) * d.Direction()
}

// ExecutionDragBps is the cost of the entry versus the market probability
// at decision time, positive when execution was worse than the touch.
func (d Decision) ExecutionDragBps() float64 {
	if d.MarketProb == 0 {
		return 0
	}
	return (d.EntryPrice - d.MarketProb) / d.MarketProb * 10_000 * d.Direction()
}

// Exposure is the size the decision actually traded: ExecutedSize once
// known, Size otherwise.
func (d Decision) Exposure() float64 {
	if d.ExecutedSize != nil {
		return *d.ExecutedSize
	}
	return d.Size
}

// PnL is realized_edge × exposure.
func (d Decision) PnL() float64 {
	return d.RealizedEdge() * d.Exposure()
}

// EvaluationStats is the aggregate over a population of decisions.
type EvaluationStats struct {
	TotalDecisions        int     `json:"total_decisions"`
	ResolvedDecisions     int     `json:"resolved_decisions"`
	PendingDecisions      int     `json:"pending_decisions"`
	ExcludedDecisions     int     `json:"excluded_decisions"`
	BrierScore            float64 `json:"brier_score"`
	MeanEdge              float64 `json:"mean_edge"`
	EdgePreservationRatio float64 `json:"edge_preservation_ratio"`
	MeanExecutionDragBps  float64 `json:"mean_execution_drag_bps"`
	TotalPnL              float64 `json:"total_pnl"`
	WinRate               float64 `json:"win_rate"`
	PredictionAccuracy    float64 `json:"prediction_accuracy"`
}

// CohortStats is EvaluationStats for one N-hour window.
type CohortStats struct {
	CohortID int64     `json:"cohort_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	EvaluationStats
}
