package domain

import "fmt"

// MarkMode selects the reference price for unrealized P&L.
type MarkMode string

const (
	// MarkConservative marks longs at best bid and shorts at best ask.
	MarkConservative MarkMode = "CONSERVATIVE"
	// MarkNeutral marks at mid.
	MarkNeutral MarkMode = "NEUTRAL"
	// MarkAggressive marks at the last traded price.
	MarkAggressive MarkMode = "AGGRESSIVE"
)

// ParseMarkMode validates a configured mark mode.
func ParseMarkMode(s string) (MarkMode, error) {
	switch m := MarkMode(s); m {
	case MarkConservative, MarkNeutral, MarkAggressive:
		return m, nil
	}
	return "", fmt.Errorf("unknown mark mode %q", s)
}

// Position is the boundary view of a per-token position.
// Quantity is signed: positive long, negative short.
type Position struct {
	TokenID       string    `json:"token_id"`
	MarketID      string    `json:"market_id,omitempty"`
	Side          TokenSide `json:"side"`
	Quantity      float64   `json:"quantity"`
	AvgPrice      float64   `json:"avg_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	RealizedPnL   float64   `json:"realized_pnl"`
}

// Open reports a non-flat position.
func (p Position) Open() bool {
	return p.Quantity != 0
}

// CostBasis returns |quantity| × avg_price, signed like the quantity.
func (p Position) CostBasis() float64 {
	return p.Quantity * p.AvgPrice
}

// AccountSnapshot is the boundary view of the account.
type AccountSnapshot struct {
	Balance        float64 `json:"balance"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalTrades    int     `json:"total_trades"`
	WinRate        float64 `json:"win_rate"`
	OpenPositions  int     `json:"open_positions"`
	InitialBalance float64 `json:"initial_balance"`
	Equity         float64 `json:"equity"`
	Reserved       float64 `json:"reserved"`
	FeesPaid       float64 `json:"fees_paid"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
}
