package domain

import (
	"fmt"
	"time"
)

// ResolutionStatus is the lifecycle state of a market.
type ResolutionStatus string

const (
	ResolutionOpen     ResolutionStatus = "OPEN"
	ResolutionEnded    ResolutionStatus = "ENDED"
	ResolutionProposed ResolutionStatus = "PROPOSED"
	ResolutionDisputed ResolutionStatus = "DISPUTED"
	ResolutionResolved ResolutionStatus = "RESOLVED"
	ResolutionVoided   ResolutionStatus = "VOIDED"
)

// rank orders the statuses for the forward-only rule.
func (s ResolutionStatus) rank() int {
	switch s {
	case ResolutionOpen:
		return 0
	case ResolutionEnded:
		return 1
	case ResolutionProposed:
		return 2
	case ResolutionDisputed:
		return 3
	case ResolutionResolved, ResolutionVoided:
		return 4
	default:
		return -1
	}
}

// Final reports whether the status can no longer change.
func (s ResolutionStatus) Final() bool {
	return s == ResolutionResolved || s == ResolutionVoided
}

// TokenSide identifies the YES or NO token of a binary market.
type TokenSide string

const (
	TokenYes TokenSide = "YES"
	TokenNo  TokenSide = "NO"
)

// Market is a binary prediction market.
type Market struct {
	ID               string           `json:"market_id"`
	Category         string           `json:"category"`
	EndTime          time.Time        `json:"end_time"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`
	Outcome          *float64         `json:"outcome,omitempty"` // YES outcome, set once RESOLVED
}

// Tradable reports whether new orders are accepted.
func (m Market) Tradable() bool {
	return m.ResolutionStatus == ResolutionOpen || m.ResolutionStatus == ""
}

// Transition moves the market to next, enforcing the lifecycle:
// statuses only move forward, DISPUTED may settle to RESOLVED, and
// RESOLVED/VOIDED are immutable. RESOLVED requires an outcome of 0 or 1.
func (m *Market) Transition(next ResolutionStatus, outcome *float64) error {
	cur := m.ResolutionStatus
	if cur == "" {
		cur = ResolutionOpen
	}
	if next.rank() < 0 {
		return &RejectError{Reason: ReasonInvalidTransition, Msg: fmt.Sprintf("unknown status %q", next)}
	}
	if cur.Final() {
		if cur == next {
			return nil
		}
		return &RejectError{Reason: ReasonInvalidTransition, Msg: fmt.Sprintf("market %s is %s", m.ID, cur)}
	}
	if next.rank() < cur.rank() {
		return &RejectError{Reason: ReasonInvalidTransition, Msg: fmt.Sprintf("%s -> %s", cur, next)}
	}
	if next == ResolutionResolved {
		if outcome == nil || (*outcome != 0 && *outcome != 1) {
			return &RejectError{Reason: ReasonInvalidTransition, Msg: "RESOLVED requires outcome 0 or 1"}
		}
		v := *outcome
		m.Outcome = &v
	}
	m.ResolutionStatus = next
	return nil
}

// Token is one side (YES/NO) of a market.
type Token struct {
	ID       string    `json:"token_id"`
	MarketID string    `json:"market_id"`
	Side     TokenSide `json:"side"`
	TickSize float64   `json:"tick_size"`
	MinSize  float64   `json:"min_size"`
}

// Payoff returns the settlement price of the token given the YES outcome.
func (t Token) Payoff(yesOutcome float64) float64 {
	if t.Side == TokenNo {
		return 1 - yesOutcome
	}
	return yesOutcome
}

// TruncateID shortens long hex ids for log output.
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen] + "..."
}

// Listing is a market together with its tokens, as discovered from the venue.
type Listing struct {
	Market Market  `json:"market"`
	Tokens []Token `json:"tokens"`
}

// Token returns the listing's token for side.
func (l Listing) Token(side TokenSide) (Token, bool) {
	for _, t := range l.Tokens {
		if t.Side == side {
			return t, true
		}
	}
	return Token{}, false
}
