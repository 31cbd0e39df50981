package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outcome(v float64) *float64 { return &v }

func TestMarket_TransitionForwardOnly(t *testing.T) {
	m := Market{ID: "m1", ResolutionStatus: ResolutionOpen}
	require.NoError(t, m.Transition(ResolutionEnded, nil))
	require.NoError(t, m.Transition(ResolutionProposed, nil))

	err := m.Transition(ResolutionOpen, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, ResolutionProposed, m.ResolutionStatus)
}

func TestMarket_DisputedSettlesToResolved(t *testing.T) {
	m := Market{ID: "m1", ResolutionStatus: ResolutionProposed}
	require.NoError(t, m.Transition(ResolutionDisputed, nil))
	require.NoError(t, m.Transition(ResolutionResolved, outcome(1)))
	require.NotNil(t, m.Outcome)
	assert.Equal(t, 1.0, *m.Outcome)
}

func TestMarket_ResolvedIsImmutable(t *testing.T) {
	m := Market{ID: "m1"}
	require.NoError(t, m.Transition(ResolutionResolved, outcome(0)))

	assert.NoError(t, m.Transition(ResolutionResolved, outcome(1)), "same status is a no-op")
	assert.Equal(t, 0.0, *m.Outcome)
	assert.Error(t, m.Transition(ResolutionDisputed, nil))
	assert.Error(t, m.Transition(ResolutionVoided, nil))
}

func TestMarket_ResolvedRequiresBinaryOutcome(t *testing.T) {
	m := Market{ID: "m1"}
	assert.Error(t, m.Transition(ResolutionResolved, nil))
	assert.Error(t, m.Transition(ResolutionResolved, outcome(0.5)))
	assert.Equal(t, ResolutionOpen, ResolutionStatus("OPEN"))
	assert.True(t, m.Tradable())
}

func TestToken_Payoff(t *testing.T) {
	yes := Token{ID: "y", Side: TokenYes}
	no := Token{ID: "n", Side: TokenNo}
	assert.Equal(t, 1.0, yes.Payoff(1))
	assert.Equal(t, 0.0, no.Payoff(1))
	assert.Equal(t, 1.0, no.Payoff(0))
}

func TestRejectError_MatchesSentinel(t *testing.T) {
	err := Reject(ReasonInsufficientBalance, "need 10, have 5")
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.False(t, errors.Is(err, ErrInvalidOrder))
	assert.Equal(t, ReasonInsufficientBalance, ReasonOf(err))
	assert.Equal(t, "INSUFFICIENT_BALANCE: need 10, have 5", err.Error())
	assert.Equal(t, RejectReason(""), ReasonOf(errors.New("boom")))
}

func TestDecision_EdgeScenario(t *testing.T) {
	exit := 1.0
	d := Decision{
		Side:       SideBuy,
		Size:       10,
		FairProb:   0.70,
		MarketProb: 0.60,
		EntryPrice: 0.62,
		ExitPrice:  &exit,
	}
	assert.InDelta(t, 0.38, d.RealizedEdge(), 1e-12)
	assert.InDelta(t, 0.10, d.TheoreticalEdge(), 1e-12)
	assert.InDelta(t, 3.8, d.RealizedEdge()/d.TheoreticalEdge(), 1e-9)
	assert.InDelta(t, 0.02/0.60*10_000, d.ExecutionDragBps(), 1e-9)
	assert.InDelta(t, 3.8, d.PnL(), 1e-9)
}

func TestDecision_SellDirection(t *testing.T) {
	exit := 0.0
	d := Decision{Side: SideSell, FairProb: 0.30, MarketProb: 0.40, EntryPrice: 0.39, ExitPrice: &exit}
	assert.InDelta(t, 0.39, d.RealizedEdge(), 1e-12)
	assert.InDelta(t, 0.10, d.TheoreticalEdge(), 1e-12)
	assert.InDelta(t, 0.01/0.40*10_000, d.ExecutionDragBps(), 1e-9)
}
