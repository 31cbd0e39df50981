package domain

import (
	"sort"
	"time"
)

// Report is everything the reporters print at the end of a run or on demand.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Account     AccountSnapshot  `json:"account"`
	Positions   []Position       `json:"positions"`
	Orders      []Order          `json:"orders,omitempty"`
	Activity    []MarketActivity `json:"activity,omitempty"`
	Evaluation  EvaluationStats  `json:"evaluation"`
	Cohorts     []CohortStats    `json:"cohorts,omitempty"`
	// DroppedSnapshots counts stale ticks skipped under backpressure.
	DroppedSnapshots int64 `json:"dropped_snapshots"`
}

// MarketActivity aggregates the fills of one market.
type MarketActivity struct {
	MarketID string  `json:"market_id"`
	Fills    int     `json:"fills"`
	Orders   int     `json:"orders"`
	Volume   float64 `json:"volume"`
	Notional float64 `json:"notional"`
	Fees     float64 `json:"fees"`
}

// SummarizeActivity groups fills per market, ordered by market id.
func SummarizeActivity(fills []Fill, marketOf func(tokenID string) string) []MarketActivity {
	byMarket := make(map[string]*MarketActivity)
	orders := make(map[string]map[string]struct{})
	for _, f := range fills {
		id := marketOf(f.TokenID)
		a, ok := byMarket[id]
		if !ok {
			a = &MarketActivity{MarketID: id}
			byMarket[id] = a
			orders[id] = make(map[string]struct{})
		}
		a.Fills++
		a.Volume += f.Size
		a.Notional += f.Notional()
		a.Fees += f.Fee
		orders[id][f.OrderID] = struct{}{}
	}

	out := make([]MarketActivity, 0, len(byMarket))
	for id, a := range byMarket {
		a.Orders = len(orders[id])
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}
