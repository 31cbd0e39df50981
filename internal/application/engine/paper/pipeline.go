package paper

import (
	"sort"
	"sync"

	"github.com/alejandrodnm/polysim/internal/domain"
	"github.com/alejandrodnm/polysim/internal/ledger"
	"github.com/alejandrodnm/polysim/internal/matching"
)

// pipeline is the sequential state of one market: the latest book, the
// matching engine and the position ledger of each of its tokens. Every
// operation on a market holds mu for its whole duration, so a cancel either
// completes before a tick is matched or after it, never in between.
type pipeline struct {
	mu sync.Mutex

	market  domain.Market
	tokens  map[string]domain.Token
	engines map[string]*matching.Engine
	ledgers map[string]*ledger.Ledger
	books   map[string]domain.OrderBook
}

func newPipeline(m domain.Market, tokens []domain.Token, feeRate float64) *pipeline {
	p := &pipeline{
		market:  m,
		tokens:  make(map[string]domain.Token, len(tokens)),
		engines: make(map[string]*matching.Engine, len(tokens)),
		ledgers: make(map[string]*ledger.Ledger, len(tokens)),
		books:   make(map[string]domain.OrderBook, len(tokens)),
	}
	for _, t := range tokens {
		t.MarketID = m.ID
		p.tokens[t.ID] = t
		p.engines[t.ID] = matching.New(t, feeRate)
		p.ledgers[t.ID] = ledger.New(t)
	}
	return p
}

// tokenIDs returns the market's token ids in a stable order.
func (p *pipeline) tokenIDs() []string {
	ids := make([]string, 0, len(p.tokens))
	for id := range p.tokens {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// lastUpdate is the newest book timestamp seen by the market, the
// simulation's notion of "now" for that market.
func (p *pipeline) lastUpdate() (latest domain.OrderBook, ok bool) {
	for _, b := range p.books {
		if !ok || b.Timestamp.After(latest.Timestamp) {
			latest, ok = b, true
		}
	}
	return latest, ok
}

func (p *pipeline) resting() []domain.Order {
	var out []domain.Order
	for _, id := range p.tokenIDs() {
		out = append(out, p.engines[id].Resting()...)
	}
	return out
}
