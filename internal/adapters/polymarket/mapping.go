package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// Polymarket usa varios formatos de fecha; intentamos los más comunes.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02",
}

func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// mapOrderBooks convierte la respuesta batch de /books a un map tokenID→OrderBook.
// El timestamp del snapshot es el del CLOB (unix ms); last_trade_price se
// conserva para el mark AGGRESSIVE.
func mapOrderBooks(raw []orderBookResponse) map[string]domain.OrderBook {
	result := make(map[string]domain.OrderBook, len(raw))
	for _, r := range raw {
		ob := domain.NewOrderBook(r.AssetID,
			mapBookEntries(r.Bids),
			mapBookEntries(r.Asks),
			parseTradeTimestamp(r.Timestamp).UTC(),
		)
		if p, err := domain.ParsePrice(r.LastTradePrice); err == nil && p > 0 {
			ob.LastTradePrice = p
		}
		result[r.AssetID] = ob
	}
	return result
}

// mapBookEntries convierte entries raw a domain.BookEntry. Los niveles
// ilegibles o vacíos se descartan; el orden lo fija domain.NewOrderBook.
func mapBookEntries(raw []bookEntryRaw) []domain.BookEntry {
	entries := make([]domain.BookEntry, 0, len(raw))
	for _, r := range raw {
		price, err := domain.ParsePrice(r.Price)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(r.Size, 64)
		if err != nil {
			continue
		}
		entries = append(entries, domain.BookEntry{Price: price, Size: size})
	}
	return entries
}

// mapListing convierte un mercado del CLOB a domain.Listing.
// Estado: cerrado → ENDED; con token ganador → RESOLVED.
func mapListing(r clobMarket) domain.Listing {
	m := domain.Market{
		ID:               r.ConditionID,
		EndTime:          parseDate(r.EndDateISO),
		ResolutionStatus: domain.ResolutionOpen,
	}
	if len(r.Tags) > 0 {
		m.Category = strings.ToLower(r.Tags[0])
	}

	tick, _ := r.MinimumTickSize.Float64()
	minSize, _ := r.MinimumOrderSize.Float64()

	l := domain.Listing{}
	var winner *domain.TokenSide
	for _, t := range r.Tokens {
		side, ok := tokenSide(t.Outcome)
		if !ok {
			continue
		}
		l.Tokens = append(l.Tokens, domain.Token{
			ID:       t.TokenID,
			MarketID: r.ConditionID,
			Side:     side,
			TickSize: tick,
			MinSize:  minSize,
		})
		if t.Winner {
			w := side
			winner = &w
		}
	}

	if r.Closed || !r.Active {
		m.ResolutionStatus = domain.ResolutionEnded
	}
	if winner != nil {
		outcome := 0.0
		if *winner == domain.TokenYes {
			outcome = 1
		}
		_ = m.Transition(domain.ResolutionResolved, &outcome)
	}

	l.Market = m
	return l
}

func tokenSide(outcome string) (domain.TokenSide, bool) {
	switch strings.ToUpper(strings.TrimSpace(outcome)) {
	case "YES":
		return domain.TokenYes, true
	case "NO":
		return domain.TokenNo, true
	}
	return "", false
}

// applyGamma aplica la metadata de Gamma sobre un mercado existente. El estado
// solo avanza (Transition rechaza retrocesos).
func applyGamma(m *domain.Market, gm gammaMarket) {
	if gm.Category != "" {
		m.Category = strings.ToLower(gm.Category)
	}
	if m.EndTime.IsZero() && gm.EndDateISO != "" {
		m.EndTime = parseDate(gm.EndDateISO)
	}

	if gm.Closed && m.ResolutionStatus == domain.ResolutionOpen {
		_ = m.Transition(domain.ResolutionEnded, nil)
	}

	switch strings.ToLower(gm.UMAResolutionStatus) {
	case "proposed":
		_ = m.Transition(domain.ResolutionProposed, nil)
	case "disputed":
		_ = m.Transition(domain.ResolutionDisputed, nil)
	case "resolved":
		if status, outcome := resolvedOutcome(gm.OutcomePrices); status != "" {
			_ = m.Transition(status, outcome)
		}
	}
}

// resolvedOutcome interpreta outcomePrices (["1","0"], ["0","1"] o el 50/50
// de un mercado anulado). El primer precio es el de YES. Devuelve "" si los
// precios no son definitivos.
func resolvedOutcome(outcomePrices string) (domain.ResolutionStatus, *float64) {
	var prices []string
	if err := json.Unmarshal([]byte(outcomePrices), &prices); err != nil || len(prices) < 2 {
		return "", nil
	}
	yes, err := strconv.ParseFloat(prices[0], 64)
	if err != nil {
		return "", nil
	}
	switch yes {
	case 1, 0:
		return domain.ResolutionResolved, &yes
	case 0.5:
		return domain.ResolutionVoided, nil
	}
	return "", nil
}
