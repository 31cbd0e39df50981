package ports

import "context"

// TradeProvider obtiene el último precio negociado de cada token.
// Se usa para el mark AGGRESSIVE cuando el snapshot no lo trae.
type TradeProvider interface {
	FetchLastTradePrices(ctx context.Context, tokenIDs []string) (map[string]float64, error)
}
