package ports

import (
	"context"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// MarketProvider obtiene la metadata y el estado de resolución de los mercados.
type MarketProvider interface {
	// FetchListings devuelve mercado + tokens para cada condition_id.
	// Los mercados desconocidos se omiten sin error.
	FetchListings(ctx context.Context, marketIDs []string) ([]domain.Listing, error)
}
