package polymarket

// clob.go: Polymarket CLOB API adapter.
//
// FetchOrderBooks usa goroutines concurrentes para disparar múltiples batch requests
// en paralelo. El rate limiter (token bucket) en doWithRetry controla el ritmo
// automáticamente, las goroutines se "autolimitan" sin semáforo explícito.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/polysim/internal/domain"
)

const (
	clobMarketsPath = "/markets/"
	booksPath       = "/books"
	batchSize       = 20 // máx token_ids por request a /books y /last-trades-prices
)

// FetchOrderBooks obtiene los orderbooks para los token_ids dados usando el endpoint batch.
// Lanza un goroutine por batch (máx batchSize tokens cada uno) y los ejecuta
// concurrentemente.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	result, err := fetchBatched(ctx, tokenIDs, c.fetchBooksBatch)
	if err != nil {
		return nil, fmt.Errorf("clob.FetchOrderBooks: %w", err)
	}
	slog.Debug("polymarket: order books fetched", "tokens", len(tokenIDs), "books", len(result))
	return result, nil
}

// fetchBatched parte ids en batches de batchSize, llama fetch para cada uno en
// paralelo y une los resultados. Devuelve el primer error.
func fetchBatched[V any](ctx context.Context, ids []string, fetch func(context.Context, []string) (map[string]V, error)) (map[string]V, error) {
	if len(ids) == 0 {
		return map[string]V{}, nil
	}

	batches := splitBatches(ids, batchSize)

	type batchResult struct {
		items map[string]V
		err   error
		idx   int
	}

	resultCh := make(chan batchResult, len(batches))
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := fetch(ctx, batch)
			resultCh <- batchResult{items: items, err: err, idx: i}
		}()
	}

	// Cerrar el canal cuando todos los goroutines terminen
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	result := make(map[string]V, len(ids))
	var firstErr error

	for r := range resultCh {
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("batch %d: %w", r.idx, r.err)
			}
			continue
		}
		for k, v := range r.items {
			result[k] = v
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}

// splitBatches divide ids en slices de tamaño máximo size.
func splitBatches(ids []string, size int) [][]string {
	if size <= 0 {
		size = batchSize
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		batches = append(batches, ids[i:end])
	}
	return batches
}

// fetchBooksBatch hace un POST /books para un batch de token_ids.
func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []orderBookResponse
	url := c.clobBase + booksPath
	if err := c.post(ctx, c.booksLimiter, url, body, &resp); err != nil {
		return nil, fmt.Errorf("POST /books: %w", err)
	}

	return mapOrderBooks(resp), nil
}

// FetchListings devuelve mercado + tokens para cada condition_id.
// Los tokens y el tamaño de tick vienen del CLOB; el estado de resolución y la
// categoría de Gamma. Los mercados desconocidos (404) se omiten.
func (c *Client) FetchListings(ctx context.Context, marketIDs []string) ([]domain.Listing, error) {
	raw := make([]clobMarket, 0, len(marketIDs))
	for _, id := range marketIDs {
		var m clobMarket
		if err := c.get(ctx, c.clobLimiter, c.clobBase+clobMarketsPath+id, &m); err != nil {
			if isNotFound(err) {
				slog.Warn("polymarket: market not found, skipping", "market", domain.TruncateID(id, 16))
				continue
			}
			return nil, fmt.Errorf("clob.FetchListings %s: %w", domain.TruncateID(id, 16), err)
		}
		raw = append(raw, m)
	}

	ids := make([]string, len(raw))
	for i, m := range raw {
		ids[i] = m.ConditionID
	}
	metadata := c.fetchGammaMetadata(ctx, ids)

	listings := make([]domain.Listing, 0, len(raw))
	for _, m := range raw {
		l := mapListing(m)
		if gm, ok := metadata[m.ConditionID]; ok {
			applyGamma(&l.Market, gm)
		}
		listings = append(listings, l)
	}

	slog.Info("polymarket: listings fetched",
		"requested", len(marketIDs),
		"found", len(listings),
		"with_gamma", len(metadata),
	)
	return listings, nil
}
