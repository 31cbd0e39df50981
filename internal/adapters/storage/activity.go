package storage

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/polysim/internal/domain"
)

// Activity agrega los fills del journal por mercado. El mercado de cada
// token se toma de las decisiones registradas.
func (s *SQLiteStorage) Activity(ctx context.Context) ([]domain.MarketActivity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(d.market_id, ''),
		       COUNT(*),
		       COUNT(DISTINCT f.order_id),
		       SUM(f.size),
		       SUM(f.size * f.price),
		       SUM(f.fee)
		FROM fills f
		LEFT JOIN (SELECT DISTINCT token_id, market_id FROM decisions) d
		       ON d.token_id = f.token_id
		GROUP BY 1
		ORDER BY 1 ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.Activity: query: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketActivity
	for rows.Next() {
		var a domain.MarketActivity
		if err := rows.Scan(&a.MarketID, &a.Fills, &a.Orders, &a.Volume, &a.Notional, &a.Fees); err != nil {
			return nil, fmt.Errorf("storage.Activity: scan row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
