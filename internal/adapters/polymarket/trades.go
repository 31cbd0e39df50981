package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/polysim/internal/domain"
)

const (
	lastTradesPricesPath = "/last-trades-prices"
	recentTradesLimit    = 1
)

// FetchLastTradePrices devuelve el último precio negociado de cada token.
// Usa el endpoint batch del CLOB; los tokens que no aparecen en la respuesta
// se consultan uno a uno en la Data API.
func (c *Client) FetchLastTradePrices(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	prices, err := fetchBatched(ctx, tokenIDs, c.fetchLastTradesBatch)
	if err != nil {
		return nil, fmt.Errorf("clob.FetchLastTradePrices: %w", err)
	}

	for _, id := range tokenIDs {
		if _, ok := prices[id]; ok {
			continue
		}
		trades, err := c.FetchRecentTrades(ctx, id, recentTradesLimit)
		if err != nil {
			slog.Debug("polymarket: no recent trade", "token", domain.TruncateID(id, 12), "err", err)
			continue
		}
		if len(trades) > 0 {
			prices[id] = trades[0].Price
		}
	}
	return prices, nil
}

func (c *Client) fetchLastTradesBatch(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp []lastTradePriceResponse
	if err := c.post(ctx, c.booksLimiter, c.clobBase+lastTradesPricesPath, body, &resp); err != nil {
		return nil, fmt.Errorf("POST %s: %w", lastTradesPricesPath, err)
	}

	out := make(map[string]float64, len(resp))
	for _, r := range resp {
		if p, err := domain.ParsePrice(r.Price); err == nil && p > 0 {
			out[r.TokenID] = p
		}
	}
	return out, nil
}

// FetchRecentTrades obtiene los trades más recientes de un token usando la
// Data API pública, del más nuevo al más viejo.
func (c *Client) FetchRecentTrades(ctx context.Context, tokenID string, limit int) ([]domain.Trade, error) {
	url := fmt.Sprintf("%s/trades?asset=%s&limit=%d", c.dataBase, tokenID, limit)

	var resp []rawDataTrade
	if err := c.get(ctx, c.clobLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("data-api.FetchRecentTrades: %w", err)
	}

	trades := make([]domain.Trade, 0, len(resp))
	for _, rt := range resp {
		price, err := rt.Price.Float64()
		if err != nil || price <= 0 {
			continue
		}
		size, _ := rt.Size.Float64()
		trades = append(trades, domain.Trade{
			TokenID:   rt.Asset,
			Side:      domain.Side(strings.ToUpper(rt.Side)),
			Price:     price,
			Size:      size,
			Timestamp: parseTradeTimestamp(rt.Timestamp).UTC(),
		})
	}
	return trades, nil
}

// parseTradeTimestamp acepta unix en segundos o milisegundos (entero o
// decimal) y fechas ISO.
func parseTradeTimestamp(n json.Number) time.Time {
	s := n.String()
	if s == "" {
		return time.Time{}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		if sec > 1e12 {
			return time.UnixMilli(sec)
		}
		return time.Unix(sec, 0)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec := int64(f)
		nsec := int64((f - float64(sec)) * 1e9)
		return time.Unix(sec, nsec)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
