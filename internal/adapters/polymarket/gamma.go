package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	gammaMarketsPath  = "/markets"
	gammaConditionMax = 20
)

// fetchGammaMetadata obtiene la metadata de Gamma para los condition_ids dados.
// Es opcional: los batches que fallan se saltan y el mercado queda con el
// estado derivado del CLOB.
func (c *Client) fetchGammaMetadata(ctx context.Context, conditionIDs []string) map[string]gammaMarket {
	result := make(map[string]gammaMarket, len(conditionIDs))

	for i, batch := range splitBatches(conditionIDs, gammaConditionMax) {
		url := fmt.Sprintf("%s%s?condition_ids=%s&limit=%d",
			c.gammaBase,
			gammaMarketsPath,
			strings.Join(batch, ","),
			gammaConditionMax,
		)

		var resp gammaMarketsResponse
		if err := c.get(ctx, c.gammaLimiter, url, &resp); err != nil {
			slog.Warn("polymarket: gamma batch failed, skipping",
				"batch", i,
				"markets", len(batch),
				"err", err,
			)
			continue
		}

		for _, gm := range resp {
			result[gm.ConditionID] = gm
		}
	}

	return result
}
