package polymarket

import "encoding/json"

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- CLOB API ---

// clobMarket es la respuesta de GET /markets/{condition_id}.
type clobMarket struct {
	ConditionID      string      `json:"condition_id"`
	QuestionID       string      `json:"question_id"`
	Tokens           []clobToken `json:"tokens"`
	MinimumOrderSize json.Number `json:"minimum_order_size"`
	MinimumTickSize  json.Number `json:"minimum_tick_size"`
	EndDateISO       string      `json:"end_date_iso"`
	Tags             []string    `json:"tags"`
	Active           bool        `json:"active"`
	Closed           bool        `json:"closed"`
}

// clobToken representa un token (YES/NO) en el CLOB.
type clobToken struct {
	TokenID string  `json:"token_id"`
	Outcome string  `json:"outcome"`
	Price   float64 `json:"price"`
	Winner  bool    `json:"winner"`
}

// orderBookRequest es el body del POST /books batch.
type orderBookRequest struct {
	TokenID string `json:"token_id"`
}

// orderBookResponse es la respuesta de un item en POST /books.
type orderBookResponse struct {
	Market         string         `json:"market"`
	AssetID        string         `json:"asset_id"`
	Timestamp      json.Number    `json:"timestamp"` // unix ms como string
	Hash           string         `json:"hash"`
	Bids           []bookEntryRaw `json:"bids"`
	Asks           []bookEntryRaw `json:"asks"`
	TickSize       string         `json:"tick_size"`
	MinOrderSize   string         `json:"min_order_size"`
	LastTradePrice string         `json:"last_trade_price"`
}

// bookEntryRaw es un nivel de precio raw de la API (strings para mayor precisión).
type bookEntryRaw struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// lastTradePriceResponse es un item de POST /last-trades-prices.
type lastTradePriceResponse struct {
	TokenID string `json:"token_id"`
	Price   string `json:"price"`
	Side    string `json:"side"`
}

// --- Gamma API ---

// gammaMarketsResponse es la respuesta de GET /markets de Gamma.
type gammaMarketsResponse []gammaMarket

// gammaMarket contiene la metadata y el estado de resolución de un mercado.
// Gamma devuelve algunos campos numéricos como strings JSON, usamos json.Number.
// OutcomePrices y ClobTokenIDs son arrays JSON codificados como string.
type gammaMarket struct {
	ConditionID         string      `json:"conditionId"`
	Question            string      `json:"question"`
	Slug                string      `json:"slug"`
	Category            string      `json:"category"`
	EndDateISO          string      `json:"endDateIso"`
	OutcomePrices       string      `json:"outcomePrices"`
	ClobTokenIDs        string      `json:"clobTokenIds"`
	UMAResolutionStatus string      `json:"umaResolutionStatus"`
	Volume24h           json.Number `json:"volume24hr"`
	Active              bool        `json:"active"`
	Closed              bool        `json:"closed"`
}

// --- Data API ---

// rawDataTrade es un trade de GET /trades de la Data API.
type rawDataTrade struct {
	ConditionID string      `json:"conditionId"`
	Asset       string      `json:"asset"`
	Side        string      `json:"side"`
	Price       json.Number `json:"price"`
	Size        json.Number `json:"size"`
	Timestamp   json.Number `json:"timestamp"`
}
