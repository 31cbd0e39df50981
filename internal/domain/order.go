package domain

import (
	"math"
	"time"
)

// priceEpsilon absorbs float noise when comparing prices and tick alignment.
const priceEpsilon = 1e-9

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType selects how the matching engine treats an order.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// QueueMode is the queue-position assumption for resting LIMIT orders.
//   - CONSERVATIVE: back of the queue, fills only once price trades through.
//   - NEUTRAL: fills as soon as the opposing best touches the limit.
type QueueMode string

const (
	QueueConservative QueueMode = "CONSERVATIVE"
	QueueNeutral      QueueMode = "NEUTRAL"
)

// OrderStatus is the order lifecycle state.
// OPEN -> PARTIAL -> FILLED, OPEN|PARTIAL -> CANCELED.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "OPEN"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled
}

// OrderRequest is the boundary schema for an incoming order intent.
type OrderRequest struct {
	OrderID   string    `json:"order_id"`
	TokenID   string    `json:"token_id"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Type      OrderType `json:"type"`
	QueueMode QueueMode `json:"queue_mode,omitempty"`
}

// Order is an order owned by the matching engine of its token.
type Order struct {
	ID        string      `json:"order_id"`
	TokenID   string      `json:"token_id"`
	Side      Side        `json:"side"`
	Price     float64     `json:"price"`
	Size      float64     `json:"size"`
	Type      OrderType   `json:"type"`
	QueueMode QueueMode   `json:"queue_mode,omitempty"`
	Remaining float64     `json:"remaining"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`

	Filled       float64 `json:"filled"`
	AvgFillPrice float64 `json:"avg_fill_price"`
	TotalFees    float64 `json:"total_fees"`
}

// NewOrder creates an OPEN order from a request.
func NewOrder(req OrderRequest, createdAt time.Time) Order {
	o := Order{
		ID:        req.OrderID,
		TokenID:   req.TokenID,
		Side:      req.Side,
		Price:     req.Price,
		Size:      req.Size,
		Type:      req.Type,
		QueueMode: req.QueueMode,
		Remaining: req.Size,
		Status:    StatusOpen,
		CreatedAt: createdAt,
	}
	if o.Type == OrderMarket {
		o.Price = 0
		o.QueueMode = ""
	}
	return o
}

// Active reports whether the order can still receive fills.
func (o Order) Active() bool {
	return o.Status == StatusOpen || o.Status == StatusPartial
}

// Resting reports whether the order waits in the book for later ticks.
// A MARKET order left PARTIAL by exhausted depth is done: it never rests.
func (o Order) Resting() bool {
	return o.Type == OrderLimit && o.Active()
}

// ApplyFill records a fill against the order and advances its status.
// The caller guarantees size <= Remaining.
func (o *Order) ApplyFill(price, size, fee float64) {
	prevFilled := o.Filled
	o.Filled += size
	o.Remaining -= size
	if o.Remaining < sizeEpsilon {
		o.Remaining = 0
	}
	o.TotalFees += fee
	o.AvgFillPrice = (o.AvgFillPrice*prevFilled + price*size) / o.Filled
	if o.Remaining == 0 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartial
	}
}

// Fill is an immutable execution record, appended once and never changed.
type Fill struct {
	OrderID   string    `json:"order_id"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Fee       float64   `json:"fee"`
	Timestamp time.Time `json:"timestamp"`

	TokenID string `json:"-"`
	Side    Side   `json:"-"`
}

// Notional returns price × size.
func (f Fill) Notional() float64 {
	return f.Price * f.Size
}

// VWAP returns the volume-weighted average price of fills, 0 if empty.
func VWAP(fills []Fill) float64 {
	var notional, size float64
	for _, f := range fills {
		notional += f.Price * f.Size
		size += f.Size
	}
	if size == 0 {
		return 0
	}
	return notional / size
}

// Execution is the result of submitting an order or re-evaluating it on a
// new snapshot.
type Execution struct {
	Order          Order   `json:"order"`
	Fills          []Fill  `json:"fills"`
	DepthExhausted bool    `json:"depth_exhausted"`
	SlippageBps    float64 `json:"slippage_bps"`
}

// AlignedToTick reports whether price is a whole multiple of tick.
func AlignedToTick(price, tick float64) bool {
	if tick <= 0 {
		return true
	}
	steps := price / tick
	return math.Abs(steps-math.Round(steps)) < 1e-6
}

// PriceEqual compares two prices with float tolerance.
func PriceEqual(a, b float64) bool {
	return math.Abs(a-b) < priceEpsilon
}
