package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side for a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes supported order types. The engine trades at market
// granularity; limit support exists for manual operator orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Candle is one fixed-interval OHLCV bar. Times are exchange epoch millis.
type Candle struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// OpenedAt returns the bar open as wall-clock time.
func (c Candle) OpenedAt() time.Time { return time.UnixMilli(c.OpenTime) }

// OrderRequest captures one order intent bound for a venue. IntentKey is the
// caller-chosen idempotency key: resubmitting the same key must not produce
// a second fill.
type OrderRequest struct {
	Symbol    string
	Side      Side
	Type      OrderType
	Qty       float64
	Price     float64 // required for LIMIT
	IntentKey string
}

// OrderResult is the venue acknowledgement for one request.
type OrderResult struct {
	ExchangeOrderID string
	IntentKey       string
	Status          OrderStatus
	FillPrice       float64
	FilledQty       float64
	Fee             float64
}

// Filled reports whether the venue confirmed a complete fill.
func (r OrderResult) Filled() bool { return r.Status == StatusFilled }

// Position is the venue-reported exposure for one symbol. Qty is signed:
// positive long, negative short, zero flat.
type Position struct {
	Symbol     string
	Qty        float64
	EntryPrice float64
}

// Balance is the venue-reported account balance in quote currency.
type Balance struct {
	Total     float64
	Available float64
	Locked    float64
}

// SymbolFilters carries the venue trading rules the sizer must respect.
type SymbolFilters struct {
	QtyStep     float64 // minimum quantity increment
	MinQty      float64
	MinNotional float64
}

// FloorQty floors qty to the symbol's quantity increment. Decimal arithmetic
// avoids float artifacts such as 0.5000000000000001 passing a step of 0.0001.
func (f SymbolFilters) FloorQty(qty float64) float64 {
	if f.QtyStep <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	step := decimal.NewFromFloat(f.QtyStep)
	floored, _ := q.Div(step).Floor().Mul(step).Float64()
	return floored
}

// Tradable reports whether a fill of qty at price clears the venue minimums.
func (f SymbolFilters) Tradable(qty, price float64) bool {
	if qty <= 0 {
		return false
	}
	if f.MinQty > 0 && qty < f.MinQty {
		return false
	}
	if f.MinNotional > 0 && qty*price < f.MinNotional {
		return false
	}
	return true
}
