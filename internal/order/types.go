package order

import (
	"errors"

	"strategy-engine/pkg/exchange"
)

// Action labels why an order is being placed.
type Action string

const (
	ActionOpen   Action = "open"
	ActionClose  Action = "close"
	ActionForced Action = "forced_close"
)

// Intent is one order the engine wants on the venue. The executor assigns
// the intent key; callers describe only what to trade.
type Intent struct {
	Symbol string
	Side   exchange.Side
	Action Action
	Qty    float64
	Reason string
}

// ErrInFlight rejects a second order for a symbol while one is still being
// worked. The trading cycle is serialized, so hitting this means the tick
// watcher and the cycle raced.
var ErrInFlight = errors.New("order already in flight for symbol")
