package risk

import (
	"errors"
	"time"

	"strategy-engine/pkg/exchange"
)

// ErrLimitBreached marks the daily-loss circuit breaker. Opens and stop
// adjustments are vetoed while it holds; any open position is force-closed.
var ErrLimitBreached = errors.New("daily loss limit breached")

// Action is the decision kind for one cycle.
type Action string

const (
	ActionNone  Action = "none"
	ActionOpen  Action = "open"
	ActionClose Action = "close"
	// ActionAdjust moves the protective stops of an open position without
	// changing exposure.
	ActionAdjust Action = "adjust"
)

// Decision is the risk manager's verdict for one cycle. Qty and the
// protective prices are populated for open decisions; Reason explains
// closes and vetoes.
type Decision struct {
	Action     Action
	Side       exchange.Side
	Qty        float64
	Price      float64 // reference price the sizing used
	StopLoss   float64
	TakeProfit float64
	Reason     string
}

// State is the daily risk ledger. The Manager is its only writer; everyone
// else works on snapshot copies.
type State struct {
	Date              string // UTC YYYY-MM-DD
	DailyPnL          float64
	Trades            int
	Wins              int
	Losses            int
	ConsecutiveLosses int
	ConsecutiveErrors int
	CooldownUntil     time.Time
	Suspended         bool
}

// InCooldown reports whether opens are suspended by the loss cooldown.
func (s State) InCooldown(now time.Time) bool {
	return !s.CooldownUntil.IsZero() && now.Before(s.CooldownUntil)
}

// TradeOutcome is one realized round trip reported by the engine after a
// confirmed close fill.
type TradeOutcome struct {
	Symbol   string
	Side     exchange.Side
	Qty      float64
	Entry    float64
	Exit     float64
	PnL      float64 // net of fees
	Fee      float64
	ClosedAt time.Time
}
