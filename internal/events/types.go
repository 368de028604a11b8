package events

import "time"

// Topic enumerates high-level event streams inside the engine.
type Topic string

const (
	TopicSignal         Topic = "signal"
	TopicOrderSubmitted Topic = "order.submitted"
	TopicOrderFilled    Topic = "order.filled"
	TopicOrderRejected  Topic = "order.rejected"
	TopicPositionChange Topic = "position.change"
	TopicTradeClosed    Topic = "trade.closed"
	TopicRiskAlert      Topic = "risk.alert"
	TopicHealthChange   Topic = "health.change"
	TopicEngineHalt     Topic = "engine.halt"
)

// SignalEvent carries one scored evaluation of the market.
type SignalEvent struct {
	Symbol      string
	Direction   string
	Overall     float64
	Directional float64
	Trend       float64
	Indicator   float64
	Sentiment   float64
	Reason      string
	At          time.Time
}

// OrderEvent carries an intent submission or its venue outcome.
type OrderEvent struct {
	IntentKey       string
	ExchangeOrderID string
	Symbol          string
	Side            string
	Action          string
	Qty             float64
	FillPrice       float64
	Status          string
	Err             string
}

// PositionEvent carries a state machine transition.
type PositionEvent struct {
	Symbol string
	From   string
	To     string
	Side   string
	Qty    float64
	Entry  float64
}

// TradeEvent carries one completed round trip.
type TradeEvent struct {
	Symbol   string
	Side     string
	Qty      float64
	Entry    float64
	Exit     float64
	PnL      float64
	Fee      float64
	Reason   string
	ClosedAt time.Time
}

// RiskEvent carries circuit breaker and cooldown notices.
type RiskEvent struct {
	Kind     string // breach, suspend, resume, cooldown
	Symbol   string
	DailyPnL float64
	Limit    float64
	Until    time.Time
	Detail   string
}

// HealthEvent carries a status change from the health monitor.
type HealthEvent struct {
	From   string
	To     string
	Detail string
	At     time.Time
}

// HaltEvent signals an unrecoverable condition that stopped trading.
type HaltEvent struct {
	Reason string
	At     time.Time
}
