package db

import (
	"database/sql"
	"time"
)

// Position is the persisted engine position for a symbol.
type Position struct {
	Symbol     string
	Side       string
	Qty        float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	State      string
	OpenedAt   time.Time
	UpdatedAt  time.Time
}

// Order is one order intent and its venue outcome, keyed by the idempotency
// intent key.
type Order struct {
	IntentKey       string
	ExchangeOrderID string
	Symbol          string
	Side            string
	Action          string // open, close, adjust
	Qty             float64
	FillPrice       float64
	FilledQty       float64
	Status          string
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Trade is one completed round trip with realized PnL.
type Trade struct {
	ID         string
	Symbol     string
	Side       string
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	PnL        float64
	Fee        float64
	Reason     string
	ClosedAt   time.Time
}

// RiskDay is the persisted RiskState for one UTC date.
type RiskDay struct {
	Date              string // YYYY-MM-DD, UTC
	DailyPnL          float64
	Trades            int
	Wins              int
	Losses            int
	ConsecutiveLosses int
	CooldownUntil     sql.NullTime
	Suspended         bool
}

// Signal is one emitted score bundle.
type Signal struct {
	ID          int64
	Symbol      string
	Direction   string
	Overall     float64
	Directional float64
	Trend       float64
	Indicator   float64
	Sentiment   float64
	Reason      string
	CreatedAt   time.Time
}

// HealthRecord is one health snapshot row.
type HealthRecord struct {
	ID           int64
	Status       string
	CPUPct       float64
	MemPct       float64
	DiskPct      float64
	ErrorCount   int
	LastSignalAt sql.NullTime
	CreatedAt    time.Time
}
