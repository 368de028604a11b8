package risk

import (
	"context"
	"testing"
	"time"

	"strategy-engine/internal/position"
	"strategy-engine/internal/scorer"
	"strategy-engine/pkg/config"
	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

func testRiskConfig() config.Risk {
	return config.Risk{
		MaxPositionFraction: 0.1,
		MaxNotional:         100000,
		StopLossRatio:       0.02,
		TakeProfitRatio:     0.04,
		DailyLossLimit:      0.05,
		QtyStep:             0.0001,
		MinNotional:         10,
		RSITakeProfitLong:   75,
		RSITakeProfitShort:  25,
		CallbackRate:        0.05,
		Cooldown: config.Cooldown{
			LossThreshold: 2,
			Tiers: []config.Duration{
				config.Duration(24 * time.Hour),
				config.Duration(48 * time.Hour),
				config.Duration(72 * time.Hour),
			},
		},
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(testRiskConfig(), nil, nil, logger.Nop())
}

func longBundle() scorer.Bundle {
	return scorer.Bundle{Overall: 0.8, Signal: scorer.Long, Reason: "test long"}
}

func openLong(entry, sl, tp float64) position.Position {
	return position.Position{
		Symbol: "ETHUSDT", Side: position.SideLong, Qty: 0.5,
		EntryPrice: entry, StopLoss: sl, TakeProfit: tp,
		OpenedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func noFilters() exchange.SymbolFilters { return exchange.SymbolFilters{} }

func TestSizing(t *testing.T) {
	m := newTestManager(t)

	// balance 10000, fraction 0.1, price 2000 -> 0.5
	if got := m.Size(10000, 2000, noFilters()); got != 0.5 {
		t.Errorf("Size = %v, want 0.5", got)
	}

	// Quantity step flooring must not suffer float drift.
	if got := m.Size(10000, 3000, exchange.SymbolFilters{QtyStep: 0.0001}); got != 0.3333 {
		t.Errorf("floored size = %v, want 0.3333", got)
	}

	// Hard notional cap binds before the fraction when balance is large.
	m.cfg.MaxNotional = 500
	if got := m.Size(1000000, 2000, noFilters()); got != 0.25 {
		t.Errorf("capped size = %v, want 0.25", got)
	}
}

func TestProtectiveStops(t *testing.T) {
	m := newTestManager(t)

	sl, tp := m.ProtectiveStops(position.SideLong, 2000)
	if sl != 1960 {
		t.Errorf("long stop loss = %v, want 1960", sl)
	}
	if tp != 2080 {
		t.Errorf("long take profit = %v, want 2080", tp)
	}

	sl, tp = m.ProtectiveStops(position.SideShort, 2000)
	if sl != 2040 {
		t.Errorf("short stop loss = %v, want 2040", sl)
	}
	if tp != 1920 {
		t.Errorf("short take profit = %v, want 1920", tp)
	}
}

func TestEvaluateOpensOnSignal(t *testing.T) {
	m := newTestManager(t)
	dec := m.Evaluate(context.Background(), longBundle(), position.Position{Side: position.SideNone}, 10000, 2000, 55, noFilters())
	if dec.Action != ActionOpen || dec.Side != exchange.SideBuy {
		t.Fatalf("expected open buy, got %+v", dec)
	}
	if dec.Qty != 0.5 {
		t.Errorf("qty = %v, want 0.5", dec.Qty)
	}
	if dec.StopLoss != 1960 || dec.TakeProfit != 2080 {
		t.Errorf("stops = %v/%v, want 1960/2080", dec.StopLoss, dec.TakeProfit)
	}
}

func TestBreachForcesCloseAndBlocksOpens(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Realize a -600 loss on a 10000 balance with a 5% daily limit.
	m.RecordTrade(ctx, TradeOutcome{Symbol: "ETHUSDT", PnL: -600})

	pos := openLong(2000, 1960, 2080)
	dec := m.Evaluate(ctx, longBundle(), pos, 10000, 2000, 55, noFilters())
	if dec.Action != ActionClose {
		t.Fatalf("breach must force close, got %+v", dec)
	}

	// Any subsequent open is vetoed, regardless of signal strength.
	for _, overall := range []float64{0.6, 0.9, 1.0} {
		b := scorer.Bundle{Overall: overall, Signal: scorer.Long}
		dec := m.Evaluate(ctx, b, position.Position{Side: position.SideNone}, 10000, 2000, 55, noFilters())
		if dec.Action != ActionNone {
			t.Errorf("overall %.1f: breached manager must not open, got %+v", overall, dec)
		}
	}
	if !m.Snapshot().Suspended {
		t.Error("breach must latch the suspension")
	}
}

func TestBreachClearsOnDailyReset(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return day }
	m.state.Date = m.today()

	m.RecordTrade(ctx, TradeOutcome{PnL: -600})
	if dec := m.Evaluate(ctx, longBundle(), position.Position{Side: position.SideNone}, 10000, 2000, 55, noFilters()); dec.Action != ActionNone {
		t.Fatalf("expected veto before reset, got %+v", dec)
	}

	// Cross UTC midnight: suspension lifts, ledger resets.
	day = day.Add(2 * time.Hour)
	dec := m.Evaluate(ctx, longBundle(), position.Position{Side: position.SideNone}, 10000, 2000, 55, noFilters())
	if dec.Action != ActionOpen {
		t.Fatalf("expected open after daily reset, got %+v", dec)
	}
	if s := m.Snapshot(); s.DailyPnL != 0 || s.Suspended {
		t.Errorf("ledger should reset at the daily boundary: %+v", s)
	}
}

func TestExitRules(t *testing.T) {
	cases := []struct {
		name  string
		pos   position.Position
		price float64
		rsi   float64
		exit  bool
	}{
		{"long stop loss", openLong(2000, 1960, 2080), 1955, 50, true},
		{"long take profit", openLong(2000, 1960, 2080), 2085, 50, true},
		{"long holds in band", openLong(2000, 1960, 2080), 2010, 50, false},
		{"long rsi take profit", openLong(2000, 1960, 2080), 2010, 80, true},
		{"rsi skipped when unavailable", openLong(2000, 1960, 2080), 2010, -1, false},
		{
			"short stop loss",
			position.Position{Side: position.SideShort, Qty: 1, EntryPrice: 2000, StopLoss: 2040, TakeProfit: 1920},
			2045, 50, true,
		},
		{
			"short take profit",
			position.Position{Side: position.SideShort, Qty: 1, EntryPrice: 2000, StopLoss: 2040, TakeProfit: 1920},
			1915, 50, true,
		},
		{
			"short rsi take profit",
			position.Position{Side: position.SideShort, Qty: 1, EntryPrice: 2000, StopLoss: 2040, TakeProfit: 1920},
			1990, 20, true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t)
			reason, exit := m.ExitReason(tc.pos, tc.price, tc.rsi)
			if exit != tc.exit {
				t.Errorf("ExitReason(%v, %v) = (%q, %v), want exit=%v", tc.price, tc.rsi, reason, exit, tc.exit)
			}
		})
	}
}

func TestTrailingCallback(t *testing.T) {
	m := newTestManager(t)
	pos := openLong(2000, 1900, 2300)

	// Price runs to 2200, then gives back more than 5% while still above
	// entry: trailing exit.
	m.ObservePrice(pos, 2100)
	m.ObservePrice(pos, 2200)
	if _, exit := m.ExitReason(pos, 2150, 50); exit {
		t.Error("2.3% below peak should not trigger a 5% callback")
	}
	if reason, exit := m.ExitReason(pos, 2085, 50); !exit {
		t.Errorf("expected trailing exit at 2085 after peak 2200, got %q", reason)
	}

	// Below entry the plain stop loss governs, not the callback.
	if _, exit := m.ExitReason(pos, 1990, 50); exit {
		t.Error("callback must not fire below the entry price")
	}
}

func TestCooldownTiers(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	m.state.Date = m.today()

	m.RecordTrade(ctx, TradeOutcome{PnL: -10})
	if m.Snapshot().InCooldown(now) {
		t.Fatal("one loss must not start a cooldown")
	}

	m.RecordTrade(ctx, TradeOutcome{PnL: -10})
	s := m.Snapshot()
	if !s.InCooldown(now) {
		t.Fatal("second consecutive loss should start a cooldown")
	}
	if want := now.Add(24 * time.Hour); !s.CooldownUntil.Equal(want) {
		t.Errorf("first tier cooldown until %v, want %v", s.CooldownUntil, want)
	}

	m.RecordTrade(ctx, TradeOutcome{PnL: -10})
	if want := now.Add(48 * time.Hour); !m.Snapshot().CooldownUntil.Equal(want) {
		t.Errorf("second tier cooldown until %v, want %v", m.Snapshot().CooldownUntil, want)
	}

	// Opens are vetoed during cooldown.
	dec := m.Evaluate(ctx, longBundle(), position.Position{Side: position.SideNone}, 10000, 2000, 55, noFilters())
	if dec.Action != ActionNone {
		t.Errorf("expected veto during cooldown, got %+v", dec)
	}

	// A win resets the streak.
	m.RecordTrade(ctx, TradeOutcome{PnL: 50})
	if m.Snapshot().ConsecutiveLosses != 0 {
		t.Errorf("win must reset consecutive losses, got %d", m.Snapshot().ConsecutiveLosses)
	}
}

func TestSignalReversalCloses(t *testing.T) {
	m := newTestManager(t)
	pos := openLong(2000, 1960, 2080)
	b := scorer.Bundle{Overall: 0.1, Signal: scorer.Short}
	dec := m.Evaluate(context.Background(), b, pos, 10000, 2010, 50, noFilters())
	if dec.Action != ActionClose {
		t.Errorf("opposite signal should close, got %+v", dec)
	}
}

func TestAdoptedPositionGetsStops(t *testing.T) {
	m := newTestManager(t)
	pos := openLong(2000, 0, 0) // adopted from the exchange, no stops yet
	dec := m.Evaluate(context.Background(), scorer.Bundle{Signal: scorer.Flat}, pos, 10000, 2005, 50, noFilters())
	if dec.Action != ActionAdjust {
		t.Fatalf("expected adjust for missing stops, got %+v", dec)
	}
	if dec.StopLoss != 1960 || dec.TakeProfit != 2080 {
		t.Errorf("adjust stops = %v/%v, want 1960/2080", dec.StopLoss, dec.TakeProfit)
	}
}

func TestDailyPnLOnlyFromRealizedFills(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Evaluations with an open losing position must not move daily PnL.
	pos := openLong(2000, 1900, 2300)
	m.Evaluate(ctx, scorer.Bundle{Signal: scorer.Flat}, pos, 10000, 1950, 50, noFilters())
	if pnl := m.Snapshot().DailyPnL; pnl != 0 {
		t.Errorf("unrealized loss must not touch daily PnL, got %v", pnl)
	}

	m.RecordTrade(ctx, TradeOutcome{PnL: -25})
	if pnl := m.Snapshot().DailyPnL; pnl != -25 {
		t.Errorf("daily PnL = %v, want -25", pnl)
	}
}
