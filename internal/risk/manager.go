// Package risk gates every order: position sizing, protective price
// derivation, exit rules, the daily-loss circuit breaker and the
// consecutive-loss cooldown. The Manager is the sole writer of the risk
// State; all other components read snapshot copies.
package risk

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"strategy-engine/internal/events"
	"strategy-engine/internal/position"
	"strategy-engine/internal/scorer"
	"strategy-engine/pkg/config"
	"strategy-engine/pkg/db"
	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

// Manager evaluates signals against risk rules and tracks the daily ledger.
type Manager struct {
	cfg config.Risk
	db  *db.Database
	bus *events.Bus
	log *logger.Logger
	now func() time.Time

	mu    sync.RWMutex
	state State

	// Favorable extreme since entry, for the trailing callback exit.
	extreme     float64
	extremeOpen time.Time
}

// NewManager builds a manager starting from an empty ledger for today.
func NewManager(cfg config.Risk, database *db.Database, bus *events.Bus, log *logger.Logger) *Manager {
	m := &Manager{
		cfg: cfg,
		db:  database,
		bus: bus,
		log: log.With("risk"),
		now: func() time.Time { return time.Now().UTC() },
	}
	m.state = State{Date: m.today()}
	return m
}

func (m *Manager) today() string { return m.now().Format("2006-01-02") }

// Restore loads today's persisted ledger so a restart keeps the daily PnL
// and any active cooldown.
func (m *Manager) Restore(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	row, err := m.db.GetRiskDay(ctx, m.today())
	if err != nil {
		return fmt.Errorf("load risk day: %w", err)
	}
	if row == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = State{
		Date:              row.Date,
		DailyPnL:          row.DailyPnL,
		Trades:            row.Trades,
		Wins:              row.Wins,
		Losses:            row.Losses,
		ConsecutiveLosses: row.ConsecutiveLosses,
		Suspended:         row.Suspended,
	}
	if row.CooldownUntil.Valid {
		m.state.CooldownUntil = row.CooldownUntil.Time
	}
	return nil
}

// Snapshot returns a copy of the current risk state.
func (m *Manager) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Evaluate is the per-cycle verdict. Exit rules run before entry logic and
// never depend on the signal; the circuit breaker overrides everything.
func (m *Manager) Evaluate(ctx context.Context, bundle scorer.Bundle, pos position.Position, balance, price, rsi float64, filters exchange.SymbolFilters) Decision {
	m.rollover(ctx)
	m.observePrice(pos, price)

	breached := m.checkBreach(ctx, balance)
	if breached {
		if pos.Open() {
			return Decision{Action: ActionClose, Reason: ErrLimitBreached.Error()}
		}
		return Decision{Action: ActionNone, Reason: ErrLimitBreached.Error()}
	}

	if pos.Open() {
		if reason, exit := m.ExitReason(pos, price, rsi); exit {
			return Decision{Action: ActionClose, Reason: reason}
		}
		// A reconciled position adopted from the exchange has no stops yet;
		// set them from the adopted entry.
		if pos.StopLoss == 0 || pos.TakeProfit == 0 {
			sl, tp := m.ProtectiveStops(pos.Side, pos.EntryPrice)
			return Decision{Action: ActionAdjust, StopLoss: sl, TakeProfit: tp, Reason: "set protective stops on adopted position"}
		}
		if opposes(pos.Side, bundle.Signal) {
			return Decision{Action: ActionClose, Reason: fmt.Sprintf("signal reversal to %s", bundle.Signal)}
		}
		return Decision{Action: ActionNone}
	}

	// Flat: consider a fresh entry.
	if bundle.Signal == scorer.Flat {
		return Decision{Action: ActionNone}
	}
	state := m.Snapshot()
	if state.Suspended {
		return Decision{Action: ActionNone, Reason: "opens suspended until daily reset"}
	}
	if state.InCooldown(m.now()) {
		return Decision{Action: ActionNone, Reason: fmt.Sprintf("loss cooldown until %s", state.CooldownUntil.Format(time.RFC3339))}
	}

	qty := m.Size(balance, price, filters)
	if !filters.Tradable(qty, price) {
		return Decision{Action: ActionNone, Reason: fmt.Sprintf("sized qty %.8f below venue minimums", qty)}
	}

	side := position.SideLong
	orderSide := exchange.SideBuy
	if bundle.Signal == scorer.Short {
		side = position.SideShort
		orderSide = exchange.SideSell
	}
	sl, tp := m.ProtectiveStops(side, price)
	return Decision{
		Action:     ActionOpen,
		Side:       orderSide,
		Qty:        qty,
		Price:      price,
		StopLoss:   sl,
		TakeProfit: tp,
		Reason:     bundle.Reason,
	}
}

// Size computes the order quantity: the configured balance fraction capped
// by the hard notional limit, divided by price and floored to the venue
// quantity step.
func (m *Manager) Size(balance, price float64, filters exchange.SymbolFilters) float64 {
	if price <= 0 || balance <= 0 {
		return 0
	}
	notional := m.cfg.MaxPositionFraction * balance
	if notional > m.cfg.MaxNotional {
		notional = m.cfg.MaxNotional
	}
	return filters.FloorQty(notional / price)
}

// ProtectiveStops derives stop-loss and take-profit from the entry price.
func (m *Manager) ProtectiveStops(side position.Side, entry float64) (stopLoss, takeProfit float64) {
	if side == position.SideShort {
		return entry * (1 + m.cfg.StopLossRatio), entry * (1 - m.cfg.TakeProfitRatio)
	}
	return entry * (1 - m.cfg.StopLossRatio), entry * (1 + m.cfg.TakeProfitRatio)
}

// checkBreach evaluates the daily-loss circuit breaker and latches the
// suspension until the next daily reset.
func (m *Manager) checkBreach(ctx context.Context, balance float64) bool {
	m.mu.Lock()
	if m.state.Suspended {
		m.mu.Unlock()
		return true
	}
	limit := m.cfg.DailyLossLimit * balance
	if balance <= 0 || m.state.DailyPnL > -limit {
		m.mu.Unlock()
		return false
	}
	m.state.Suspended = true
	state := m.state
	m.mu.Unlock()

	m.log.Warn("daily loss limit breached, suspending opens",
		logger.Float64("daily_pnl", state.DailyPnL),
		logger.Float64("limit", limit))
	m.persist(ctx)
	if m.bus != nil {
		m.bus.Publish(events.TopicRiskAlert, events.RiskEvent{
			Kind:     "breach",
			DailyPnL: state.DailyPnL,
			Limit:    limit,
			Detail:   ErrLimitBreached.Error(),
		})
	}
	return true
}

// RecordTrade folds one realized round trip into the ledger. Only confirmed
// fills reach this point, so daily PnL tracks realized results exclusively.
func (m *Manager) RecordTrade(ctx context.Context, trade TradeOutcome) {
	m.rollover(ctx)

	m.mu.Lock()
	m.state.DailyPnL += trade.PnL
	m.state.Trades++
	if trade.PnL >= 0 {
		m.state.Wins++
		m.state.ConsecutiveLosses = 0
	} else {
		m.state.Losses++
		m.state.ConsecutiveLosses++
	}
	losses := m.state.ConsecutiveLosses
	var cooldown time.Duration
	if losses >= m.cfg.Cooldown.LossThreshold && m.cfg.Cooldown.LossThreshold > 0 && len(m.cfg.Cooldown.Tiers) > 0 {
		tier := losses - m.cfg.Cooldown.LossThreshold
		if tier >= len(m.cfg.Cooldown.Tiers) {
			tier = len(m.cfg.Cooldown.Tiers) - 1
		}
		cooldown = m.cfg.Cooldown.Tiers[tier].D()
		m.state.CooldownUntil = m.now().Add(cooldown)
	}
	state := m.state
	m.mu.Unlock()

	m.log.Info("trade recorded",
		logger.Float64("pnl", trade.PnL),
		logger.Float64("daily_pnl", state.DailyPnL),
		logger.Int("consecutive_losses", state.ConsecutiveLosses))
	m.persist(ctx)

	if cooldown > 0 && m.bus != nil {
		m.bus.Publish(events.TopicRiskAlert, events.RiskEvent{
			Kind:     "cooldown",
			Symbol:   trade.Symbol,
			DailyPnL: state.DailyPnL,
			Until:    state.CooldownUntil,
			Detail:   fmt.Sprintf("%d consecutive losses, opens paused %s", state.ConsecutiveLosses, cooldown),
		})
	}
}

// RecordError bumps the consecutive error counter.
func (m *Manager) RecordError() {
	m.mu.Lock()
	m.state.ConsecutiveErrors++
	m.mu.Unlock()
}

// ResetErrors clears the consecutive error counter after a clean cycle.
func (m *Manager) ResetErrors() {
	m.mu.Lock()
	m.state.ConsecutiveErrors = 0
	m.mu.Unlock()
}

// rollover resets daily counters when the UTC date changes. The cooldown
// carries across the boundary; the breach suspension does not.
func (m *Manager) rollover(ctx context.Context) {
	today := m.today()
	m.mu.Lock()
	if m.state.Date == today {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = State{
		Date:          today,
		CooldownUntil: prev.CooldownUntil,
	}
	// Loss streaks continue across days while the cooldown is active.
	if prev.CooldownUntil.After(m.now()) {
		m.state.ConsecutiveLosses = prev.ConsecutiveLosses
	}
	m.mu.Unlock()

	m.log.Info("daily risk reset",
		logger.String("closed_date", prev.Date),
		logger.Float64("closed_pnl", prev.DailyPnL))
	m.persist(ctx)
	if prev.Suspended && m.bus != nil {
		m.bus.Publish(events.TopicRiskAlert, events.RiskEvent{
			Kind:   "resume",
			Detail: "daily reset cleared the loss-limit suspension",
		})
	}
}

func (m *Manager) persist(ctx context.Context) {
	if m.db == nil {
		return
	}
	state := m.Snapshot()
	row := db.RiskDay{
		Date:              state.Date,
		DailyPnL:          state.DailyPnL,
		Trades:            state.Trades,
		Wins:              state.Wins,
		Losses:            state.Losses,
		ConsecutiveLosses: state.ConsecutiveLosses,
		Suspended:         state.Suspended,
	}
	if !state.CooldownUntil.IsZero() {
		row.CooldownUntil = sql.NullTime{Time: state.CooldownUntil, Valid: true}
	}
	if err := m.db.UpsertRiskDay(ctx, row); err != nil {
		m.log.Error("persist risk day", logger.Err(err))
	}
}

func opposes(side position.Side, signal scorer.Direction) bool {
	return (side == position.SideLong && signal == scorer.Short) ||
		(side == position.SideShort && signal == scorer.Long)
}
