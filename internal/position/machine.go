package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"strategy-engine/internal/events"
	"strategy-engine/pkg/db"
	"strategy-engine/pkg/logger"
)

// Machine is the per-symbol position state machine. It is the sole writer of
// the Position; readers get snapshot copies. Every confirmed transition is
// persisted so a restart resumes from the last known state.
type Machine struct {
	symbol string
	db     *db.Database
	bus    *events.Bus
	log    *logger.Logger

	mu    sync.RWMutex
	state State
	pos   Position
}

// NewMachine starts in flat with no exposure. Call Restore before trading to
// seed from persisted state.
func NewMachine(symbol string, database *db.Database, bus *events.Bus, log *logger.Logger) *Machine {
	return &Machine{
		symbol: symbol,
		db:     database,
		bus:    bus,
		log:    log.With("position"),
		state:  StateFlat,
		pos:    Position{Symbol: symbol, Side: SideNone},
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Position returns a snapshot copy of the local position.
func (m *Machine) Position() Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pos
}

// Restore seeds local state from the persisted position row. In-flight
// states (opening/closing) restore as reconciling so the startup reconcile
// resolves what actually happened at the venue.
func (m *Machine) Restore(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	row, err := m.db.GetPosition(ctx, m.symbol)
	if err != nil {
		return fmt.Errorf("load persisted position: %w", err)
	}
	if row == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = Position{
		Symbol:     row.Symbol,
		Side:       Side(row.Side),
		Qty:        row.Qty,
		EntryPrice: row.EntryPrice,
		StopLoss:   row.StopLoss,
		TakeProfit: row.TakeProfit,
		OpenedAt:   row.OpenedAt,
	}
	switch State(row.State) {
	case StateOpen:
		m.state = StateOpen
	case StateFlat, "":
		m.state = StateFlat
	default:
		m.log.Warn("restored in-flight position state, forcing reconcile",
			logger.String("state", row.State))
		m.state = StateReconciling
	}
	return nil
}

// BeginOpen moves flat → opening. The position itself is untouched until the
// venue confirms a fill.
func (m *Machine) BeginOpen() error {
	return m.transition(StateFlat, StateOpening)
}

// ConfirmOpen records a confirmed entry fill: opening → open. Stop-loss and
// take-profit are set atomically with the entry; a zero protective price is
// a programming error and is rejected.
func (m *Machine) ConfirmOpen(ctx context.Context, side Side, qty, fillPrice, stopLoss, takeProfit float64) error {
	if stopLoss <= 0 || takeProfit <= 0 {
		return fmt.Errorf("%w: protective prices must be set with the entry", ErrBadTransition)
	}

	m.mu.Lock()
	if m.state != StateOpening {
		from := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: confirm open from %s", ErrBadTransition, from)
	}
	m.state = StateOpen
	m.pos = Position{
		Symbol:     m.symbol,
		Side:       side,
		Qty:        qty,
		EntryPrice: fillPrice,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   time.Now().UTC(),
	}
	pos := m.pos
	m.mu.Unlock()

	m.persist(ctx, StateOpen, pos)
	m.publish(StateOpening, StateOpen, pos)
	return nil
}

// FailOpen records a definitive venue failure before any fill: opening → flat.
func (m *Machine) FailOpen(ctx context.Context) error {
	if err := m.transition(StateOpening, StateFlat); err != nil {
		return err
	}
	m.persist(ctx, StateFlat, m.Position())
	return nil
}

// BeginClose moves open → closing.
func (m *Machine) BeginClose() error {
	return m.transition(StateOpen, StateClosing)
}

// ConfirmClose records a confirmed exit fill: closing → flat. The previous
// position is returned so the caller can realize PnL from it.
func (m *Machine) ConfirmClose(ctx context.Context) (Position, error) {
	m.mu.Lock()
	if m.state != StateClosing {
		from := m.state
		m.mu.Unlock()
		return Position{}, fmt.Errorf("%w: confirm close from %s", ErrBadTransition, from)
	}
	closed := m.pos
	m.state = StateFlat
	m.pos = Position{Symbol: m.symbol, Side: SideNone}
	m.mu.Unlock()

	m.persist(ctx, StateFlat, m.pos)
	m.publish(StateClosing, StateFlat, closed)
	return closed, nil
}

// FailClose returns closing → open after a definitive venue failure; the
// exposure is still on the book.
func (m *Machine) FailClose() error {
	return m.transition(StateClosing, StateOpen)
}

// AdjustStops replaces the protective prices on an open position.
func (m *Machine) AdjustStops(ctx context.Context, stopLoss, takeProfit float64) error {
	m.mu.Lock()
	if m.state != StateOpen {
		from := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: adjust stops from %s", ErrBadTransition, from)
	}
	if stopLoss > 0 {
		m.pos.StopLoss = stopLoss
	}
	if takeProfit > 0 {
		m.pos.TakeProfit = takeProfit
	}
	pos := m.pos
	m.mu.Unlock()

	m.persist(ctx, StateOpen, pos)
	return nil
}

// MarkMismatch forces the machine into reconciling from any state.
func (m *Machine) MarkMismatch(detail string) {
	m.mu.Lock()
	from := m.state
	m.state = StateReconciling
	m.mu.Unlock()

	m.log.Warn("state mismatch, reconciling",
		logger.String("from", string(from)),
		logger.String("detail", detail))
}

// adopt overwrites local state with exchange truth. Used by the reconciler.
func (m *Machine) adopt(ctx context.Context, pos Position, state State) {
	m.mu.Lock()
	from := m.state
	m.state = state
	m.pos = pos
	m.mu.Unlock()

	m.persist(ctx, state, pos)
	if from != state {
		m.publish(from, state, pos)
	}
}

// transition performs a simple guarded state move without touching the
// position.
func (m *Machine) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return fmt.Errorf("%w: %s -> %s while %s", ErrBadTransition, from, to, m.state)
	}
	m.state = to
	return nil
}

func (m *Machine) persist(ctx context.Context, state State, pos Position) {
	if m.db == nil {
		return
	}
	err := m.db.UpsertPosition(ctx, db.Position{
		Symbol:     m.symbol,
		Side:       string(pos.Side),
		Qty:        pos.Qty,
		EntryPrice: pos.EntryPrice,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		State:      string(state),
		OpenedAt:   pos.OpenedAt,
	})
	if err != nil {
		m.log.Error("persist position", logger.Err(err))
	}
}

func (m *Machine) publish(from, to State, pos Position) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.TopicPositionChange, events.PositionEvent{
		Symbol: m.symbol,
		From:   string(from),
		To:     string(to),
		Side:   string(pos.Side),
		Qty:    pos.Qty,
		Entry:  pos.EntryPrice,
	})
}
