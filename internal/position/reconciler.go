package position

import (
	"context"
	"fmt"
	"math"
	"time"

	"strategy-engine/internal/events"
	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

// qtyTolerance absorbs venue rounding when comparing quantities.
const qtyTolerance = 1e-8

// Reconciler resynchronizes the machine against exchange truth. It runs at
// startup, after order failures that leave the venue state uncertain, and
// whenever the machine detects a mismatch.
type Reconciler struct {
	machine     *Machine
	gw          exchange.Gateway
	bus         *events.Bus
	log         *logger.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// NewReconciler builds a reconciler; maxAttempts bounds how often a failing
// reconcile is retried before the engine must halt.
func NewReconciler(machine *Machine, gw exchange.Gateway, bus *events.Bus, log *logger.Logger, maxAttempts int, retryDelay time.Duration) *Reconciler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Reconciler{
		machine:     machine,
		gw:          gw,
		bus:         bus,
		log:         log.With("reconciler"),
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// Reconcile queries the venue and adopts its position as local truth. It
// returns ErrFatalHalt (wrapping the last failure) once all attempts are
// exhausted; the engine must then stop and alert.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.reconcileOnce(ctx); err != nil {
			lastErr = err
			r.log.Warn("reconcile attempt failed",
				logger.Int("attempt", attempt),
				logger.Int("max", r.maxAttempts),
				logger.Err(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.retryDelay):
			}
			continue
		}
		return nil
	}

	if r.bus != nil {
		r.bus.Publish(events.TopicEngineHalt, events.HaltEvent{
			Reason: fmt.Sprintf("reconciliation failed after %d attempts: %v", r.maxAttempts, lastErr),
			At:     time.Now().UTC(),
		})
	}
	return fmt.Errorf("%w: %v", ErrFatalHalt, lastErr)
}

func (r *Reconciler) reconcileOnce(ctx context.Context) error {
	symbol := r.machine.symbol
	exPos, err := r.gw.GetPosition(ctx, symbol)
	if err != nil {
		return fmt.Errorf("query exchange position: %w", err)
	}

	local := r.machine.Position()
	truth := fromExchange(symbol, exPos, local)

	if !differs(local, truth) && r.machine.State() != StateReconciling {
		return nil
	}

	if differs(local, truth) {
		r.log.Warn("adopting exchange position",
			logger.String("local_side", string(local.Side)),
			logger.Float64("local_qty", local.Qty),
			logger.String("exchange_side", string(truth.Side)),
			logger.Float64("exchange_qty", truth.Qty))
	}

	state := StateFlat
	if truth.Open() {
		state = StateOpen
	}
	r.machine.adopt(ctx, truth, state)
	return nil
}

// fromExchange converts the venue view into a local Position. Exchange
// reports no protective prices, so when the local side matches we keep the
// local stops; otherwise they are rebuilt by the risk manager on the next
// cycle from the adopted entry.
func fromExchange(symbol string, exPos *exchange.Position, local Position) Position {
	if exPos == nil || exPos.Qty == 0 {
		return Position{Symbol: symbol, Side: SideNone}
	}

	side := SideLong
	qty := exPos.Qty
	if qty < 0 {
		side = SideShort
		qty = -qty
	}

	pos := Position{
		Symbol:     symbol,
		Side:       side,
		Qty:        qty,
		EntryPrice: exPos.EntryPrice,
		OpenedAt:   time.Now().UTC(),
	}
	if local.Side == side {
		pos.StopLoss = local.StopLoss
		pos.TakeProfit = local.TakeProfit
		if !local.OpenedAt.IsZero() {
			pos.OpenedAt = local.OpenedAt
		}
	}
	return pos
}

func differs(local, truth Position) bool {
	if local.Side != truth.Side {
		return true
	}
	return math.Abs(local.Qty-truth.Qty) > qtyTolerance
}
