// Package position owns the lifecycle of the single position per symbol.
// Transitions are driven only by confirmed exchange events; on disagreement
// with the exchange the machine reconciles toward exchange truth.
package position

import (
	"errors"
	"time"

	"strategy-engine/pkg/exchange"
)

// Side is the direction of market exposure.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
	SideNone  Side = "none"
)

// OrderSide maps exposure direction to the order side that opens it.
func (s Side) OrderSide() exchange.Side {
	if s == SideShort {
		return exchange.SideSell
	}
	return exchange.SideBuy
}

// State is the lifecycle state of the machine.
type State string

const (
	StateFlat        State = "flat"
	StateOpening     State = "opening"
	StateOpen        State = "open"
	StateClosing     State = "closing"
	StateReconciling State = "reconciling"
)

// Position is the local view of exposure for one symbol. StopLoss and
// TakeProfit are set together with the entry and never zero while Side is
// not none.
type Position struct {
	Symbol     string
	Side       Side
	Qty        float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time
}

// Open reports whether the position carries exposure.
func (p Position) Open() bool { return p.Side != SideNone && p.Qty > 0 }

var (
	// ErrBadTransition rejects a lifecycle step the current state does not
	// allow, such as opening while a close is in flight.
	ErrBadTransition = errors.New("invalid position transition")

	// ErrStateMismatch reports local/exchange disagreement; the machine
	// enters reconciling when it is raised.
	ErrStateMismatch = errors.New("local position disagrees with exchange")

	// ErrFatalHalt means reconciliation exhausted its retries. The engine
	// must stop trading and alert the operator.
	ErrFatalHalt = errors.New("reconciliation failed, trading halted")
)
