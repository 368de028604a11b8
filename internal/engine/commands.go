package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"strategy-engine/internal/position"
	"strategy-engine/internal/risk"
	"strategy-engine/internal/scorer"
)

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdClose
)

type command struct {
	kind   commandKind
	reason string
	reply  chan error
}

// runState is the controller's mutable status, shared with the API server
// through Status snapshots.
type runState struct {
	mu      sync.RWMutex
	running bool
	paused  bool
	signal  scorer.Bundle
	cycles  atomic.Int64
	halted  atomic.Bool
}

func newRunState() *runState { return &runState{} }

func (s *runState) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *runState) setPaused(v bool) {
	s.mu.Lock()
	s.paused = v
	s.mu.Unlock()
}

func (s *runState) isPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *runState) setSignal(b scorer.Bundle) {
	s.mu.Lock()
	s.signal = b
	s.mu.Unlock()
}

func (s *runState) cycleDone()     { s.cycles.Add(1) }
func (s *runState) setHalted()     { s.halted.Store(true) }
func (s *runState) isHalted() bool { return s.halted.Load() }

// Status is a point-in-time view of the engine for operators.
type Status struct {
	Running    bool          `json:"running"`
	Paused     bool          `json:"paused"`
	Halted     bool          `json:"halted"`
	Symbol     string        `json:"symbol"`
	Timeframe  string        `json:"timeframe"`
	Cycles     int64         `json:"cycles"`
	State      string        `json:"position_state"`
	LastSignal scorer.Bundle `json:"last_signal"`
}

// Status reports the engine's current run state.
func (c *Controller) Status() Status {
	c.state.mu.RLock()
	running := c.state.running
	paused := c.state.paused
	signal := c.state.signal
	c.state.mu.RUnlock()
	return Status{
		Running:    running,
		Paused:     paused,
		Halted:     c.state.isHalted(),
		Symbol:     c.cfg.Symbol,
		Timeframe:  c.cfg.Timeframe,
		Cycles:     c.state.cycles.Load(),
		State:      string(c.machine.State()),
		LastSignal: signal,
	}
}

// Position returns the current local position snapshot.
func (c *Controller) Position() position.Position { return c.machine.Position() }

// RiskState returns the current daily risk ledger snapshot.
func (c *Controller) RiskState() risk.State { return c.risk.Snapshot() }

// Pause stops new opens. Protective exits and force-closes keep working.
func (c *Controller) Pause() { c.enqueue(command{kind: cmdPause}) }

// Resume lifts a pause.
func (c *Controller) Resume() { c.enqueue(command{kind: cmdResume}) }

// ForceClose flattens the position through the engine's command channel so
// the close serializes with cycle-driven order flow. It blocks until the
// close finished or ctx expired.
func (c *Controller) ForceClose(ctx context.Context, reason string) error {
	reply := make(chan error, 1)
	select {
	case c.commands <- command{kind: cmdClose, reason: reason, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnTick feeds a streamed price into the protective exit rules. A triggered
// exit is enqueued as a close command rather than executed inline, keeping
// one order in flight per symbol.
func (c *Controller) OnTick(price float64) {
	pos := c.machine.Position()
	if !pos.Open() {
		return
	}
	c.risk.ObservePrice(pos, price)
	if reason, exit := c.risk.ExitReason(pos, price, -1); exit {
		c.enqueue(command{kind: cmdClose, reason: reason})
	}
}

// enqueue never blocks; a full command channel drops the request. The
// recurring cycle re-derives any dropped exit from fresh prices.
func (c *Controller) enqueue(cmd command) {
	select {
	case c.commands <- cmd:
	default:
		c.log.Warn("command queue full, request dropped")
	}
}

func (c *Controller) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdPause:
		c.state.setPaused(true)
		c.log.Info("engine paused")
	case cmdResume:
		c.state.setPaused(false)
		c.log.Info("engine resumed")
	case cmdClose:
		err := c.closePosition(ctx, cmd.reason)
		if cmd.reply != nil {
			cmd.reply <- err
		}
	}
	if cmd.reply != nil && cmd.kind != cmdClose {
		cmd.reply <- nil
	}
}
