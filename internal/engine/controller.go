// Package engine drives the trading loop: fetch candles, compute features,
// score, apply risk, and route the resulting decision through the position
// state machine and the order executor. All order flow is single-file; the
// tick watcher and the operator API only enqueue commands.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"strategy-engine/internal/balance"
	"strategy-engine/internal/events"
	"strategy-engine/internal/features"
	"strategy-engine/internal/metrics"
	"strategy-engine/internal/monitor"
	"strategy-engine/internal/order"
	"strategy-engine/internal/position"
	"strategy-engine/internal/risk"
	"strategy-engine/internal/scorer"
	"strategy-engine/pkg/config"
	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

// ErrHalted is returned by Run when trading stopped permanently, either
// because startup reconciliation failed or a mid-flight reconcile exhausted
// its attempts.
var ErrHalted = errors.New("engine halted")

// balanceMaxAge bounds how old the cached balance may be before a cycle
// refuses to trade on it.
const balanceMaxAge = 5 * time.Minute

// markSetter is implemented by the paper gateway; a live gateway ignores
// marks entirely.
type markSetter interface {
	SetMarkPrice(symbol string, price float64)
}

// Deps collects the collaborators the controller coordinates.
type Deps struct {
	Config     config.Strategy
	Gateway    exchange.Gateway
	Candles    exchange.CandleSource
	Scorer     *scorer.Scorer
	Risk       *risk.Manager
	Machine    *position.Machine
	Reconciler *position.Reconciler
	Executor   *order.Executor
	Balance    *balance.Manager
	Monitor    *monitor.Monitor
	Metrics    *metrics.Recorder
	Bus        *events.Bus
	Log        *logger.Logger
}

// Controller owns the per-symbol trading loop.
type Controller struct {
	cfg     config.Strategy
	gw      exchange.Gateway
	candles exchange.CandleSource
	scorer  *scorer.Scorer
	risk    *risk.Manager
	machine *position.Machine
	recon   *position.Reconciler
	exec    *order.Executor
	balance *balance.Manager
	monitor *monitor.Monitor
	metrics *metrics.Recorder
	bus     *events.Bus
	log     *logger.Logger

	commands chan command

	state *runState

	filters    exchange.SymbolFilters
	filtersOK  bool
	filtersErr bool
}

func New(d Deps) *Controller {
	return &Controller{
		cfg:      d.Config,
		gw:       d.Gateway,
		candles:  d.Candles,
		scorer:   d.Scorer,
		risk:     d.Risk,
		machine:  d.Machine,
		recon:    d.Reconciler,
		exec:     d.Executor,
		balance:  d.Balance,
		monitor:  d.Monitor,
		metrics:  d.Metrics,
		bus:      d.Bus,
		log:      d.Log.With("engine"),
		commands: make(chan command, 16),
		state:    newRunState(),
	}
}

// Run restores persisted state, reconciles against the exchange and then
// alternates between timer cycles and operator commands until ctx is
// cancelled or the engine halts. An in-flight order step always finishes
// before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.machine.Restore(ctx); err != nil {
		return fmt.Errorf("restore position: %w", err)
	}
	if err := c.risk.Restore(ctx); err != nil {
		return fmt.Errorf("restore risk state: %w", err)
	}
	if err := c.recon.Reconcile(ctx); err != nil {
		if errors.Is(err, position.ErrFatalHalt) {
			c.halt(err.Error())
			return fmt.Errorf("%w: %v", ErrHalted, err)
		}
		return err
	}
	c.state.setRunning(true)
	defer c.state.setRunning(false)

	interval := c.cfg.CycleInterval.D()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.log.Info("engine started",
		logger.String("symbol", c.cfg.Symbol),
		logger.String("timeframe", c.cfg.Timeframe),
		logger.Duration("cycle_interval", interval))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-c.commands:
			c.handle(ctx, cmd)
		case <-ticker.C:
			c.runCycle(ctx)
		}
		if c.state.isHalted() {
			return ErrHalted
		}
	}
}

// Cycle runs one evaluation immediately. Exposed for callers that do not
// want to wait for the first tick.
func (c *Controller) Cycle(ctx context.Context) {
	c.runCycle(ctx)
}

func (c *Controller) runCycle(ctx context.Context) {
	if c.state.isHalted() {
		return
	}
	start := time.Now()
	outcome := c.cycle(ctx)
	if c.metrics != nil {
		c.metrics.CycleCompleted(outcome, time.Since(start))
	}
	c.state.cycleDone()
}

func (c *Controller) cycle(ctx context.Context) string {
	if c.machine.State() == position.StateReconciling {
		if err := c.recon.Reconcile(ctx); err != nil {
			if errors.Is(err, position.ErrFatalHalt) {
				c.halt(err.Error())
			}
			return "error"
		}
	}

	if c.balance.Stale(balanceMaxAge) {
		c.risk.RecordError()
		if c.monitor != nil {
			c.monitor.RecordError()
		}
		if c.metrics != nil {
			c.metrics.ErrorOccurred("balance")
		}
		c.log.Warn("balance cache stale, skipping cycle")
		return "skipped"
	}

	candles, err := c.fetchCandles(ctx)
	if err != nil {
		// Scoring is skipped entirely; the health monitor still sees
		// the failure through its error counter.
		c.risk.RecordError()
		if c.monitor != nil {
			c.monitor.RecordError()
		}
		if c.metrics != nil {
			c.metrics.ErrorOccurred("market_data")
		}
		c.log.Warn("candle fetch failed, skipping cycle", logger.Err(err))
		return "skipped"
	}
	c.risk.ResetErrors()
	if c.monitor != nil {
		c.monitor.ResetErrors()
	}

	snap, err := features.Compute(candles, c.cfg.Windows)
	if err != nil {
		if errors.Is(err, features.ErrInsufficientHistory) {
			c.log.Debug("not enough history yet",
				logger.Int("candles", len(candles)))
			return "skipped"
		}
		c.log.Warn("feature computation failed", logger.Err(err))
		return "error"
	}

	bundle := c.scorer.Score(snap)
	c.state.setSignal(bundle)
	if c.monitor != nil {
		c.monitor.RecordSignal()
	}
	if c.metrics != nil {
		c.metrics.SignalEmitted(string(bundle.Signal))
		c.metrics.SetLastPrice(snap.Close)
	}
	if c.bus != nil {
		c.bus.Publish(events.TopicSignal, events.SignalEvent{
			Symbol:      c.cfg.Symbol,
			Direction:   string(bundle.Signal),
			Overall:     bundle.Overall,
			Directional: bundle.Directional(),
			Trend:       bundle.Trend,
			Indicator:   bundle.Indicator,
			Sentiment:   bundle.Sentiment,
			Reason:      bundle.Reason,
			At:          bundle.At,
		})
	}

	if ms, ok := c.gw.(markSetter); ok {
		ms.SetMarkPrice(c.cfg.Symbol, snap.Close)
	}

	pos := c.machine.Position()
	c.risk.ObservePrice(pos, snap.Close)

	dec := c.risk.Evaluate(ctx, bundle, pos, c.balance.Snapshot().Available,
		snap.Close, snap.RSI, c.symbolFilters(ctx))
	c.apply(ctx, dec)

	c.publishGauges()
	return "ok"
}

// fetchCandles retries transient market-data failures with exponential
// backoff, bounded by the configured attempt limit.
func (c *Controller) fetchCandles(ctx context.Context) ([]exchange.Candle, error) {
	boff := &backoff.Backoff{
		Min:    c.cfg.Retry.BackoffMin.D(),
		Max:    c.cfg.Retry.BackoffMax.D(),
		Factor: 2,
		Jitter: true,
	}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retry.MaxAttempts; attempt++ {
		candles, err := c.candles.GetCandles(ctx, c.cfg.Symbol, c.cfg.Timeframe, c.cfg.CandleLimit)
		if err == nil {
			return candles, nil
		}
		lastErr = err
		if !errors.Is(err, exchange.ErrDataUnavailable) {
			return nil, err
		}
		if attempt == c.cfg.Retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(boff.Duration()):
		}
	}
	return nil, fmt.Errorf("candle fetch exhausted retries: %w", lastErr)
}

func (c *Controller) apply(ctx context.Context, dec risk.Decision) {
	switch dec.Action {
	case risk.ActionOpen:
		if c.state.isPaused() {
			c.log.Info("open suppressed, engine paused",
				logger.String("reason", dec.Reason))
			return
		}
		if c.monitor != nil && c.monitor.PauseOpens() {
			c.log.Warn("open suppressed, health critical",
				logger.String("reason", dec.Reason))
			return
		}
		c.open(ctx, dec)
	case risk.ActionClose:
		if err := c.closePosition(ctx, dec.Reason); err != nil {
			c.log.Error("close failed", logger.Err(err))
		}
	case risk.ActionAdjust:
		if err := c.machine.AdjustStops(ctx, dec.StopLoss, dec.TakeProfit); err != nil {
			c.log.Warn("stop adjustment rejected", logger.Err(err))
		}
	default:
		if dec.Reason != "" {
			c.log.Debug("holding", logger.String("reason", dec.Reason))
		}
	}
}

func (c *Controller) open(ctx context.Context, dec risk.Decision) {
	if notional := dec.Qty * dec.Price; notional > 0 {
		if err := c.balance.Reserve(notional); err != nil {
			c.log.Warn("open suppressed, reservation failed", logger.Err(err))
			return
		}
		// The next balance sync reports the real post-fill numbers.
		defer c.balance.Release(notional)
	}

	if err := c.machine.BeginOpen(); err != nil {
		c.log.Warn("open rejected by state machine", logger.Err(err))
		return
	}

	start := time.Now()
	res, err := c.exec.Execute(ctx, order.Intent{
		Symbol: c.cfg.Symbol,
		Side:   dec.Side,
		Action: order.ActionOpen,
		Qty:    dec.Qty,
		Reason: dec.Reason,
	})
	if c.metrics != nil {
		status := string(res.Status)
		if status == "" {
			status = "error"
		}
		c.metrics.OrderFinished(status, time.Since(start))
	}
	if err != nil {
		c.orderFailure(err, "open")
		if !errors.Is(err, exchange.ErrOrderTimeout) {
			if ferr := c.machine.FailOpen(ctx); ferr != nil {
				c.log.Error("fail-open transition refused", logger.Err(ferr))
			}
		}
		return
	}

	side := position.SideLong
	if dec.Side == exchange.SideSell {
		side = position.SideShort
	}
	if err := c.machine.ConfirmOpen(ctx, side, res.FilledQty, res.FillPrice,
		dec.StopLoss, dec.TakeProfit); err != nil {
		c.log.Error("confirm-open transition refused", logger.Err(err))
	}
}

// closePosition flattens the current position. Used by the cycle, the tick
// watcher (via command) and the operator force-close.
func (c *Controller) closePosition(ctx context.Context, reason string) error {
	pos := c.machine.Position()
	if !pos.Open() {
		return nil
	}
	if err := c.machine.BeginClose(); err != nil {
		return err
	}

	start := time.Now()
	res, err := c.exec.Execute(ctx, order.Intent{
		Symbol: pos.Symbol,
		Side:   pos.Side.OrderSide().Opposite(),
		Action: order.ActionClose,
		Qty:    pos.Qty,
		Reason: reason,
	})
	if c.metrics != nil {
		status := string(res.Status)
		if status == "" {
			status = "error"
		}
		c.metrics.OrderFinished(status, time.Since(start))
	}
	if err != nil {
		c.orderFailure(err, "close")
		if !errors.Is(err, exchange.ErrOrderTimeout) {
			if ferr := c.machine.FailClose(); ferr != nil {
				c.log.Error("fail-close transition refused", logger.Err(ferr))
			}
		}
		return err
	}

	closed, err := c.machine.ConfirmClose(ctx)
	if err != nil {
		return err
	}
	c.settle(ctx, closed, res, reason)
	return nil
}

// settle books a confirmed round trip: realized PnL into the risk ledger,
// a trade event onto the bus, counters into monitor and metrics.
func (c *Controller) settle(ctx context.Context, closed position.Position, res exchange.OrderResult, reason string) {
	pnl := (res.FillPrice - closed.EntryPrice) * res.FilledQty
	if closed.Side == position.SideShort {
		pnl = -pnl
	}
	pnl -= res.Fee

	c.risk.RecordTrade(ctx, risk.TradeOutcome{
		Symbol:   closed.Symbol,
		Side:     closed.Side.OrderSide(),
		Qty:      res.FilledQty,
		Entry:    closed.EntryPrice,
		Exit:     res.FillPrice,
		PnL:      pnl,
		Fee:      res.Fee,
		ClosedAt: time.Now().UTC(),
	})
	if c.bus != nil {
		c.bus.Publish(events.TopicTradeClosed, events.TradeEvent{
			Symbol:   closed.Symbol,
			Side:     string(closed.Side),
			Qty:      res.FilledQty,
			Entry:    closed.EntryPrice,
			Exit:     res.FillPrice,
			PnL:      pnl,
			Fee:      res.Fee,
			Reason:   reason,
			ClosedAt: time.Now().UTC(),
		})
	}
	if c.monitor != nil {
		c.monitor.RecordTrade()
	}
	if c.metrics != nil {
		c.metrics.TradeClosed()
	}
	c.log.Info("position closed",
		logger.String("symbol", closed.Symbol),
		logger.Float64("pnl", pnl),
		logger.String("reason", reason))
}

func (c *Controller) orderFailure(err error, step string) {
	c.risk.RecordError()
	if c.monitor != nil {
		c.monitor.RecordError()
	}
	if c.metrics != nil {
		c.metrics.ErrorOccurred("order")
	}
	if errors.Is(err, exchange.ErrOrderTimeout) {
		// Outcome unknown: the venue may still fill the intent key.
		// Exchange truth is re-established before the next order.
		c.machine.MarkMismatch(fmt.Sprintf("%s order outcome unknown: %v", step, err))
	}
	c.log.Error("order execution failed",
		logger.String("step", step),
		logger.Err(err))
}

// symbolFilters returns venue lot-size limits, cached after the first
// successful fetch. A failed fetch degrades to the configured fallback
// filters until the venue answers.
func (c *Controller) symbolFilters(ctx context.Context) exchange.SymbolFilters {
	if c.filtersOK {
		return c.filters
	}
	f, err := c.gw.Filters(ctx, c.cfg.Symbol)
	if err != nil {
		if !c.filtersErr {
			c.log.Warn("symbol filter fetch failed, using configured fallbacks", logger.Err(err))
			c.filtersErr = true
		}
		return exchange.SymbolFilters{
			QtyStep:     c.cfg.Risk.QtyStep,
			MinNotional: c.cfg.Risk.MinNotional,
		}
	}
	c.filters = f
	c.filtersOK = true
	return f
}

func (c *Controller) publishGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.SetDailyPnL(c.risk.Snapshot().DailyPnL)
	pos := c.machine.Position()
	qty := pos.Qty
	if pos.Side == position.SideShort {
		qty = -qty
	}
	c.metrics.SetPositionQty(qty)
	if c.monitor != nil {
		c.metrics.SetHealthStatus(int(c.monitor.Snapshot().Status))
	}
}

func (c *Controller) halt(reason string) {
	c.state.setHalted()
	c.log.Error("trading halted", logger.String("reason", reason))
}
