// Package paper implements an in-process venue for dry runs. Orders fill
// instantly at the mark price adjusted for slippage, with taker fees taken
// from the simulated balance.
package paper

import (
	"context"
	"fmt"
	"sync"

	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

// Config tunes the simulation.
type Config struct {
	InitialBalance float64
	FeeRate        float64 // taker fee fraction, e.g. 0.0004
	SlippageBps    float64 // adverse fill drift in basis points
}

// Gateway is a simulated venue. It honors the same idempotence contract as
// a real one: replaying an intent key returns the recorded fill.
type Gateway struct {
	cfg Config
	log *logger.Logger

	mu     sync.Mutex
	mark   map[string]float64
	pos    map[string]*exchange.Position
	bal    exchange.Balance
	fills  map[string]exchange.OrderResult
	nextID int
}

func New(cfg Config, log *logger.Logger) *Gateway {
	return &Gateway{
		cfg:   cfg,
		log:   log.With("paper"),
		mark:  make(map[string]float64),
		pos:   make(map[string]*exchange.Position),
		bal:   exchange.Balance{Total: cfg.InitialBalance, Available: cfg.InitialBalance},
		fills: make(map[string]exchange.OrderResult),
	}
}

func (g *Gateway) Name() string { return "paper" }

// SetMarkPrice feeds the simulation its market price. The engine calls this
// with each candle close before any order can reference the symbol.
func (g *Gateway) SetMarkPrice(symbol string, price float64) {
	g.mu.Lock()
	g.mark[symbol] = price
	g.mu.Unlock()
}

func (g *Gateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bal, nil
}

func (g *Gateway) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pos[symbol]
	if !ok || p.Qty == 0 {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.fills[req.IntentKey]; ok {
		return prev, nil
	}
	if req.Qty <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("%w: non-positive qty %.8f", exchange.ErrOrderRejected, req.Qty)
	}
	mark, ok := g.mark[req.Symbol]
	if !ok || mark <= 0 {
		return exchange.OrderResult{}, fmt.Errorf("%w: no mark price for %s", exchange.ErrDataUnavailable, req.Symbol)
	}

	// Slippage always moves against the taker.
	drift := mark * g.cfg.SlippageBps / 10000
	fillPrice := mark + drift
	if req.Side == exchange.SideSell {
		fillPrice = mark - drift
	}
	notional := fillPrice * req.Qty
	fee := notional * g.cfg.FeeRate

	signed := req.Qty
	if req.Side == exchange.SideSell {
		signed = -req.Qty
	}
	p := g.pos[req.Symbol]
	if p == nil {
		p = &exchange.Position{Symbol: req.Symbol}
		g.pos[req.Symbol] = p
	}

	opening := p.Qty == 0 || (p.Qty > 0) == (signed > 0)
	if opening {
		if notional+fee > g.bal.Available {
			return exchange.OrderResult{}, fmt.Errorf("%w: notional %.2f exceeds available %.2f",
				exchange.ErrOrderRejected, notional+fee, g.bal.Available)
		}
		// Weighted entry across adds.
		total := p.Qty + signed
		p.EntryPrice = (p.EntryPrice*abs(p.Qty) + fillPrice*req.Qty) / (abs(p.Qty) + req.Qty)
		p.Qty = total
		g.bal.Available -= notional
		g.bal.Locked += notional
	} else {
		closedQty := minf(req.Qty, abs(p.Qty))
		pnl := (fillPrice - p.EntryPrice) * closedQty
		if p.Qty < 0 {
			pnl = (p.EntryPrice - fillPrice) * closedQty
		}
		released := p.EntryPrice * closedQty
		g.bal.Locked -= released
		g.bal.Available += released + pnl
		g.bal.Total += pnl
		p.Qty += signed
		if p.Qty == 0 {
			p.EntryPrice = 0
		}
	}
	g.bal.Available -= fee
	g.bal.Total -= fee

	g.nextID++
	res := exchange.OrderResult{
		ExchangeOrderID: fmt.Sprintf("paper-%d", g.nextID),
		IntentKey:       req.IntentKey,
		Status:          exchange.StatusFilled,
		FillPrice:       fillPrice,
		FilledQty:       req.Qty,
		Fee:             fee,
	}
	g.fills[req.IntentKey] = res

	g.log.Debug("paper fill",
		logger.String("symbol", req.Symbol),
		logger.String("side", string(req.Side)),
		logger.Float64("qty", req.Qty),
		logger.Float64("price", fillPrice),
		logger.Float64("fee", fee))
	return res, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	// Market orders fill instantly; nothing can be in flight.
	return nil
}

func (g *Gateway) Filters(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
	return exchange.SymbolFilters{QtyStep: 0.0001, MinQty: 0.0001, MinNotional: 10}, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
