// Package binance adapts Binance USDT-margined futures to the engine's
// gateway contract.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

// Config holds venue credentials.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// Gateway talks to Binance futures. Orders carry the intent key as the
// client order id, which the venue deduplicates, so a retried placement
// resolves to the original order instead of a second fill.
type Gateway struct {
	client  *futures.Client
	limiter *exchange.Limiter
	log     *logger.Logger

	mu      sync.RWMutex
	filters map[string]exchange.SymbolFilters
}

func New(cfg Config, log *logger.Logger) *Gateway {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	return &Gateway{
		client:  binance.NewFuturesClient(cfg.APIKey, cfg.APISecret),
		limiter: exchange.NewLimiter(10, 20, 2400, time.Minute),
		log:     log.With("binance"),
		filters: make(map[string]exchange.SymbolFilters),
	}
}

func (g *Gateway) Name() string { return "binance-futures" }

// Limiter exposes rate-limit usage for the health monitor.
func (g *Gateway) Limiter() *exchange.Limiter { return g.limiter }

func (g *Gateway) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	g.limiter.AddWeight(klineWeight(limit))

	raw, err := g.client.NewKlinesService().
		Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
	if err != nil {
		return nil, dataErr("klines", err)
	}

	out := make([]exchange.Candle, 0, len(raw))
	for _, k := range raw {
		out = append(out, exchange.Candle{
			OpenTime:  k.OpenTime,
			Open:      parseF(k.Open),
			High:      parseF(k.High),
			Low:       parseF(k.Low),
			Close:     parseF(k.Close),
			Volume:    parseF(k.Volume),
			CloseTime: k.CloseTime,
		})
	}
	return out, nil
}

func (g *Gateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return exchange.Balance{}, err
	}
	g.limiter.AddWeight(5)

	acc, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, dataErr("account", err)
	}
	total := parseF(acc.TotalWalletBalance)
	margin := parseF(acc.TotalInitialMargin)
	return exchange.Balance{
		Total:     total,
		Available: parseF(acc.AvailableBalance),
		Locked:    margin,
	}, nil
}

func (g *Gateway) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	g.limiter.AddWeight(5)

	risks, err := g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, dataErr("position risk", err)
	}
	for _, p := range risks {
		qty := parseF(p.PositionAmt)
		if p.Symbol != symbol || qty == 0 {
			continue
		}
		return &exchange.Position{
			Symbol:     p.Symbol,
			Qty:        qty,
			EntryPrice: parseF(p.EntryPrice),
		}, nil
	}
	return nil, nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderResult, error) {
	filters, err := g.Filters(ctx, req.Symbol)
	if err != nil {
		return exchange.OrderResult{}, err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return exchange.OrderResult{}, err
	}
	g.limiter.AddWeight(1)

	side := futures.SideTypeBuy
	if req.Side == exchange.SideSell {
		side = futures.SideTypeSell
	}
	res, err := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(req.Qty, filters.QtyStep)).
		NewClientOrderID(req.IntentKey).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		// The venue rejects a replayed client order id as a duplicate;
		// resolve it to the original order.
		if isDuplicate(err) {
			return g.lookupByIntent(ctx, req.Symbol, req.IntentKey)
		}
		return exchange.OrderResult{}, orderErr(err)
	}

	return exchange.OrderResult{
		ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
		IntentKey:       res.ClientOrderID,
		Status:          mapStatus(res.Status),
		FillPrice:       parseF(res.AvgPrice),
		FilledQty:       parseF(res.ExecutedQuantity),
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error {
	id, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("bad order id %q: %w", exchangeOrderID, err)
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	g.limiter.AddWeight(1)
	_, err = g.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return orderErr(err)
	}
	return nil
}

// Filters returns the lot and notional constraints for a symbol, cached
// for the process lifetime. Exchange info is heavy, so it is fetched once.
func (g *Gateway) Filters(ctx context.Context, symbol string) (exchange.SymbolFilters, error) {
	g.mu.RLock()
	f, ok := g.filters[symbol]
	g.mu.RUnlock()
	if ok {
		return f, nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return exchange.SymbolFilters{}, err
	}
	g.limiter.AddWeight(1)

	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.SymbolFilters{}, dataErr("exchange info", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range info.Symbols {
		sf := exchange.SymbolFilters{}
		if lot := s.LotSizeFilter(); lot != nil {
			sf.QtyStep = parseF(lot.StepSize)
			sf.MinQty = parseF(lot.MinQuantity)
		}
		if mn := s.MinNotionalFilter(); mn != nil {
			sf.MinNotional = parseF(mn.Notional)
		}
		g.filters[s.Symbol] = sf
	}
	f, ok = g.filters[symbol]
	if !ok {
		return exchange.SymbolFilters{}, fmt.Errorf("%w: symbol %s not listed", exchange.ErrDataUnavailable, symbol)
	}
	return f, nil
}

// lookupByIntent resolves an already-submitted intent key to its order.
func (g *Gateway) lookupByIntent(ctx context.Context, symbol, intentKey string) (exchange.OrderResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return exchange.OrderResult{}, err
	}
	g.limiter.AddWeight(1)

	o, err := g.client.NewGetOrderService().
		Symbol(symbol).OrigClientOrderID(intentKey).Do(ctx)
	if err != nil {
		return exchange.OrderResult{}, orderErr(err)
	}
	return exchange.OrderResult{
		ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
		IntentKey:       o.ClientOrderID,
		Status:          mapStatus(o.Status),
		FillPrice:       parseF(o.AvgPrice),
		FilledQty:       parseF(o.ExecutedQuantity),
	}, nil
}

func mapStatus(s futures.OrderStatusType) exchange.OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return exchange.StatusNew
	case futures.OrderStatusTypePartiallyFilled:
		return exchange.StatusPartial
	case futures.OrderStatusTypeFilled:
		return exchange.StatusFilled
	case futures.OrderStatusTypeCanceled:
		return exchange.StatusCanceled
	case futures.OrderStatusTypeRejected:
		return exchange.StatusRejected
	case futures.OrderStatusTypeExpired:
		return exchange.StatusExpired
	default:
		return exchange.StatusUnknown
	}
}

// dataErr wraps market data failures into the retryable taxonomy.
func dataErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", exchange.ErrDataUnavailable, op, err)
}

// orderErr classifies placement failures: an explicit venue refusal is
// terminal, anything else leaves the outcome unknown.
func orderErr(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: code %d: %s", exchange.ErrOrderRejected, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", exchange.ErrOrderTimeout, err)
}

// -4015 is the futures "client order id duplicated" code.
func isDuplicate(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == -4015
}

func parseF(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// formatQty renders a quantity at the precision of the venue's lot step.
func formatQty(qty, step float64) string {
	decimals := 0
	for step > 0 && step < 1 && decimals < 8 {
		step *= 10
		decimals++
	}
	return strconv.FormatFloat(qty, 'f', decimals, 64)
}

// klineWeight follows the documented tiers for the klines endpoint.
func klineWeight(limit int) int {
	switch {
	case limit < 100:
		return 1
	case limit < 500:
		return 2
	case limit <= 1000:
		return 5
	default:
		return 10
	}
}
