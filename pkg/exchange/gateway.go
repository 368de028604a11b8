package exchange

import (
	"context"
	"errors"
)

// Venue error taxonomy. Gateways wrap raw venue failures into these so the
// retry layer can classify without knowing the venue.
var (
	// ErrDataUnavailable covers network and rate-limit failures on market
	// data requests. Retryable.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrOrderRejected means the venue refused the order. Not retryable:
	// the same request would be refused again.
	ErrOrderRejected = errors.New("order rejected")

	// ErrOrderTimeout means the venue did not acknowledge in time. The order
	// may or may not exist; only a reconcile can tell.
	ErrOrderTimeout = errors.New("order timeout")
)

// Gateway abstracts a trading venue.
//
// PlaceOrder must be idempotent by OrderRequest.IntentKey: a retried request
// carrying an already-acknowledged key returns the original result instead
// of producing a second fill.
type Gateway interface {
	Name() string
	GetBalance(ctx context.Context) (Balance, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	Filters(ctx context.Context, symbol string) (SymbolFilters, error)
}

// CandleSource supplies OHLCV history ordered oldest to newest.
type CandleSource interface {
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
}
