package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"strategy-engine/internal/events"
	"strategy-engine/pkg/config"
	"strategy-engine/pkg/db"
	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

// Executor places orders on a gateway with retry and idempotence. Every
// intent gets one key for its whole lifetime; the venue deduplicates on it,
// so a retry after a timeout can never double-fill.
type Executor struct {
	gw       exchange.Gateway
	db       *db.Database
	bus      *events.Bus
	cfg      config.Retry
	log      *logger.Logger
	instance string

	mu       sync.Mutex
	inflight map[string]bool
}

func NewExecutor(gw exchange.Gateway, database *db.Database, bus *events.Bus, cfg config.Retry, log *logger.Logger) *Executor {
	return &Executor{
		gw:       gw,
		db:       database,
		bus:      bus,
		cfg:      cfg,
		log:      log.With("executor"),
		instance: instancePrefix(),
		inflight: make(map[string]bool),
	}
}

// Execute drives one intent to a terminal outcome: a fill, a venue
// rejection, or retry exhaustion. Transient failures (timeouts, data
// outages) are retried with the same intent key; rejections are not.
func (e *Executor) Execute(ctx context.Context, intent Intent) (exchange.OrderResult, error) {
	if err := e.acquire(intent.Symbol); err != nil {
		return exchange.OrderResult{}, err
	}
	defer e.release(intent.Symbol)

	key := newIntentKey(e.instance)
	req := exchange.OrderRequest{
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Type:      exchange.OrderTypeMarket,
		Qty:       intent.Qty,
		IntentKey: key,
	}

	e.storeSubmission(ctx, intent, key)
	if e.bus != nil {
		e.bus.Publish(events.TopicOrderSubmitted, events.OrderEvent{
			IntentKey: key,
			Symbol:    intent.Symbol,
			Side:      string(intent.Side),
			Action:    string(intent.Action),
			Qty:       intent.Qty,
			Status:    string(exchange.StatusNew),
		})
	}

	boff := &backoff.Backoff{
		Min:    e.cfg.BackoffMin.D(),
		Max:    e.cfg.BackoffMax.D(),
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		res, err := e.gw.PlaceOrder(ctx, req)
		if err == nil {
			e.storeResult(ctx, key, res, attempt)
			e.log.Info("order filled",
				logger.String("intent_key", key),
				logger.String("symbol", intent.Symbol),
				logger.String("side", string(intent.Side)),
				logger.Float64("qty", res.FilledQty),
				logger.Float64("price", res.FillPrice),
				logger.Int("attempt", attempt))
			if e.bus != nil {
				e.bus.Publish(events.TopicOrderFilled, events.OrderEvent{
					IntentKey:       key,
					ExchangeOrderID: res.ExchangeOrderID,
					Symbol:          intent.Symbol,
					Side:            string(intent.Side),
					Action:          string(intent.Action),
					Qty:             res.FilledQty,
					FillPrice:       res.FillPrice,
					Status:          string(res.Status),
				})
			}
			return res, nil
		}

		lastErr = err
		if errors.Is(err, exchange.ErrOrderRejected) {
			e.markFailed(ctx, key, exchange.StatusRejected, attempt)
			e.log.Warn("order rejected by venue",
				logger.String("intent_key", key),
				logger.Err(err))
			e.publishRejected(key, intent, err)
			return exchange.OrderResult{}, err
		}
		if !transient(err) {
			break
		}

		e.log.Warn("order attempt failed, retrying",
			logger.String("intent_key", key),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", e.cfg.MaxAttempts),
			logger.Err(err))
		if attempt == e.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			e.markFailed(ctx, key, exchange.StatusUnknown, attempt)
			return exchange.OrderResult{}, ctx.Err()
		case <-time.After(boff.Duration()):
		}
	}

	status := exchange.StatusUnknown
	if errors.Is(lastErr, exchange.ErrOrderTimeout) {
		// The venue may still fill this key. It stays in the store so
		// reconciliation can settle it against the exchange position.
		e.log.Error("order outcome unknown after retries",
			logger.String("intent_key", key),
			logger.Err(lastErr))
	} else {
		status = exchange.StatusExpired
	}
	e.markFailed(ctx, key, status, e.cfg.MaxAttempts)
	e.publishRejected(key, intent, lastErr)
	return exchange.OrderResult{}, fmt.Errorf("order %s exhausted retries: %w", key, lastErr)
}

// transient reports whether a placement error is worth retrying with the
// same intent key.
func transient(err error) bool {
	return errors.Is(err, exchange.ErrOrderTimeout) ||
		errors.Is(err, exchange.ErrDataUnavailable)
}

func (e *Executor) acquire(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[symbol] {
		return fmt.Errorf("%w: %s", ErrInFlight, symbol)
	}
	e.inflight[symbol] = true
	return nil
}

func (e *Executor) release(symbol string) {
	e.mu.Lock()
	delete(e.inflight, symbol)
	e.mu.Unlock()
}

func (e *Executor) storeSubmission(ctx context.Context, intent Intent, key string) {
	if e.db == nil {
		return
	}
	err := e.db.CreateOrder(ctx, db.Order{
		IntentKey: key,
		Symbol:    intent.Symbol,
		Side:      string(intent.Side),
		Action:    string(intent.Action),
		Qty:       intent.Qty,
		Status:    string(exchange.StatusNew),
	})
	if err != nil {
		e.log.Error("store order failed", logger.String("intent_key", key), logger.Err(err))
	}
}

func (e *Executor) storeResult(ctx context.Context, key string, res exchange.OrderResult, attempts int) {
	if e.db == nil {
		return
	}
	err := e.db.UpdateOrderResult(ctx, key, res.ExchangeOrderID, string(res.Status), res.FillPrice, res.FilledQty, attempts)
	if err != nil {
		e.log.Error("update order failed", logger.String("intent_key", key), logger.Err(err))
	}
}

func (e *Executor) markFailed(ctx context.Context, key string, status exchange.OrderStatus, attempts int) {
	if e.db == nil {
		return
	}
	err := e.db.UpdateOrderResult(ctx, key, "", string(status), 0, 0, attempts)
	if err != nil {
		e.log.Error("update order failed", logger.String("intent_key", key), logger.Err(err))
	}
}

func (e *Executor) publishRejected(key string, intent Intent, cause error) {
	if e.bus == nil {
		return
	}
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	e.bus.Publish(events.TopicOrderRejected, events.OrderEvent{
		IntentKey: key,
		Symbol:    intent.Symbol,
		Side:      string(intent.Side),
		Action:    string(intent.Action),
		Qty:       intent.Qty,
		Status:    string(exchange.StatusRejected),
		Err:       detail,
	})
}
