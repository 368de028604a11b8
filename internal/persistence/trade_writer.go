package persistence

import (
	"context"

	"github.com/google/uuid"

	"strategy-engine/internal/events"
	"strategy-engine/pkg/db"
	"strategy-engine/pkg/logger"
)

// TradeWriter appends every closed round trip to the trades table. Closes
// are rare, so each one is written immediately instead of batched.
type TradeWriter struct {
	db  *db.Database
	bus *events.Bus
	log *logger.Logger
}

func NewTradeWriter(database *db.Database, bus *events.Bus, log *logger.Logger) *TradeWriter {
	return &TradeWriter{
		db:  database,
		bus: bus,
		log: log.With("trade-writer"),
	}
}

// Run consumes trade-closed events until ctx is canceled.
func (w *TradeWriter) Run(ctx context.Context) {
	stream, unsub := w.bus.Subscribe(events.TopicTradeClosed, 32)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-stream:
			ev, ok := raw.(events.TradeEvent)
			if !ok {
				continue
			}
			w.record(ctx, ev)
		}
	}
}

func (w *TradeWriter) record(ctx context.Context, ev events.TradeEvent) {
	err := w.db.RecordTrade(ctx, db.Trade{
		ID:         uuid.NewString(),
		Symbol:     ev.Symbol,
		Side:       ev.Side,
		Qty:        ev.Qty,
		EntryPrice: ev.Entry,
		ExitPrice:  ev.Exit,
		PnL:        ev.PnL,
		Fee:        ev.Fee,
		Reason:     ev.Reason,
	})
	if err != nil {
		w.log.Error("trade write failed",
			logger.String("symbol", ev.Symbol),
			logger.Err(err))
		return
	}
	w.log.Debug("trade recorded",
		logger.String("symbol", ev.Symbol),
		logger.Float64("pnl", ev.PnL))
}
