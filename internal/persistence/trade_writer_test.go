package persistence

import (
	"context"
	"testing"
	"time"

	"strategy-engine/internal/events"
	"strategy-engine/pkg/db"
	"strategy-engine/pkg/logger"
)

func TestTradeWriterRecordsClosedTrades(t *testing.T) {
	d := openTestDB(t)
	bus := events.NewBus()
	w := NewTradeWriter(d, bus, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()
	time.Sleep(20 * time.Millisecond)

	bus.Publish(events.TopicTradeClosed, events.TradeEvent{
		Symbol:   "ETHUSDT",
		Side:     "long",
		Qty:      1,
		Entry:    2000,
		Exit:     2100,
		PnL:      98.5,
		Fee:      1.5,
		Reason:   "take profit",
		ClosedAt: time.Now().UTC(),
	})

	deadline := time.Now().Add(2 * time.Second)
	var rows []db.Trade
	for time.Now().Before(deadline) {
		var err error
		rows, err = d.ListRecentTrades(context.Background(), 10)
		if err != nil {
			t.Fatalf("list trades: %v", err)
		}
		if len(rows) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	got := rows[0]
	if got.Symbol != "ETHUSDT" || got.Side != "long" || got.PnL != 98.5 {
		t.Errorf("row %+v", got)
	}
	if got.ID == "" {
		t.Error("trade id not assigned")
	}
	if got.Reason != "take profit" {
		t.Errorf("reason = %q", got.Reason)
	}

	cancel()
	<-done
}
