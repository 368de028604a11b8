// Package persistence moves history writes off the trading hot path. The
// cycle publishes events; the writer buffers them and flushes in batches.
package persistence

import (
	"context"
	"sync"
	"time"

	"strategy-engine/internal/events"
	"strategy-engine/pkg/db"
	"strategy-engine/pkg/logger"
)

// SignalWriter batches emitted signals into the signals table. Losing a
// row on crash is acceptable; stalling the trading cycle on sqlite is not.
type SignalWriter struct {
	db       *db.Database
	bus      *events.Bus
	log      *logger.Logger
	maxSize  int
	interval time.Duration

	mu     sync.Mutex
	buffer []db.Signal
}

func NewSignalWriter(database *db.Database, bus *events.Bus, maxSize int, interval time.Duration, log *logger.Logger) *SignalWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &SignalWriter{
		db:       database,
		bus:      bus,
		log:      log.With("signal-writer"),
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]db.Signal, 0, maxSize),
	}
}

// Run consumes signal events until ctx is canceled, then flushes what is
// left.
func (w *SignalWriter) Run(ctx context.Context) {
	stream, unsub := w.bus.Subscribe(events.TopicSignal, 128)
	defer unsub()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Flush(context.Background())
			return
		case raw := <-stream:
			ev, ok := raw.(events.SignalEvent)
			if !ok {
				continue
			}
			if w.add(ev) {
				w.Flush(ctx)
			}
		case <-ticker.C:
			w.Flush(ctx)
		}
	}
}

// add buffers one signal and reports whether the buffer is full.
func (w *SignalWriter) add(ev events.SignalEvent) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, db.Signal{
		Symbol:      ev.Symbol,
		Direction:   ev.Direction,
		Overall:     ev.Overall,
		Directional: ev.Directional,
		Trend:       ev.Trend,
		Indicator:   ev.Indicator,
		Sentiment:   ev.Sentiment,
		Reason:      ev.Reason,
	})
	return len(w.buffer) >= w.maxSize
}

// Flush writes all buffered rows in one transaction.
func (w *SignalWriter) Flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.buffer
	w.buffer = make([]db.Signal, 0, w.maxSize)
	w.mu.Unlock()

	if err := w.db.InsertSignals(ctx, batch); err != nil {
		w.log.Warn("signal batch write failed",
			logger.Int("batch_size", len(batch)),
			logger.Err(err))
		return
	}
	w.log.Debug("signal batch flushed", logger.Int("batch_size", len(batch)))
}

// Pending returns the buffered row count.
func (w *SignalWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}
