package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounters(t *testing.T) {
	r := New()
	r.CycleCompleted("ok", 50*time.Millisecond)
	r.CycleCompleted("ok", 60*time.Millisecond)
	r.CycleCompleted("skipped", 5*time.Millisecond)
	r.SignalEmitted("long")
	r.OrderFinished("FILLED", 200*time.Millisecond)
	r.ErrorOccurred("fetch")

	if got := testutil.ToFloat64(r.cycles.WithLabelValues("ok")); got != 2 {
		t.Errorf("ok cycles = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.cycles.WithLabelValues("skipped")); got != 1 {
		t.Errorf("skipped cycles = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.signals.WithLabelValues("long")); got != 1 {
		t.Errorf("long signals = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.orders.WithLabelValues("FILLED")); got != 1 {
		t.Errorf("filled orders = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.errorsTotal.WithLabelValues("fetch")); got != 1 {
		t.Errorf("fetch errors = %v, want 1", got)
	}
}

func TestRecorderGauges(t *testing.T) {
	r := New()
	r.SetDailyPnL(-123.45)
	r.SetPositionQty(-0.5)
	r.SetHealthStatus(2)
	r.SetLastPrice(2000)

	if got := testutil.ToFloat64(r.dailyPnL); got != -123.45 {
		t.Errorf("daily pnl = %v", got)
	}
	if got := testutil.ToFloat64(r.positionQty); got != -0.5 {
		t.Errorf("position qty = %v", got)
	}
	if got := testutil.ToFloat64(r.healthStatus); got != 2 {
		t.Errorf("health = %v", got)
	}
}

func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.TradeClosed()
	if got := testutil.ToFloat64(b.tradesPnL); got != 0 {
		t.Errorf("recorders must not share state, got %v", got)
	}
}
