package exchange

import (
	"testing"
	"time"
)

func TestFloorQty(t *testing.T) {
	tests := []struct {
		name string
		step float64
		qty  float64
		want float64
	}{
		{"exact multiple", 0.001, 0.25, 0.25},
		{"floors remainder", 0.001, 0.2519, 0.251},
		{"float artifact", 0.0001, 0.5000000000000001, 0.5},
		{"no step passes through", 0, 0.12345, 0.12345},
		{"coarse step", 0.1, 0.349, 0.3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := SymbolFilters{QtyStep: tt.step}
			if got := f.FloorQty(tt.qty); got != tt.want {
				t.Fatalf("FloorQty(%v) = %v, want %v", tt.qty, got, tt.want)
			}
		})
	}
}

func TestTradable(t *testing.T) {
	f := SymbolFilters{QtyStep: 0.001, MinQty: 0.01, MinNotional: 10}

	if f.Tradable(0, 2000) {
		t.Fatal("zero qty must not be tradable")
	}
	if f.Tradable(0.005, 2000) {
		t.Fatal("qty below MinQty must not be tradable")
	}
	if f.Tradable(0.01, 500) {
		t.Fatal("notional below MinNotional must not be tradable")
	}
	if !f.Tradable(0.01, 2000) {
		t.Fatal("valid order reported untradable")
	}

	// Zero-valued filters constrain nothing.
	var none SymbolFilters
	if !none.Tradable(0.0000001, 0.01) {
		t.Fatal("unset filters must accept any positive qty")
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatal("side opposite mapping broken")
	}
}

func TestLimiterWeightWindow(t *testing.T) {
	l := NewLimiter(100, 10, 1200, 50*time.Millisecond)

	l.AddWeight(600)
	used, limit, pct := l.Usage()
	if used != 600 || limit != 1200 || pct != 50 {
		t.Fatalf("usage = %d/%d (%.0f%%)", used, limit, pct)
	}
	if l.NearLimit() {
		t.Fatal("50% usage reported as near limit")
	}

	l.AddWeight(500)
	if !l.NearLimit() {
		t.Fatal("91% usage not reported as near limit")
	}

	// The window resets after the interval.
	time.Sleep(60 * time.Millisecond)
	if used, _, _ := l.Usage(); used != 0 {
		t.Fatalf("used weight after window reset = %d", used)
	}
}

func TestLimiterHeaderUpdate(t *testing.T) {
	l := NewLimiter(100, 10, 1200, time.Minute)

	l.UpdateFromHeader("750")
	if used, _, _ := l.Usage(); used != 750 {
		t.Fatalf("used after header = %d, want 750", used)
	}

	// Garbage headers are ignored.
	l.UpdateFromHeader("not-a-number")
	if used, _, _ := l.Usage(); used != 750 {
		t.Fatalf("used after bad header = %d, want 750", used)
	}
}
