package features

import (
	"errors"
	"math"
	"testing"

	"strategy-engine/pkg/config"
	"strategy-engine/pkg/exchange"
)

func defaultWindows() config.Windows {
	return config.Windows{
		SMAShort: 7, SMALong: 25,
		RSI:      14,
		MACDFast: 12, MACDSlow: 26, MACDSig: 9,
		ATR: 14, Bollinger: 20, ADX: 14, OBVSlope: 20,
	}
}

func risingCandles(n int) []exchange.Candle {
	out := make([]exchange.Candle, n)
	for i := range out {
		base := 100.0 + float64(i)
		out[i] = exchange.Candle{
			OpenTime:  int64(i) * 3_600_000,
			Open:      base,
			High:      base + 1,
			Low:       base - 1,
			Close:     base + 0.5,
			Volume:    1000,
			CloseTime: int64(i+1)*3_600_000 - 1,
		}
	}
	return out
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestComputeInsufficientHistory(t *testing.T) {
	_, err := Compute(risingCandles(10), defaultWindows())
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestComputeRisingMarket(t *testing.T) {
	snap, err := Compute(risingCandles(60), defaultWindows())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	if snap.SMAShort <= snap.SMALong {
		t.Errorf("rising market should have short MA above long MA: %.2f <= %.2f", snap.SMAShort, snap.SMALong)
	}
	if snap.RSI != 100 {
		t.Errorf("all-gains series should have RSI 100, got %.2f", snap.RSI)
	}
	if snap.OBVSlope <= 0 {
		t.Errorf("rising closes should give positive OBV slope, got %.2f", snap.OBVSlope)
	}
	if snap.ADX <= 20 {
		t.Errorf("persistent trend should have ADX above 20, got %.2f", snap.ADX)
	}
	if snap.DIPlus <= snap.DIMinus {
		t.Errorf("uptrend should have DI+ above DI-: %.2f <= %.2f", snap.DIPlus, snap.DIMinus)
	}
	if snap.Close <= snap.BollMiddle {
		t.Errorf("last close of a rising series should sit above the middle band")
	}
	if snap.ATR <= 0 {
		t.Errorf("ATR should be positive, got %.4f", snap.ATR)
	}
}

func TestSMASeries(t *testing.T) {
	got := smaSeries([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{1, 1.5, 2, 3, 4}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-9) {
			t.Errorf("sma[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestEMASeries(t *testing.T) {
	// period 3 gives alpha 0.5
	got := emaSeries([]float64{2, 4, 6}, 3)
	want := []float64{2, 3, 4.5}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-9) {
			t.Errorf("ema[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRSILast(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		period int
		want   float64
	}{
		{"all gains", []float64{1, 2, 3, 4}, 3, 100},
		{"mixed", []float64{10, 11, 10.5}, 2, 100 - 100.0/3},
		{"insufficient history", []float64{10, 11}, 5, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rsiLast(tt.closes, tt.period)
			if !almostEqual(got, tt.want, 1e-6) {
				t.Errorf("rsi = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSlope(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   float64
	}{
		{"rising", []float64{1, 2, 3, 4}, 1},
		{"flat", []float64{5, 5, 5}, 0},
		{"falling", []float64{3, 1}, -2},
		{"too short", []float64{7}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := slope(tt.values); !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("slope = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBollingerLast(t *testing.T) {
	upper, middle, lower := bollingerLast([]float64{9, 9, 1, 3, 1, 3}, 4, 2)
	if !almostEqual(middle, 2, 1e-9) {
		t.Errorf("middle = %v, want 2", middle)
	}
	// window {1,3,1,3} has population std dev 1
	if !almostEqual(upper, 4, 1e-9) || !almostEqual(lower, 0, 1e-9) {
		t.Errorf("bands = (%v, %v), want (4, 0)", upper, lower)
	}
}

func TestATRLast(t *testing.T) {
	highs := []float64{2, 3}
	lows := []float64{1, 2}
	closes := []float64{1.5, 2.5}
	// tr[0]=1, tr[1]=max(1, |3-1.5|, |2-1.5|)=1.5
	got := atrLast(highs, lows, closes, 2)
	if !almostEqual(got, 1.25, 1e-9) {
		t.Errorf("atr = %v, want 1.25", got)
	}
}

func TestOBVSeries(t *testing.T) {
	got := obvSeries([]float64{1, 2, 2, 1}, []float64{10, 20, 30, 40})
	want := []float64{0, 20, 20, -20}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("obv[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestReturnsVolatility(t *testing.T) {
	got := returnsVolatility([]float64{100, 110, 99}, 2)
	want := math.Sqrt(0.02)
	if !almostEqual(got, want, 1e-9) {
		t.Errorf("volatility = %v, want %v", got, want)
	}
}

func TestVolumeRatio(t *testing.T) {
	if got := volumeRatio([]float64{10, 10, 40}, 3); !almostEqual(got, 2, 1e-9) {
		t.Errorf("ratio = %v, want 2", got)
	}
	if got := volumeRatio([]float64{10}, 3); got != 1 {
		t.Errorf("short history should return 1, got %v", got)
	}
}

func TestComputeIsPure(t *testing.T) {
	candles := risingCandles(60)
	a, err := Compute(candles, defaultWindows())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	b, err := Compute(candles, defaultWindows())
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if *a != *b {
		t.Error("identical inputs must produce identical snapshots")
	}
}
