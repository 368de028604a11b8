// Package features turns raw candle history into the indicator snapshot the
// scorer and risk manager consume. Computation is pure: the same candles and
// windows always produce the same snapshot, and nothing here talks to the
// network or the clock.
package features

import (
	"errors"
	"fmt"
	"time"

	"strategy-engine/pkg/config"
	"strategy-engine/pkg/exchange"
)

// ErrInsufficientHistory is returned when fewer candles are supplied than the
// configured windows need.
var ErrInsufficientHistory = errors.New("insufficient candle history")

// Snapshot holds the latest value of every configured indicator plus the raw
// fields of the most recent candle.
type Snapshot struct {
	Close  float64
	High   float64
	Low    float64
	Volume float64
	At     time.Time

	SMAShort     float64
	SMALong      float64
	EMAShort     float64
	EMALong      float64
	PrevSMAShort float64
	PrevSMALong  float64

	RSI float64

	MACDLine     float64
	MACDSignal   float64
	MACDHist     float64
	PrevMACDHist float64

	ATR        float64
	BollUpper  float64
	BollMiddle float64
	BollLower  float64
	// Volatility is the standard deviation of close-to-close returns over
	// the bollinger window.
	Volatility float64

	ADX     float64
	DIPlus  float64
	DIMinus float64

	OBV      float64
	OBVSlope float64
	// VolumeRatio compares the last volume against its mean over the
	// bollinger window.
	VolumeRatio float64
}

// Compute derives a Snapshot from candle history. Candles must be ordered
// oldest first. Returns ErrInsufficientHistory when the history cannot fill
// every configured window.
func Compute(candles []exchange.Candle, w config.Windows) (*Snapshot, error) {
	need := w.Lookback()
	if len(candles) < need {
		return nil, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientHistory, len(candles), need)
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}
	last := candles[len(candles)-1]

	smaShort := smaSeries(closes, w.SMAShort)
	smaLong := smaSeries(closes, w.SMALong)
	macdLine, macdSignal, macdHist := macdSeries(closes, w.MACDFast, w.MACDSlow, w.MACDSig)
	adx, diPlus, diMinus := adxSeries(highs, lows, closes, w.ADX)
	obv := obvSeries(closes, volumes)

	n := len(closes)
	snap := &Snapshot{
		Close:  last.Close,
		High:   last.High,
		Low:    last.Low,
		Volume: last.Volume,
		At:     time.UnixMilli(last.CloseTime).UTC(),

		SMAShort:     smaShort[n-1],
		SMALong:      smaLong[n-1],
		EMAShort:     lastValue(emaSeries(closes, w.SMAShort)),
		EMALong:      lastValue(emaSeries(closes, w.SMALong)),
		PrevSMAShort: smaShort[n-2],
		PrevSMALong:  smaLong[n-2],

		RSI: rsiLast(closes, w.RSI),

		MACDLine:     macdLine[n-1],
		MACDSignal:   macdSignal[n-1],
		MACDHist:     macdHist[n-1],
		PrevMACDHist: macdHist[n-2],

		ATR:        atrLast(highs, lows, closes, w.ATR),
		Volatility: returnsVolatility(closes, w.Bollinger),

		ADX:     adx[n-1],
		DIPlus:  diPlus[n-1],
		DIMinus: diMinus[n-1],

		OBV:      obv[n-1],
		OBVSlope: slope(obv[n-w.OBVSlope:]),
	}
	snap.BollUpper, snap.BollMiddle, snap.BollLower = bollingerLast(closes, w.Bollinger, 2.0)
	snap.VolumeRatio = volumeRatio(volumes, w.Bollinger)
	return snap, nil
}

// ATRPct expresses the ATR as a fraction of the last close.
func (s *Snapshot) ATRPct() float64 {
	if s.Close == 0 {
		return 0
	}
	return s.ATR / s.Close
}

// Bandwidth is the bollinger band width relative to the middle band.
func (s *Snapshot) Bandwidth() float64 {
	if s.BollMiddle == 0 {
		return 0
	}
	return (s.BollUpper - s.BollLower) / s.BollMiddle
}

// BandPosition places the close within the bands: 0 at the lower band, 1 at
// the upper, clamped.
func (s *Snapshot) BandPosition() float64 {
	width := s.BollUpper - s.BollLower
	if width <= 0 {
		return 0.5
	}
	pos := (s.Close - s.BollLower) / width
	if pos < 0 {
		return 0
	}
	if pos > 1 {
		return 1
	}
	return pos
}

func lastValue(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
