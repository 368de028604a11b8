package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"strategy-engine/pkg/exchange"
)

// SynthSource generates random-walk OHLCV history so the engine can run
// fully offline. History is stable: repeated calls extend the same walk
// instead of regenerating it.
type SynthSource struct {
	mu      sync.Mutex
	rng     *rand.Rand
	price   float64
	candles []exchange.Candle
	step    time.Duration
}

// NewSynthSource starts a walk at startPrice. Seed fixes the sequence for
// reproducible runs.
func NewSynthSource(startPrice float64, seed int64) *SynthSource {
	return &SynthSource{
		rng:   rand.New(rand.NewSource(seed)),
		price: startPrice,
	}
}

func (s *SynthSource) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	step, err := parseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.step != step {
		s.candles = nil
		s.step = step
	}

	now := time.Now().UTC().Truncate(step)
	var last time.Time
	if n := len(s.candles); n > 0 {
		last = time.UnixMilli(s.candles[n-1].OpenTime).UTC()
	} else {
		last = now.Add(-time.Duration(limit) * step)
	}
	for t := last.Add(step); !t.After(now); t = t.Add(step) {
		s.candles = append(s.candles, s.next(t, step))
	}
	if len(s.candles) > 4*limit {
		s.candles = s.candles[len(s.candles)-2*limit:]
	}

	if len(s.candles) < limit {
		limit = len(s.candles)
	}
	out := make([]exchange.Candle, limit)
	copy(out, s.candles[len(s.candles)-limit:])
	return out, nil
}

// next advances the walk one bar: gaussian return with mild volatility and
// a volume loosely tied to the bar range.
func (s *SynthSource) next(open time.Time, step time.Duration) exchange.Candle {
	o := s.price
	c := o * (1 + s.rng.NormFloat64()*0.003)
	h := maxf(o, c) * (1 + s.rng.Float64()*0.0015)
	l := minf(o, c) * (1 - s.rng.Float64()*0.0015)
	v := 50 + s.rng.Float64()*100*(1+(h-l)/o*100)
	s.price = c
	return exchange.Candle{
		OpenTime:  open.UnixMilli(),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		CloseTime: open.Add(step).UnixMilli(),
	}
}

func parseTimeframe(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("bad timeframe %q", tf)
	}
	n := 0
	for _, r := range tf[:len(tf)-1] {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("bad timeframe %q", tf)
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return 0, fmt.Errorf("bad timeframe %q", tf)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("bad timeframe %q", tf)
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
