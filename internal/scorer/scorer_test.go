package scorer

import (
	"errors"
	"testing"
	"time"

	"strategy-engine/internal/features"
	"strategy-engine/pkg/config"
	"strategy-engine/pkg/logger"
)

func defaultScorerConfig() config.Scorer {
	return config.Scorer{
		Policy:          "balanced",
		TrendWeight:     0.4,
		IndicatorWeight: 0.3,
		SentimentWeight: 0.3,
		LongThreshold:   0.1,
		ShortThreshold:  -0.1,
		Trend:           config.TrendFactors{MACD: 0.3, ADX: 0.3, MA: 0.25, Momentum: 0.15},
	}
}

func permissiveFilters() config.Filters {
	return config.Filters{
		RSIOverbought:     100,
		RSIOversold:       0,
		VolatilityMin:     0,
		VolatilityMax:     10,
		MaxPriceDeviation: 10,
		MAEntanglement:    0,
	}
}

// bullishSnapshot is decisively long on every factor.
func bullishSnapshot() *features.Snapshot {
	return &features.Snapshot{
		Close: 2100, High: 2110, Low: 2080, Volume: 1500,
		At:           time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
		SMAShort:     2080, SMALong: 2000,
		PrevSMAShort: 2070, PrevSMALong: 1995,
		RSI:          68,
		MACDLine:     12, MACDSignal: 8, MACDHist: 4, PrevMACDHist: 2,
		ATR:        25,
		BollUpper:  2120, BollMiddle: 2040, BollLower: 1960,
		Volatility: 0.02,
		ADX:        35, DIPlus: 30, DIMinus: 10,
		OBV: 50000, OBVSlope: 800,
		VolumeRatio: 1.2,
	}
}

func bearishSnapshot() *features.Snapshot {
	s := bullishSnapshot()
	s.Close = 1900
	s.SMAShort = 1930
	s.SMALong = 2000
	s.PrevSMAShort = 1945
	s.RSI = 32
	s.MACDLine, s.MACDSignal, s.MACDHist, s.PrevMACDHist = -12, -8, -4, -2
	s.BollUpper, s.BollMiddle, s.BollLower = 2040, 1970, 1900
	s.DIPlus, s.DIMinus = 10, 30
	s.OBVSlope = -800
	return s
}

func TestMapSignal(t *testing.T) {
	cases := []struct {
		name        string
		directional float64
		long, short float64
		want        Direction
	}{
		{"above long threshold", 0.15, 0.1, -0.1, Long},
		{"below short threshold", -0.2, 0.1, -0.1, Short},
		{"between thresholds", 0.05, 0.1, -0.1, Flat},
		{"exactly at long threshold", 0.1, 0.1, -0.1, Flat},
		{"exactly at short threshold", -0.1, 0.1, -0.1, Flat},
		{"zero is flat", 0, 0.1, -0.1, Flat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MapSignal(tc.directional, tc.long, tc.short); got != tc.want {
				t.Errorf("MapSignal(%v, %v, %v) = %v, want %v",
					tc.directional, tc.long, tc.short, got, tc.want)
			}
		})
	}
}

func TestScoreBullishMarket(t *testing.T) {
	sc, err := New(defaultScorerConfig(), permissiveFilters(), nil, logger.Nop())
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}

	b := sc.Score(bullishSnapshot())
	if b.Overall < 0 || b.Overall > 1 {
		t.Fatalf("overall out of range: %v", b.Overall)
	}
	if b.Signal != Long {
		t.Errorf("expected long on bullish snapshot, got %v (overall %.3f)", b.Signal, b.Overall)
	}
	if b.Directional() <= 0.1 {
		t.Errorf("directional should clear the long threshold, got %.3f", b.Directional())
	}
	if b.Reason == "" {
		t.Error("reason must not be empty")
	}
}

func TestScoreBearishMarket(t *testing.T) {
	sc, err := New(defaultScorerConfig(), permissiveFilters(), nil, logger.Nop())
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}

	b := sc.Score(bearishSnapshot())
	if b.Signal != Short {
		t.Errorf("expected short on bearish snapshot, got %v (overall %.3f)", b.Signal, b.Overall)
	}
}

func TestScoreRangeOverSnapshots(t *testing.T) {
	sc, err := New(defaultScorerConfig(), permissiveFilters(), nil, logger.Nop())
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	for _, snap := range []*features.Snapshot{bullishSnapshot(), bearishSnapshot(), {Close: 100, BollUpper: 101, BollMiddle: 100, BollLower: 99, RSI: 50}} {
		b := sc.Score(snap)
		for name, v := range map[string]float64{
			"trend": b.Trend, "indicator": b.Indicator, "sentiment": b.Sentiment, "overall": b.Overall,
		} {
			if v < 0 || v > 1 {
				t.Errorf("%s score out of [0,1]: %v", name, v)
			}
		}
	}
}

func TestFiltersDowngradeOnly(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*features.Snapshot)
		filter func(*config.Filters)
	}{
		{
			"rsi overbought blocks long",
			func(s *features.Snapshot) { s.RSI = 90 },
			func(f *config.Filters) { f.RSIOverbought = 85 },
		},
		{
			"volatility too low",
			func(s *features.Snapshot) { s.Volatility = 0.0001 },
			func(f *config.Filters) { f.VolatilityMin = 0.003 },
		},
		{
			"volatility too high",
			func(s *features.Snapshot) { s.Volatility = 0.9 },
			func(f *config.Filters) { f.VolatilityMax = 0.6 },
		},
		{
			"price deviation",
			func(s *features.Snapshot) { s.Close = 2500 },
			func(f *config.Filters) { f.MaxPriceDeviation = 0.03 },
		},
		{
			"ma entanglement",
			func(s *features.Snapshot) { s.SMAShort = 2001 },
			func(f *config.Filters) { f.MAEntanglement = 0.03 },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			snap := bullishSnapshot()
			tc.mutate(snap)
			filters := permissiveFilters()
			tc.filter(&filters)

			sc, err := New(defaultScorerConfig(), filters, nil, logger.Nop())
			if err != nil {
				t.Fatalf("new scorer: %v", err)
			}
			b := sc.Score(snap)
			if b.Signal != Flat {
				t.Errorf("filter should downgrade to flat, got %v", b.Signal)
			}
		})
	}
}

func TestFiltersNeverFlipDirection(t *testing.T) {
	sc, err := New(defaultScorerConfig(), permissiveFilters(), nil, logger.Nop())
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	b := sc.Score(bullishSnapshot())
	if b.Signal == Short {
		t.Error("filters must never turn a long into a short")
	}
}

type fixedOpinion struct {
	score float64
	err   error
}

func (f fixedOpinion) Score(*features.Snapshot) (float64, error) { return f.score, f.err }

func TestOpinionBlending(t *testing.T) {
	cfg := defaultScorerConfig()
	cfg.AIWeight = 0.3

	base, err := New(defaultScorerConfig(), permissiveFilters(), nil, logger.Nop())
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}
	blended, err := New(cfg, permissiveFilters(), fixedOpinion{score: -1}, logger.Nop())
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}

	snap := bullishSnapshot()
	if b, bb := base.Score(snap), blended.Score(snap); bb.Overall >= b.Overall {
		t.Errorf("bearish opinion should lower overall: base %.3f, blended %.3f", b.Overall, bb.Overall)
	}
}

func TestOpinionFailureDegradesToBase(t *testing.T) {
	cfg := defaultScorerConfig()
	cfg.AIWeight = 0.3

	base, _ := New(defaultScorerConfig(), permissiveFilters(), nil, logger.Nop())
	broken, err := New(cfg, permissiveFilters(), fixedOpinion{err: errors.New("scorer down")}, logger.Nop())
	if err != nil {
		t.Fatalf("new scorer: %v", err)
	}

	snap := bullishSnapshot()
	if b, bb := base.Score(snap), broken.Score(snap); b.Overall != bb.Overall {
		t.Errorf("failed opinion must not change the score: %.3f vs %.3f", b.Overall, bb.Overall)
	}
}

func TestTrendWeightedPolicy(t *testing.T) {
	p, err := PolicyFor(config.Scorer{Policy: "trend-weighted", TrendWeight: 1, IndicatorWeight: 0, SentimentWeight: 0})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if got := p.Combine(0.9, 0.1, 0.1); got != 0.9 {
		t.Errorf("full trend weight should pass trend through, got %v", got)
	}

	if _, err := PolicyFor(config.Scorer{Policy: "nonsense"}); err == nil {
		t.Error("unknown policy must be rejected")
	}
}
