package scorer

import (
	"math"

	"strategy-engine/internal/features"
	"strategy-engine/pkg/config"
)

// Every sub-score lives in [0,1] with 0.5 neutral, so the combined overall
// score keeps the same frame and the directional mapping stays symmetric.

// trendScore reads trend direction and strength: MACD line versus signal
// with histogram momentum, ADX-weighted DI direction, price position against
// the moving average pair, and short-MA momentum. Component weights come
// from configuration.
func trendScore(s *features.Snapshot, w config.TrendFactors) float64 {
	macd := 0.0
	if s.MACDLine > s.MACDSignal {
		macd += 0.5
	}
	if s.MACDHist > s.PrevMACDHist {
		macd += 0.5
	}

	// DI direction scaled by ADX strength: a strong reading pushes toward
	// 0 or 1, a weak one stays near neutral.
	strength := clamp01(s.ADX / 50)
	adx := 0.5
	if s.DIPlus > s.DIMinus {
		adx = 0.5 + 0.5*strength
	} else if s.DIMinus > s.DIPlus {
		adx = 0.5 - 0.5*strength
	}

	ma := 0.0
	if s.Close > s.SMAShort {
		ma += 1.0 / 3
	}
	if s.Close > s.SMALong {
		ma += 1.0 / 3
	}
	if s.SMAShort > s.SMALong {
		ma += 1.0 / 3
	}

	momentum := 0.5
	if s.Close > 0 {
		momentum = clamp01(0.5 + 50*(s.SMAShort-s.PrevSMAShort)/s.Close)
	}

	total := w.MACD + w.ADX + w.MA + w.Momentum
	if total <= 0 {
		return 0.5
	}
	return clamp01((w.MACD*macd + w.ADX*adx + w.MA*ma + w.Momentum*momentum) / total)
}

// indicatorScore measures how decisive the individual readings are, signed
// by their own direction: MACD separation magnitude, RSI distance from
// neutral, and the bollinger position within a usable bandwidth regime.
func indicatorScore(s *features.Snapshot) float64 {
	macdSep := 0.5
	if s.Close > 0 {
		// Full strength once the histogram reaches 0.2% of price.
		sep := clamp01(math.Abs(s.MACDHist) / (s.Close * 0.002))
		if s.MACDHist >= 0 {
			macdSep = 0.5 + 0.5*sep
		} else {
			macdSep = 0.5 - 0.5*sep
		}
	}

	rsi := clamp01(s.RSI / 100)

	boll := s.BandPosition()
	// Squeezed bands carry no information; pull the reading toward neutral
	// as bandwidth drops below 2% of the middle band.
	if bw := s.Bandwidth(); bw < 0.02 {
		conf := clamp01(bw / 0.02)
		boll = 0.5 + (boll-0.5)*conf
	}

	return clamp01((macdSep + rsi + boll) / 3)
}

// sentimentScore is the oscillator blend: RSI level, bollinger position,
// MACD line sign and short-term momentum against the short MA.
func sentimentScore(s *features.Snapshot) float64 {
	rsi := clamp01(s.RSI / 100)
	boll := s.BandPosition()

	macd := 0.5
	if s.MACDLine > 0 {
		macd = 1
	} else if s.MACDLine < 0 {
		macd = 0
	}

	momentum := 0.5
	if s.SMAShort > 0 {
		momentum = clamp01(0.5 + 10*(s.Close-s.SMAShort)/s.SMAShort)
	}

	return clamp01((rsi + boll + macd + momentum) / 4)
}
