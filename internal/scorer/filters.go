package scorer

import (
	"fmt"
	"math"

	"strategy-engine/internal/features"
	"strategy-engine/pkg/config"
)

// applyFilters gates a fresh long/short signal. Filters only ever downgrade
// to flat; they never flip direction and never touch exits.
func applyFilters(sig Direction, s *features.Snapshot, f config.Filters) (Direction, string) {
	if sig == Flat {
		return Flat, ""
	}

	if sig == Long && s.RSI > f.RSIOverbought {
		return Flat, fmt.Sprintf("RSI %.1f above overbought %.0f", s.RSI, f.RSIOverbought)
	}
	if sig == Short && s.RSI < f.RSIOversold {
		return Flat, fmt.Sprintf("RSI %.1f below oversold %.0f", s.RSI, f.RSIOversold)
	}

	if vol := s.Volatility; vol < f.VolatilityMin || vol > f.VolatilityMax {
		return Flat, fmt.Sprintf("volatility %.4f outside [%.4f, %.4f]", vol, f.VolatilityMin, f.VolatilityMax)
	}

	if s.SMALong > 0 {
		if dev := math.Abs(s.Close-s.SMALong) / s.SMALong; dev > f.MaxPriceDeviation {
			return Flat, fmt.Sprintf("price %.2f deviates %.1f%% from long MA", s.Close, dev*100)
		}
	}

	if f.MAEntanglement > 0 && s.SMALong > 0 {
		if gap := math.Abs(s.SMAShort-s.SMALong) / s.SMALong; gap < f.MAEntanglement {
			return Flat, fmt.Sprintf("moving averages entangled (gap %.2f%%)", gap*100)
		}
	}

	return sig, ""
}
