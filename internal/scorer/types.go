// Package scorer turns an indicator snapshot into a scored trading signal.
// Three sub-scores (trend, indicator quality, sentiment) combine into one
// overall score in [0,1]; a directional variant of the overall score is
// mapped against configured thresholds to long, short or flat.
package scorer

import (
	"time"

	"strategy-engine/internal/features"
)

// Direction is the discrete trading signal.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
	Flat  Direction = "flat"
)

// Bundle is one scored evaluation. Reason is operator prose; downstream
// logic must never parse it.
type Bundle struct {
	Trend     float64
	Indicator float64
	Sentiment float64
	Overall   float64
	Signal    Direction
	Reason    string
	At        time.Time
}

// Directional maps the overall score onto [-1, 1] with 0 neutral.
func (b Bundle) Directional() float64 { return 2*b.Overall - 1 }

// Policy combines the three sub-scores into the overall score. The set of
// policies is closed and selected by configuration.
type Policy interface {
	Name() string
	Combine(trend, indicator, sentiment float64) float64
}

// Opinion is an optional external view on the market in [-1, 1], blended
// into the overall score when configured.
type Opinion interface {
	Score(snap *features.Snapshot) (float64, error)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MapSignal is the pure threshold mapping on the directional score. Exact
// threshold equality stays flat.
func MapSignal(directional, longThreshold, shortThreshold float64) Direction {
	switch {
	case directional > longThreshold:
		return Long
	case directional < shortThreshold:
		return Short
	default:
		return Flat
	}
}
