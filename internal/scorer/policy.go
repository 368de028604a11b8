package scorer

import (
	"fmt"

	"strategy-engine/pkg/config"
)

// balancedPolicy averages the three sub-scores with equal weight.
type balancedPolicy struct{}

func (balancedPolicy) Name() string { return "balanced" }

func (balancedPolicy) Combine(trend, indicator, sentiment float64) float64 {
	return clamp01((trend + indicator + sentiment) / 3)
}

// weightedPolicy applies the configured per-sub-score weights, normalized so
// the result stays in [0,1].
type weightedPolicy struct {
	trend, indicator, sentiment float64
}

func (weightedPolicy) Name() string { return "trend-weighted" }

func (p weightedPolicy) Combine(trend, indicator, sentiment float64) float64 {
	total := p.trend + p.indicator + p.sentiment
	if total <= 0 {
		return clamp01((trend + indicator + sentiment) / 3)
	}
	return clamp01((p.trend*trend + p.indicator*indicator + p.sentiment*sentiment) / total)
}

// PolicyFor returns the configured scoring policy.
func PolicyFor(cfg config.Scorer) (Policy, error) {
	switch cfg.Policy {
	case "", "balanced":
		return balancedPolicy{}, nil
	case "trend-weighted":
		return weightedPolicy{
			trend:     cfg.TrendWeight,
			indicator: cfg.IndicatorWeight,
			sentiment: cfg.SentimentWeight,
		}, nil
	default:
		return nil, fmt.Errorf("unknown scoring policy %q", cfg.Policy)
	}
}
