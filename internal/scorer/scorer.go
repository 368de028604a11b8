package scorer

import (
	"fmt"
	"sort"
	"strings"

	"strategy-engine/internal/features"
	"strategy-engine/pkg/config"
	"strategy-engine/pkg/logger"
)

// Scorer derives a Bundle from a feature snapshot. It is stateless between
// calls: every Bundle is a pure function of the snapshot and configuration,
// except for the optional external opinion.
type Scorer struct {
	cfg     config.Scorer
	filters config.Filters
	policy  Policy
	opinion Opinion
	log     *logger.Logger
}

// New builds a scorer with the configured policy. opinion may be nil.
func New(cfg config.Scorer, filters config.Filters, opinion Opinion, log *logger.Logger) (*Scorer, error) {
	policy, err := PolicyFor(cfg)
	if err != nil {
		return nil, err
	}
	return &Scorer{
		cfg:     cfg,
		filters: filters,
		policy:  policy,
		opinion: opinion,
		log:     log.With("scorer"),
	}, nil
}

// Score evaluates the snapshot into a Bundle.
func (sc *Scorer) Score(snap *features.Snapshot) Bundle {
	trend := trendScore(snap, sc.cfg.Trend)
	indicator := indicatorScore(snap)
	sentiment := sentimentScore(snap)

	overall := sc.policy.Combine(trend, indicator, sentiment)
	overall = sc.blendOpinion(overall, snap)

	b := Bundle{
		Trend:     trend,
		Indicator: indicator,
		Sentiment: sentiment,
		Overall:   overall,
		At:        snap.At,
	}
	b.Signal = MapSignal(b.Directional(), sc.cfg.LongThreshold, sc.cfg.ShortThreshold)
	b.Reason = describe(b)

	if filtered, why := applyFilters(b.Signal, snap, sc.filters); filtered != b.Signal {
		sc.log.Debug("entry filter downgraded signal",
			logger.String("from", string(b.Signal)),
			logger.String("reason", why))
		b.Signal = filtered
		b.Reason = fmt.Sprintf("%s; filtered: %s", b.Reason, why)
	}
	return b
}

// blendOpinion folds the external score into the overall value when an
// opinion source is configured. Failures degrade to the base score so a
// slow or broken external scorer never blocks a cycle.
func (sc *Scorer) blendOpinion(overall float64, snap *features.Snapshot) float64 {
	if sc.opinion == nil || sc.cfg.AIWeight <= 0 {
		return overall
	}
	raw, err := sc.opinion.Score(snap)
	if err != nil {
		sc.log.Warn("external opinion unavailable", logger.Err(err))
		return overall
	}
	if raw < -1 {
		raw = -1
	} else if raw > 1 {
		raw = 1
	}
	w := sc.cfg.AIWeight
	return clamp01((1-w)*overall + w*(raw+1)/2)
}

// describe names the dominant sub-factors. Advisory prose only.
func describe(b Bundle) string {
	type factor struct {
		name  string
		value float64
	}
	factors := []factor{
		{"trend", b.Trend},
		{"indicators", b.Indicator},
		{"sentiment", b.Sentiment},
	}
	sort.Slice(factors, func(i, j int) bool {
		return deviation(factors[i].value) > deviation(factors[j].value)
	})

	var parts []string
	for _, f := range factors[:2] {
		switch {
		case f.value > 0.6:
			parts = append(parts, fmt.Sprintf("%s bullish (%.2f)", f.name, f.value))
		case f.value < 0.4:
			parts = append(parts, fmt.Sprintf("%s bearish (%.2f)", f.name, f.value))
		default:
			parts = append(parts, fmt.Sprintf("%s neutral (%.2f)", f.name, f.value))
		}
	}
	return fmt.Sprintf("%s signal: %s; overall %.3f", b.Signal, strings.Join(parts, ", "), b.Overall)
}

func deviation(v float64) float64 {
	if v < 0.5 {
		return 0.5 - v
	}
	return v - 0.5
}
