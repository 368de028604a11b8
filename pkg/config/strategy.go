package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration is a yaml-friendly time.Duration accepting "60s" style strings
// or bare integers interpreted as seconds.
type Duration time.Duration

// D returns the wrapped time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler. Bare integers are seconds; a
// bare int decodes into a string too, so the tag check must come first.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!int" {
		var secs int64
		if err := value.Decode(&secs); err != nil {
			return fmt.Errorf("invalid duration value on line %d: %w", value.Line, err)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration value on line %d: %w", value.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// Strategy is the operator-tuned trading configuration. Defaults follow the
// reference ETH/USDT hourly setup; every knob can be overridden in YAML.
type Strategy struct {
	Symbol      string `yaml:"symbol" default:"ETHUSDT" validate:"required"`
	Timeframe   string `yaml:"timeframe" default:"1h" validate:"oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d"`
	CandleLimit int    `yaml:"candle_limit" default:"200" validate:"gte=50,lte=1000"`

	CycleInterval Duration `yaml:"cycle_interval"`

	Windows Windows `yaml:"windows"`
	Scorer  Scorer  `yaml:"scorer"`
	Filters Filters `yaml:"filters"`
	Risk    Risk    `yaml:"risk"`
	Retry   Retry   `yaml:"retry"`
	Health  Health  `yaml:"health"`

	// Watcher enables the websocket tick stream that checks protective exits
	// between cycles.
	Watcher Watcher `yaml:"watcher"`
}

// Windows sets indicator lookbacks.
type Windows struct {
	SMAShort  int `yaml:"sma_short" default:"7" validate:"gte=2"`
	SMALong   int `yaml:"sma_long" default:"25" validate:"gte=3"`
	RSI       int `yaml:"rsi" default:"14" validate:"gte=2"`
	MACDFast  int `yaml:"macd_fast" default:"12" validate:"gte=2"`
	MACDSlow  int `yaml:"macd_slow" default:"26" validate:"gte=3"`
	MACDSig   int `yaml:"macd_signal" default:"9" validate:"gte=2"`
	ATR       int `yaml:"atr" default:"14" validate:"gte=2"`
	Bollinger int `yaml:"bollinger" default:"20" validate:"gte=3"`
	ADX       int `yaml:"adx" default:"14" validate:"gte=2"`
	OBVSlope  int `yaml:"obv_slope" default:"20" validate:"gte=2"`
}

// Scorer selects the scoring policy and its weights/thresholds. Thresholds
// act on the directional score in [-1, 1]; 0 is neutral.
type Scorer struct {
	Policy          string  `yaml:"policy" default:"balanced" validate:"oneof=balanced trend-weighted"`
	TrendWeight     float64 `yaml:"trend_weight" default:"0.4" validate:"gte=0,lte=1"`
	IndicatorWeight float64 `yaml:"indicator_weight" default:"0.3" validate:"gte=0,lte=1"`
	SentimentWeight float64 `yaml:"sentiment_weight" default:"0.3" validate:"gte=0,lte=1"`
	LongThreshold   float64 `yaml:"long_threshold" default:"0.1" validate:"gte=-1,lte=1"`
	ShortThreshold  float64 `yaml:"short_threshold" default:"-0.1" validate:"gte=-1,lte=1"`

	// AIWeight > 0 folds the external scorer's opinion into the overall
	// score; AI_SCORER_URL must then be set.
	AIWeight float64 `yaml:"ai_weight" default:"0" validate:"gte=0,lte=0.5"`

	Trend TrendFactors `yaml:"trend"`
}

// TrendFactors weights the components of the trend sub-score.
type TrendFactors struct {
	MACD     float64 `yaml:"macd" default:"0.3" validate:"gte=0,lte=1"`
	ADX      float64 `yaml:"adx" default:"0.3" validate:"gte=0,lte=1"`
	MA       float64 `yaml:"ma" default:"0.25" validate:"gte=0,lte=1"`
	Momentum float64 `yaml:"momentum" default:"0.15" validate:"gte=0,lte=1"`
}

// Filters gate fresh entries; they never affect exits.
type Filters struct {
	RSIOverbought     float64 `yaml:"rsi_overbought" default:"85" validate:"gt=50,lte=100"`
	RSIOversold       float64 `yaml:"rsi_oversold" default:"25" validate:"gte=0,lt=50"`
	VolatilityMin     float64 `yaml:"volatility_min" default:"0.003" validate:"gte=0"`
	VolatilityMax     float64 `yaml:"volatility_max" default:"0.60" validate:"gt=0"`
	MaxPriceDeviation float64 `yaml:"max_price_deviation" default:"0.03" validate:"gt=0"`
	MAEntanglement    float64 `yaml:"ma_entanglement" default:"0.03" validate:"gte=0"`
}

// Risk parameterizes sizing, protective exits and the daily circuit breaker.
type Risk struct {
	MaxPositionFraction float64 `yaml:"max_position_fraction" default:"0.1" validate:"gt=0,lte=1"`
	MaxNotional         float64 `yaml:"max_notional" default:"100000" validate:"gt=0"`
	StopLossRatio       float64 `yaml:"stop_loss_ratio" default:"0.02" validate:"gt=0,lt=1"`
	TakeProfitRatio     float64 `yaml:"take_profit_ratio" default:"0.04" validate:"gt=0,lt=1"`
	DailyLossLimit      float64 `yaml:"daily_loss_limit" default:"0.05" validate:"gt=0,lt=1"`

	// Fallbacks when the venue does not publish filters.
	QtyStep     float64 `yaml:"qty_step" default:"0.0001" validate:"gt=0"`
	MinNotional float64 `yaml:"min_notional" default:"10" validate:"gte=0"`

	// RSI-based take profit from the reference setup.
	RSITakeProfitLong  float64 `yaml:"rsi_take_profit_long" default:"75" validate:"gt=50,lte=100"`
	RSITakeProfitShort float64 `yaml:"rsi_take_profit_short" default:"25" validate:"gte=0,lt=50"`

	// Trailing callback: close once price gives back this fraction from the
	// favorable extreme reached since entry. Zero disables.
	CallbackRate float64 `yaml:"callback_rate" default:"0.05" validate:"gte=0,lt=1"`

	Cooldown Cooldown `yaml:"cooldown"`
}

// Cooldown suspends opens after consecutive losing trades. Tier n applies
// after LossThreshold+n consecutive losses; the last tier repeats.
type Cooldown struct {
	LossThreshold int        `yaml:"loss_threshold" default:"2" validate:"gte=0"`
	Tiers         []Duration `yaml:"tiers"`
}

// Retry bounds the exponential backoff applied to transient failures.
type Retry struct {
	MaxAttempts int      `yaml:"max_attempts" default:"5" validate:"gte=1,lte=10"`
	BackoffMin  Duration `yaml:"backoff_min"`
	BackoffMax  Duration `yaml:"backoff_max"`
}

// Health sets the monitor cadence and classification bands.
type Health struct {
	Interval        Duration `yaml:"interval"`
	SignalStaleness Duration `yaml:"signal_staleness"`
	ErrorThreshold  int      `yaml:"error_threshold" default:"10" validate:"gte=1"`

	CPUWarn  float64 `yaml:"cpu_warn" default:"70" validate:"gt=0,lt=100"`
	CPUCrit  float64 `yaml:"cpu_crit" default:"90" validate:"gt=0,lte=100"`
	MemWarn  float64 `yaml:"mem_warn" default:"80" validate:"gt=0,lt=100"`
	MemCrit  float64 `yaml:"mem_crit" default:"95" validate:"gt=0,lte=100"`
	DiskWarn float64 `yaml:"disk_warn" default:"85" validate:"gt=0,lt=100"`
	DiskCrit float64 `yaml:"disk_crit" default:"95" validate:"gt=0,lte=100"`

	// HistorySize bounds the rolling snapshot window used for trend
	// classification.
	HistorySize int `yaml:"history_size" default:"120" validate:"gte=10"`
}

// Watcher configures the tick-level exit stream.
type Watcher struct {
	Enabled *bool `yaml:"enabled"`
}

// On reports whether the watcher is enabled (default true).
func (w Watcher) On() bool { return w.Enabled == nil || *w.Enabled }

var validate = validator.New()

// LoadStrategy reads, defaults and validates the strategy YAML at path. A
// missing file yields pure defaults so the paper setup runs out of the box.
func LoadStrategy(path string) (*Strategy, error) {
	var s Strategy

	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &s); err != nil {
			return nil, fmt.Errorf("parse strategy config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read strategy config: %w", err)
	}

	if err := defaults.Set(&s); err != nil {
		return nil, fmt.Errorf("apply strategy defaults: %w", err)
	}
	s.fillDurations()

	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("validate strategy config: %w", err)
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// fillDurations supplies duration defaults; the struct-tag path only covers
// scalar kinds.
func (s *Strategy) fillDurations() {
	if s.CycleInterval <= 0 {
		s.CycleInterval = Duration(60 * time.Second)
	}
	if s.Retry.BackoffMin <= 0 {
		s.Retry.BackoffMin = Duration(500 * time.Millisecond)
	}
	if s.Retry.BackoffMax <= 0 {
		s.Retry.BackoffMax = Duration(30 * time.Second)
	}
	if s.Health.Interval <= 0 {
		s.Health.Interval = Duration(30 * time.Second)
	}
	if s.Health.SignalStaleness <= 0 {
		s.Health.SignalStaleness = Duration(time.Hour)
	}
	if len(s.Risk.Cooldown.Tiers) == 0 {
		s.Risk.Cooldown.Tiers = []Duration{
			Duration(24 * time.Hour),
			Duration(48 * time.Hour),
			Duration(72 * time.Hour),
		}
	}
}

// check enforces the cross-field constraints tags cannot express.
func (s *Strategy) check() error {
	if s.Windows.SMAShort >= s.Windows.SMALong {
		return fmt.Errorf("sma_short (%d) must be below sma_long (%d)", s.Windows.SMAShort, s.Windows.SMALong)
	}
	if s.Windows.MACDFast >= s.Windows.MACDSlow {
		return fmt.Errorf("macd_fast (%d) must be below macd_slow (%d)", s.Windows.MACDFast, s.Windows.MACDSlow)
	}
	if s.Scorer.ShortThreshold >= s.Scorer.LongThreshold {
		return fmt.Errorf("short_threshold (%v) must be below long_threshold (%v)", s.Scorer.ShortThreshold, s.Scorer.LongThreshold)
	}
	if s.Filters.VolatilityMin >= s.Filters.VolatilityMax {
		return fmt.Errorf("volatility_min (%v) must be below volatility_max (%v)", s.Filters.VolatilityMin, s.Filters.VolatilityMax)
	}
	if s.Retry.BackoffMin > s.Retry.BackoffMax {
		return fmt.Errorf("backoff_min (%v) must not exceed backoff_max (%v)", s.Retry.BackoffMin, s.Retry.BackoffMax)
	}
	if w := s.Scorer.TrendWeight + s.Scorer.IndicatorWeight + s.Scorer.SentimentWeight; w <= 0 {
		return fmt.Errorf("scorer weights must sum above zero, got %v", w)
	}
	if t := s.Scorer.Trend; t.MACD+t.ADX+t.MA+t.Momentum <= 0 {
		return fmt.Errorf("trend factor weights must sum above zero")
	}
	for _, t := range s.Risk.Cooldown.Tiers {
		if t <= 0 {
			return fmt.Errorf("cooldown tiers must be positive, got %v", t)
		}
	}
	// The feature engine needs this much history; refuse configs that can
	// never produce a signal.
	if need := s.MaxLookback(); s.CandleLimit < need {
		return fmt.Errorf("candle_limit (%d) below required lookback (%d)", s.CandleLimit, need)
	}
	return nil
}

// MaxLookback returns the longest history any configured indicator needs.
func (s *Strategy) MaxLookback() int {
	return s.Windows.Lookback()
}

// Lookback returns the candle history required to fill every window.
func (w Windows) Lookback() int {
	need := w.SMALong
	if v := w.MACDSlow + w.MACDSig; v > need {
		need = v
	}
	if v := w.RSI + 1; v > need {
		need = v
	}
	if v := w.ATR + 1; v > need {
		need = v
	}
	if v := w.Bollinger; v > need {
		need = v
	}
	if v := 2*w.ADX + 1; v > need {
		need = v
	}
	if v := w.OBVSlope + 1; v > need {
		need = v
	}
	return need
}
