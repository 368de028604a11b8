// Package metrics exposes engine counters and gauges in Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder owns the metric families. It carries its own registry so tests
// can build as many recorders as they like.
type Recorder struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	signals       *prometheus.CounterVec
	orders        *prometheus.CounterVec
	tradesPnL     prometheus.Counter
	errorsTotal   *prometheus.CounterVec
	dailyPnL      prometheus.Gauge
	positionQty   prometheus.Gauge
	healthStatus  prometheus.Gauge
	lastPrice     prometheus.Gauge
	cycleDuration prometheus.Histogram
	orderLatency  prometheus.Histogram
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_cycles_total",
			Help: "Evaluation cycles by outcome",
		}, []string{"outcome"}),
		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals emitted by direction",
		}, []string{"direction"}),
		orders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders by terminal status",
		}, []string{"status"}),
		tradesPnL: factory.NewCounter(prometheus.CounterOpts{
			Name: "engine_trades_total",
			Help: "Completed round trips",
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_errors_total",
			Help: "Errors by kind",
		}, []string{"kind"}),
		dailyPnL: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_daily_pnl",
			Help: "Realized PnL for the current UTC day",
		}),
		positionQty: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_position_qty",
			Help: "Open position quantity, negative for shorts",
		}),
		healthStatus: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_health_status",
			Help: "0 healthy, 1 warning, 2 critical",
		}),
		lastPrice: factory.NewGauge(prometheus.GaugeOpts{
			Name: "engine_last_price",
			Help: "Last observed close price",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_cycle_duration_seconds",
			Help:    "Wall time of one evaluation cycle",
			Buckets: prometheus.DefBuckets,
		}),
		orderLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_order_latency_seconds",
			Help:    "Time from intent to terminal order outcome",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry returns the backing registry for the /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) CycleCompleted(outcome string, elapsed time.Duration) {
	r.cycles.WithLabelValues(outcome).Inc()
	r.cycleDuration.Observe(elapsed.Seconds())
}

func (r *Recorder) SignalEmitted(direction string) {
	r.signals.WithLabelValues(direction).Inc()
}

func (r *Recorder) OrderFinished(status string, latency time.Duration) {
	r.orders.WithLabelValues(status).Inc()
	r.orderLatency.Observe(latency.Seconds())
}

func (r *Recorder) TradeClosed() { r.tradesPnL.Inc() }

func (r *Recorder) ErrorOccurred(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) SetDailyPnL(v float64)    { r.dailyPnL.Set(v) }
func (r *Recorder) SetPositionQty(v float64) { r.positionQty.Set(v) }
func (r *Recorder) SetHealthStatus(v int)    { r.healthStatus.Set(float64(v)) }
func (r *Recorder) SetLastPrice(v float64)   { r.lastPrice.Set(v) }
