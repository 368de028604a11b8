// Package monitor samples system resources and engine activity, classifies
// overall health, and publishes state changes on the bus.
package monitor

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"strategy-engine/internal/events"
	"strategy-engine/pkg/config"
	"strategy-engine/pkg/db"
	"strategy-engine/pkg/logger"
)

// Level orders health states worst-last so classification can take a max.
type Level int

const (
	Healthy Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "healthy"
	}
}

// Snapshot is one classified health observation.
type Snapshot struct {
	Status       Level     `json:"-"`
	StatusText   string    `json:"status"`
	CPUPct       float64   `json:"cpu_pct"`
	MemPct       float64   `json:"mem_pct"`
	DiskPct      float64   `json:"disk_pct"`
	ErrorCount   int       `json:"error_count"`
	SignalCount  int64     `json:"signal_count"`
	TradeCount   int64     `json:"trade_count"`
	LastSignalAt time.Time `json:"last_signal_at"`
	Trend        string    `json:"trend"`
	At           time.Time `json:"at"`
}

// Monitor owns the health snapshot. All activity counters are fed by the
// engine; resource numbers come from the prober.
type Monitor struct {
	cfg   config.Health
	probe Prober
	db    *db.Database
	bus   *events.Bus
	log   *logger.Logger

	signals    atomic.Int64
	trades     atomic.Int64
	errors     atomic.Int64
	lastSignal atomic.Int64 // unix nano, 0 when none yet

	mu      sync.RWMutex
	current Snapshot
	history []Level
}

func New(cfg config.Health, probe Prober, database *db.Database, bus *events.Bus, log *logger.Logger) *Monitor {
	if probe == nil {
		probe = SystemProber{}
	}
	return &Monitor{
		cfg:   cfg,
		probe: probe,
		db:    database,
		bus:   bus,
		log:   log.With("monitor"),
		current: Snapshot{
			StatusText: Healthy.String(),
			Trend:      "stable",
		},
	}
}

// RecordSignal marks a completed evaluation cycle.
func (m *Monitor) RecordSignal() {
	m.signals.Add(1)
	m.lastSignal.Store(time.Now().UnixNano())
}

// RecordTrade marks a confirmed fill.
func (m *Monitor) RecordTrade() { m.trades.Add(1) }

// RecordError marks a failed cycle. Consecutive errors push the status
// toward critical.
func (m *Monitor) RecordError() { m.errors.Add(1) }

// ResetErrors clears the consecutive error streak after a good cycle.
func (m *Monitor) ResetErrors() { m.errors.Store(0) }

// Snapshot returns the latest classified observation.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// PauseOpens reports whether the engine should stop opening new positions.
// Critical health pauses entries; exits always run.
func (m *Monitor) PauseOpens() bool {
	return m.Snapshot().Status == Critical
}

// Run samples on the configured interval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.Interval.D()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.Observe(ctx)
	for {
		select {
		case <-ticker.C:
			m.Observe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Observe takes one sample, reclassifies, and reports any status change.
func (m *Monitor) Observe(ctx context.Context) Snapshot {
	cpuPct, memPct, diskPct, err := m.probe.Sample(ctx)
	if err != nil {
		m.log.Warn("resource sample failed", logger.Err(err))
	}

	snap := Snapshot{
		CPUPct:      cpuPct,
		MemPct:      memPct,
		DiskPct:     diskPct,
		ErrorCount:  int(m.errors.Load()),
		SignalCount: m.signals.Load(),
		TradeCount:  m.trades.Load(),
		At:          time.Now(),
	}
	if ns := m.lastSignal.Load(); ns > 0 {
		snap.LastSignalAt = time.Unix(0, ns)
	}
	snap.Status = m.classify(snap)
	snap.StatusText = snap.Status.String()

	m.mu.Lock()
	prev := m.current.Status
	m.history = append(m.history, snap.Status)
	if max := m.cfg.HistorySize; max > 0 && len(m.history) > max {
		m.history = m.history[len(m.history)-max:]
	}
	snap.Trend = trend(m.history)
	m.current = snap
	m.mu.Unlock()

	m.persist(ctx, snap)
	if snap.Status != prev {
		m.log.Info("health status changed",
			logger.String("from", prev.String()),
			logger.String("to", snap.Status.String()),
			logger.Float64("cpu_pct", snap.CPUPct),
			logger.Float64("mem_pct", snap.MemPct),
			logger.Int("error_count", snap.ErrorCount))
		if m.bus != nil {
			m.bus.Publish(events.TopicHealthChange, events.HealthEvent{
				From: prev.String(),
				To:   snap.Status.String(),
				At:   snap.At,
			})
		}
	}
	return snap
}

// classify takes the worst of the resource bands, the error streak, and
// signal staleness.
func (m *Monitor) classify(s Snapshot) Level {
	level := Healthy
	raise := func(l Level) {
		if l > level {
			level = l
		}
	}

	raise(band(s.CPUPct, m.cfg.CPUWarn, m.cfg.CPUCrit))
	raise(band(s.MemPct, m.cfg.MemWarn, m.cfg.MemCrit))
	raise(band(s.DiskPct, m.cfg.DiskWarn, m.cfg.DiskCrit))

	if t := m.cfg.ErrorThreshold; t > 0 {
		switch {
		case s.ErrorCount >= t:
			raise(Critical)
		case s.ErrorCount >= (t+1)/2:
			raise(Warning)
		}
	}

	if stale := m.cfg.SignalStaleness.D(); stale > 0 && !s.LastSignalAt.IsZero() {
		if time.Since(s.LastSignalAt) > stale {
			raise(Warning)
		}
	}
	return level
}

func band(v, warn, crit float64) Level {
	switch {
	case crit > 0 && v >= crit:
		return Critical
	case warn > 0 && v >= warn:
		return Warning
	default:
		return Healthy
	}
}

// trend compares the older and newer halves of the status window.
func trend(history []Level) string {
	if len(history) < 4 {
		return "stable"
	}
	half := len(history) / 2
	older := avgLevel(history[:half])
	newer := avgLevel(history[half:])
	switch {
	case newer > older+0.2:
		return "degrading"
	case newer < older-0.2:
		return "improving"
	default:
		return "stable"
	}
}

func avgLevel(ls []Level) float64 {
	var sum float64
	for _, l := range ls {
		sum += float64(l)
	}
	return sum / float64(len(ls))
}

func (m *Monitor) persist(ctx context.Context, s Snapshot) {
	if m.db == nil {
		return
	}
	rec := db.HealthRecord{
		Status:     s.StatusText,
		CPUPct:     s.CPUPct,
		MemPct:     s.MemPct,
		DiskPct:    s.DiskPct,
		ErrorCount: s.ErrorCount,
	}
	if !s.LastSignalAt.IsZero() {
		rec.LastSignalAt = sql.NullTime{Time: s.LastSignalAt, Valid: true}
	}
	if err := m.db.InsertHealth(ctx, rec); err != nil {
		m.log.Warn("persist health failed", logger.Err(err))
		return
	}
	if max := m.cfg.HistorySize; max > 0 {
		if err := m.db.PruneHealthHistory(ctx, max); err != nil {
			m.log.Warn("prune health history failed", logger.Err(err))
		}
	}
}
