// Package balance caches the account balance between gateway syncs and
// tracks reservations for in-flight orders.
package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"strategy-engine/pkg/exchange"
	"strategy-engine/pkg/logger"
)

// Source supplies the authoritative balance. Satisfied by exchange.Gateway.
type Source interface {
	GetBalance(ctx context.Context) (exchange.Balance, error)
}

// Manager keeps a local view of the account balance. The gateway is the
// source of truth; Reserve and Release only bridge the gap between placing
// an order and the next sync.
type Manager struct {
	source       Source
	syncInterval time.Duration
	log          *logger.Logger

	mu       sync.RWMutex
	bal      exchange.Balance
	reserved float64
	lastSync time.Time
}

func NewManager(source Source, syncInterval time.Duration, log *logger.Logger) *Manager {
	return &Manager{
		source:       source,
		syncInterval: syncInterval,
		log:          log.With("balance"),
	}
}

// Run syncs on startup and then on the configured interval until the
// context is canceled.
func (m *Manager) Run(ctx context.Context) {
	if err := m.Sync(ctx); err != nil {
		m.log.Warn("initial balance sync failed", logger.Err(err))
	}
	ticker := time.NewTicker(m.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Sync(ctx); err != nil {
				m.log.Warn("balance sync failed", logger.Err(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sync replaces the cached balance with the gateway's view and clears any
// reservation drift.
func (m *Manager) Sync(ctx context.Context) error {
	bal, err := m.source.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("balance sync: %w", err)
	}

	m.mu.Lock()
	m.bal = bal
	m.reserved = 0
	m.lastSync = time.Now()
	m.mu.Unlock()

	m.log.Debug("balance synced",
		logger.Float64("total", bal.Total),
		logger.Float64("available", bal.Available))
	return nil
}

// Reserve earmarks notional for an order about to be placed. Fails when the
// available balance cannot cover it.
func (m *Manager) Reserve(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %.8f", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if free := m.bal.Available - m.reserved; amount > free {
		return fmt.Errorf("insufficient balance: need %.2f, free %.2f", amount, free)
	}
	m.reserved += amount
	return nil
}

// Release returns a reservation, after the order settled or failed. The
// next Sync reconciles the real numbers.
func (m *Manager) Release(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserved -= amount
	if m.reserved < 0 {
		m.reserved = 0
	}
}

// Snapshot returns the cached balance with reservations subtracted from
// the available figure.
func (m *Manager) Snapshot() exchange.Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return exchange.Balance{
		Total:     m.bal.Total,
		Available: m.bal.Available - m.reserved,
		Locked:    m.bal.Locked + m.reserved,
	}
}

// Stale reports whether the cache is older than maxAge. The engine treats a
// stale balance like unavailable market data and skips the cycle.
func (m *Manager) Stale(maxAge time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync.IsZero() || time.Since(m.lastSync) > maxAge
}
