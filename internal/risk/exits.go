package risk

import (
	"fmt"
	"time"

	"strategy-engine/internal/position"
)

// ExitReason evaluates the protective exit rules for an open position at
// the given price. rsi < 0 skips the RSI take-profit, which lets the tick
// watcher call this without a full feature snapshot. Exit evaluation never
// depends on the scorer.
func (m *Manager) ExitReason(pos position.Position, price, rsi float64) (string, bool) {
	if !pos.Open() || price <= 0 {
		return "", false
	}

	long := pos.Side == position.SideLong

	// Hard stop-loss / take-profit.
	if long {
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			return fmt.Sprintf("stop loss hit at %.2f (stop %.2f)", price, pos.StopLoss), true
		}
		if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return fmt.Sprintf("take profit hit at %.2f (target %.2f)", price, pos.TakeProfit), true
		}
	} else {
		if pos.StopLoss > 0 && price >= pos.StopLoss {
			return fmt.Sprintf("stop loss hit at %.2f (stop %.2f)", price, pos.StopLoss), true
		}
		if pos.TakeProfit > 0 && price <= pos.TakeProfit {
			return fmt.Sprintf("take profit hit at %.2f (target %.2f)", price, pos.TakeProfit), true
		}
	}

	// RSI take-profit.
	if rsi >= 0 {
		if long && rsi >= m.cfg.RSITakeProfitLong {
			return fmt.Sprintf("RSI take profit (%.1f >= %.0f)", rsi, m.cfg.RSITakeProfitLong), true
		}
		if !long && rsi <= m.cfg.RSITakeProfitShort {
			return fmt.Sprintf("RSI take profit (%.1f <= %.0f)", rsi, m.cfg.RSITakeProfitShort), true
		}
	}

	// Trailing callback from the favorable extreme since entry.
	if m.cfg.CallbackRate > 0 {
		m.mu.RLock()
		extreme := m.extreme
		tracked := m.extremeOpen.Equal(pos.OpenedAt)
		m.mu.RUnlock()
		if tracked && extreme > 0 {
			if long {
				if drop := (extreme - price) / extreme; drop >= m.cfg.CallbackRate && price > pos.EntryPrice {
					return fmt.Sprintf("trailing callback: %.2f%% below peak %.2f", drop*100, extreme), true
				}
			} else {
				if rise := (price - extreme) / extreme; rise >= m.cfg.CallbackRate && price < pos.EntryPrice {
					return fmt.Sprintf("trailing callback: %.2f%% above trough %.2f", rise*100, extreme), true
				}
			}
		}
	}

	return "", false
}

// ObservePrice feeds a price into the trailing-extreme tracker. Called by
// the trading cycle and the tick watcher.
func (m *Manager) ObservePrice(pos position.Position, price float64) {
	m.observePrice(pos, price)
}

func (m *Manager) observePrice(pos position.Position, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !pos.Open() || price <= 0 {
		m.extreme = 0
		m.extremeOpen = time.Time{}
		return
	}
	if !m.extremeOpen.Equal(pos.OpenedAt) {
		// New position: start tracking from its entry.
		m.extremeOpen = pos.OpenedAt
		m.extreme = pos.EntryPrice
	}
	if pos.Side == position.SideLong {
		if price > m.extreme {
			m.extreme = price
		}
	} else if m.extreme == 0 || price < m.extreme {
		m.extreme = price
	}
}
