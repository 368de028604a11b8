package db

import (
	"context"
	"database/sql"
	"errors"
)

// UpsertPosition stores the latest position for a symbol.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, side, qty, entry_price, stop_loss, take_profit, state, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(symbol) DO UPDATE SET
			side = excluded.side,
			qty = excluded.qty,
			entry_price = excluded.entry_price,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			state = excluded.state,
			opened_at = excluded.opened_at,
			updated_at = CURRENT_TIMESTAMP
	`, p.Symbol, p.Side, p.Qty, p.EntryPrice, p.StopLoss, p.TakeProfit, p.State, p.OpenedAt)
	return err
}

// GetPosition loads the persisted position for a symbol; (nil, nil) when the
// symbol has no row.
func (d *Database) GetPosition(ctx context.Context, symbol string) (*Position, error) {
	var p Position
	err := d.DB.QueryRowContext(ctx, `
		SELECT symbol, side, qty, entry_price, stop_loss, take_profit, state, opened_at, updated_at
		FROM positions WHERE symbol = ?
	`, symbol).Scan(&p.Symbol, &p.Side, &p.Qty, &p.EntryPrice, &p.StopLoss, &p.TakeProfit, &p.State, &p.OpenedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (intent_key, exchange_order_id, symbol, side, action, qty, fill_price, filled_qty, status, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.IntentKey, o.ExchangeOrderID, o.Symbol, o.Side, o.Action, o.Qty, o.FillPrice, o.FilledQty, o.Status, o.Attempts)
	return err
}

// UpdateOrderResult records the venue outcome for an intent key.
func (d *Database) UpdateOrderResult(ctx context.Context, intentKey, exchangeOrderID, status string, fillPrice, filledQty float64, attempts int) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET exchange_order_id = ?, status = ?, fill_price = ?, filled_qty = ?, attempts = ?, updated_at = CURRENT_TIMESTAMP
		WHERE intent_key = ?
	`, exchangeOrderID, status, fillPrice, filledQty, attempts, intentKey)
	return err
}

// GetOrder loads an order by intent key; (nil, nil) when absent.
func (d *Database) GetOrder(ctx context.Context, intentKey string) (*Order, error) {
	var o Order
	err := d.DB.QueryRowContext(ctx, `
		SELECT intent_key, COALESCE(exchange_order_id, ''), symbol, side, action, qty, fill_price, filled_qty, status, attempts, created_at, updated_at
		FROM orders WHERE intent_key = ?
	`, intentKey).Scan(&o.IntentKey, &o.ExchangeOrderID, &o.Symbol, &o.Side, &o.Action, &o.Qty, &o.FillPrice, &o.FilledQty, &o.Status, &o.Attempts, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// RecordTrade appends a completed round trip.
func (d *Database) RecordTrade(ctx context.Context, t Trade) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, qty, entry_price, exit_price, pnl, fee, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Symbol, t.Side, t.Qty, t.EntryPrice, t.ExitPrice, t.PnL, t.Fee, t.Reason)
	return err
}

// ListRecentTrades returns the latest closed trades, newest first.
func (d *Database) ListRecentTrades(ctx context.Context, limit int) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, side, qty, entry_price, exit_price, pnl, fee, COALESCE(reason, ''), closed_at
		FROM trades ORDER BY closed_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Qty, &t.EntryPrice, &t.ExitPrice, &t.PnL, &t.Fee, &t.Reason, &t.ClosedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpsertRiskDay stores the risk metrics for a UTC date.
func (d *Database) UpsertRiskDay(ctx context.Context, r RiskDay) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_days (date, daily_pnl, trades, wins, losses, consecutive_losses, cooldown_until, suspended)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			daily_pnl = excluded.daily_pnl,
			trades = excluded.trades,
			wins = excluded.wins,
			losses = excluded.losses,
			consecutive_losses = excluded.consecutive_losses,
			cooldown_until = excluded.cooldown_until,
			suspended = excluded.suspended
	`, r.Date, r.DailyPnL, r.Trades, r.Wins, r.Losses, r.ConsecutiveLosses, r.CooldownUntil, r.Suspended)
	return err
}

// GetRiskDay loads the risk metrics for a UTC date; (nil, nil) when absent.
func (d *Database) GetRiskDay(ctx context.Context, date string) (*RiskDay, error) {
	var r RiskDay
	err := d.DB.QueryRowContext(ctx, `
		SELECT date, daily_pnl, trades, wins, losses, consecutive_losses, cooldown_until, suspended
		FROM risk_days WHERE date = ?
	`, date).Scan(&r.Date, &r.DailyPnL, &r.Trades, &r.Wins, &r.Losses, &r.ConsecutiveLosses, &r.CooldownUntil, &r.Suspended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// InsertSignal appends an emitted signal row. Reached through the batch
// history writer, not the trading hot path.
func (d *Database) InsertSignal(ctx context.Context, s Signal) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO signals (symbol, direction, overall, directional, trend, indicator, sentiment, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.Symbol, s.Direction, s.Overall, s.Directional, s.Trend, s.Indicator, s.Sentiment, s.Reason)
	return err
}

// InsertSignals writes a batch of signal rows in one transaction.
func (d *Database) InsertSignals(ctx context.Context, signals []Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, s := range signals {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO signals (symbol, direction, overall, directional, trend, indicator, sentiment, reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, s.Symbol, s.Direction, s.Overall, s.Directional, s.Trend, s.Indicator, s.Sentiment, s.Reason)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListRecentSignals returns the latest emitted signals, newest first.
func (d *Database) ListRecentSignals(ctx context.Context, limit int) ([]Signal, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, symbol, direction, overall, directional, trend, indicator, sentiment, COALESCE(reason, ''), created_at
		FROM signals ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Signal
	for rows.Next() {
		var s Signal
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Direction, &s.Overall, &s.Directional, &s.Trend, &s.Indicator, &s.Sentiment, &s.Reason, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// InsertHealth appends a health snapshot row.
func (d *Database) InsertHealth(ctx context.Context, h HealthRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO health_history (status, cpu_pct, mem_pct, disk_pct, error_count, last_signal_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, h.Status, h.CPUPct, h.MemPct, h.DiskPct, h.ErrorCount, h.LastSignalAt)
	return err
}

// PruneHealthHistory keeps the newest keep rows and drops the rest.
func (d *Database) PruneHealthHistory(ctx context.Context, keep int) error {
	_, err := d.DB.ExecContext(ctx, `
		DELETE FROM health_history WHERE id NOT IN (
			SELECT id FROM health_history ORDER BY id DESC LIMIT ?
		)
	`, keep)
	return err
}
