package storage

import (
	"context"
	"database/sql"

	"github.com/vitos/options_signal_engine/internal/domain"
)

// Execution

func (s *SQLiteStore) CreateExecution(ctx context.Context, e *domain.Execution) error {
	query := `INSERT INTO executions (id, signal_id, user_id, broker_order_id, order_type, side, filled_quantity,
			  filled_price, commission, fees, slippage, submitted_at, filled_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		e.ID, e.SignalID, e.UserID, e.BrokerOrderID, e.OrderType, e.Side, e.FilledQuantity,
		e.FilledPrice, e.Commission, e.Fees, nullFloat(e.Slippage), utc(e.SubmittedAt), utc(e.FilledAt))
	return err
}

const executionColumns = `id, signal_id, user_id, broker_order_id, order_type, side, filled_quantity, filled_price,
	commission, fees, slippage, submitted_at, filled_at`

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*domain.Execution, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	return scanExecution(row)
}

func (s *SQLiteStore) GetExecutionBySignal(ctx context.Context, signalID string) (*domain.Execution, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE signal_id = ?`, signalID)
	return scanExecution(row)
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var (
		e        domain.Execution
		slippage sql.NullFloat64
	)
	err := row.Scan(&e.ID, &e.SignalID, &e.UserID, &e.BrokerOrderID, &e.OrderType, &e.Side, &e.FilledQuantity,
		&e.FilledPrice, &e.Commission, &e.Fees, &slippage, &e.SubmittedAt, &e.FilledAt)
	if err != nil {
		return nil, notFound(err)
	}
	e.Slippage = floatPtr(slippage)
	return &e, nil
}

// Position

const positionColumns = `id, user_id, signal_id, execution_id, symbol, option_symbol, strategy_type, strike_price,
	expiration_date, option_type, quantity, entry_price, current_price, unrealized_pnl, unrealized_pnl_pct,
	realized_pnl, realized_pnl_pct, profit_target_pct, stop_loss_pct, trailing_stop_pct, peak_pnl_pct, status,
	close_reason, opened_at, closed_at, last_updated_at`

func (s *SQLiteStore) CreatePosition(ctx context.Context, p *domain.Position) error {
	query := `INSERT INTO positions (` + positionColumns + `) VALUES (` + placeholders(26) + `)`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		p.ID, p.UserID, p.SignalID, p.ExecutionID, p.Symbol, p.OptionSymbol, p.StrategyType, p.StrikePrice,
		utc(p.ExpirationDate), p.OptionType, p.Quantity, p.EntryPrice, nullFloat(p.CurrentPrice), nullFloat(p.UnrealizedPnL),
		nullFloat(p.UnrealizedPnLPct), nullFloat(p.RealizedPnL), nullFloat(p.RealizedPnLPct), p.ProfitTargetPct, p.StopLossPct,
		nullFloat(p.TrailingStopPct), p.PeakPnLPct, p.Status, p.CloseReason, utc(p.OpenedAt), nullTime(p.ClosedAt),
		nullTime(p.LastUpdatedAt))
	return err
}

func (s *SQLiteStore) GetPosition(ctx context.Context, id string) (*domain.Position, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (s *SQLiteStore) ListPositions(ctx context.Context, f domain.PositionFilter) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE 1=1`
	var args []any
	if f.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, f.UserID)
	}
	if len(f.Statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(f.Statuses)) + `)`
		for _, st := range f.Statuses {
			args = append(args, st)
		}
	}
	if !f.Since.IsZero() {
		query += ` AND closed_at >= ?`
		args = append(args, utc(f.Since))
	}
	query += ` ORDER BY opened_at ASC`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *SQLiteStore) UpdateValuation(ctx context.Context, id string, v domain.Valuation) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE positions SET current_price = ?, unrealized_pnl = ?, unrealized_pnl_pct = ?, peak_pnl_pct = ?, last_updated_at = ?
		 WHERE id = ? AND status = ?`,
		v.CurrentPrice, v.UnrealizedPnL, v.UnrealizedPnLPct, v.PeakPnLPct, utc(v.At), id, domain.PositionOpen)
	if err != nil {
		return err
	}
	return s.guarded(ctx, res, id)
}

// MarkClosed writes realized figures and clears the live valuation columns.
func (s *SQLiteStore) MarkClosed(ctx context.Context, id string, c domain.ClosedPosition) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE positions SET status = ?, close_reason = ?, closed_at = ?, realized_pnl = ?, realized_pnl_pct = ?,
		 current_price = NULL, unrealized_pnl = NULL, unrealized_pnl_pct = NULL, last_updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.PositionClosed, c.Reason, utc(c.ClosedAt), c.RealizedPnL, c.RealizedPnLPct, utc(c.ClosedAt),
		id, domain.PositionOpen)
	if err != nil {
		return err
	}
	return s.guarded(ctx, res, id)
}

func (s *SQLiteStore) guarded(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetPosition(ctx, id); err != nil {
			return err
		}
		return domain.ErrStaleStatus
	}
	return nil
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, h *domain.PositionHistory) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO position_history (id, position_id, current_price, unrealized_pnl, unrealized_pnl_pct, snapshot_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		h.ID, h.PositionID, h.CurrentPrice, h.UnrealizedPnL, h.UnrealizedPnLPct, utc(h.SnapshotAt))
	return err
}

// ListHistory returns snapshots oldest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, positionID string, limit int) ([]*domain.PositionHistory, error) {
	query := `SELECT id, position_id, current_price, unrealized_pnl, unrealized_pnl_pct, snapshot_at
			  FROM position_history WHERE position_id = ? ORDER BY snapshot_at ASC, rowid ASC`
	args := []any{positionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		if err := rows.Scan(&h.ID, &h.PositionID, &h.CurrentPrice, &h.UnrealizedPnL, &h.UnrealizedPnLPct, &h.SnapshotAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var (
		p                                    domain.Position
		current, upnl, upct, rpnl, rpct, trl sql.NullFloat64
		closedAt, lastUpdated                sql.NullTime
	)
	err := row.Scan(&p.ID, &p.UserID, &p.SignalID, &p.ExecutionID, &p.Symbol, &p.OptionSymbol, &p.StrategyType, &p.StrikePrice,
		&p.ExpirationDate, &p.OptionType, &p.Quantity, &p.EntryPrice, &current, &upnl, &upct,
		&rpnl, &rpct, &p.ProfitTargetPct, &p.StopLossPct, &trl, &p.PeakPnLPct, &p.Status,
		&p.CloseReason, &p.OpenedAt, &closedAt, &lastUpdated)
	if err != nil {
		return nil, err
	}
	p.CurrentPrice = floatPtr(current)
	p.UnrealizedPnL = floatPtr(upnl)
	p.UnrealizedPnLPct = floatPtr(upct)
	p.RealizedPnL = floatPtr(rpnl)
	p.RealizedPnLPct = floatPtr(rpct)
	p.TrailingStopPct = floatPtr(trl)
	p.ClosedAt = timePtr(closedAt)
	p.LastUpdatedAt = timePtr(lastUpdated)
	return &p, nil
}
