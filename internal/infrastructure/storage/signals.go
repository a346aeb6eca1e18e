package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vitos/options_signal_engine/internal/domain"
)

const signalColumns = `id, user_id, symbol, strategy_type, signal_type, option_symbol, strike_price, expiration_date,
	option_type, quantity, limit_price, max_spread_pct, confidence_score, reasoning, market_conditions,
	fallback_strikes, status, confirmation_source, failure_reason, expires_at, confirmed_at, created_at, updated_at`

func (s *SQLiteStore) CreateSignal(ctx context.Context, sig *domain.TradeSignal) error {
	conditions, err := encodeJSON(sig.MarketConditions)
	if err != nil {
		return err
	}
	fallback := sig.FallbackStrikes
	if fallback == nil {
		fallback = []float64{}
	}
	strikes, err := encodeJSON(fallback)
	if err != nil {
		return err
	}

	query := `INSERT INTO trade_signals (` + signalColumns + `) VALUES (` + placeholders(23) + `)`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		sig.ID, sig.UserID, sig.Symbol, sig.StrategyType, sig.Side, sig.OptionSymbol, sig.StrikePrice, utc(sig.ExpirationDate),
		sig.OptionType, sig.Quantity, nullFloat(sig.LimitPrice), sig.MaxSpreadPct, sig.ConfidenceScore, sig.Reasoning, conditions,
		strikes, sig.Status, sig.ConfirmationSource, sig.FailureReason, utc(sig.ExpiresAt), nullTime(sig.ConfirmedAt),
		utc(sig.CreatedAt), utc(sig.UpdatedAt))
	return err
}

func (s *SQLiteStore) GetSignal(ctx context.Context, id string) (*domain.TradeSignal, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `SELECT `+signalColumns+` FROM trade_signals WHERE id = ?`, id)
	sig, err := scanSignal(row)
	if err != nil {
		return nil, notFound(err)
	}
	return sig, nil
}

func (s *SQLiteStore) ListSignals(ctx context.Context, f domain.SignalFilter) ([]*domain.TradeSignal, error) {
	query := `SELECT ` + signalColumns + ` FROM trade_signals WHERE 1=1`
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
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []*domain.TradeSignal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func (s *SQLiteStore) TransitionSignal(ctx context.Context, id string, from, to domain.SignalStatus, change domain.StatusChange) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("illegal signal transition %s -> %s", from, to)
	}
	at := change.At
	if at.IsZero() {
		at = time.Now()
	}

	query := `UPDATE trade_signals SET status = ?, updated_at = ?,
		failure_reason = CASE WHEN ? != '' THEN ? ELSE failure_reason END,
		confirmation_source = CASE WHEN ? != '' THEN ? ELSE confirmation_source END,
		confirmed_at = CASE WHEN ? = 'confirmed' THEN ? ELSE confirmed_at END
		WHERE id = ? AND status = ?`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		to, utc(at),
		change.Reason, change.Reason,
		change.Source, change.Source,
		to, utc(at),
		id, from)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetSignal(ctx, id); err != nil {
			return err
		}
		return domain.ErrStaleStatus
	}
	return nil
}

func (s *SQLiteStore) CountSignals(ctx context.Context, userID string, statuses []domain.SignalStatus, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM trade_signals WHERE user_id = ?`
	args := []any{userID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	if !since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, utc(since))
	}

	var n int
	err := s.conn(ctx).QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// ExpirePendingSignals flips every pending signal whose window closed before now.
func (s *SQLiteStore) ExpirePendingSignals(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.WithTx(ctx, func(ctx context.Context) error {
		rows, err := s.conn(ctx).QueryContext(ctx,
			`SELECT id FROM trade_signals WHERE status = ? AND expires_at < ?`, domain.SignalPending, utc(now))
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range ids {
			_, err := s.conn(ctx).ExecContext(ctx,
				`UPDATE trade_signals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
				domain.SignalExpired, utc(now), id, domain.SignalPending)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteUserSignals removes a user's signals. Positions and executions are left untouched.
func (s *SQLiteStore) DeleteUserSignals(ctx context.Context, userID string) (int64, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM trade_signals WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (*domain.TradeSignal, error) {
	var (
		sig         domain.TradeSignal
		limit       sql.NullFloat64
		confirmedAt sql.NullTime
		conditions  string
		strikes     string
	)
	err := row.Scan(&sig.ID, &sig.UserID, &sig.Symbol, &sig.StrategyType, &sig.Side, &sig.OptionSymbol, &sig.StrikePrice,
		&sig.ExpirationDate, &sig.OptionType, &sig.Quantity, &limit, &sig.MaxSpreadPct, &sig.ConfidenceScore, &sig.Reasoning,
		&conditions, &strikes, &sig.Status, &sig.ConfirmationSource, &sig.FailureReason, &sig.ExpiresAt, &confirmedAt,
		&sig.CreatedAt, &sig.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sig.LimitPrice = floatPtr(limit)
	sig.ConfirmedAt = timePtr(confirmedAt)
	if err := json.Unmarshal([]byte(conditions), &sig.MarketConditions); err != nil {
		return nil, fmt.Errorf("decode market_conditions: %w", err)
	}
	if err := json.Unmarshal([]byte(strikes), &sig.FallbackStrikes); err != nil {
		return nil, fmt.Errorf("decode fallback_strikes: %w", err)
	}
	return &sig, nil
}
