package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/options_signal_engine/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

type txKey struct{}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = dbPath + "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS user_configs (
			user_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			max_position_size_pct REAL NOT NULL,
			max_daily_trades INTEGER NOT NULL,
			default_profit_target_pct REAL NOT NULL,
			default_stop_loss_pct REAL NOT NULL,
			default_trailing_stop_pct REAL,
			min_option_volume INTEGER NOT NULL,
			min_open_interest INTEGER NOT NULL,
			max_bid_ask_spread_pct REAL NOT NULL,
			min_liquidity_score REAL NOT NULL,
			allowed_strategies TEXT NOT NULL,
			allowed_expirations TEXT NOT NULL,
			auto_sell_enabled BOOLEAN NOT NULL DEFAULT 1,
			trailing_stop_enabled BOOLEAN NOT NULL DEFAULT 0,
			news_sentiment_enabled BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, version)
		);`,
		`CREATE TABLE IF NOT EXISTS watchlists (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			notes TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			UNIQUE (user_id, symbol)
		);`,
		`CREATE TABLE IF NOT EXISTS trade_signals (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			strategy_type TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			option_symbol TEXT NOT NULL,
			strike_price REAL NOT NULL,
			expiration_date DATETIME NOT NULL,
			option_type TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			limit_price REAL,
			max_spread_pct REAL NOT NULL,
			confidence_score REAL NOT NULL CHECK (confidence_score BETWEEN 0 AND 100),
			reasoning TEXT NOT NULL,
			market_conditions TEXT NOT NULL,
			fallback_strikes TEXT NOT NULL,
			status TEXT NOT NULL,
			confirmation_source TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			expires_at DATETIME NOT NULL,
			confirmed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_signals_user_status ON trade_signals(user_id, status);`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			signal_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			broker_order_id TEXT NOT NULL,
			order_type TEXT NOT NULL,
			side TEXT NOT NULL,
			filled_quantity INTEGER NOT NULL,
			filled_price REAL NOT NULL,
			commission REAL NOT NULL DEFAULT 0,
			fees REAL NOT NULL DEFAULT 0,
			slippage REAL,
			submitted_at DATETIME NOT NULL,
			filled_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			signal_id TEXT NOT NULL,
			execution_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			option_symbol TEXT NOT NULL,
			strategy_type TEXT NOT NULL,
			strike_price REAL NOT NULL,
			expiration_date DATETIME NOT NULL,
			option_type TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			entry_price REAL NOT NULL,
			current_price REAL,
			unrealized_pnl REAL,
			unrealized_pnl_pct REAL,
			realized_pnl REAL,
			realized_pnl_pct REAL,
			profit_target_pct REAL NOT NULL,
			stop_loss_pct REAL NOT NULL,
			trailing_stop_pct REAL,
			peak_pnl_pct REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			close_reason TEXT NOT NULL DEFAULT '',
			opened_at DATETIME NOT NULL,
			closed_at DATETIME,
			last_updated_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_user_status ON positions(user_id, status);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			current_price REAL NOT NULL,
			unrealized_pnl REAL NOT NULL,
			unrealized_pnl_pct REAL NOT NULL,
			snapshot_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_position ON position_history(position_id, snapshot_at);`,
		`CREATE TABLE IF NOT EXISTS news_sentiment (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			headline TEXT NOT NULL,
			source TEXT NOT NULL,
			url TEXT NOT NULL,
			published_at DATETIME NOT NULL,
			sentiment_score REAL NOT NULL,
			sentiment_label TEXT NOT NULL,
			confidence REAL NOT NULL,
			category TEXT NOT NULL,
			UNIQUE (symbol, url)
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// WithTx runs fn in a transaction. A transaction already present in ctx is reused.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if fnErr := fn(context.WithValue(ctx, txKey{}, tx)); fnErr != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction rollback failed: %w (original error: %v)", rbErr, fnErr)
		}
		return fnErr
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transaction commit failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) conn(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	v := n.Time
	return &v
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// placeholders renders "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',', ' ')
		}
		b = append(b, '?')
	}
	return string(b)
}
