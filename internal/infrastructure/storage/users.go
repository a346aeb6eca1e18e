package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vitos/options_signal_engine/internal/domain"
)

func (s *SQLiteStore) SaveUserConfig(ctx context.Context, c *domain.UserConfig) error {
	strategies, err := encodeJSON(c.AllowedStrategies)
	if err != nil {
		return err
	}
	expirations, err := encodeJSON(c.AllowedExpirations)
	if err != nil {
		return err
	}

	query := `INSERT INTO user_configs (user_id, version, max_position_size_pct, max_daily_trades, default_profit_target_pct,
			  default_stop_loss_pct, default_trailing_stop_pct, min_option_volume, min_open_interest, max_bid_ask_spread_pct,
			  min_liquidity_score, allowed_strategies, allowed_expirations, auto_sell_enabled, trailing_stop_enabled,
			  news_sentiment_enabled, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(user_id, version) DO UPDATE SET
			  max_position_size_pct=excluded.max_position_size_pct,
			  max_daily_trades=excluded.max_daily_trades,
			  default_profit_target_pct=excluded.default_profit_target_pct,
			  default_stop_loss_pct=excluded.default_stop_loss_pct,
			  default_trailing_stop_pct=excluded.default_trailing_stop_pct,
			  min_option_volume=excluded.min_option_volume,
			  min_open_interest=excluded.min_open_interest,
			  max_bid_ask_spread_pct=excluded.max_bid_ask_spread_pct,
			  min_liquidity_score=excluded.min_liquidity_score,
			  allowed_strategies=excluded.allowed_strategies,
			  allowed_expirations=excluded.allowed_expirations,
			  auto_sell_enabled=excluded.auto_sell_enabled,
			  trailing_stop_enabled=excluded.trailing_stop_enabled,
			  news_sentiment_enabled=excluded.news_sentiment_enabled`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		c.UserID, c.Version, c.MaxPositionSizePct, c.MaxDailyTrades, c.DefaultProfitTargetPct,
		c.DefaultStopLossPct, nullFloat(c.DefaultTrailingStopPct), c.MinOptionVolume, c.MinOpenInterest, c.MaxBidAskSpreadPct,
		c.MinLiquidityScore, strategies, expirations, c.AutoSellEnabled, c.TrailingStopEnabled,
		c.NewsSentimentEnabled, utc(c.CreatedAt))
	return err
}

func (s *SQLiteStore) GetLatestUserConfig(ctx context.Context, userID string) (*domain.UserConfig, error) {
	query := `SELECT user_id, version, max_position_size_pct, max_daily_trades, default_profit_target_pct,
			  default_stop_loss_pct, default_trailing_stop_pct, min_option_volume, min_open_interest, max_bid_ask_spread_pct,
			  min_liquidity_score, allowed_strategies, allowed_expirations, auto_sell_enabled, trailing_stop_enabled,
			  news_sentiment_enabled, created_at
			  FROM user_configs WHERE user_id = ? ORDER BY version DESC LIMIT 1`
	row := s.conn(ctx).QueryRowContext(ctx, query, userID)

	var (
		c                       domain.UserConfig
		trailing                sql.NullFloat64
		strategies, expirations string
	)
	err := row.Scan(&c.UserID, &c.Version, &c.MaxPositionSizePct, &c.MaxDailyTrades, &c.DefaultProfitTargetPct,
		&c.DefaultStopLossPct, &trailing, &c.MinOptionVolume, &c.MinOpenInterest, &c.MaxBidAskSpreadPct,
		&c.MinLiquidityScore, &strategies, &expirations, &c.AutoSellEnabled, &c.TrailingStopEnabled,
		&c.NewsSentimentEnabled, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	c.DefaultTrailingStopPct = floatPtr(trailing)
	if err := json.Unmarshal([]byte(strategies), &c.AllowedStrategies); err != nil {
		return nil, fmt.Errorf("decode allowed_strategies: %w", err)
	}
	if err := json.Unmarshal([]byte(expirations), &c.AllowedExpirations); err != nil {
		return nil, fmt.Errorf("decode allowed_expirations: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListConfiguredUsers(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT DISTINCT user_id FROM user_configs ORDER BY user_id`)
}

func (s *SQLiteStore) ListActiveSymbols(ctx context.Context) ([]string, error) {
	return s.strings(ctx, `SELECT DISTINCT symbol FROM watchlists WHERE is_active = 1 ORDER BY symbol`)
}

func (s *SQLiteStore) ListActiveWatchlist(ctx context.Context, userID string) ([]domain.WatchlistItem, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT id, user_id, symbol, is_active, notes, created_at FROM watchlists
		 WHERE user_id = ? AND is_active = 1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.WatchlistItem
	for rows.Next() {
		var w domain.WatchlistItem
		if err := rows.Scan(&w.ID, &w.UserID, &w.Symbol, &w.IsActive, &w.Notes, &w.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) AddWatchlistItem(ctx context.Context, w *domain.WatchlistItem) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO watchlists (id, user_id, symbol, is_active, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, symbol) DO UPDATE SET is_active=excluded.is_active, notes=excluded.notes`,
		w.ID, w.UserID, w.Symbol, w.IsActive, w.Notes, utc(w.CreatedAt))
	return err
}

func (s *SQLiteStore) SaveScoredArticles(ctx context.Context, symbol string, articles []domain.ScoredArticle) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		for _, a := range articles {
			_, err := s.conn(ctx).ExecContext(ctx,
				`INSERT INTO news_sentiment (symbol, headline, source, url, published_at, sentiment_score, sentiment_label, confidence, category)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(symbol, url) DO UPDATE SET sentiment_score=excluded.sentiment_score, sentiment_label=excluded.sentiment_label`,
				symbol, a.Headline, a.Source, a.URL, utc(a.PublishedAt), a.Score, a.Label, a.Confidence, a.Category)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
