package domain

import "time"

type ExpirationBucket string

const (
	ExpirationWeekly    ExpirationBucket = "weekly"
	ExpirationMonthly   ExpirationBucket = "monthly"
	ExpirationQuarterly ExpirationBucket = "quarterly"
)

// Contains reports whether a days-to-expiration value falls into the bucket.
func (b ExpirationBucket) Contains(dte int) bool {
	switch b {
	case ExpirationWeekly:
		return dte <= 7
	case ExpirationMonthly:
		return dte >= 20 && dte <= 45
	case ExpirationQuarterly:
		return dte >= 60 && dte <= 120
	}
	return false
}

// UserConfig holds a user's risk and strategy preferences. The highest Version is current.
type UserConfig struct {
	UserID                 string             `json:"user_id"`
	Version                int                `json:"version"`
	MaxPositionSizePct     float64            `json:"max_position_size_pct"`
	MaxDailyTrades         int                `json:"max_daily_trades"`
	DefaultProfitTargetPct float64            `json:"default_profit_target_pct"`
	DefaultStopLossPct     float64            `json:"default_stop_loss_pct"`
	DefaultTrailingStopPct *float64           `json:"default_trailing_stop_pct,omitempty"`
	MinOptionVolume        int                `json:"min_option_volume"`
	MinOpenInterest        int                `json:"min_open_interest"`
	MaxBidAskSpreadPct     float64            `json:"max_bid_ask_spread_pct"`
	MinLiquidityScore      float64            `json:"min_liquidity_score"`
	AllowedStrategies      []StrategyType     `json:"allowed_strategies"`
	AllowedExpirations     []ExpirationBucket `json:"allowed_expirations"`
	AutoSellEnabled        bool               `json:"auto_sell_enabled"`
	TrailingStopEnabled    bool               `json:"trailing_stop_enabled"`
	NewsSentimentEnabled   bool               `json:"news_sentiment_enabled"`
	CreatedAt              time.Time          `json:"created_at"`
}

// DefaultUserConfig returns the configuration a new user starts with.
func DefaultUserConfig(userID string) *UserConfig {
	return &UserConfig{
		UserID:                 userID,
		Version:                1,
		MaxPositionSizePct:     5,
		MaxDailyTrades:         20,
		DefaultProfitTargetPct: 50,
		DefaultStopLossPct:     50,
		MinOptionVolume:        100,
		MinOpenInterest:        500,
		MaxBidAskSpreadPct:     5,
		MinLiquidityScore:      0.6,
		AllowedStrategies:      append([]StrategyType(nil), AllStrategies...),
		AllowedExpirations:     []ExpirationBucket{ExpirationWeekly, ExpirationMonthly},
		AutoSellEnabled:        true,
		NewsSentimentEnabled:   true,
	}
}

// AllowsExpiration reports whether dte matches any allowed bucket.
func (c *UserConfig) AllowsExpiration(dte int) bool {
	for _, b := range c.AllowedExpirations {
		if b.Contains(dte) {
			return true
		}
	}
	return false
}

type WatchlistItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	IsActive  bool      `json:"is_active"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
