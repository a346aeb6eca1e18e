package domain

import "time"

// OptionMultiplier is the number of shares one option contract controls.
const OptionMultiplier = 100

type PositionStatus string

const (
	PositionOpen    PositionStatus = "open"
	PositionClosed  PositionStatus = "closed"
	PositionExpired PositionStatus = "expired"
)

type CloseReason string

const (
	CloseProfitTarget CloseReason = "profit_target"
	CloseStopLoss     CloseReason = "stop_loss"
	CloseManual       CloseReason = "manual"
	CloseExpiration   CloseReason = "expiration"
	CloseAutoExit     CloseReason = "auto_exit"
)

type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// Position is an option position opened by an executed signal.
// Quantity is signed: positive is long, negative is short.
// SignalID and ExecutionID are plain references, never ownership.
type Position struct {
	ID               string         `json:"id"`
	UserID           string         `json:"user_id"`
	SignalID         string         `json:"signal_id"`
	ExecutionID      string         `json:"execution_id"`
	Symbol           string         `json:"symbol"`
	OptionSymbol     string         `json:"option_symbol"`
	StrategyType     StrategyType   `json:"strategy_type"`
	StrikePrice      float64        `json:"strike_price"`
	ExpirationDate   time.Time      `json:"expiration_date"`
	OptionType       OptionType     `json:"option_type"`
	Quantity         int            `json:"quantity"`
	EntryPrice       float64        `json:"entry_price"`
	CurrentPrice     *float64       `json:"current_price,omitempty"`
	UnrealizedPnL    *float64       `json:"unrealized_pnl,omitempty"`
	UnrealizedPnLPct *float64       `json:"unrealized_pnl_pct,omitempty"`
	RealizedPnL      *float64       `json:"realized_pnl,omitempty"`
	RealizedPnLPct   *float64       `json:"realized_pnl_pct,omitempty"`
	ProfitTargetPct  float64        `json:"profit_target_pct"`
	StopLossPct      float64        `json:"stop_loss_pct"`
	TrailingStopPct  *float64       `json:"trailing_stop_pct,omitempty"`
	PeakPnLPct       float64        `json:"peak_pnl_pct"`
	Status           PositionStatus `json:"status"`
	CloseReason      CloseReason    `json:"close_reason,omitempty"`
	OpenedAt         time.Time      `json:"opened_at"`
	ClosedAt         *time.Time     `json:"closed_at,omitempty"`
	LastUpdatedAt    *time.Time     `json:"last_updated_at,omitempty"`
}

// IsLong reports whether the position was opened by buying contracts.
func (p *Position) IsLong() bool {
	return p.Quantity > 0
}

// AbsQuantity is the contract count regardless of direction.
func (p *Position) AbsQuantity() int {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}

// DaysToExpiration counts whole UTC calendar days from now to the expiration date.
func (p *Position) DaysToExpiration(now time.Time) int {
	return DaysBetween(now, p.ExpirationDate)
}

// UTCDay is t's calendar day in UTC at midnight.
func UTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts UTC calendar days from from to to.
func DaysBetween(from, to time.Time) int {
	return int(UTCDay(to).Sub(UTCDay(from)).Hours() / 24)
}

// PositionHistory is an append-only valuation snapshot.
type PositionHistory struct {
	ID               string    `json:"id"`
	PositionID       string    `json:"position_id"`
	CurrentPrice     float64   `json:"current_price"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	UnrealizedPnLPct float64   `json:"unrealized_pnl_pct"`
	SnapshotAt       time.Time `json:"snapshot_at"`
}

// Execution records the broker fill behind a signal. Immutable once stored.
type Execution struct {
	ID             string    `json:"id"`
	SignalID       string    `json:"signal_id"`
	UserID         string    `json:"user_id"`
	BrokerOrderID  string    `json:"broker_order_id"`
	OrderType      OrderType `json:"order_type"`
	Side           OrderSide `json:"side"`
	FilledQuantity int       `json:"filled_quantity"`
	FilledPrice    float64   `json:"filled_price"`
	Commission     float64   `json:"commission"`
	Fees           float64   `json:"fees"`
	Slippage       *float64  `json:"slippage,omitempty"`
	SubmittedAt    time.Time `json:"submitted_at"`
	FilledAt       time.Time `json:"filled_at"`
}

// ClosedPosition is what a successful close reports back.
type ClosedPosition struct {
	PositionID     string      `json:"position_id"`
	ExitPrice      float64     `json:"exit_price"`
	RealizedPnL    float64     `json:"realized_pnl"`
	RealizedPnLPct float64     `json:"realized_pnl_pct"`
	Reason         CloseReason `json:"close_reason"`
	ClosedAt       time.Time   `json:"closed_at"`
}

// ExecutionResult is what a successful signal execution reports back.
type ExecutionResult struct {
	SignalID       string  `json:"signal_id"`
	ExecutionID    string  `json:"execution_id"`
	PositionID     string  `json:"position_id"`
	FilledPrice    float64 `json:"filled_price"`
	FilledQuantity int     `json:"filled_quantity"`
}
