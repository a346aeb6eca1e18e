package domain

import "time"

type SignalStatus string

const (
	SignalPending   SignalStatus = "pending"
	SignalConfirmed SignalStatus = "confirmed"
	SignalRejected  SignalStatus = "rejected"
	SignalExpired   SignalStatus = "expired"
	SignalExecuting SignalStatus = "executing"
	SignalExecuted  SignalStatus = "executed"
	SignalFailed    SignalStatus = "failed"
)

// signalTransitions lists every legal forward move of a signal.
var signalTransitions = map[SignalStatus][]SignalStatus{
	SignalPending:   {SignalConfirmed, SignalRejected, SignalExpired},
	SignalConfirmed: {SignalExecuting},
	SignalExecuting: {SignalExecuted, SignalFailed},
}

// CanTransition reports whether a signal may move from one status to another.
func (s SignalStatus) CanTransition(to SignalStatus) bool {
	for _, next := range signalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal is true for statuses with no outgoing transition.
func (s SignalStatus) IsTerminal() bool {
	return len(signalTransitions[s]) == 0
}

type StrategyType string

const (
	StrategyCreditSpread StrategyType = "credit_spread"
	StrategyDebitSpread  StrategyType = "debit_spread"
	StrategyIronCondor   StrategyType = "iron_condor"
	StrategyCoveredCall  StrategyType = "covered_call"
)

// AllStrategies is the default allow-list for a new user configuration.
var AllStrategies = []StrategyType{StrategyCreditSpread, StrategyDebitSpread, StrategyIronCondor, StrategyCoveredCall}

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the side that unwinds this one.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

type ConfirmationSource string

const (
	ConfirmedViaDiscord ConfirmationSource = "discord"
	ConfirmedViaWeb     ConfirmationSource = "web"
	ConfirmedViaAuto    ConfirmationSource = "auto"
)

// MarketConditions is the snapshot taken when a signal was generated.
type MarketConditions struct {
	StockPrice           float64   `json:"stock_price"`
	HistoricalVolatility *float64  `json:"historical_volatility,omitempty"`
	NewsSentiment        *float64  `json:"news_sentiment,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// TradeSignal is a scored recommendation waiting on, or past, the confirmation gate.
type TradeSignal struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	Symbol             string             `json:"symbol"`
	StrategyType       StrategyType       `json:"strategy_type"`
	Side               OrderSide          `json:"signal_type"`
	OptionSymbol       string             `json:"option_symbol"`
	StrikePrice        float64            `json:"strike_price"`
	ExpirationDate     time.Time          `json:"expiration_date"`
	OptionType         OptionType         `json:"option_type"`
	Quantity           int                `json:"quantity"`
	LimitPrice         *float64           `json:"limit_price,omitempty"`
	MaxSpreadPct       float64            `json:"max_spread_pct"`
	ConfidenceScore    float64            `json:"confidence_score"`
	Reasoning          string             `json:"reasoning"`
	MarketConditions   MarketConditions   `json:"market_conditions"`
	FallbackStrikes    []float64          `json:"fallback_strikes"`
	Status             SignalStatus       `json:"status"`
	ConfirmationSource ConfirmationSource `json:"confirmation_source,omitempty"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	ExpiresAt          time.Time          `json:"expires_at"`
	ConfirmedAt        *time.Time         `json:"confirmed_at,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// IsExpiredAt is true once the confirmation window has closed.
func (s *TradeSignal) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
