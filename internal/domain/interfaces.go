package domain

import (
	"context"
	"time"
)

// Broker is the order-routing collaborator.
type Broker interface {
	GetAccount(ctx context.Context) (*Account, error)
	GetAllPositions(ctx context.Context) ([]BrokerPosition, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (*BrokerOrder, error)
	GetOrder(ctx context.Context, orderID string) (*BrokerOrder, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetClock(ctx context.Context) (*Clock, error)
}

// MarketDataProvider serves equity quotes, bars and option listings.
type MarketDataProvider interface {
	GetLatestQuote(ctx context.Context, symbol string) (*StockQuote, error)
	GetBars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Bar, error)
	ListOptionContracts(ctx context.Context, underlying string) ([]OptionContract, error)
	GetLastOptionQuote(ctx context.Context, optionSymbol string) (*OptionQuote, error)
}

type NewsProvider interface {
	FetchHeadlines(ctx context.Context, symbol string, hoursBack int) ([]NewsHeadline, error)
}

type SentimentScorer interface {
	ScoreSentiment(ctx context.Context, text string) (SentimentScore, error)
}

// Publisher delivers a JSON-encodable message on a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

// CacheStore keeps serialized values with an absolute expiry.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
}

// Transactor runs fn inside one transaction carried by the returned context.
// The transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
}

type SignalFilter struct {
	UserID   string
	Statuses []SignalStatus
	Limit    int
}

// StatusChange carries the optional columns written with a signal transition.
type StatusChange struct {
	Reason string
	Source ConfirmationSource
	At     time.Time
}

type SignalRepository interface {
	CreateSignal(ctx context.Context, s *TradeSignal) error
	GetSignal(ctx context.Context, id string) (*TradeSignal, error)
	ListSignals(ctx context.Context, f SignalFilter) ([]*TradeSignal, error)
	// TransitionSignal moves id from one status to another, returning ErrStaleStatus
	// when the stored status is no longer `from`.
	TransitionSignal(ctx context.Context, id string, from, to SignalStatus, change StatusChange) error
	CountSignals(ctx context.Context, userID string, statuses []SignalStatus, since time.Time) (int, error)
	ExpirePendingSignals(ctx context.Context, now time.Time) ([]string, error)
	DeleteUserSignals(ctx context.Context, userID string) (int64, error)
}

type ExecutionRepository interface {
	CreateExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	GetExecutionBySignal(ctx context.Context, signalID string) (*Execution, error)
}

type PositionFilter struct {
	UserID   string
	Statuses []PositionStatus
	Since    time.Time
}

// Valuation is one revaluation of an open position.
type Valuation struct {
	CurrentPrice     float64
	UnrealizedPnL    float64
	UnrealizedPnLPct float64
	PeakPnLPct       float64
	At               time.Time
}

type PositionRepository interface {
	CreatePosition(ctx context.Context, p *Position) error
	GetPosition(ctx context.Context, id string) (*Position, error)
	ListPositions(ctx context.Context, f PositionFilter) ([]*Position, error)
	// UpdateValuation only touches open positions; ErrStaleStatus otherwise.
	UpdateValuation(ctx context.Context, id string, v Valuation) error
	// MarkClosed moves an open position to closed; ErrStaleStatus otherwise.
	MarkClosed(ctx context.Context, id string, c ClosedPosition) error
	AppendHistory(ctx context.Context, h *PositionHistory) error
	ListHistory(ctx context.Context, positionID string, limit int) ([]*PositionHistory, error)
}

type UserRepository interface {
	GetLatestUserConfig(ctx context.Context, userID string) (*UserConfig, error)
	SaveUserConfig(ctx context.Context, c *UserConfig) error
	ListConfiguredUsers(ctx context.Context) ([]string, error)
	ListActiveWatchlist(ctx context.Context, userID string) ([]WatchlistItem, error)
	ListActiveSymbols(ctx context.Context) ([]string, error)
	AddWatchlistItem(ctx context.Context, w *WatchlistItem) error
}

type NewsRepository interface {
	SaveScoredArticles(ctx context.Context, symbol string, articles []ScoredArticle) error
}
