package domain

import (
	"sort"
	"time"
)

type StockQuote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	BidSize   float64   `json:"bid_size"`
	AskSize   float64   `json:"ask_size"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid falls back to whichever side is quoted when the other is empty.
func (q StockQuote) Mid() float64 {
	switch {
	case q.Bid > 0 && q.Ask > 0:
		return (q.Bid + q.Ask) / 2
	case q.Ask > 0:
		return q.Ask
	default:
		return q.Bid
	}
}

type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type OptionContract struct {
	Ticker       string     `json:"ticker"`
	Underlying   string     `json:"underlying"`
	Strike       float64    `json:"strike"`
	Expiration   time.Time  `json:"expiration"`
	Type         OptionType `json:"type"`
	Volume       int        `json:"volume,omitempty"`
	OpenInterest int        `json:"open_interest,omitempty"`
}

// ChainExpiration groups the contracts of one expiration date, each side sorted by strike.
type ChainExpiration struct {
	Date  time.Time        `json:"date"`
	Calls []OptionContract `json:"calls"`
	Puts  []OptionContract `json:"puts"`
}

// Side returns the contracts of the requested option type.
func (e *ChainExpiration) Side(t OptionType) []OptionContract {
	if t == OptionCall {
		return e.Calls
	}
	return e.Puts
}

// OptionChain is an underlying's listed contracts, expirations ascending.
type OptionChain struct {
	Symbol      string            `json:"symbol"`
	Expirations []ChainExpiration `json:"expirations"`
}

// NewOptionChain organizes a flat contract listing by expiration then strike.
func NewOptionChain(symbol string, contracts []OptionContract) *OptionChain {
	byDate := make(map[string]*ChainExpiration)
	for _, c := range contracts {
		key := c.Expiration.Format("2006-01-02")
		exp, ok := byDate[key]
		if !ok {
			exp = &ChainExpiration{Date: c.Expiration}
			byDate[key] = exp
		}
		if c.Type == OptionCall {
			exp.Calls = append(exp.Calls, c)
		} else {
			exp.Puts = append(exp.Puts, c)
		}
	}

	chain := &OptionChain{Symbol: symbol}
	for _, exp := range byDate {
		sort.Slice(exp.Calls, func(i, j int) bool { return exp.Calls[i].Strike < exp.Calls[j].Strike })
		sort.Slice(exp.Puts, func(i, j int) bool { return exp.Puts[i].Strike < exp.Puts[j].Strike })
		chain.Expirations = append(chain.Expirations, *exp)
	}
	sort.Slice(chain.Expirations, func(i, j int) bool {
		return chain.Expirations[i].Date.Before(chain.Expirations[j].Date)
	})
	return chain
}

// Expiration looks up the group for a date, nil when absent.
func (c *OptionChain) Expiration(date time.Time) *ChainExpiration {
	for i := range c.Expirations {
		if sameDay(c.Expirations[i].Date, date) {
			return &c.Expirations[i]
		}
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

type OptionQuote struct {
	OptionSymbol string    `json:"option_symbol"`
	Bid          float64   `json:"bid"`
	Ask          float64   `json:"ask"`
	BidSize      float64   `json:"bid_size"`
	AskSize      float64   `json:"ask_size"`
	Mid          float64   `json:"mid"`
	Spread       float64   `json:"spread"`
	SpreadPct    float64   `json:"spread_pct"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewOptionQuote derives mid and spread figures from a raw bid/ask.
func NewOptionQuote(symbol string, bid, ask, bidSize, askSize float64, ts time.Time) *OptionQuote {
	q := &OptionQuote{
		OptionSymbol: symbol,
		Bid:          bid,
		Ask:          ask,
		BidSize:      bidSize,
		AskSize:      askSize,
		Mid:          (bid + ask) / 2,
		Spread:       ask - bid,
		Timestamp:    ts,
	}
	if ask > 0 {
		q.SpreadPct = (ask - bid) / ask * 100
	}
	return q
}

type NewsHeadline struct {
	Headline    string    `json:"headline"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

type SentimentScore struct {
	Score      float64 `json:"score"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type ScoredArticle struct {
	NewsHeadline
	SentimentScore
	Category string `json:"category"`
}

// SentimentSummary aggregates the scored headlines of a symbol, most recent first.
type SentimentSummary struct {
	Symbol        string          `json:"symbol"`
	ArticleCount  int             `json:"article_count"`
	AvgSentiment  float64         `json:"avg_sentiment"`
	Label         string          `json:"sentiment_label"`
	PositiveCount int             `json:"positive_count"`
	NegativeCount int             `json:"negative_count"`
	NeutralCount  int             `json:"neutral_count"`
	HighImpact    []ScoredArticle `json:"high_impact"`
	Articles      []ScoredArticle `json:"articles"`
	Categories    map[string]int  `json:"categories"`
}

type Account struct {
	Equity           float64 `json:"equity"`
	Cash             float64 `json:"cash"`
	BuyingPower      float64 `json:"buying_power"`
	PortfolioValue   float64 `json:"portfolio_value"`
	TradingBlocked   bool    `json:"trading_blocked"`
	DaytradeCount    int     `json:"daytrade_count"`
	PatternDayTrader bool    `json:"pattern_day_trader"`
}

type BrokerPosition struct {
	Symbol         string  `json:"symbol"`
	Qty            int     `json:"qty"`
	Side           string  `json:"side"`
	AvgEntryPrice  float64 `json:"avg_entry_price"`
	CurrentPrice   float64 `json:"current_price"`
	MarketValue    float64 `json:"market_value"`
	UnrealizedPL   float64 `json:"unrealized_pl"`
	UnrealizedPLPC float64 `json:"unrealized_plpc"`
	CostBasis      float64 `json:"cost_basis"`
}

type TimeInForce string

const TimeInForceDay TimeInForce = "day"

type OrderRequest struct {
	Symbol      string      `json:"symbol"`
	Qty         int         `json:"qty"`
	Side        OrderSide   `json:"side"`
	TimeInForce TimeInForce `json:"time_in_force"`
	LimitPrice  *float64    `json:"limit_price,omitempty"`
}

// Type is limit when a limit price was given, market otherwise.
func (r OrderRequest) Type() OrderType {
	if r.LimitPrice != nil {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderAccepted        OrderStatus = "accepted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderExpired         OrderStatus = "expired"
	OrderRejected        OrderStatus = "rejected"
)

// IsDeadWithoutFill is true for terminal statuses that will never fill.
func (s OrderStatus) IsDeadWithoutFill() bool {
	switch s {
	case OrderCanceled, OrderCancelled, OrderExpired, OrderRejected:
		return true
	}
	return false
}

type BrokerOrder struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Status         OrderStatus `json:"status"`
	FilledQty      int         `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	SubmittedAt    time.Time   `json:"submitted_at"`
	FilledAt       *time.Time  `json:"filled_at,omitempty"`
}

type Clock struct {
	IsOpen    bool      `json:"is_open"`
	Timestamp time.Time `json:"timestamp"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}
