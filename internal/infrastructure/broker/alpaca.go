package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"github.com/vitos/options_signal_engine/internal/domain"
)

const (
	AlpacaPaperURL = "https://paper-api.alpaca.markets"
	AlpacaLiveURL  = "https://api.alpaca.markets"
	AlpacaDataURL  = "https://data.alpaca.markets"
)

// APIError is a non-2xx answer from the broker.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("alpaca API error %d: %s", e.Status, e.Body)
}

// AlpacaAdapter talks to the Alpaca trading and market data REST APIs.
type AlpacaAdapter struct {
	keyID   string
	secret  string
	baseURL string
	dataURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewAlpacaAdapter(keyID, secret, baseURL, dataURL string) *AlpacaAdapter {
	if baseURL == "" {
		baseURL = AlpacaPaperURL
	}
	if dataURL == "" {
		dataURL = AlpacaDataURL
	}
	return &AlpacaAdapter{
		keyID:   keyID,
		secret:  secret,
		baseURL: baseURL,
		dataURL: dataURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		cb:      newBreaker("alpaca"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors say nothing about the health of the API.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < 500
			}
			return err == nil
		},
	})
}

// --- REST API ---

func (a *AlpacaAdapter) sendRequest(ctx context.Context, method, base, path string, payload any) ([]byte, error) {
	res, err := a.cb.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, base+path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("APCA-API-KEY-ID", a.keyID)
		req.Header.Set("APCA-API-SECRET-KEY", a.secret)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
		}
		return respBody, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

func (a *AlpacaAdapter) GetAccount(ctx context.Context) (*domain.Account, error) {
	resp, err := a.sendRequest(ctx, http.MethodGet, a.baseURL, "/v2/account", nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Equity           string `json:"equity"`
		Cash             string `json:"cash"`
		BuyingPower      string `json:"buying_power"`
		PortfolioValue   string `json:"portfolio_value"`
		TradingBlocked   bool   `json:"trading_blocked"`
		AccountBlocked   bool   `json:"account_blocked"`
		DaytradeCount    int    `json:"daytrade_count"`
		PatternDayTrader bool   `json:"pattern_day_trader"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}

	return &domain.Account{
		Equity:           parseFloat(raw.Equity),
		Cash:             parseFloat(raw.Cash),
		BuyingPower:      parseFloat(raw.BuyingPower),
		PortfolioValue:   parseFloat(raw.PortfolioValue),
		TradingBlocked:   raw.TradingBlocked || raw.AccountBlocked,
		DaytradeCount:    raw.DaytradeCount,
		PatternDayTrader: raw.PatternDayTrader,
	}, nil
}

func (a *AlpacaAdapter) GetAllPositions(ctx context.Context) ([]domain.BrokerPosition, error) {
	resp, err := a.sendRequest(ctx, http.MethodGet, a.baseURL, "/v2/positions", nil)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol         string `json:"symbol"`
		Qty            string `json:"qty"`
		Side           string `json:"side"`
		AvgEntryPrice  string `json:"avg_entry_price"`
		CurrentPrice   string `json:"current_price"`
		MarketValue    string `json:"market_value"`
		UnrealizedPL   string `json:"unrealized_pl"`
		UnrealizedPLPC string `json:"unrealized_plpc"`
		CostBasis      string `json:"cost_basis"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}

	positions := make([]domain.BrokerPosition, 0, len(raw))
	for _, p := range raw {
		qty, _ := strconv.Atoi(p.Qty)
		positions = append(positions, domain.BrokerPosition{
			Symbol:         p.Symbol,
			Qty:            qty,
			Side:           p.Side,
			AvgEntryPrice:  parseFloat(p.AvgEntryPrice),
			CurrentPrice:   parseFloat(p.CurrentPrice),
			MarketValue:    parseFloat(p.MarketValue),
			UnrealizedPL:   parseFloat(p.UnrealizedPL),
			UnrealizedPLPC: parseFloat(p.UnrealizedPLPC),
			CostBasis:      parseFloat(p.CostBasis),
		})
	}
	return positions, nil
}

type orderPayload struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
}

type orderResponse struct {
	ID             string     `json:"id"`
	Symbol         string     `json:"symbol"`
	Status         string     `json:"status"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice *string    `json:"filled_avg_price"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
}

func (o *orderResponse) toDomain() *domain.BrokerOrder {
	qty, _ := strconv.ParseFloat(o.FilledQty, 64)
	order := &domain.BrokerOrder{
		ID:          o.ID,
		Symbol:      o.Symbol,
		Status:      domain.OrderStatus(o.Status),
		FilledQty:   int(qty),
		SubmittedAt: o.SubmittedAt,
		FilledAt:    o.FilledAt,
	}
	if o.FilledAvgPrice != nil {
		order.FilledAvgPrice = parseFloat(*o.FilledAvgPrice)
	}
	return order
}

func (a *AlpacaAdapter) SubmitOrder(ctx context.Context, req domain.OrderRequest) (*domain.BrokerOrder, error) {
	payload := orderPayload{
		Symbol:      req.Symbol,
		Qty:         strconv.Itoa(req.Qty),
		Side:        string(req.Side),
		Type:        string(req.Type()),
		TimeInForce: string(req.TimeInForce),
	}
	if payload.TimeInForce == "" {
		payload.TimeInForce = string(domain.TimeInForceDay)
	}
	if req.LimitPrice != nil {
		payload.LimitPrice = strconv.FormatFloat(*req.LimitPrice, 'f', 2, 64)
	}

	resp, err := a.sendRequest(ctx, http.MethodPost, a.baseURL, "/v2/orders", payload)
	if err != nil {
		return nil, err
	}
	var raw orderResponse
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return raw.toDomain(), nil
}

func (a *AlpacaAdapter) GetOrder(ctx context.Context, orderID string) (*domain.BrokerOrder, error) {
	resp, err := a.sendRequest(ctx, http.MethodGet, a.baseURL, "/v2/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	var raw orderResponse
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return raw.toDomain(), nil
}

func (a *AlpacaAdapter) CancelOrder(ctx context.Context, orderID string) error {
	_, err := a.sendRequest(ctx, http.MethodDelete, a.baseURL, "/v2/orders/"+url.PathEscape(orderID), nil)
	return err
}

func (a *AlpacaAdapter) GetClock(ctx context.Context) (*domain.Clock, error) {
	resp, err := a.sendRequest(ctx, http.MethodGet, a.baseURL, "/v2/clock", nil)
	if err != nil {
		return nil, err
	}
	var clock domain.Clock
	if err := json.Unmarshal(resp, &clock); err != nil {
		return nil, fmt.Errorf("decode clock: %w", err)
	}
	return &clock, nil
}

// --- Market data ---

func (a *AlpacaAdapter) GetLatestQuote(ctx context.Context, symbol string) (*domain.StockQuote, error) {
	resp, err := a.sendRequest(ctx, http.MethodGet, a.dataURL, "/v2/stocks/"+url.PathEscape(symbol)+"/quotes/latest", nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Symbol string `json:"symbol"`
		Quote  struct {
			BidPrice  float64   `json:"bp"`
			AskPrice  float64   `json:"ap"`
			BidSize   float64   `json:"bs"`
			AskSize   float64   `json:"as"`
			Timestamp time.Time `json:"t"`
		} `json:"quote"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}

	return &domain.StockQuote{
		Symbol:    symbol,
		Bid:       raw.Quote.BidPrice,
		Ask:       raw.Quote.AskPrice,
		BidSize:   raw.Quote.BidSize,
		AskSize:   raw.Quote.AskSize,
		Timestamp: raw.Quote.Timestamp,
	}, nil
}

// GetBars pages through the bars endpoint until the range is exhausted.
func (a *AlpacaAdapter) GetBars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("timeframe", timeframe)
		q.Set("start", from.UTC().Format(time.RFC3339))
		q.Set("end", to.UTC().Format(time.RFC3339))
		q.Set("limit", "1000")
		q.Set("adjustment", "raw")
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		resp, err := a.sendRequest(ctx, http.MethodGet, a.dataURL, "/v2/stocks/"+url.PathEscape(symbol)+"/bars?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		var raw struct {
			Bars []struct {
				Time   time.Time `json:"t"`
				Open   float64   `json:"o"`
				High   float64   `json:"h"`
				Low    float64   `json:"l"`
				Close  float64   `json:"c"`
				Volume float64   `json:"v"`
			} `json:"bars"`
			NextPageToken *string `json:"next_page_token"`
		}
		if err := json.Unmarshal(resp, &raw); err != nil {
			return nil, fmt.Errorf("decode bars: %w", err)
		}
		for _, b := range raw.Bars {
			bars = append(bars, domain.Bar{Time: b.Time, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume})
		}

		if raw.NextPageToken == nil || *raw.NextPageToken == "" {
			return bars, nil
		}
		pageToken = *raw.NextPageToken
	}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
