package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/vitos/options_signal_engine/internal/domain"
)

const PolygonURL = "https://api.polygon.io"

// maxContractPages bounds the next_url chain of one listing.
const maxContractPages = 10

type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Status, e.Body)
}

// PolygonClient serves option listings and option quotes.
type PolygonClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

func NewPolygonClient(apiKey, baseURL string) *PolygonClient {
	if baseURL == "" {
		baseURL = PolygonURL
	}
	return &PolygonClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		cb:      newBreaker("polygon"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
			}
			return err == nil
		},
	})
}

func (p *PolygonClient) sendRequest(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("apiKey", p.apiKey)
	u.RawQuery = q.Encode()

	res, err := p.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, &APIError{Provider: "polygon", Status: resp.StatusCode, Body: string(body)}
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// ListOptionContracts returns the unexpired contracts listed on an underlying.
func (p *PolygonClient) ListOptionContracts(ctx context.Context, underlying string) ([]domain.OptionContract, error) {
	q := url.Values{}
	q.Set("underlying_ticker", underlying)
	q.Set("expired", "false")
	q.Set("limit", "1000")
	next := p.baseURL + "/v3/reference/options/contracts?" + q.Encode()

	var contracts []domain.OptionContract
	for page := 0; next != "" && page < maxContractPages; page++ {
		resp, err := p.sendRequest(ctx, next)
		if err != nil {
			return nil, err
		}

		var raw struct {
			Results []struct {
				Ticker         string  `json:"ticker"`
				Underlying     string  `json:"underlying_ticker"`
				StrikePrice    float64 `json:"strike_price"`
				ExpirationDate string  `json:"expiration_date"`
				ContractType   string  `json:"contract_type"`
			} `json:"results"`
			NextURL string `json:"next_url"`
		}
		if err := json.Unmarshal(resp, &raw); err != nil {
			return nil, fmt.Errorf("decode contracts: %w", err)
		}

		for _, r := range raw.Results {
			exp, err := time.Parse("2006-01-02", r.ExpirationDate)
			if err != nil {
				continue
			}
			contracts = append(contracts, domain.OptionContract{
				Ticker:     r.Ticker,
				Underlying: r.Underlying,
				Strike:     r.StrikePrice,
				Expiration: exp,
				Type:       domain.OptionType(strings.ToLower(r.ContractType)),
			})
		}
		next = raw.NextURL
	}
	return contracts, nil
}

// GetLastOptionQuote reads the most recent NBBO of an option ticker.
func (p *PolygonClient) GetLastOptionQuote(ctx context.Context, optionSymbol string) (*domain.OptionQuote, error) {
	q := url.Values{}
	q.Set("limit", "1")
	q.Set("order", "desc")
	q.Set("sort", "timestamp")

	resp, err := p.sendRequest(ctx, p.baseURL+"/v3/quotes/"+url.PathEscape(optionSymbol)+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var raw struct {
		Results []struct {
			BidPrice     float64 `json:"bid_price"`
			AskPrice     float64 `json:"ask_price"`
			BidSize      float64 `json:"bid_size"`
			AskSize      float64 `json:"ask_size"`
			SipTimestamp int64   `json:"sip_timestamp"`
		} `json:"results"`
	}
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("decode option quote: %w", err)
	}
	if len(raw.Results) == 0 {
		return nil, fmt.Errorf("no quote for %s", optionSymbol)
	}

	r := raw.Results[0]
	return domain.NewOptionQuote(optionSymbol, r.BidPrice, r.AskPrice, r.BidSize, r.AskSize, time.Unix(0, r.SipTimestamp).UTC()), nil
}
