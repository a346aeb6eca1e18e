package marketdata

import (
	"context"
	"time"

	"github.com/vitos/options_signal_engine/internal/domain"
)

// StockSource serves equity quotes and bars.
type StockSource interface {
	GetLatestQuote(ctx context.Context, symbol string) (*domain.StockQuote, error)
	GetBars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]domain.Bar, error)
}

// OptionSource serves option listings and quotes.
type OptionSource interface {
	ListOptionContracts(ctx context.Context, underlying string) ([]domain.OptionContract, error)
	GetLastOptionQuote(ctx context.Context, optionSymbol string) (*domain.OptionQuote, error)
}

// Provider joins an equity feed and an options feed into one domain.MarketDataProvider.
type Provider struct {
	StockSource
	OptionSource
}

func NewProvider(stocks StockSource, options OptionSource) *Provider {
	return &Provider{StockSource: stocks, OptionSource: options}
}

var _ domain.MarketDataProvider = (*Provider)(nil)
