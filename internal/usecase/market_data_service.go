package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vitos/options_signal_engine/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	volatilityLookbackDays = 252
	tradingDaysPerYear     = 252
	healthCheckSymbol      = "SPY"
	refreshConcurrency     = 4
)

// MarketDataService serves prices, chains and option quotes through the
// rate limiter and the TTL cache.
type MarketDataService struct {
	provider domain.MarketDataProvider
	users    domain.UserRepository
	cache    *MarketDataCache
	limiter  *RateLimiter
	logger   *zap.Logger
	timeNow  func() time.Time // For testing
}

func NewMarketDataService(
	provider domain.MarketDataProvider,
	users domain.UserRepository,
	cache *MarketDataCache,
	limiter *RateLimiter,
	logger *zap.Logger,
) *MarketDataService {
	return &MarketDataService{
		provider: provider,
		users:    users,
		cache:    cache,
		limiter:  limiter,
		logger:   logger,
		timeNow:  time.Now,
	}
}

// GetStockPrice returns the mid of the latest quote. A symbol with no quote on
// either side is reported as an external failure.
func (s *MarketDataService) GetStockPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := GetOrFetch(ctx, s.cache, QuoteKey(symbol), QuoteTTL, func(ctx context.Context) (float64, error) {
		if err := s.limiter.Acquire(ctx, ServiceBroker); err != nil {
			return 0, err
		}
		q, err := s.provider.GetLatestQuote(ctx, symbol)
		if err != nil {
			return 0, err
		}
		mid := q.Mid()
		if mid <= 0 {
			return 0, fmt.Errorf("no quote for %s", symbol)
		}
		return mid, nil
	})
	if err != nil {
		return 0, domain.External(err, "stock price unavailable for "+symbol)
	}
	return price, nil
}

func (s *MarketDataService) GetOptionsChain(ctx context.Context, symbol string) (*domain.OptionChain, error) {
	chain, err := GetOrFetch(ctx, s.cache, ChainKey(symbol), ChainTTL, func(ctx context.Context) (*domain.OptionChain, error) {
		if err := s.limiter.Acquire(ctx, ServiceMarketData); err != nil {
			return nil, err
		}
		contracts, err := s.provider.ListOptionContracts(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return domain.NewOptionChain(symbol, contracts), nil
	})
	if err != nil {
		return nil, domain.External(err, "options chain unavailable for "+symbol)
	}
	return chain, nil
}

// GetOptionQuote is always live; spreads move too fast to cache.
func (s *MarketDataService) GetOptionQuote(ctx context.Context, optionSymbol string) (*domain.OptionQuote, error) {
	if err := s.limiter.Acquire(ctx, ServiceMarketData); err != nil {
		return nil, domain.External(err, "rate limit wait aborted")
	}
	q, err := s.provider.GetLastOptionQuote(ctx, optionSymbol)
	if err != nil {
		return nil, domain.External(err, "option quote unavailable for "+optionSymbol)
	}
	return q, nil
}

// GetHistoricalVolatility returns annualized volatility in percent over the
// last year of daily closes, or nil when there is not enough history.
func (s *MarketDataService) GetHistoricalVolatility(ctx context.Context, symbol string) (*float64, error) {
	hv, err := GetOrFetch(ctx, s.cache, VolatilityKey(symbol), VolatilityTTL, func(ctx context.Context) (*float64, error) {
		if err := s.limiter.Acquire(ctx, ServiceBroker); err != nil {
			return nil, err
		}
		now := s.timeNow()
		// Calendar span wide enough to cover the trading-day lookback.
		from := now.AddDate(0, 0, -(volatilityLookbackDays*7/5 + 10))
		bars, err := s.provider.GetBars(ctx, symbol, "1Day", from, now)
		if err != nil {
			return nil, err
		}
		if len(bars) > volatilityLookbackDays+1 {
			bars = bars[len(bars)-volatilityLookbackDays-1:]
		}
		closes := make([]float64, len(bars))
		for i, b := range bars {
			closes[i] = b.Close
		}
		return HistoricalVolatility(closes), nil
	})
	if err != nil {
		return nil, domain.External(err, "historical volatility unavailable for "+symbol)
	}
	return hv, nil
}

// HistoricalVolatility is the population standard deviation of simple daily
// returns, annualized and expressed in percent with two decimals.
func HistoricalVolatility(closes []float64) *float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	if len(returns) == 0 {
		return nil
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))

	hv := round2(math.Sqrt(variance) * math.Sqrt(tradingDaysPerYear) * 100)
	return &hv
}

// CalculateLiquidityScore blends volume, open interest and spread tightness into [0,1].
func CalculateLiquidityScore(volume, openInterest int, spreadPct float64) float64 {
	volumeScore := math.Min(float64(volume)/1000, 1)
	oiScore := math.Min(float64(openInterest)/5000, 1)
	spreadScore := math.Max(0, 1-spreadPct/5)
	score := volumeScore*0.4 + oiScore*0.3 + spreadScore*0.3
	return round2(math.Max(0, math.Min(score, 1)))
}

// RefreshWatchlist warms the price and chain cache for every actively watched symbol.
func (s *MarketDataService) RefreshWatchlist(ctx context.Context) error {
	symbols, err := s.users.ListActiveSymbols(ctx)
	if err != nil {
		return domain.Persistence(err, "list watched symbols")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if _, err := s.GetStockPrice(gctx, symbol); err != nil {
				s.logger.Warn("Price refresh failed", zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			if _, err := s.GetOptionsChain(gctx, symbol); err != nil {
				s.logger.Warn("Chain refresh failed", zap.String("symbol", symbol), zap.Error(err))
			}
			return nil
		})
	}
	err = g.Wait()
	s.logger.Debug("Market data refreshed", zap.Int("symbols", len(symbols)))
	return err
}

// CheckAPIHealth probes the quote endpoint, bypassing the cache.
func (s *MarketDataService) CheckAPIHealth(ctx context.Context) error {
	if err := s.limiter.Acquire(ctx, ServiceBroker); err != nil {
		return domain.External(err, "rate limit wait aborted")
	}
	if _, err := s.provider.GetLatestQuote(ctx, healthCheckSymbol); err != nil {
		return domain.External(err, "market data API unhealthy")
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
