package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/options_signal_engine/internal/domain"
	"github.com/vitos/options_signal_engine/internal/metrics"
	"go.uber.org/zap"
)

const (
	MaxPendingSignals             = 10
	DefaultSignalExpirationPeriod = 300 * time.Second
)

type marketSource interface {
	GetStockPrice(ctx context.Context, symbol string) (float64, error)
	GetOptionsChain(ctx context.Context, symbol string) (*domain.OptionChain, error)
	GetHistoricalVolatility(ctx context.Context, symbol string) (*float64, error)
	GetOptionQuote(ctx context.Context, optionSymbol string) (*domain.OptionQuote, error)
}

type sentimentSource interface {
	GetSentimentSummary(ctx context.Context, symbol string) (*domain.SentimentSummary, error)
}

type autoExecutor interface {
	ConfirmSignal(ctx context.Context, id string, source domain.ConfirmationSource) (*domain.TradeSignal, error)
	ExecuteSignal(ctx context.Context, id string) (*domain.ExecutionResult, error)
}

type SignalGeneratorOptions struct {
	ExpirationTime time.Duration
	// AutoTrading confirms and executes new signals without waiting for a user.
	AutoTrading bool
}

// SignalGenerator turns watchlists into pending signals on every tick.
type SignalGenerator struct {
	users     domain.UserRepository
	signals   domain.SignalRepository
	market    marketSource
	sentiment sentimentSource
	selector  *StrategySelector
	executor  autoExecutor
	events    *EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      SignalGeneratorOptions

	// For testing
	timeNow func() time.Time
	newID   func() string
}

func NewSignalGenerator(
	users domain.UserRepository,
	signals domain.SignalRepository,
	market marketSource,
	sentiment sentimentSource,
	selector *StrategySelector,
	executor autoExecutor,
	events *EventPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts SignalGeneratorOptions,
) *SignalGenerator {
	if opts.ExpirationTime <= 0 {
		opts.ExpirationTime = DefaultSignalExpirationPeriod
	}
	return &SignalGenerator{
		users:     users,
		signals:   signals,
		market:    market,
		sentiment: sentiment,
		selector:  selector,
		executor:  executor,
		events:    events,
		metrics:   m,
		logger:    logger,
		opts:      opts,
		timeNow:   time.Now,
		newID:     uuid.NewString,
	}
}

// GenerateSignals runs one generation cycle over every configured user.
func (g *SignalGenerator) GenerateSignals(ctx context.Context) error {
	users, err := g.users.ListConfiguredUsers(ctx)
	if err != nil {
		return domain.Persistence(err, "list users")
	}
	g.logger.Info("Starting signal generation cycle", zap.Int("users", len(users)))

	created := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := g.generateForUser(ctx, userID)
		if err != nil {
			g.logger.Error("Signal generation failed for user", zap.String("user_id", userID), zap.Error(err))
		}
		created += n
	}
	g.logger.Info("Signal generation cycle complete", zap.Int("created", created))
	return nil
}

func (g *SignalGenerator) generateForUser(ctx context.Context, userID string) (int, error) {
	cfg, err := g.users.GetLatestUserConfig(ctx, userID)
	if err != nil {
		return 0, domain.Persistence(err, "load user config")
	}
	watchlist, err := g.users.ListActiveWatchlist(ctx, userID)
	if err != nil {
		return 0, domain.Persistence(err, "load watchlist")
	}
	if len(watchlist) == 0 {
		g.logger.Debug("No watchlist symbols", zap.String("user_id", userID))
		return 0, nil
	}

	pending, err := g.signals.CountSignals(ctx, userID, []domain.SignalStatus{domain.SignalPending}, time.Time{})
	if err != nil {
		return 0, domain.Persistence(err, "count pending signals")
	}
	if pending >= MaxPendingSignals {
		g.logger.Debug("Pending signal cap reached", zap.String("user_id", userID), zap.Int("pending", pending))
		return 0, nil
	}

	today, err := g.signals.CountSignals(ctx, userID,
		[]domain.SignalStatus{domain.SignalConfirmed, domain.SignalExecuted}, truncateDay(g.timeNow()))
	if err != nil {
		return 0, domain.Persistence(err, "count daily trades")
	}
	if today >= cfg.MaxDailyTrades {
		g.logger.Debug("Daily trade limit reached", zap.String("user_id", userID), zap.Int("trades", today))
		return 0, nil
	}

	created := 0
	for _, item := range watchlist {
		if pending+created >= MaxPendingSignals || ctx.Err() != nil {
			break
		}
		sig := g.analyzeSymbol(ctx, userID, item.Symbol, cfg)
		if sig == nil {
			continue
		}
		if err := g.signals.CreateSignal(ctx, sig); err != nil {
			g.logger.Error("Failed to store signal", zap.String("symbol", item.Symbol), zap.Error(err))
			continue
		}
		created++
		g.metrics.SignalGenerated(string(sig.StrategyType))
		g.logger.Info("Created signal",
			zap.String("signal_id", sig.ID),
			zap.String("user_id", userID),
			zap.String("symbol", sig.Symbol),
			zap.String("strategy", string(sig.StrategyType)),
			zap.Float64("confidence", sig.ConfidenceScore))
		g.events.NewSignal(ctx, sig)

		if g.opts.AutoTrading && g.executor != nil {
			g.autoExecute(ctx, sig.ID)
		}
	}
	return created, nil
}

// analyzeSymbol returns a pending signal for the symbol or nil when nothing should be traded.
func (g *SignalGenerator) analyzeSymbol(ctx context.Context, userID, symbol string, cfg *domain.UserConfig) *domain.TradeSignal {
	log := g.logger.With(zap.String("user_id", userID), zap.String("symbol", symbol))

	price, err := g.market.GetStockPrice(ctx, symbol)
	if err != nil {
		log.Warn("Could not fetch price", zap.Error(err))
		return nil
	}
	chain, err := g.market.GetOptionsChain(ctx, symbol)
	if err != nil {
		log.Warn("Could not fetch options chain", zap.Error(err))
		return nil
	}

	var summary *domain.SentimentSummary
	if cfg.NewsSentimentEnabled && g.sentiment != nil {
		summary, err = g.sentiment.GetSentimentSummary(ctx, symbol)
		if err != nil {
			log.Warn("Could not fetch news sentiment", zap.Error(err))
			return nil
		}
		if veto, reason := CheckVeto(summary); veto {
			g.metrics.SignalVetoed()
			log.Info("Trade vetoed by news", zap.String("reason", reason))
			return nil
		}
	}

	hv, err := g.market.GetHistoricalVolatility(ctx, symbol)
	if err != nil {
		log.Debug("Historical volatility unavailable", zap.Error(err))
		hv = nil
	}

	rec := g.selector.Select(symbol, price, chain, hv, summary, cfg)
	if rec == nil {
		log.Debug("No suitable strategy")
		return nil
	}
	if len(rec.FallbackStrikes) > 0 {
		log.Debug("Fallback strikes", zap.Float64s("strikes", rec.FallbackStrikes))
	}

	quote, err := g.market.GetOptionQuote(ctx, rec.OptionSymbol)
	if err != nil {
		log.Debug("Could not fetch option quote", zap.String("option_symbol", rec.OptionSymbol), zap.Error(err))
		return nil
	}
	if !LiquidityAcceptable(quote, cfg.MaxBidAskSpreadPct) {
		log.Debug("Spread too wide", zap.String("option_symbol", rec.OptionSymbol), zap.Float64("spread_pct", quote.SpreadPct))
		return nil
	}

	now := g.timeNow()
	conditions := domain.MarketConditions{StockPrice: price, HistoricalVolatility: hv, Timestamp: now}
	if summary != nil {
		avg := summary.AvgSentiment
		conditions.NewsSentiment = &avg
	}
	return &domain.TradeSignal{
		ID:               g.newID(),
		UserID:           userID,
		Symbol:           symbol,
		StrategyType:     rec.Strategy,
		Side:             rec.Side,
		OptionSymbol:     rec.OptionSymbol,
		StrikePrice:      rec.Strike,
		ExpirationDate:   rec.Expiration,
		OptionType:       rec.OptionType,
		Quantity:         rec.Quantity,
		LimitPrice:       rec.LimitPrice,
		MaxSpreadPct:     cfg.MaxBidAskSpreadPct,
		ConfidenceScore:  rec.Confidence,
		Reasoning:        rec.Reasoning,
		MarketConditions: conditions,
		FallbackStrikes:  rec.FallbackStrikes,
		Status:           domain.SignalPending,
		ExpiresAt:        now.Add(g.opts.ExpirationTime),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (g *SignalGenerator) autoExecute(ctx context.Context, id string) {
	if _, err := g.executor.ConfirmSignal(ctx, id, domain.ConfirmedViaAuto); err != nil {
		g.logger.Warn("Auto-confirm failed", zap.String("signal_id", id), zap.Error(err))
		return
	}
	if _, err := g.executor.ExecuteSignal(ctx, id); err != nil {
		g.logger.Warn("Auto-execution failed", zap.String("signal_id", id), zap.Error(err))
	}
}

// ExpireSignals moves every pending signal past its window to expired. Safe to repeat.
func (g *SignalGenerator) ExpireSignals(ctx context.Context) (int, error) {
	ids, err := g.signals.ExpirePendingSignals(ctx, g.timeNow())
	if err != nil {
		return 0, domain.Persistence(err, "expire signals")
	}
	if len(ids) > 0 {
		g.metrics.SignalsExpired(len(ids))
		g.logger.Info("Expired signals", zap.Int("count", len(ids)), zap.Strings("signal_ids", ids))
	}
	return len(ids), nil
}

// LiquidityAcceptable rejects quotes whose spread percentage is strictly above the maximum.
func LiquidityAcceptable(q *domain.OptionQuote, maxSpreadPct float64) bool {
	if q == nil {
		return false
	}
	return q.SpreadPct <= maxSpreadPct
}
