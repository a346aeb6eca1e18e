package usecase

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/options_signal_engine/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	trailingActivationPct = 25.0
	monitorConcurrency    = 8
)

type optionQuoter interface {
	GetOptionQuote(ctx context.Context, optionSymbol string) (*domain.OptionQuote, error)
}

type positionCloser interface {
	ClosePosition(ctx context.Context, id string, reason domain.CloseReason) (*domain.ClosedPosition, error)
}

type PositionManagerOptions struct {
	AutoSellEnabled     bool
	TrailingStopEnabled bool
}

// PositionManager revalues open positions and closes them when an exit rule fires.
type PositionManager struct {
	positions domain.PositionRepository
	users     domain.UserRepository
	tx        domain.Transactor
	quotes    optionQuoter
	closer    positionCloser
	events    *EventPublisher
	logger    *zap.Logger
	opts      PositionManagerOptions

	// For testing
	timeNow func() time.Time
	newID   func() string
}

func NewPositionManager(
	positions domain.PositionRepository,
	users domain.UserRepository,
	tx domain.Transactor,
	quotes optionQuoter,
	closer positionCloser,
	events *EventPublisher,
	logger *zap.Logger,
	opts PositionManagerOptions,
) *PositionManager {
	return &PositionManager{
		positions: positions,
		users:     users,
		tx:        tx,
		quotes:    quotes,
		closer:    closer,
		events:    events,
		logger:    logger,
		opts:      opts,
		timeNow:   time.Now,
		newID:     uuid.NewString,
	}
}

// MonitorPositions runs one monitoring pass. Positions are processed
// independently; a failure on one is logged and does not stop the others.
func (m *PositionManager) MonitorPositions(ctx context.Context) error {
	open, err := m.positions.ListPositions(ctx, domain.PositionFilter{Statuses: []domain.PositionStatus{domain.PositionOpen}})
	if err != nil {
		return domain.Persistence(err, "list open positions")
	}
	if len(open) == 0 {
		return nil
	}
	m.logger.Debug("Monitoring open positions", zap.Int("count", len(open)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(monitorConcurrency)
	for _, pos := range open {
		pos := pos
		g.Go(func() error {
			if err := m.processPosition(gctx, pos); err != nil {
				m.logger.Error("Position monitoring failed", zap.String("position_id", pos.ID), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *PositionManager) processPosition(ctx context.Context, pos *domain.Position) error {
	quote, err := m.quotes.GetOptionQuote(ctx, pos.OptionSymbol)
	if err != nil || quote == nil || quote.Mid <= 0 {
		m.logger.Debug("No quote, skipping position", zap.String("position_id", pos.ID), zap.String("option_symbol", pos.OptionSymbol))
		return nil
	}

	now := m.timeNow()
	pnl, pnlPct := ComputePnL(pos.EntryPrice, pos.Quantity, quote.Mid)
	v := domain.Valuation{
		CurrentPrice:     quote.Mid,
		UnrealizedPnL:    pnl,
		UnrealizedPnLPct: pnlPct,
		PeakPnLPct:       math.Max(pos.PeakPnLPct, pnlPct),
		At:               now,
	}

	err = m.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := m.positions.UpdateValuation(ctx, pos.ID, v); err != nil {
			return err
		}
		return m.positions.AppendHistory(ctx, &domain.PositionHistory{
			ID:               m.newID(),
			PositionID:       pos.ID,
			CurrentPrice:     v.CurrentPrice,
			UnrealizedPnL:    v.UnrealizedPnL,
			UnrealizedPnLPct: v.UnrealizedPnLPct,
			SnapshotAt:       now,
		})
	})
	if errors.Is(err, domain.ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return domain.Persistence(err, "store valuation")
	}
	m.events.PositionUpdated(ctx, pos, v)

	if !m.autoSellFor(ctx, pos.UserID) {
		return nil
	}
	reason, ok := EvaluateExit(pos, v, now, m.opts.TrailingStopEnabled)
	if !ok {
		return nil
	}
	return m.autoExit(ctx, pos.ID, reason, v.UnrealizedPnLPct)
}

func (m *PositionManager) autoSellFor(ctx context.Context, userID string) bool {
	if !m.opts.AutoSellEnabled {
		return false
	}
	cfg, err := m.users.GetLatestUserConfig(ctx, userID)
	if err != nil {
		return true
	}
	return cfg.AutoSellEnabled
}

// autoExit re-reads the position so a close already in flight or done is not repeated.
func (m *PositionManager) autoExit(ctx context.Context, id string, reason domain.CloseReason, pnlPct float64) error {
	current, err := m.positions.GetPosition(ctx, id)
	if err != nil {
		return domain.Persistence(err, "reload position")
	}
	if current.Status != domain.PositionOpen {
		return nil
	}

	m.logger.Info("Auto-exiting position",
		zap.String("position_id", id),
		zap.String("reason", string(reason)),
		zap.Float64("pnl_pct", pnlPct))
	if _, err := m.closer.ClosePosition(ctx, id, reason); err != nil {
		if domain.KindOf(err) == domain.FailureValidation {
			return nil
		}
		return err
	}
	return nil
}

// EvaluateExit checks the exit rules in priority order and returns the first that fires.
func EvaluateExit(pos *domain.Position, v domain.Valuation, now time.Time, trailingEnabled bool) (domain.CloseReason, bool) {
	pct := v.UnrealizedPnLPct
	if pct >= pos.ProfitTargetPct {
		return domain.CloseProfitTarget, true
	}
	if pct <= -pos.StopLossPct {
		return domain.CloseStopLoss, true
	}
	if trailingEnabled && pos.TrailingStopPct != nil && v.PeakPnLPct > trailingActivationPct {
		if pct <= -pos.StopLossPct/2 {
			return domain.CloseAutoExit, true
		}
	}
	if pos.DaysToExpiration(now) <= 0 {
		return domain.CloseExpiration, true
	}
	return "", false
}

type PortfolioPosition struct {
	ID               string              `json:"id"`
	Symbol           string              `json:"symbol"`
	OptionSymbol     string              `json:"option_symbol"`
	StrategyType     domain.StrategyType `json:"strategy_type"`
	Quantity         int                 `json:"quantity"`
	EntryPrice       float64             `json:"entry_price"`
	CurrentPrice     *float64            `json:"current_price"`
	UnrealizedPnL    float64             `json:"unrealized_pnl"`
	UnrealizedPnLPct float64             `json:"unrealized_pnl_pct"`
	OpenedAt         time.Time           `json:"opened_at"`
}

type PortfolioSummary struct {
	UserID             string              `json:"user_id"`
	OpenPositions      int                 `json:"open_positions"`
	TotalUnrealizedPnL float64             `json:"total_unrealized_pnl"`
	DailyRealizedPnL   float64             `json:"daily_realized_pnl"`
	Positions          []PortfolioPosition `json:"positions"`
}

// PortfolioSummary totals a user's open exposure and today's realized result.
func (m *PositionManager) PortfolioSummary(ctx context.Context, userID string) (*PortfolioSummary, error) {
	open, err := m.positions.ListPositions(ctx, domain.PositionFilter{
		UserID:   userID,
		Statuses: []domain.PositionStatus{domain.PositionOpen},
	})
	if err != nil {
		return nil, domain.Persistence(err, "list open positions")
	}
	closedToday, err := m.positions.ListPositions(ctx, domain.PositionFilter{
		UserID:   userID,
		Statuses: []domain.PositionStatus{domain.PositionClosed},
		Since:    truncateDay(m.timeNow()),
	})
	if err != nil {
		return nil, domain.Persistence(err, "list closed positions")
	}

	summary := &PortfolioSummary{UserID: userID, OpenPositions: len(open), Positions: []PortfolioPosition{}}
	for _, p := range open {
		row := PortfolioPosition{
			ID:           p.ID,
			Symbol:       p.Symbol,
			OptionSymbol: p.OptionSymbol,
			StrategyType: p.StrategyType,
			Quantity:     p.Quantity,
			EntryPrice:   p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			OpenedAt:     p.OpenedAt,
		}
		if p.UnrealizedPnL != nil {
			row.UnrealizedPnL = *p.UnrealizedPnL
			summary.TotalUnrealizedPnL += *p.UnrealizedPnL
		}
		if p.UnrealizedPnLPct != nil {
			row.UnrealizedPnLPct = *p.UnrealizedPnLPct
		}
		summary.Positions = append(summary.Positions, row)
	}
	for _, p := range closedToday {
		if p.RealizedPnL != nil {
			summary.DailyRealizedPnL += *p.RealizedPnL
		}
	}
	summary.TotalUnrealizedPnL = round2(summary.TotalUnrealizedPnL)
	summary.DailyRealizedPnL = round2(summary.DailyRealizedPnL)
	return summary, nil
}
