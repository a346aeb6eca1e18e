package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/options_signal_engine/internal/domain"
	"github.com/vitos/options_signal_engine/internal/metrics"
	"go.uber.org/zap"
)

const (
	DefaultFillPollInterval = time.Second
	DefaultFillTimeout      = 30 * time.Second
	MinBuyingPower          = 1000.0
	defaultExitPct          = 50.0
)

// ExecutionService moves confirmed signals to the broker and unwinds positions.
type ExecutionService struct {
	signals    domain.SignalRepository
	executions domain.ExecutionRepository
	positions  domain.PositionRepository
	users      domain.UserRepository
	tx         domain.Transactor
	broker     domain.Broker
	limiter    *RateLimiter
	events     *EventPublisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
	tradeLog   *zap.Logger

	pollInterval time.Duration
	fillTimeout  time.Duration

	// Positions with a close order in flight.
	closingMu sync.Mutex
	closing   map[string]struct{}

	// For testing
	timeNow func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	newID   func() string
}

type ExecutionDeps struct {
	Signals    domain.SignalRepository
	Executions domain.ExecutionRepository
	Positions  domain.PositionRepository
	Users      domain.UserRepository
	Tx         domain.Transactor
	Broker     domain.Broker
	Limiter    *RateLimiter
	Events     *EventPublisher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	TradeLog   *zap.Logger
}

func NewExecutionService(d ExecutionDeps) *ExecutionService {
	tradeLog := d.TradeLog
	if tradeLog == nil {
		tradeLog = d.Logger
	}
	return &ExecutionService{
		signals:      d.Signals,
		executions:   d.Executions,
		positions:    d.Positions,
		users:        d.Users,
		tx:           d.Tx,
		broker:       d.Broker,
		limiter:      d.Limiter,
		events:       d.Events,
		metrics:      d.Metrics,
		logger:       d.Logger,
		tradeLog:     tradeLog,
		pollInterval: DefaultFillPollInterval,
		fillTimeout:  DefaultFillTimeout,
		closing:      make(map[string]struct{}),
		timeNow:      time.Now,
		sleep:        sleepCtx,
		newID:        uuid.NewString,
	}
}

// ConfirmSignal is the confirmation actor accepting a pending signal.
// A signal past its window is expired on the spot instead.
func (s *ExecutionService) ConfirmSignal(ctx context.Context, id string, source domain.ConfirmationSource) (*domain.TradeSignal, error) {
	sig, err := s.loadSignal(ctx, id)
	if err != nil {
		return nil, err
	}
	if sig.Status != domain.SignalPending {
		return nil, domain.Validation(fmt.Sprintf("signal is %s, not pending", sig.Status))
	}

	now := s.timeNow()
	if sig.IsExpiredAt(now) {
		if err := s.signals.TransitionSignal(ctx, id, domain.SignalPending, domain.SignalExpired, domain.StatusChange{At: now}); err != nil && !errors.Is(err, domain.ErrStaleStatus) {
			return nil, domain.Persistence(err, "expire signal")
		}
		return nil, domain.Validation("signal expired")
	}

	if err := s.transition(ctx, id, domain.SignalPending, domain.SignalConfirmed, domain.StatusChange{Source: source, At: now}); err != nil {
		return nil, err
	}
	s.logger.Info("Signal confirmed", zap.String("signal_id", id), zap.String("source", string(source)))
	return s.reloadAndPublish(ctx, id)
}

// RejectSignal is the confirmation actor declining a pending signal.
func (s *ExecutionService) RejectSignal(ctx context.Context, id, reason string) (*domain.TradeSignal, error) {
	sig, err := s.loadSignal(ctx, id)
	if err != nil {
		return nil, err
	}
	if sig.Status != domain.SignalPending {
		return nil, domain.Validation(fmt.Sprintf("signal is %s, not pending", sig.Status))
	}
	if err := s.transition(ctx, id, domain.SignalPending, domain.SignalRejected, domain.StatusChange{Reason: reason, At: s.timeNow()}); err != nil {
		return nil, err
	}
	s.logger.Info("Signal rejected", zap.String("signal_id", id))
	return s.reloadAndPublish(ctx, id)
}

// ExecuteSignal places the order for a confirmed signal and records the
// resulting execution and position. The signal ends executed or failed.
func (s *ExecutionService) ExecuteSignal(ctx context.Context, id string) (*domain.ExecutionResult, error) {
	sig, err := s.loadSignal(ctx, id)
	if err != nil {
		return nil, err
	}
	if sig.Status != domain.SignalConfirmed {
		return nil, domain.Validation(fmt.Sprintf("signal is %s, not confirmed", sig.Status))
	}
	if err := s.transition(ctx, id, domain.SignalConfirmed, domain.SignalExecuting, domain.StatusChange{At: s.timeNow()}); err != nil {
		return nil, err
	}

	// Once the order leaves, shutdown must not abandon the fill poll.
	ctx = context.WithoutCancel(ctx)

	s.tradeLog.Info("Executing signal",
		zap.String("signal_id", id),
		zap.String("symbol", sig.Symbol),
		zap.String("option_symbol", sig.OptionSymbol),
		zap.String("side", string(sig.Side)),
		zap.Int("quantity", sig.Quantity))

	if err := s.validate(ctx); err != nil {
		if len(sig.FallbackStrikes) > 0 {
			s.logger.Info("Fallback strikes available but not substituted",
				zap.String("signal_id", id), zap.Float64s("fallback_strikes", sig.FallbackStrikes))
		}
		s.markFailed(ctx, sig, err)
		return nil, err
	}

	req := domain.OrderRequest{
		Symbol:      sig.OptionSymbol,
		Qty:         sig.Quantity,
		Side:        sig.Side,
		TimeInForce: domain.TimeInForceDay,
		LimitPrice:  sig.LimitPrice,
	}
	order, err := s.placeAndWait(ctx, req)
	if err != nil {
		s.markFailed(ctx, sig, err)
		return nil, err
	}

	result, err := s.recordFill(ctx, sig, req, order)
	if err != nil {
		s.logger.Error("Fill recorded at broker but not in store",
			zap.String("signal_id", id), zap.String("order_id", order.ID), zap.Error(err))
		err = domain.Persistence(err, fmt.Sprintf("filled at broker (order %s), not recorded", order.ID))
		s.markFailed(ctx, sig, err)
		return nil, err
	}

	s.metrics.Order("filled")
	s.tradeLog.Info("Signal executed",
		zap.String("signal_id", id),
		zap.String("position_id", result.PositionID),
		zap.Float64("filled_price", result.FilledPrice),
		zap.Int("filled_quantity", result.FilledQuantity))
	if updated, err := s.signals.GetSignal(ctx, id); err == nil {
		s.events.SignalUpdated(ctx, updated)
	}
	return result, nil
}

// ClosePosition unwinds an open position with an opposite-side market order.
// When the order does not fill the position stays open. Only one close order
// per position is in flight at a time; a concurrent caller gets a validation failure.
func (s *ExecutionService) ClosePosition(ctx context.Context, id string, reason domain.CloseReason) (*domain.ClosedPosition, error) {
	pos, err := s.positions.GetPosition(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notFound("position " + id)
		}
		return nil, domain.Persistence(err, "load position")
	}
	if pos.Status != domain.PositionOpen {
		return nil, domain.Validation(fmt.Sprintf("position is %s, not open", pos.Status))
	}
	if !s.claimClose(id) {
		return nil, domain.Validation("position close already in progress")
	}
	defer s.releaseClose(id)

	// The claim may have been won after another close finished.
	if pos, err = s.positions.GetPosition(ctx, id); err != nil {
		return nil, domain.Persistence(err, "reload position")
	}
	if pos.Status != domain.PositionOpen {
		return nil, domain.Validation(fmt.Sprintf("position is %s, not open", pos.Status))
	}

	ctx = context.WithoutCancel(ctx)
	s.tradeLog.Info("Closing position", zap.String("position_id", id), zap.String("reason", string(reason)))

	side := domain.OrderSideSell
	if !pos.IsLong() {
		side = domain.OrderSideBuy
	}
	order, err := s.placeAndWait(ctx, domain.OrderRequest{
		Symbol:      pos.OptionSymbol,
		Qty:         pos.AbsQuantity(),
		Side:        side,
		TimeInForce: domain.TimeInForceDay,
	})
	if err != nil {
		s.logger.Warn("Close order did not fill", zap.String("position_id", id), zap.Error(err))
		return nil, err
	}

	closedAt := s.timeNow()
	if order.FilledAt != nil {
		closedAt = *order.FilledAt
	}
	if closedAt.Before(pos.OpenedAt) {
		closedAt = pos.OpenedAt
	}
	pnl, pnlPct := ComputePnL(pos.EntryPrice, pos.Quantity, order.FilledAvgPrice)
	closed := &domain.ClosedPosition{
		PositionID:     id,
		ExitPrice:      order.FilledAvgPrice,
		RealizedPnL:    pnl,
		RealizedPnLPct: pnlPct,
		Reason:         reason,
		ClosedAt:       closedAt,
	}

	if err := s.positions.MarkClosed(ctx, id, *closed); err != nil {
		if errors.Is(err, domain.ErrStaleStatus) {
			s.logger.Error("Position closed concurrently after close order filled",
				zap.String("position_id", id), zap.String("order_id", order.ID))
			return nil, domain.Validation("position already closed")
		}
		return nil, domain.Persistence(err, "mark position closed")
	}

	s.metrics.PositionClosed(string(reason))
	s.tradeLog.Info("Position closed",
		zap.String("position_id", id),
		zap.String("symbol", pos.Symbol),
		zap.String("strategy", string(pos.StrategyType)),
		zap.String("reason", string(reason)),
		zap.Float64("exit_price", closed.ExitPrice),
		zap.Float64("realized_pnl", pnl),
		zap.Float64("realized_pnl_pct", pnlPct))
	s.events.PositionClosed(ctx, pos, closed)
	return closed, nil
}

func (s *ExecutionService) claimClose(id string) bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	if _, busy := s.closing[id]; busy {
		return false
	}
	s.closing[id] = struct{}{}
	return true
}

func (s *ExecutionService) releaseClose(id string) {
	s.closingMu.Lock()
	delete(s.closing, id)
	s.closingMu.Unlock()
}

func (s *ExecutionService) validate(ctx context.Context) error {
	if err := s.limiter.Acquire(ctx, ServiceBroker); err != nil {
		return domain.External(err, "rate limit wait aborted")
	}
	clock, err := s.broker.GetClock(ctx)
	if err != nil {
		return domain.External(err, "market clock unavailable")
	}
	if !clock.IsOpen {
		return domain.Validation("Market is closed")
	}

	if err := s.limiter.Acquire(ctx, ServiceBroker); err != nil {
		return domain.External(err, "rate limit wait aborted")
	}
	account, err := s.broker.GetAccount(ctx)
	if err != nil {
		return domain.External(err, "account unavailable")
	}
	if account.TradingBlocked {
		return domain.Validation("Trading is blocked")
	}
	if account.BuyingPower < MinBuyingPower {
		return domain.Validation("Insufficient buying power")
	}
	return nil
}

// placeAndWait submits the order and polls until it fills, dies or times out.
func (s *ExecutionService) placeAndWait(ctx context.Context, req domain.OrderRequest) (*domain.BrokerOrder, error) {
	if err := s.limiter.Acquire(ctx, ServiceBroker); err != nil {
		return nil, domain.External(err, "rate limit wait aborted")
	}
	order, err := s.broker.SubmitOrder(ctx, req)
	if err != nil {
		s.metrics.Order("error")
		return nil, domain.External(err, "Order placement failed")
	}
	s.logger.Info("Order submitted",
		zap.String("order_id", order.ID),
		zap.String("symbol", req.Symbol),
		zap.String("type", string(req.Type())))

	deadline := s.timeNow().Add(s.fillTimeout)
	for {
		if err := s.limiter.Acquire(ctx, ServiceBroker); err != nil {
			return nil, domain.External(err, "rate limit wait aborted")
		}
		current, err := s.broker.GetOrder(ctx, order.ID)
		switch {
		case err != nil:
			s.logger.Warn("Order status check failed", zap.String("order_id", order.ID), zap.Error(err))
		case current.Status == domain.OrderFilled:
			return current, nil
		case current.Status.IsDeadWithoutFill():
			s.metrics.Order(string(current.Status))
			return nil, domain.Validation(fmt.Sprintf("Order %s", current.Status))
		}

		if !s.timeNow().Before(deadline) {
			break
		}
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			break
		}
	}

	if err := s.broker.CancelOrder(ctx, order.ID); err != nil {
		s.logger.Warn("Cancel after fill timeout failed", zap.String("order_id", order.ID), zap.Error(err))
	} else {
		s.logger.Warn("Order cancelled due to timeout", zap.String("order_id", order.ID))
	}
	s.metrics.Order("timeout")
	return nil, domain.Timeout(fmt.Sprintf("Order not filled within %s", s.fillTimeout))
}

func (s *ExecutionService) recordFill(ctx context.Context, sig *domain.TradeSignal, req domain.OrderRequest, order *domain.BrokerOrder) (*domain.ExecutionResult, error) {
	filledAt := s.timeNow()
	if order.FilledAt != nil {
		filledAt = *order.FilledAt
	}
	submittedAt := order.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = filledAt
	}
	filledQty := order.FilledQty
	if filledQty == 0 {
		filledQty = req.Qty
	}

	exec := &domain.Execution{
		ID:             s.newID(),
		SignalID:       sig.ID,
		UserID:         sig.UserID,
		BrokerOrderID:  order.ID,
		OrderType:      req.Type(),
		Side:           sig.Side,
		FilledQuantity: filledQty,
		FilledPrice:    order.FilledAvgPrice,
		SubmittedAt:    submittedAt,
		FilledAt:       filledAt,
	}
	if req.LimitPrice != nil {
		slippage := round2(order.FilledAvgPrice - *req.LimitPrice)
		exec.Slippage = &slippage
	}

	quantity := filledQty
	if sig.Side == domain.OrderSideSell {
		quantity = -filledQty
	}

	var pos *domain.Position
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.executions.CreateExecution(ctx, exec); err != nil {
			return fmt.Errorf("create execution: %w", err)
		}

		profitTarget, stopLoss := defaultExitPct, defaultExitPct
		var trailing *float64
		cfg, err := s.users.GetLatestUserConfig(ctx, sig.UserID)
		switch {
		case err == nil:
			profitTarget, stopLoss = cfg.DefaultProfitTargetPct, cfg.DefaultStopLossPct
			trailing = cfg.DefaultTrailingStopPct
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("load user config: %w", err)
		}

		price := order.FilledAvgPrice
		pos = &domain.Position{
			ID:              s.newID(),
			UserID:          sig.UserID,
			SignalID:        sig.ID,
			ExecutionID:     exec.ID,
			Symbol:          sig.Symbol,
			OptionSymbol:    sig.OptionSymbol,
			StrategyType:    sig.StrategyType,
			StrikePrice:     sig.StrikePrice,
			ExpirationDate:  sig.ExpirationDate,
			OptionType:      sig.OptionType,
			Quantity:        quantity,
			EntryPrice:      price,
			CurrentPrice:    &price,
			ProfitTargetPct: profitTarget,
			StopLossPct:     stopLoss,
			TrailingStopPct: trailing,
			Status:          domain.PositionOpen,
			OpenedAt:        filledAt,
		}
		if err := s.positions.CreatePosition(ctx, pos); err != nil {
			return fmt.Errorf("create position: %w", err)
		}
		return s.signals.TransitionSignal(ctx, sig.ID, domain.SignalExecuting, domain.SignalExecuted, domain.StatusChange{At: filledAt})
	})
	if err != nil {
		return nil, domain.Persistence(err, "record fill")
	}

	return &domain.ExecutionResult{
		SignalID:       sig.ID,
		ExecutionID:    exec.ID,
		PositionID:     pos.ID,
		FilledPrice:    exec.FilledPrice,
		FilledQuantity: exec.FilledQuantity,
	}, nil
}

func (s *ExecutionService) markFailed(ctx context.Context, sig *domain.TradeSignal, cause error) {
	reason := cause.Error()
	var f *domain.Failure
	if errors.As(cause, &f) {
		reason = f.Reason
	}
	now := s.timeNow()
	if err := s.signals.TransitionSignal(ctx, sig.ID, domain.SignalExecuting, domain.SignalFailed, domain.StatusChange{Reason: reason, At: now}); err != nil {
		s.logger.Error("Failed to mark signal failed", zap.String("signal_id", sig.ID), zap.Error(err))
		return
	}
	s.logger.Warn("Signal failed", zap.String("signal_id", sig.ID), zap.String("reason", reason))
	s.events.ExecutionFailed(ctx, sig, reason, now)
	if updated, err := s.signals.GetSignal(ctx, sig.ID); err == nil {
		s.events.SignalUpdated(ctx, updated)
	}
}

func (s *ExecutionService) loadSignal(ctx context.Context, id string) (*domain.TradeSignal, error) {
	sig, err := s.signals.GetSignal(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notFound("signal " + id)
		}
		return nil, domain.Persistence(err, "load signal")
	}
	return sig, nil
}

func (s *ExecutionService) transition(ctx context.Context, id string, from, to domain.SignalStatus, change domain.StatusChange) error {
	err := s.signals.TransitionSignal(ctx, id, from, to, change)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrStaleStatus):
		return domain.Validation(fmt.Sprintf("signal is no longer %s", from))
	case errors.Is(err, domain.ErrNotFound):
		return notFound("signal " + id)
	default:
		return domain.Persistence(err, "update signal status")
	}
}

func (s *ExecutionService) reloadAndPublish(ctx context.Context, id string) (*domain.TradeSignal, error) {
	sig, err := s.signals.GetSignal(ctx, id)
	if err != nil {
		return nil, domain.Persistence(err, "reload signal")
	}
	s.events.SignalUpdated(ctx, sig)
	return sig, nil
}

func notFound(what string) *domain.Failure {
	return &domain.Failure{Kind: domain.FailureValidation, Reason: what + " not found", Err: domain.ErrNotFound}
}
