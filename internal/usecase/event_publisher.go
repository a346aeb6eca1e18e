package usecase

import (
	"context"
	"time"

	"github.com/vitos/options_signal_engine/internal/domain"
	"go.uber.org/zap"
)

func SignalsChannel(userID string) string       { return "signals:" + userID }
func PositionsChannel(userID string) string     { return "positions:" + userID }
func NotificationsChannel(userID string) string { return "notifications:" + userID }

const AllSignalsChannel = "signals:all"

// Event types carried in the "type" field of published messages.
const (
	EventNewSignal       = "new_signal"
	EventSignalUpdate    = "signal_update"
	EventPositionUpdate  = "position_update"
	EventPositionClosed  = "position_closed"
	EventExecutionFailed = "execution_failed"
)

type SignalEvent struct {
	Type   string              `json:"type"`
	Signal *domain.TradeSignal `json:"signal"`
}

type PositionUpdateEvent struct {
	Type             string    `json:"type"`
	PositionID       string    `json:"position_id"`
	Symbol           string    `json:"symbol"`
	OptionSymbol     string    `json:"option_symbol"`
	CurrentPrice     float64   `json:"current_price"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	UnrealizedPnLPct float64   `json:"unrealized_pnl_pct"`
	Timestamp        time.Time `json:"timestamp"`
}

type PositionClosedEvent struct {
	Type         string                 `json:"type"`
	Symbol       string                 `json:"symbol"`
	OptionSymbol string                 `json:"option_symbol"`
	Close        *domain.ClosedPosition `json:"close"`
}

type NotificationEvent struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher names channels and shapes payloads. Delivery failures are
// logged and never fail the operation that produced the event.
type EventPublisher struct {
	pub    domain.Publisher
	logger *zap.Logger
}

func NewEventPublisher(pub domain.Publisher, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{pub: pub, logger: logger}
}

func (p *EventPublisher) NewSignal(ctx context.Context, s *domain.TradeSignal) {
	ev := SignalEvent{Type: EventNewSignal, Signal: s}
	p.publish(ctx, SignalsChannel(s.UserID), ev)
	p.publish(ctx, AllSignalsChannel, ev)
}

func (p *EventPublisher) SignalUpdated(ctx context.Context, s *domain.TradeSignal) {
	p.publish(ctx, SignalsChannel(s.UserID), SignalEvent{Type: EventSignalUpdate, Signal: s})
}

func (p *EventPublisher) PositionUpdated(ctx context.Context, pos *domain.Position, v domain.Valuation) {
	p.publish(ctx, PositionsChannel(pos.UserID), PositionUpdateEvent{
		Type:             EventPositionUpdate,
		PositionID:       pos.ID,
		Symbol:           pos.Symbol,
		OptionSymbol:     pos.OptionSymbol,
		CurrentPrice:     v.CurrentPrice,
		UnrealizedPnL:    v.UnrealizedPnL,
		UnrealizedPnLPct: v.UnrealizedPnLPct,
		Timestamp:        v.At,
	})
}

func (p *EventPublisher) PositionClosed(ctx context.Context, pos *domain.Position, c *domain.ClosedPosition) {
	p.publish(ctx, PositionsChannel(pos.UserID), PositionClosedEvent{
		Type:         EventPositionClosed,
		Symbol:       pos.Symbol,
		OptionSymbol: pos.OptionSymbol,
		Close:        c,
	})
	p.publish(ctx, NotificationsChannel(pos.UserID), NotificationEvent{
		Type:      EventPositionClosed,
		Title:     "Position closed: " + pos.Symbol,
		Message:   string(c.Reason),
		Timestamp: c.ClosedAt,
	})
}

func (p *EventPublisher) ExecutionFailed(ctx context.Context, s *domain.TradeSignal, reason string, at time.Time) {
	p.publish(ctx, NotificationsChannel(s.UserID), NotificationEvent{
		Type:      EventExecutionFailed,
		Title:     "Execution failed: " + s.Symbol,
		Message:   reason,
		Timestamp: at,
	})
}

func (p *EventPublisher) publish(ctx context.Context, channel string, msg any) {
	if p == nil || p.pub == nil {
		return
	}
	if err := p.pub.Publish(ctx, channel, msg); err != nil {
		p.logger.Warn("Event publish failed", zap.String("channel", channel), zap.Error(err))
	}
}
