package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/options_signal_engine/internal/domain"
	"go.uber.org/zap"
)

type quoteMap map[string]*domain.OptionQuote

func (q quoteMap) GetOptionQuote(ctx context.Context, optionSymbol string) (*domain.OptionQuote, error) {
	if quote, ok := q[optionSymbol]; ok {
		return quote, nil
	}
	return nil, errors.New("no quote")
}

// recordingCloser closes positions straight in the repository.
type recordingCloser struct {
	repo  *memRepo
	mu    sync.Mutex
	calls []domain.CloseReason
	err   error
}

func (c *recordingCloser) ClosePosition(ctx context.Context, id string, reason domain.CloseReason) (*domain.ClosedPosition, error) {
	c.mu.Lock()
	c.calls = append(c.calls, reason)
	c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	closed := domain.ClosedPosition{PositionID: id, Reason: reason, ClosedAt: selectorNow, RealizedPnL: 1}
	if err := c.repo.MarkClosed(ctx, id, closed); err != nil {
		return nil, domain.Validation("position already closed")
	}
	return &closed, nil
}

type managerFixture struct {
	repo   *memRepo
	quotes quoteMap
	closer *recordingCloser
	pub    *recordingPublisher
	mgr    *PositionManager
}

func newManagerFixture(opts PositionManagerOptions) *managerFixture {
	repo := newMemRepo()
	f := &managerFixture{
		repo:   repo,
		quotes: quoteMap{},
		closer: &recordingCloser{repo: repo},
		pub:    &recordingPublisher{},
	}
	f.mgr = NewPositionManager(repo, repo, repo, f.quotes, f.closer, NewEventPublisher(f.pub, zap.NewNop()), zap.NewNop(), opts)
	f.mgr.timeNow = func() time.Time { return selectorNow }
	return f
}

func (f *managerFixture) addPosition(t *testing.T, id string, qty int, mutate func(p *domain.Position)) {
	t.Helper()
	p := &domain.Position{
		ID:              id,
		UserID:          "u1",
		Symbol:          "AAPL",
		OptionSymbol:    "O:" + id,
		Quantity:        qty,
		EntryPrice:      2,
		ProfitTargetPct: 50,
		StopLossPct:     50,
		ExpirationDate:  selectorNow.AddDate(0, 0, 20),
		Status:          domain.PositionOpen,
		OpenedAt:        selectorNow.Add(-time.Hour),
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, f.repo.CreatePosition(context.Background(), p))
}

func (f *managerFixture) mark(id string, mid float64) {
	f.quotes["O:"+id] = &domain.OptionQuote{OptionSymbol: "O:" + id, Bid: mid, Ask: mid, Mid: mid}
}

var autoSell = PositionManagerOptions{AutoSellEnabled: true, TrailingStopEnabled: true}

func TestMonitorPositions_RecordsValuation(t *testing.T) {
	f := newManagerFixture(autoSell)
	f.addPosition(t, "p1", 2, nil)
	f.mark("p1", 2.4)

	require.NoError(t, f.mgr.MonitorPositions(context.Background()))

	pos, err := f.repo.GetPosition(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, pos.CurrentPrice)
	assert.InDelta(t, 2.4, *pos.CurrentPrice, epsilon)
	assert.InDelta(t, 80, *pos.UnrealizedPnL, epsilon)
	assert.InDelta(t, 20, *pos.UnrealizedPnLPct, epsilon)
	assert.InDelta(t, 20, pos.PeakPnLPct, epsilon)
	assert.Equal(t, selectorNow, *pos.LastUpdatedAt)

	history, err := f.repo.ListHistory(context.Background(), "p1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.InDelta(t, 20, history[0].UnrealizedPnLPct, epsilon)

	assert.Equal(t, 1, f.pub.count(PositionsChannel("u1")))
	assert.Empty(t, f.closer.calls)
}

func TestMonitorPositions_SkipsWithoutQuote(t *testing.T) {
	f := newManagerFixture(autoSell)
	f.addPosition(t, "p1", 2, nil)
	f.addPosition(t, "p2", 2, nil)
	f.mark("p2", 0)

	require.NoError(t, f.mgr.MonitorPositions(context.Background()))

	assert.Empty(t, f.repo.history)
	assert.Zero(t, f.pub.count(PositionsChannel("u1")))
}

func TestMonitorPositions_PeakIsKept(t *testing.T) {
	f := newManagerFixture(autoSell)
	f.addPosition(t, "p1", 1, func(p *domain.Position) { p.PeakPnLPct = 30 })
	f.mark("p1", 2.2)

	require.NoError(t, f.mgr.MonitorPositions(context.Background()))

	pos, _ := f.repo.GetPosition(context.Background(), "p1")
	assert.InDelta(t, 30, pos.PeakPnLPct, epsilon)
	assert.InDelta(t, 10, *pos.UnrealizedPnLPct, epsilon)
}

func TestMonitorPositions_ExitRules(t *testing.T) {
	tests := []struct {
		name   string
		qty    int
		mutate func(p *domain.Position)
		mid    float64
		want   domain.CloseReason
	}{
		{name: "profit target on long", qty: 2, mid: 3, want: domain.CloseProfitTarget},
		{name: "stop loss on short", qty: -2, mid: 3, want: domain.CloseStopLoss},
		{
			name: "trailing stop from persisted peak",
			qty:  1,
			mutate: func(p *domain.Position) {
				p.PeakPnLPct = 30
				p.TrailingStopPct = ptr(20.0)
			},
			mid:  1.5,
			want: domain.CloseAutoExit,
		},
		{
			name:   "expiration day",
			qty:    1,
			mutate: func(p *domain.Position) { p.ExpirationDate = selectorNow },
			mid:    2,
			want:   domain.CloseExpiration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(autoSell)
			f.addPosition(t, "p1", tt.qty, tt.mutate)
			f.mark("p1", tt.mid)

			require.NoError(t, f.mgr.MonitorPositions(context.Background()))

			require.Len(t, f.closer.calls, 1)
			assert.Equal(t, tt.want, f.closer.calls[0])
			pos, _ := f.repo.GetPosition(context.Background(), "p1")
			assert.Equal(t, domain.PositionClosed, pos.Status)
		})
	}
}

func TestPositionManagerEvaluateExit(t *testing.T) {
	base := func() *domain.Position {
		return &domain.Position{
			ProfitTargetPct: 50,
			StopLossPct:     50,
			TrailingStopPct: ptr(10.0),
			ExpirationDate:  selectorNow.AddDate(0, 0, 20),
		}
	}
	tests := []struct {
		name     string
		pct      float64
		peak     float64
		trailing bool
		want     domain.CloseReason
		fired    bool
	}{
		{name: "target boundary", pct: 50, want: domain.CloseProfitTarget, fired: true},
		{name: "stop boundary", pct: -50, want: domain.CloseStopLoss, fired: true},
		{name: "trailing uses half the stop loss", pct: -10, peak: 30, trailing: true},
		{name: "trailing boundary", pct: -25, peak: 30, trailing: true, want: domain.CloseAutoExit, fired: true},
		{name: "trailing not armed at peak 25", pct: -30, peak: 25, trailing: true},
		{name: "trailing disabled", pct: -30, peak: 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := domain.Valuation{UnrealizedPnLPct: tt.pct, PeakPnLPct: tt.peak}
			reason, fired := EvaluateExit(base(), v, selectorNow, tt.trailing)
			assert.Equal(t, tt.fired, fired)
			assert.Equal(t, tt.want, reason)
		})
	}

	t.Run("no trailing percentage", func(t *testing.T) {
		pos := base()
		pos.TrailingStopPct = nil
		_, fired := EvaluateExit(pos, domain.Valuation{UnrealizedPnLPct: -30, PeakPnLPct: 30}, selectorNow, true)
		assert.False(t, fired)
	})
}

func TestMonitorPositions_AutoSellSwitches(t *testing.T) {
	t.Run("engine switch off", func(t *testing.T) {
		f := newManagerFixture(PositionManagerOptions{AutoSellEnabled: false})
		f.addPosition(t, "p1", 2, nil)
		f.mark("p1", 3)

		require.NoError(t, f.mgr.MonitorPositions(context.Background()))
		assert.Empty(t, f.closer.calls)
		assert.Len(t, f.repo.history, 1, "valuation still recorded")
	})

	t.Run("user switch off", func(t *testing.T) {
		f := newManagerFixture(autoSell)
		cfg := domain.DefaultUserConfig("u1")
		cfg.AutoSellEnabled = false
		require.NoError(t, f.repo.SaveUserConfig(context.Background(), cfg))
		f.addPosition(t, "p1", 2, nil)
		f.mark("p1", 3)

		require.NoError(t, f.mgr.MonitorPositions(context.Background()))
		assert.Empty(t, f.closer.calls)
	})

	t.Run("trailing stop off", func(t *testing.T) {
		f := newManagerFixture(PositionManagerOptions{AutoSellEnabled: true})
		f.addPosition(t, "p1", 1, func(p *domain.Position) {
			p.PeakPnLPct = 30
			p.TrailingStopPct = ptr(20.0)
		})
		f.mark("p1", 1.5)

		require.NoError(t, f.mgr.MonitorPositions(context.Background()))
		assert.Empty(t, f.closer.calls)
	})
}

func TestMonitorPositions_ClosesOnce(t *testing.T) {
	f := newManagerFixture(autoSell)
	f.addPosition(t, "p1", 2, nil)
	f.mark("p1", 3)

	require.NoError(t, f.mgr.MonitorPositions(context.Background()))
	require.NoError(t, f.mgr.MonitorPositions(context.Background()))

	assert.Len(t, f.closer.calls, 1)
}

func TestMonitorPositions_StalePositionIgnored(t *testing.T) {
	f := newManagerFixture(autoSell)
	f.addPosition(t, "p1", 2, nil)
	f.mark("p1", 3)
	stale, err := f.repo.GetPosition(context.Background(), "p1")
	require.NoError(t, err)
	require.NoError(t, f.repo.MarkClosed(context.Background(), "p1", domain.ClosedPosition{Reason: domain.CloseManual, ClosedAt: selectorNow}))

	require.NoError(t, f.mgr.processPosition(context.Background(), stale))

	assert.Empty(t, f.repo.history)
	assert.Empty(t, f.closer.calls)
	assert.Zero(t, f.pub.count(PositionsChannel("u1")))
}

func TestMonitorPositions_CloseFailureDoesNotStopOthers(t *testing.T) {
	f := newManagerFixture(autoSell)
	f.closer.err = domain.Timeout("Order not filled within 30s")
	f.addPosition(t, "p1", 2, nil)
	f.addPosition(t, "p2", 2, nil)
	f.mark("p1", 3)
	f.mark("p2", 3)

	require.NoError(t, f.mgr.MonitorPositions(context.Background()))

	assert.Len(t, f.closer.calls, 2)
	assert.Len(t, f.repo.history, 2)
}

func TestPortfolioSummary(t *testing.T) {
	f := newManagerFixture(autoSell)
	f.addPosition(t, "p1", 2, func(p *domain.Position) {
		p.UnrealizedPnL = ptr(80.0)
		p.UnrealizedPnLPct = ptr(20.0)
	})
	f.addPosition(t, "p2", 1, func(p *domain.Position) {
		p.UnrealizedPnL = ptr(-20.5)
		p.OpenedAt = selectorNow.Add(-30 * time.Minute)
	})
	f.addPosition(t, "p3", 1, func(p *domain.Position) {
		p.Status = domain.PositionClosed
		p.ClosedAt = ptr(selectorNow.Add(-time.Hour))
		p.RealizedPnL = ptr(100.0)
	})
	f.addPosition(t, "p4", 1, func(p *domain.Position) {
		p.Status = domain.PositionClosed
		p.ClosedAt = ptr(selectorNow.AddDate(0, 0, -1))
		p.RealizedPnL = ptr(999.0)
	})
	f.addPosition(t, "p5", 1, func(p *domain.Position) {
		p.UserID = "someone-else"
		p.UnrealizedPnL = ptr(5000.0)
	})

	summary, err := f.mgr.PortfolioSummary(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.OpenPositions)
	assert.InDelta(t, 59.5, summary.TotalUnrealizedPnL, epsilon)
	assert.InDelta(t, 100, summary.DailyRealizedPnL, epsilon)
	require.Len(t, summary.Positions, 2)
	assert.InDelta(t, 20, summary.Positions[0].UnrealizedPnLPct, epsilon)
}

func TestPortfolioSummary_Empty(t *testing.T) {
	f := newManagerFixture(autoSell)

	summary, err := f.mgr.PortfolioSummary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, summary.OpenPositions)
	assert.NotNil(t, summary.Positions)
}
