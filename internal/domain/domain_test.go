package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalStatus_CanTransition(t *testing.T) {
	all := []SignalStatus{SignalPending, SignalConfirmed, SignalRejected, SignalExpired, SignalExecuting, SignalExecuted, SignalFailed}
	allowed := map[[2]SignalStatus]bool{
		{SignalPending, SignalConfirmed}:   true,
		{SignalPending, SignalRejected}:    true,
		{SignalPending, SignalExpired}:     true,
		{SignalConfirmed, SignalExecuting}: true,
		{SignalExecuting, SignalExecuted}:  true,
		{SignalExecuting, SignalFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]SignalStatus{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}

	for _, s := range []SignalStatus{SignalRejected, SignalExpired, SignalExecuted, SignalFailed} {
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, SignalPending.IsTerminal())
}

func TestTradeSignal_IsExpiredAt(t *testing.T) {
	expires := time.Date(2024, 1, 10, 15, 5, 0, 0, time.UTC)
	s := &TradeSignal{ExpiresAt: expires}

	assert.False(t, s.IsExpiredAt(expires.Add(-time.Second)))
	assert.False(t, s.IsExpiredAt(expires), "still open at the boundary")
	assert.True(t, s.IsExpiredAt(expires.Add(time.Nanosecond)))
}

func TestExpirationBucket_Contains(t *testing.T) {
	tests := []struct {
		bucket ExpirationBucket
		dte    int
		want   bool
	}{
		{ExpirationWeekly, 0, true},
		{ExpirationWeekly, 7, true},
		{ExpirationWeekly, 8, false},
		{ExpirationMonthly, 19, false},
		{ExpirationMonthly, 20, true},
		{ExpirationMonthly, 45, true},
		{ExpirationMonthly, 46, false},
		{ExpirationQuarterly, 59, false},
		{ExpirationQuarterly, 60, true},
		{ExpirationQuarterly, 120, true},
		{ExpirationQuarterly, 121, false},
		{ExpirationBucket("yearly"), 365, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.bucket.Contains(tt.dte), "%s %d", tt.bucket, tt.dte)
	}
}

func TestUserConfig_AllowsExpiration(t *testing.T) {
	cfg := DefaultUserConfig("u1")

	assert.True(t, cfg.AllowsExpiration(5))
	assert.True(t, cfg.AllowsExpiration(30))
	assert.False(t, cfg.AllowsExpiration(14), "gap between weekly and monthly")
	assert.False(t, cfg.AllowsExpiration(90))

	cfg.AllowedStrategies[0] = StrategyIronCondor
	assert.Equal(t, StrategyCreditSpread, AllStrategies[0], "defaults do not share the package slice")
}

func TestNewOptionQuote(t *testing.T) {
	ts := time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC)

	q := NewOptionQuote("O:X", 1.9, 2.1, 5, 6, ts)
	assert.InDelta(t, 2.0, q.Mid, 1e-9)
	assert.InDelta(t, 0.2, q.Spread, 1e-9)
	assert.InDelta(t, 0.2/2.1*100, q.SpreadPct, 1e-9)

	noAsk := NewOptionQuote("O:X", 0.5, 0, 1, 0, ts)
	assert.Zero(t, noAsk.SpreadPct)
}

func TestStockQuote_Mid(t *testing.T) {
	assert.Equal(t, 100.0, StockQuote{Bid: 99, Ask: 101}.Mid())
	assert.Equal(t, 101.0, StockQuote{Ask: 101}.Mid())
	assert.Equal(t, 99.0, StockQuote{Bid: 99}.Mid())
}

func TestNewOptionChain(t *testing.T) {
	jan := time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	contracts := []OptionContract{
		{Ticker: "f-p-90", Strike: 90, Expiration: feb, Type: OptionPut},
		{Ticker: "j-c-105", Strike: 105, Expiration: jan, Type: OptionCall},
		{Ticker: "j-p-100", Strike: 100, Expiration: jan, Type: OptionPut},
		{Ticker: "j-p-95", Strike: 95, Expiration: jan, Type: OptionPut},
		{Ticker: "j-c-100", Strike: 100, Expiration: jan, Type: OptionCall},
	}

	chain := NewOptionChain("AAPL", contracts)
	require.Len(t, chain.Expirations, 2)
	assert.Equal(t, jan, chain.Expirations[0].Date)
	assert.Equal(t, feb, chain.Expirations[1].Date)

	janExp := chain.Expiration(jan.Add(15 * time.Hour))
	require.NotNil(t, janExp)
	assert.Equal(t, []float64{95, 100}, strikes(janExp.Side(OptionPut)))
	assert.Equal(t, []float64{100, 105}, strikes(janExp.Side(OptionCall)))

	assert.Nil(t, chain.Expiration(jan.AddDate(0, 0, 1)))
}

func strikes(cs []OptionContract) []float64 {
	out := make([]float64, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Strike)
	}
	return out
}

func TestPosition_Helpers(t *testing.T) {
	now := time.Date(2024, 1, 10, 23, 30, 0, 0, time.UTC)
	p := &Position{Quantity: -3, ExpirationDate: time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC)}

	assert.False(t, p.IsLong())
	assert.Equal(t, 3, p.AbsQuantity())
	assert.Equal(t, 9, p.DaysToExpiration(now))

	p.ExpirationDate = now
	assert.Zero(t, p.DaysToExpiration(now))
}

func TestDaysToExpiration_UsesUTCDay(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	p := &Position{ExpirationDate: time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC)}

	// 22:00 EST on the 18th is already the 19th in UTC.
	lateEvening := time.Date(2024, 1, 18, 22, 0, 0, 0, ny)
	assert.Zero(t, p.DaysToExpiration(lateEvening))
	assert.Equal(t, 1, p.DaysToExpiration(time.Date(2024, 1, 18, 18, 0, 0, 0, ny)))
	assert.Equal(t, DaysBetween(lateEvening, p.ExpirationDate), p.DaysToExpiration(lateEvening))
}

func TestOrderRequest_Type(t *testing.T) {
	limit := 2.5
	assert.Equal(t, OrderTypeMarket, OrderRequest{}.Type())
	assert.Equal(t, OrderTypeLimit, OrderRequest{LimitPrice: &limit}.Type())
}

func TestOrderStatus_IsDeadWithoutFill(t *testing.T) {
	for _, s := range []OrderStatus{OrderCanceled, OrderCancelled, OrderExpired, OrderRejected} {
		assert.True(t, s.IsDeadWithoutFill(), s)
	}
	for _, s := range []OrderStatus{OrderNew, OrderAccepted, OrderPartiallyFilled, OrderFilled} {
		assert.False(t, s.IsDeadWithoutFill(), s)
	}
}

func TestFailure(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("close position: %w", External(cause, "Order placement failed"))

	assert.Equal(t, FailureExternal, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "external: Order placement failed: connection refused", errors.Unwrap(err).Error())
	assert.Equal(t, "validation: signal expired", Validation("signal expired").Error())
	assert.Equal(t, FailureKind(""), KindOf(cause))
}
