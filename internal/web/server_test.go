package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/options_signal_engine/internal/domain"
	"github.com/vitos/options_signal_engine/internal/usecase"
	"go.uber.org/zap"
)

type fakeSignals struct {
	domain.SignalRepository
	list   []*domain.TradeSignal
	filter domain.SignalFilter
}

func (f *fakeSignals) ListSignals(ctx context.Context, filter domain.SignalFilter) ([]*domain.TradeSignal, error) {
	f.filter = filter
	return f.list, nil
}

type fakePositions struct {
	domain.PositionRepository
	filter domain.PositionFilter
	err    error
}

func (f *fakePositions) ListPositions(ctx context.Context, filter domain.PositionFilter) ([]*domain.Position, error) {
	f.filter = filter
	return nil, f.err
}

type fakeActions struct {
	source      domain.ConfirmationSource
	rejectNote  string
	closeReason domain.CloseReason
	err         error
}

func (f *fakeActions) ConfirmSignal(ctx context.Context, id string, source domain.ConfirmationSource) (*domain.TradeSignal, error) {
	f.source = source
	if f.err != nil {
		return nil, f.err
	}
	return &domain.TradeSignal{ID: id, Status: domain.SignalConfirmed}, nil
}

func (f *fakeActions) RejectSignal(ctx context.Context, id, reason string) (*domain.TradeSignal, error) {
	f.rejectNote = reason
	if f.err != nil {
		return nil, f.err
	}
	return &domain.TradeSignal{ID: id, Status: domain.SignalRejected}, nil
}

func (f *fakeActions) ExecuteSignal(ctx context.Context, id string) (*domain.ExecutionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ExecutionResult{}, nil
}

func (f *fakeActions) ClosePosition(ctx context.Context, id string, reason domain.CloseReason) (*domain.ClosedPosition, error) {
	f.closeReason = reason
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ClosedPosition{PositionID: id, Reason: reason}, nil
}

type fakeHealth struct{ report usecase.HealthReport }

func (f *fakeHealth) Last(ctx context.Context) *usecase.HealthReport { return &f.report }

type fakeBroker struct {
	domain.Broker
	err error
}

func (f *fakeBroker) GetAccount(ctx context.Context) (*domain.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Account{BuyingPower: 5000}, nil
}

type serverFixture struct {
	signals   *fakeSignals
	positions *fakePositions
	actions   *fakeActions
	health    *fakeHealth
	broker    *fakeBroker
	handler   http.Handler
}

func newServerFixture() *serverFixture {
	f := &serverFixture{
		signals:   &fakeSignals{},
		positions: &fakePositions{},
		actions:   &fakeActions{},
		health:    &fakeHealth{report: usecase.HealthReport{Healthy: true}},
		broker:    &fakeBroker{},
	}
	f.handler = NewServer(0, Deps{
		Signals:   f.signals,
		Positions: f.positions,
		Actions:   f.actions,
		Broker:    f.broker,
		Health:    f.health,
		Logger:    zap.NewNop(),
	}).Handler()
	return f
}

func (f *serverFixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestConfirmSignal(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodPost, "/api/signals/sig-1/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ConfirmedViaWeb, f.actions.source, "web is the default source")

	var sig domain.TradeSignal
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sig))
	assert.Equal(t, "sig-1", sig.ID)

	rec = f.do(http.MethodPost, "/api/signals/sig-1/confirm", `{"source":"discord"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.ConfirmedViaDiscord, f.actions.source)
}

func TestConfirmSignal_BadBody(t *testing.T) {
	f := newServerFixture()

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPost, "/api/signals/sig-1/confirm", `{"source":"sms"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPost, "/api/signals/sig-1/confirm", `{`).Code)
}

func TestRejectSignal(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodPost, "/api/signals/sig-1/reject", `{"reason":"too risky"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "too risky", f.actions.rejectNote)
}

func TestClosePosition_DefaultsToManual(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodPost, "/api/positions/pos-1/close", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.CloseManual, f.actions.closeReason)
}

func TestFailureStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "not found", err: &domain.Failure{Kind: domain.FailureValidation, Reason: "signal not found", Err: domain.ErrNotFound}, code: http.StatusNotFound},
		{name: "validation", err: domain.Validation("signal is executed, not pending"), code: http.StatusConflict},
		{name: "external", err: domain.External(errors.New("dial tcp"), "Order placement failed"), code: http.StatusBadGateway},
		{name: "timeout", err: domain.Timeout("Order not filled within 30s"), code: http.StatusGatewayTimeout},
		{name: "persistence", err: domain.Persistence(errors.New("disk I/O"), "store execution"), code: http.StatusInternalServerError},
		{name: "untyped", err: errors.New("boom"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture()
			f.actions.err = tt.err

			rec := f.do(http.MethodPost, "/api/signals/sig-1/execute", "")
			assert.Equal(t, tt.code, rec.Code)
			assert.NotEmpty(t, decodeError(t, rec).Error)
		})
	}
}

func TestFailureBodyCarriesReason(t *testing.T) {
	f := newServerFixture()
	f.actions.err = domain.Validation("signal expired")

	rec := f.do(http.MethodPost, "/api/signals/sig-1/confirm", "")
	assert.Equal(t, errorResponse{Error: "signal expired", Kind: domain.FailureValidation}, decodeError(t, rec))
}

func TestListSignals_Filters(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodGet, "/api/signals?user_id=u1&status=pending,confirmed&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.SignalFilter{
		UserID:   "u1",
		Statuses: []domain.SignalStatus{domain.SignalPending, domain.SignalConfirmed},
		Limit:    10,
	}, f.signals.filter)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodGet, "/api/signals?status=bogus", "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodGet, "/api/signals?limit=0", "").Code)
}

func TestListPositions(t *testing.T) {
	f := newServerFixture()

	rec := f.do(http.MethodGet, "/api/positions?user_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.PositionStatus{domain.PositionOpen}, f.positions.filter.Statuses)

	f.positions.err = errors.New("database is locked")
	assert.Equal(t, http.StatusInternalServerError, f.do(http.MethodGet, "/api/positions", "").Code)
}

func TestHealth(t *testing.T) {
	f := newServerFixture()
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code)

	f.health.report.Healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/health", "").Code)
}

func TestBrokerAccount(t *testing.T) {
	f := newServerFixture()
	rec := f.do(http.MethodGet, "/api/broker/account", "")
	require.Equal(t, http.StatusOK, rec.Code)

	f.broker.err = errors.New("connection reset")
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodGet, "/api/broker/account", "").Code)
}

func TestWS_WithoutStream(t *testing.T) {
	f := newServerFixture()
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/ws?channel=signals:all", "").Code)
}
