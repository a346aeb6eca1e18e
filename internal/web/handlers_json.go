package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/vitos/options_signal_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type errorResponse struct {
	Error string             `json:"error"`
	Kind  domain.FailureKind `json:"kind,omitempty"`
}

type confirmRequest struct {
	Source domain.ConfirmationSource `json:"source" validate:"omitempty,oneof=discord web auto"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type closeRequest struct {
	Reason domain.CloseReason `json:"reason" validate:"omitempty,oneof=manual profit_target stop_loss expiration auto_exit"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// writeError maps an engine failure to its HTTP status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch kind := domain.KindOf(err); {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case kind == domain.FailureValidation:
		status = http.StatusConflict
	case kind == domain.FailureExternal:
		status = http.StatusBadGateway
	case kind == domain.FailureTimeout:
		status = http.StatusGatewayTimeout
	}

	resp := errorResponse{Error: "internal error"}
	var f *domain.Failure
	if errors.As(err, &f) {
		resp = errorResponse{Error: f.Reason, Kind: f.Kind}
	}
	if status >= 500 {
		s.logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: msg})
}

func (s *Server) unavailable(w http.ResponseWriter, what string) {
	s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: what + " not configured"})
}

// decodeBody accepts an empty body, leaving dst at its zero value.
func (s *Server) decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return s.validate.Struct(dst)
}

func splitQuery(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// --- Health & streaming ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		s.unavailable(w, "health checker")
		return
	}
	report := s.deps.Health.Last(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stream == nil {
		s.unavailable(w, "stream")
		return
	}
	channels := splitQuery(r, "channel")
	if len(channels) == 0 {
		s.badRequest(w, "at least one channel is required")
		return
	}
	s.deps.Stream.ServeWS(w, r, channels)
}

// --- Signals ---

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	filter := domain.SignalFilter{
		UserID: r.URL.Query().Get("user_id"),
		Limit:  defaultListLimit,
	}
	for _, st := range splitQuery(r, "status") {
		status := domain.SignalStatus(st)
		switch status {
		case domain.SignalPending, domain.SignalConfirmed, domain.SignalRejected, domain.SignalExpired,
			domain.SignalExecuting, domain.SignalExecuted, domain.SignalFailed:
			filter.Statuses = append(filter.Statuses, status)
		default:
			s.badRequest(w, "unknown status "+st)
			return
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxListLimit {
			s.badRequest(w, "limit must be between 1 and "+strconv.Itoa(maxListLimit))
			return
		}
		filter.Limit = limit
	}

	signals, err := s.deps.Signals.ListSignals(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, domain.Persistence(err, "list signals"))
		return
	}
	if signals == nil {
		signals = []*domain.TradeSignal{}
	}
	s.writeJSON(w, http.StatusOK, signals)
}

func (s *Server) handleConfirmSignal(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if req.Source == "" {
		req.Source = domain.ConfirmedViaWeb
	}

	sig, err := s.deps.Actions.ConfirmSignal(r.Context(), r.PathValue("id"), req.Source)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleRejectSignal(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	sig, err := s.deps.Actions.RejectSignal(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleExecuteSignal(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Actions.ExecuteSignal(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// --- Positions ---

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	filter := domain.PositionFilter{UserID: r.URL.Query().Get("user_id")}
	for _, st := range splitQuery(r, "status") {
		status := domain.PositionStatus(st)
		switch status {
		case domain.PositionOpen, domain.PositionClosed, domain.PositionExpired:
			filter.Statuses = append(filter.Statuses, status)
		default:
			s.badRequest(w, "unknown status "+st)
			return
		}
	}
	if len(filter.Statuses) == 0 {
		filter.Statuses = []domain.PositionStatus{domain.PositionOpen}
	}

	positions, err := s.deps.Positions.ListPositions(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, domain.Persistence(err, "list positions"))
		return
	}
	if positions == nil {
		positions = []*domain.Position{}
	}
	s.writeJSON(w, http.StatusOK, positions)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.badRequest(w, err.Error())
		return
	}
	if req.Reason == "" {
		req.Reason = domain.CloseManual
	}

	closed, err := s.deps.Actions.ClosePosition(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, closed)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if s.deps.Portfolio == nil {
		s.unavailable(w, "portfolio")
		return
	}
	summary, err := s.deps.Portfolio.PortfolioSummary(r.Context(), r.PathValue("user_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// --- Broker ---

func (s *Server) handleBrokerAccount(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		s.unavailable(w, "broker")
		return
	}
	acct, err := s.deps.Broker.GetAccount(r.Context())
	if err != nil {
		s.writeError(w, r, domain.External(err, "account unavailable"))
		return
	}
	s.writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleBrokerPositions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		s.unavailable(w, "broker")
		return
	}
	positions, err := s.deps.Broker.GetAllPositions(r.Context())
	if err != nil {
		s.writeError(w, r, domain.External(err, "positions unavailable"))
		return
	}
	if positions == nil {
		positions = []domain.BrokerPosition{}
	}
	s.writeJSON(w, http.StatusOK, positions)
}
