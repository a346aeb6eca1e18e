package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/vitos/options_signal_engine/internal/domain"
	"github.com/vitos/options_signal_engine/internal/usecase"
	"go.uber.org/zap"
)

type signalActions interface {
	ConfirmSignal(ctx context.Context, id string, source domain.ConfirmationSource) (*domain.TradeSignal, error)
	RejectSignal(ctx context.Context, id, reason string) (*domain.TradeSignal, error)
	ExecuteSignal(ctx context.Context, id string) (*domain.ExecutionResult, error)
	ClosePosition(ctx context.Context, id string, reason domain.CloseReason) (*domain.ClosedPosition, error)
}

type portfolioReader interface {
	PortfolioSummary(ctx context.Context, userID string) (*usecase.PortfolioSummary, error)
}

type healthReporter interface {
	Last(ctx context.Context) *usecase.HealthReport
}

type streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, channels []string)
}

// Deps are the collaborators behind the HTTP surface. Routes whose
// collaborator is nil answer 503.
type Deps struct {
	Signals   domain.SignalRepository
	Positions domain.PositionRepository
	Actions   signalActions
	Portfolio portfolioReader
	Broker    domain.Broker
	Health    healthReporter
	Stream    streamer
	Metrics   http.Handler
	Logger    *zap.Logger
}

type Server struct {
	router   *http.ServeMux
	server   *http.Server
	deps     Deps
	validate *validator.Validate
	logger   *zap.Logger
}

func NewServer(port int, deps Deps) *Server {
	s := &Server{
		router:   http.NewServeMux(),
		deps:     deps,
		validate: validator.New(),
		logger:   deps.Logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.Handle("GET /metrics", s.deps.Metrics)
	}
	s.router.HandleFunc("GET /ws", s.handleWS)

	// Signals
	s.router.HandleFunc("GET /api/signals", s.handleListSignals)
	s.router.HandleFunc("POST /api/signals/{id}/confirm", s.handleConfirmSignal)
	s.router.HandleFunc("POST /api/signals/{id}/reject", s.handleRejectSignal)
	s.router.HandleFunc("POST /api/signals/{id}/execute", s.handleExecuteSignal)

	// Positions
	s.router.HandleFunc("GET /api/positions", s.handleListPositions)
	s.router.HandleFunc("POST /api/positions/{id}/close", s.handleClosePosition)
	s.router.HandleFunc("GET /api/portfolio/{user_id}", s.handlePortfolio)

	// Broker
	s.router.HandleFunc("GET /api/broker/account", s.handleBrokerAccount)
	s.router.HandleFunc("GET /api/broker/positions", s.handleBrokerPositions)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
