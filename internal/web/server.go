package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/vitos/grid_ladder/internal/domain"
	"github.com/vitos/grid_ladder/internal/usecase"
	"go.uber.org/zap"
)

// StrategyController is the part of usecase.Supervisor the API drives.
type StrategyController interface {
	Start(ctx context.Context, req usecase.StartRequest) (domain.Snapshot, error)
	Stop(id string) error
	ListAll() []domain.Snapshot
	Snapshot(id string) (domain.Snapshot, error)
	SetProfitMargin(ctx context.Context, id string, margin float64) error
	AddLevel(ctx context.Context, id string, price, quantity decimal.Decimal) (int, error)
	RemoveLevel(ctx context.Context, id string, index int) error
	UpdateLevelPrice(ctx context.Context, id string, index int, price decimal.Decimal) error
	UpdateLevelQuantity(ctx context.Context, id string, index int, quantity decimal.Decimal) error
	StopLevel(ctx context.Context, id string, index int) error
	ReactivateLevel(ctx context.Context, id string, index int) error
	ClearLevels(ctx context.Context, id string) error
}

type Server struct {
	router     *http.ServeMux
	server     *http.Server
	strategies StrategyController
	journal    domain.FillJournal
	logger     *zap.Logger
}

// NewServer builds the API. journal may be nil, in which case the fills and pnl routes report 404.
func NewServer(port int, strategies StrategyController, journal domain.FillJournal, logger *zap.Logger) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		strategies: strategies,
		journal:    journal,
		logger:     logger,
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
	// Strategies
	s.router.HandleFunc("POST /strategies", s.handleStartStrategy)
	s.router.HandleFunc("GET /strategies", s.handleListStrategies)
	s.router.HandleFunc("GET /strategies/{id}", s.handleGetStrategy)
	s.router.HandleFunc("DELETE /strategies/{id}", s.handleStopStrategy)
	s.router.HandleFunc("PUT /strategies/{id}/profit-margin", s.handleSetProfitMargin)

	// Levels
	s.router.HandleFunc("POST /strategies/{id}/levels", s.handleAddLevel)
	s.router.HandleFunc("DELETE /strategies/{id}/levels", s.handleClearLevels)
	s.router.HandleFunc("DELETE /strategies/{id}/levels/{index}", s.handleRemoveLevel)
	s.router.HandleFunc("PATCH /strategies/{id}/levels/{index}", s.handleUpdateLevel)
	s.router.HandleFunc("POST /strategies/{id}/levels/{index}/stop", s.handleStopLevel)
	s.router.HandleFunc("POST /strategies/{id}/levels/{index}/reactivate", s.handleReactivateLevel)

	// Journal
	s.router.HandleFunc("GET /strategies/{id}/fills", s.handleListFills)
	s.router.HandleFunc("GET /strategies/{id}/pnl", s.handleRealizedPnL)

	// Metrics
	s.router.Handle("GET /metrics", promhttp.Handler())
}

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
