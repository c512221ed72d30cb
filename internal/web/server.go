package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vitos/trade_engine/internal/domain"
	"go.uber.org/zap"
)

// Engine is the control loop as seen by the HTTP surface.
type Engine interface {
	Tick(ctx context.Context) bool
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	State() *domain.ProcessState
}

type Server struct {
	router *http.ServeMux
	server *http.Server
	engine Engine
	repo   domain.PositionRepository
	// runCtx outlives individual requests; loops started over HTTP run under it.
	runCtx context.Context
	logger *zap.Logger
}

func NewServer(
	runCtx context.Context,
	port int,
	engine Engine,
	repo domain.PositionRepository,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router: http.NewServeMux(),
		engine: engine,
		repo:   repo,
		runCtx: runCtx,
		logger: logger.Named("web"),
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	// Status
	s.router.HandleFunc("GET /status", s.handleStatus)

	// Loop control
	s.router.HandleFunc("POST /tick", s.handleTick)
	s.router.HandleFunc("POST /start", s.handleStart)
	s.router.HandleFunc("POST /stop", s.handleStop)

	// Positions
	s.router.HandleFunc("GET /positions", s.handlePositions)
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
