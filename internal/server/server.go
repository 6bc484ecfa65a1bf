// Package server exposes the admin HTTP API and the WebSocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/yieldrebalancer/internal/domain"
	"github.com/alanyoungcy/yieldrebalancer/internal/server/handler"
	"github.com/alanyoungcy/yieldrebalancer/internal/server/middleware"
	"github.com/alanyoungcy/yieldrebalancer/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	// RateLimit is requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
	// WriteTimeout must cover a synchronous evaluate/execute call.
	WriteTimeout time.Duration
}

// Handlers aggregates the route handlers. Archive may be nil when no blob
// store is configured.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Accounts *handler.AccountHandler
	Reports  *handler.ReportHandler
	Cycles   *handler.CycleHandler
	Archive  *handler.ArchiveHandler
}

// Server is the admin API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, rate
// limiting and auth, outermost first.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	var root http.Handler = Routes(h, hub)
	root = middleware.Auth(cfg.APIKey, "/api/health")(root)
	if limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(root)
	}
	root = middleware.Logging(logger)(root)
	root = middleware.CORS(cfg.CORSOrigins)(root)

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the bare mux without middleware.
func Routes(h Handlers, hub *ws.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("GET /api/queue", h.Reports.Queue)
	mux.HandleFunc("GET /api/history", h.Reports.History)
	mux.HandleFunc("GET /api/vaults", h.Reports.Vaults)

	mux.HandleFunc("GET /api/accounts", h.Accounts.List)
	mux.HandleFunc("POST /api/accounts", h.Accounts.Register)
	mux.HandleFunc("DELETE /api/accounts/{address}", h.Accounts.Unregister)

	mux.HandleFunc("POST /api/cycle/trigger", h.Cycles.Trigger)
	mux.HandleFunc("POST /api/cycle/evaluate", h.Cycles.Evaluate)
	mux.HandleFunc("POST /api/cycle/execute", h.Cycles.Execute)
	mux.HandleFunc("GET /api/cycles", h.Cycles.List)
	mux.HandleFunc("GET /api/strategy", h.Cycles.GetStrategy)
	mux.HandleFunc("POST /api/strategy", h.Cycles.SetStrategy)

	if h.Archive != nil {
		mux.HandleFunc("GET /api/archive/{month}", h.Archive.Get)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	return mux
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
