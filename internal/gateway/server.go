// Package gateway is the HTTP surface of stockd: authentication, workflow
// management, alerts, market data, the WebSocket entry point, and the error
// catalog that every component error is translated through.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/stockd/internal/auth"
	"github.com/haasonsaas/stockd/internal/config"
	"github.com/haasonsaas/stockd/internal/hub"
	"github.com/haasonsaas/stockd/internal/infra"
	"github.com/haasonsaas/stockd/internal/observability"
	"github.com/haasonsaas/stockd/internal/ratelimit"
	"github.com/haasonsaas/stockd/internal/scheduler"
	"github.com/haasonsaas/stockd/internal/stock"
	"github.com/haasonsaas/stockd/internal/storage"
	"github.com/haasonsaas/stockd/internal/workflow"
)

// Deps are the collaborators the gateway dispatches into.
type Deps struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *observability.Metrics
	Auth      *auth.Service
	Engine    *workflow.Engine
	Scheduler *scheduler.Scheduler
	Hub       *hub.Hub
	Stocks    *stock.Service
	Stores    storage.StoreSet
	Breakers  *infra.CircuitBreakerRegistry
}

// Server is the HTTP server for the stockd API.
type Server struct {
	addr        string
	corsOrigins []string
	production  bool

	logger   *slog.Logger
	metrics  *observability.Metrics
	auth     *auth.Service
	engine   *workflow.Engine
	sched    *scheduler.Scheduler
	hub      *hub.Hub
	stocks   *stock.Service
	stores   storage.StoreSet
	breakers *infra.CircuitBreakerRegistry
	limiter  *ratelimit.Limiter

	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
}

// NewServer wires the gateway. It does not start listening.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *ratelimit.Limiter
	if deps.Config.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: deps.Config.RateLimit.RequestsPerSecond,
			BurstSize:         deps.Config.RateLimit.BurstSize,
			Enabled:           true,
		})
	}

	return &Server{
		addr:        fmt.Sprintf("%s:%d", deps.Config.Server.Host, deps.Config.Server.Port),
		corsOrigins: deps.Config.CORSOrigins,
		production:  deps.Config.IsProduction(),
		logger:      logger.With("component", "gateway"),
		metrics:     deps.Metrics,
		auth:        deps.Auth,
		engine:      deps.Engine,
		sched:       deps.Scheduler,
		hub:         deps.Hub,
		stocks:      deps.Stocks,
		stores:      deps.Stores,
		breakers:    deps.Breakers,
		limiter:     limiter,
		startTime:   time.Now(),
	}
}

// Handler builds the full routing table with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public routes are limited by remote host; authed routes are wrapped
	// inside requireAuth so the limiter keys on the authenticated user.
	public := func(h http.HandlerFunc) http.Handler { return s.withRateLimit(h) }
	authed := func(h http.HandlerFunc) http.Handler { return s.requireAuth(s.withRateLimit(h)) }

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("GET /healthz", public(s.handleHealthz))
	mux.Handle("GET /ws", public(s.handleWS))

	mux.Handle("POST /auth/register", public(s.handleRegister))
	mux.Handle("POST /auth/login", public(s.handleLogin))
	mux.Handle("POST /auth/refresh", public(s.handleRefresh))
	mux.Handle("POST /auth/logout", public(s.handleLogout))
	mux.Handle("GET /auth/me", public(s.handleMe))

	mux.Handle("POST /workflows", authed(s.handleCreateWorkflow))
	mux.Handle("GET /workflows", authed(s.handleListWorkflows))
	mux.Handle("POST /workflows/{id}/execute", authed(s.handleExecuteWorkflow))
	mux.Handle("GET /workflows/{id}/executions", authed(s.handleListExecutions))
	mux.Handle("POST /workflows/{id}/schedule", authed(s.handleScheduleWorkflow))
	mux.Handle("DELETE /workflows/{id}/schedule", authed(s.handleUnscheduleWorkflow))
	mux.Handle("GET /executions/{id}", authed(s.handleGetExecution))

	mux.Handle("POST /alerts", authed(s.handleCreateAlert))
	mux.Handle("GET /alerts", authed(s.handleListAlerts))
	mux.Handle("DELETE /alerts/{id}", authed(s.handleDeleteAlert))

	mux.Handle("GET /notifications", authed(s.handleListNotifications))
	mux.Handle("POST /notifications/{id}/read", authed(s.handleMarkNotificationRead))

	mux.Handle("GET /stocks/{ticker}/price", authed(s.handleGetPrice))
	mux.Handle("GET /stocks/{ticker}/news", authed(s.handleGetNews))
	mux.Handle("GET /stocks/{ticker}/historical", authed(s.handleGetHistorical))
	mux.Handle("GET /market/overview", authed(s.handleMarketOverview))

	mws := []middleware{withCorrelationID, s.withObservability, s.withCORS}
	if s.production {
		mws = append(mws, withSecureHeaders)
	}
	return chain(mux, mws...)
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("http server started", "addr", s.addr)
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// handleWS hands the connection to the hub; authentication happens inside
// the WebSocket handshake so failures close with a policy-violation code.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r)
}

// healthResponse includes per-breaker state so operators can see upstream
// health without scraping metrics.
type healthResponse struct {
	Status        string                      `json:"status"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Connections   int                         `json:"ws_connections"`
	Breakers      []infra.CircuitBreakerStats `json:"breakers,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	}
	if s.hub != nil {
		resp.Connections = s.hub.ConnectionCount()
	}
	if s.breakers != nil {
		resp.Breakers = s.breakers.Stats()
		for _, b := range resp.Breakers {
			if b.State == infra.CircuitOpen {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
