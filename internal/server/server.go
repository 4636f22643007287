// Package server exposes the market program over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dake/internal/crypto"
	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/server/handler"
	"github.com/alanyoungcy/dake/internal/server/middleware"
	"github.com/alanyoungcy/dake/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AuthMaxSkew bounds the age of a signed request's timestamp.
	AuthMaxSkew time.Duration
	// RateLimit is requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Markets   *handler.MarketHandler
	Positions *handler.PositionHandler
	Oracle    *handler.OracleHandler
	// Events and Audit are optional; their routes are registered only when
	// set.
	Events *handler.EventsHandler
	Audit  *handler.AuditHandler
}

// Deps are the collaborators of the middleware chain. Limiter and Hub are
// optional.
type Deps struct {
	Verifier *crypto.Verifier
	Limiter  domain.RateLimiter
	Hub      *ws.Hub
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and builds the middleware chain.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, deps, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler returns the routed and wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) http.Handler {
	skew := cfg.AuthMaxSkew
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	signed := middleware.SignedRequest(deps.Verifier, skew, nil)
	post := func(h http.HandlerFunc) http.Handler { return signed(h) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{address}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{address}/positions", handlers.Markets.ListPositions)
	mux.Handle("POST /api/markets", post(handlers.Markets.CreateMarket))
	mux.Handle("POST /api/markets/{address}/close", post(handlers.Markets.CloseMarket))
	mux.Handle("POST /api/markets/{address}/resolve", post(handlers.Markets.ResolveMarket))
	mux.Handle("POST /api/markets/{address}/bets", post(handlers.Markets.PlaceBet))

	mux.HandleFunc("GET /api/positions/{address}", handlers.Positions.GetPosition)
	mux.Handle("POST /api/positions/{address}/check", post(handlers.Positions.CheckWinner))
	mux.Handle("POST /api/positions/{address}/grant", post(handlers.Positions.GrantDecryptAccess))
	mux.Handle("POST /api/positions/{address}/claim", post(handlers.Positions.ClaimWinnings))

	mux.HandleFunc("GET /api/oracle/key", handlers.Oracle.PublicKey)
	mux.Handle("POST /api/oracle/decrypt", post(handlers.Oracle.Decrypt))

	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.Recent)
	}
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.List)
	}
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	var h http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
