// Package server exposes the battle market over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wavewarz/battle-engine/internal/domain"
	"github.com/wavewarz/battle-engine/internal/server/handler"
	"github.com/wavewarz/battle-engine/internal/server/middleware"
	"github.com/wavewarz/battle-engine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // if empty, authentication is disabled
	RateLimitRPS int    // if zero or no limiter is given, rate limiting is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Battles *handler.BattleHandler
	Bank    *handler.BankHandler
}

// Server is the HTTP + WebSocket API server for the battle market.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (rate limiting, logging, CORS, auth) and attaches
// the WebSocket hub. The limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Battle lifecycle.
	mux.HandleFunc("POST /api/battles", handlers.Battles.CreateBattle)
	mux.HandleFunc("GET /api/battles", handlers.Battles.ListBattles)
	mux.HandleFunc("GET /api/battles/{id}", handlers.Battles.GetBattle)
	mux.HandleFunc("POST /api/battles/{id}/buy", handlers.Battles.Buy)
	mux.HandleFunc("POST /api/battles/{id}/sell", handlers.Battles.Sell)
	mux.HandleFunc("POST /api/battles/{id}/end", handlers.Battles.End)
	mux.HandleFunc("POST /api/battles/{id}/claim", handlers.Battles.Claim)

	// History and per-trader queries.
	mux.HandleFunc("GET /api/battles/{id}/trades", handlers.Battles.ListTrades)
	mux.HandleFunc("GET /api/battles/{id}/claims", handlers.Battles.ListClaims)
	mux.HandleFunc("GET /api/battles/{id}/balance", handlers.Battles.Balance)
	mux.HandleFunc("GET /api/battles/{id}/claimed", handlers.Battles.Claimed)
	mux.HandleFunc("GET /api/traders/{address}/trades", handlers.Battles.ListTraderHistory)

	// Price quotes.
	mux.HandleFunc("GET /api/quotes/buy", handlers.Battles.QuoteBuy)
	mux.HandleFunc("GET /api/quotes/sell", handlers.Battles.QuoteSell)

	// Vault funding.
	if handlers.Bank != nil {
		mux.HandleFunc("POST /api/bank/deposit", handlers.Bank.Deposit)
		mux.HandleFunc("POST /api/bank/withdraw", handlers.Bank.Withdraw)
		mux.HandleFunc("GET /api/bank/balance", handlers.Bank.Balance)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting when configured.
	if limiter != nil && cfg.RateLimitRPS > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitRPS, time.Second)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
