// Package server exposes the dashboard HTTP API and a minimal HTML dashboard.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"brokerdash/internal/auth"
	"brokerdash/internal/resilience"
	"brokerdash/internal/security"
	"brokerdash/internal/store"
	"brokerdash/internal/trading"
)

// Config holds server dependencies and settings.
type Config struct {
	Addr           string
	DevMode        bool
	AllowedOrigins []string
	RequestTimeout time.Duration
	Version        string
	Provider       string

	Auth       *auth.Service
	Portfolio  *trading.PortfolioService
	Orders     *trading.OrderService
	SyncStatus store.SyncStore
	// Breaker is the broker gateway's circuit breaker; nil for the paper broker.
	Breaker *resilience.CircuitBreaker
	// Audit may be nil to disable the audit trail.
	Audit *security.AuditLogger
	Log   zerolog.Logger
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	auth      *auth.Service
	portfolio *trading.PortfolioService
	orders    *trading.OrderService
	status    store.SyncStore
	breaker   *resilience.CircuitBreaker
	audit     *security.AuditLogger
	version   string
	provider  string
	started   time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		auth:      cfg.Auth,
		portfolio: cfg.Portfolio,
		orders:    cfg.Orders,
		status:    cfg.SyncStatus,
		breaker:   cfg.Breaker,
		audit:     cfg.Audit,
		version:   cfg.Version,
		provider:  cfg.Provider,
		started:   time.Now(),
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	s.setupMiddleware(cfg.AllowedOrigins, timeout, cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(origins []string, timeout time.Duration, devMode bool) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(timeout))

	if len(origins) == 0 || devMode {
		origins = append(origins, "http://localhost:*", "http://127.0.0.1:*")
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/", s.handleDashboard)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/me", s.handleMe)
			r.Post("/broker/session", s.handleLinkBroker)
			r.Delete("/broker/session", s.handleUnlinkBroker)

			r.Route("/portfolio", func(r chi.Router) {
				r.Get("/", s.handleGetPortfolio)
				r.Get("/summary", s.handlePortfolioSummary)
				r.Post("/sync", s.handleSyncPortfolio)
				r.Post("/refresh-prices", s.handleRefreshPrices)
				r.Get("/movers", s.handleMovers)
				r.Post("/holdings", s.handleAddHolding)
				r.Delete("/holdings/{exchange}/{symbol}", s.handleRemoveHolding)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", s.handleListOrders)
				r.Post("/", s.handlePlaceOrder)
				r.Post("/sync", s.handleSyncOrders)
				r.Get("/{id}", s.handleGetOrder)
				r.Put("/{id}", s.handleModifyOrder)
				r.Delete("/{id}", s.handleCancelOrder)
			})
		})
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
