package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fieldset/quotad/internal/config"
	"github.com/fieldset/quotad/internal/engine"
	"github.com/fieldset/quotad/internal/ipfilter"
	"github.com/fieldset/quotad/internal/metrics"
	"github.com/fieldset/quotad/internal/repository"
)

// Server is the HTTP API server
type Server struct {
	router      *chi.Mux
	httpServer  *http.Server
	engine      *engine.Engine
	quotas      *repository.QuotaRepository
	respondents *repository.RespondentRepository
	apiKeys     *repository.APIKeyRepository
	config      *config.APIConfig
	logger      *slog.Logger
	ipFilter    *ipfilter.Filter
	startTime   time.Time
}

// NewServer creates a new API server. apiKeys may be nil to disable
// authentication.
func NewServer(
	eng *engine.Engine,
	quotas *repository.QuotaRepository,
	respondents *repository.RespondentRepository,
	apiKeys *repository.APIKeyRepository,
	cfg *config.APIConfig,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		engine:      eng,
		quotas:      quotas,
		respondents: respondents,
		apiKeys:     apiKeys,
		config:      cfg,
		logger:      logger,
		ipFilter:    ipfilter.New(cfg.AllowedIPs, logger),
		startTime:   time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.ipFilter.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(metrics.HTTPMiddleware)

		r.Route("/surveys/{surveyID}", func(r chi.Router) {
			r.Route("/quota", func(r chi.Router) {
				r.Put("/", s.handleQuotaPut)
				r.Get("/", s.handleQuotaGet)
				r.Delete("/", s.handleQuotaDelete)
				r.Get("/status", s.handleQuotaStatus)
				r.Get("/vendor", s.handleQuotaVendorPayload)
				r.Post("/activate", s.handleQuotaActivate)
				r.Post("/deactivate", s.handleQuotaDeactivate)
			})

			r.Route("/respondents", func(r chi.Router) {
				r.Post("/", s.handleAdmit)
				r.Get("/", s.handleRespondentsList)
				r.Get("/{respondentID}", s.handleRespondentGet)
				r.Post("/{respondentID}/complete", s.handleComplete)
				r.Post("/{respondentID}/terminate", s.handleTerminate)
			})
		})
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
