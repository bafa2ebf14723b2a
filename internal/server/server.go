// Package server provides the HTTP server and routing for Nexus.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/config"
	coordinatorhandlers "github.com/aristath/nexus/internal/coordinator/handlers"
	"github.com/aristath/nexus/internal/di"
	decisionhandlers "github.com/aristath/nexus/internal/modules/decision/handlers"
	portfoliohandlers "github.com/aristath/nexus/internal/modules/portfolio/handlers"
	riskhandlers "github.com/aristath/nexus/internal/modules/risk/handlers"
	strategyhandlers "github.com/aristath/nexus/internal/modules/strategy/handlers"
	orchestratorhandlers "github.com/aristath/nexus/internal/orchestrator/handlers"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
	Port      int
	DevMode   bool
	Version   string
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	container      *di.Container
	version        string
	devMode        bool
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Config,
		container: cfg.Container,
		version:   cfg.Version,
		devMode:   cfg.DevMode,
	}
	s.systemHandlers = NewSystemHandlers(cfg.Container, cfg.Log)

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.container.Registry, promhttp.HandlerOpts{}))

	// Long-lived connections stay outside the timeout and compression middleware
	s.router.Group(func(r chi.Router) {
		r.Get("/api/events/stream", NewEventsStreamHandler(s.container.Bus, s.log).ServeHTTP)
		if s.container.WebSocketHub != nil {
			r.Handle("/api/mcu/ws", s.container.WebSocketHub)
		}
	})

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if !s.devMode {
			r.Use(middleware.Compress(5))
		}

		r.Route("/api", func(r chi.Router) {
			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Get("/jobs", s.systemHandlers.HandleJobs)
				r.Post("/jobs/{name}/run", s.systemHandlers.HandleRunJob)
				r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
				r.Get("/backups", s.systemHandlers.HandleListBackups)
			})

			// User-facing routes served by the coordinator
			coordinatorhandlers.NewHandler(s.container.Coordinator, s.log).RegisterRoutes(r)

			// Orchestrator (MCU) routes; the WebSocket endpoint is mounted above
			orchestratorhandlers.NewHandler(s.container.Orchestrator, nil, s.log).RegisterRoutes(r)

			decisionhandlers.NewHandler(s.container.Decisions, s.log).RegisterRoutes(r)
			strategyhandlers.NewHandler(s.container.Strategy, s.log).RegisterRoutes(r)
			riskhandlers.NewHandler(s.container.Risk, s.container.Ledger, s.log).RegisterRoutes(r)
			portfoliohandlers.NewHandler(s.container.Ledger, s.log).RegisterRoutes(r)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":  "healthy",
		"version": s.version,
		"service": "nexus",
	}

	for _, db := range s.container.Databases() {
		if err := db.HealthCheck(r.Context()); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Health check failed")
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = fmt.Sprintf("%s: %v", db.Name(), err)
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode health response")
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
