// Package server provides the HTTP server and routing for Arbiter.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/arbiter/internal/di"
	alertshandlers "github.com/aristath/arbiter/internal/modules/alerts/handlers"
	comparableshandlers "github.com/aristath/arbiter/internal/modules/comparables/handlers"
	dealshandlers "github.com/aristath/arbiter/internal/modules/deals/handlers"
	ledgerhandlers "github.com/aristath/arbiter/internal/modules/ledger/handlers"
	listingshandlers "github.com/aristath/arbiter/internal/modules/listings/handlers"
	snipeshandlers "github.com/aristath/arbiter/internal/modules/snipes/handlers"
	valuationhandlers "github.com/aristath/arbiter/internal/modules/valuation/handlers"
)

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	Port        int
	DevMode     bool
	DataDir     string
	CORSOrigins []string
	// StaleAfter flags comparables older than this in lookups
	StaleAfter time.Duration
	Container  *di.Container
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	container      *di.Container
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	var jobs JobRunner
	if cfg.Container.JobScheduler != nil {
		jobs = cfg.Container.JobScheduler
	}

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg,
		container:      cfg.Container,
		systemHandlers: NewSystemHandlers(cfg.Container.Databases(), cfg.DataDir, jobs, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streams stay open; handlers bound their own work
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Link", "Content-Disposition"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5, "application/json", "text/csv"))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	c := s.container
	s.router.Route("/api", func(r chi.Router) {
		// Streams are registered outside the request timeout
		r.Get("/events/stream", NewEventsStreamHandler(c.EventBus, s.log).ServeHTTP)
		r.Get("/live", NewLiveHandler(c.EventBus, s.cfg.CORSOrigins, s.log).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Route("/system", func(r chi.Router) {
				r.Get("/health", s.systemHandlers.HandleSystemHealth)
				r.Get("/databases", s.systemHandlers.HandleDatabaseStats)
			})
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.systemHandlers.HandleListJobs)
				r.Post("/{name}/run", s.systemHandlers.HandleRunJob)
			})

			listingshandlers.NewHandler(c.ListingService, s.log).RegisterRoutes(r)
			valuationhandlers.NewHandler(c.ModelRepo, s.log).RegisterRoutes(r)
			comparableshandlers.NewHandler(c.ComparablesIndex, c.ComparablesRepo, s.cfg.StaleAfter, s.log).RegisterRoutes(r)
			ledgerhandlers.NewHandler(c.Ledger, s.log).RegisterRoutes(r)
			alertshandlers.NewHandler(c.AlertRepo, s.log).RegisterRoutes(r)
			snipeshandlers.NewHandler(c.SnipeService, s.log).RegisterRoutes(r)
			dealshandlers.NewHandler(c.DealFinder, s.log).RegisterRoutes(r)
		})
	})
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
