// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/reckonlabs/reckon/internal/api/handlers"
	"github.com/reckonlabs/reckon/internal/api/middleware"
	"github.com/reckonlabs/reckon/internal/application/changelog"
	"github.com/reckonlabs/reckon/internal/application/classify"
	"github.com/reckonlabs/reckon/internal/application/receipts"
	"github.com/reckonlabs/reckon/internal/extraction"
	"github.com/reckonlabs/reckon/internal/infrastructure/storage"
)

// Config holds API server configuration.
type Config struct {
	Port           int
	AllowedOrigins []string
}

// DefaultConfig returns sensible defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
	}
}

// Services groups the application services the API exposes.
// Extractor is optional; when nil the upload endpoint is not registered.
type Services struct {
	ChangeLog *changelog.Service
	Classify  *classify.Service
	Receipts  *receipts.Service
	Extractor extraction.Provider
}

// Server is the HTTP API server.
type Server struct {
	config     Config
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	repo       storage.Repository
	services   Services
}

// NewServer creates a new API server.
func NewServer(cfg Config, repo storage.Repository, services Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		logger:   logger,
		repo:     repo,
		services: services,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	corsConfig := middleware.CORSConfig{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}
	s.router.Use(middleware.CORS(corsConfig))

	s.router.Use(middleware.Logging(s.logger))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	healthHandler := handlers.NewHealthHandler()
	s.router.Get("/health", healthHandler.ServeHTTP)

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		// Records
		recordsHandler := handlers.NewRecordsHandler(s.repo, s.services.ChangeLog)
		r.Get("/records", recordsHandler.List)
		r.Post("/records", recordsHandler.Create)
		r.Get("/records/{id}", recordsHandler.Get)
		r.Delete("/records/{id}", recordsHandler.Delete)

		// Classification
		classifyHandler := handlers.NewClassifyHandler(s.repo, s.services.Classify)
		r.Post("/classify", classifyHandler.Batch)
		r.Post("/records/{id}/classify", classifyHandler.One)
		r.Post("/records/{id}/confirm", classifyHandler.Confirm)

		// Receipt matching
		receiptsHandler := handlers.NewReceiptsHandler(s.repo, s.services.Receipts, s.services.Extractor)
		r.Post("/receipts/match", receiptsHandler.Match)
		r.Post("/receipts/link", receiptsHandler.Link)
		r.Post("/receipts/{receiptID}/link/{recordID}", receiptsHandler.LinkTo)
		if s.services.Extractor != nil {
			r.Post("/receipts/extract", receiptsHandler.Extract)
		}

		// Change log
		changeLogHandler := handlers.NewChangeLogHandler(s.repo, s.services.ChangeLog)
		r.Get("/changelog", changeLogHandler.List)
		r.Get("/changelog/export", changeLogHandler.Export)
		r.Post("/changelog/undo-last", changeLogHandler.UndoLast)
		r.Post("/changelog/{id}/undo", changeLogHandler.Undo)

		// Catalog entities
		entitiesHandler := handlers.NewEntitiesHandler(s.repo, s.services.ChangeLog)
		r.Get("/entities", entitiesHandler.List)
		r.Post("/entities", entitiesHandler.Save)
		r.Delete("/entities/{id}", entitiesHandler.Delete)

		// Rules
		rulesHandler := handlers.NewRulesHandler(s.repo, s.services.ChangeLog)
		r.Get("/rules", rulesHandler.List)
		r.Post("/rules", rulesHandler.Save)
		r.Delete("/rules/{id}", rulesHandler.Delete)

		// Stats and runs
		statsHandler := handlers.NewStatsHandler(s.repo)
		r.Get("/stats", statsHandler.Get)

		runsHandler := handlers.NewRunsHandler(s.repo)
		r.Get("/runs", runsHandler.List)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")

	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
