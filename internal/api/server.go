package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shizukutanaka/logpulse/internal/analytics"
	"github.com/shizukutanaka/logpulse/internal/common"
	"github.com/shizukutanaka/logpulse/internal/database"
	"github.com/shizukutanaka/logpulse/internal/ingest"
	"github.com/shizukutanaka/logpulse/internal/monitoring"
)

// Config defines API server configuration
type Config struct {
	Enabled      bool     `yaml:"enabled"`
	ListenAddr   string   `yaml:"listen_addr"`
	EnableTLS    bool     `yaml:"enable_tls"`
	CertFile     string   `yaml:"cert_file"`
	KeyFile      string   `yaml:"key_file"`
	AllowOrigins []string `yaml:"allow_origins"`

	StatsCacheTTL time.Duration `yaml:"stats_cache_ttl"`
}

// Response represents the API response envelope
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Time    time.Time   `json:"time"`
}

// Server provides the HTTP API and WebSocket interface
type Server struct {
	logger *zap.Logger
	config Config
	router *mux.Router
	server *http.Server
	hub    *Hub

	coordinator *ingest.Coordinator
	runner      *analytics.Runner
	files       *database.LogFileRepository
	entries     *database.LogEntryRepository
	store       *database.AnalyticsRepository
	health      *monitoring.HealthChecker
	metrics     *monitoring.Metrics

	statsCache *bigcache.BigCache
}

// Deps carries the server's collaborators. Hub is optional; passing one lets
// the coordinator share it as its notifier.
type Deps struct {
	Coordinator *ingest.Coordinator
	Runner      *analytics.Runner
	Files       *database.LogFileRepository
	Entries     *database.LogEntryRepository
	Store       *database.AnalyticsRepository
	Health      *monitoring.HealthChecker
	Metrics     *monitoring.Metrics
	Hub         *Hub
}

// NewServer creates a new API server
func NewServer(config Config, deps Deps, logger *zap.Logger) (*Server, error) {
	if config.StatsCacheTTL <= 0 {
		config.StatsCacheTTL = 30 * time.Second
	}

	statsCache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(config.StatsCacheTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create stats cache: %w", err)
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(config.AllowOrigins, logger)
	}

	s := &Server{
		logger:      logger,
		config:      config,
		hub:         hub,
		coordinator: deps.Coordinator,
		runner:      deps.Runner,
		files:       deps.Files,
		entries:     deps.Entries,
		store:       deps.Store,
		health:      deps.Health,
		metrics:     deps.Metrics,
		statsCache:  statsCache,
	}

	s.setupRoutes()
	return s, nil
}

// Hub returns the websocket hub, which also serves as the ingestion notifier
func (s *Server) Hub() *Hub {
	return s.hub
}

// Router returns the configured router, usable without a listening server
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins serving. Returns immediately; errors surface in the log.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server",
		zap.String("listen_addr", s.config.ListenAddr),
		zap.Bool("tls_enabled", s.config.EnableTLS),
	)

	go func() {
		var err error
		if s.config.EnableTLS {
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown gracefully stops the API server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")

	s.hub.Close()
	s.statsCache.Close()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.corsMiddleware)
	api.Use(s.loggingMiddleware)

	// File lifecycle
	api.HandleFunc("/files", s.handleUpload).Methods("POST")
	api.HandleFunc("/files", s.handleListFiles).Methods("GET")
	api.HandleFunc("/files/{id:[0-9]+}", s.handleGetFile).Methods("GET")
	api.HandleFunc("/files/{id:[0-9]+}/ingest", s.handleIngest).Methods("POST")
	api.HandleFunc("/files/{id:[0-9]+}/rebuild", s.handleRebuild).Methods("POST")

	// Query surface
	api.HandleFunc("/entries", s.handleListEntries).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Analytics
	api.HandleFunc("/analytics/run", s.handleRunPipeline).Methods("POST")
	api.HandleFunc("/analytics/anomalies", s.handleListAnomalies).Methods("GET")
	api.HandleFunc("/analytics/clusters", s.handleListClusters).Methods("GET")
	api.HandleFunc("/analytics/runs", s.handleListRuns).Methods("GET")

	api.HandleFunc("/ws", s.hub.HandleWebSocket)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range s.config.AllowOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.Debug("API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(Response{
		Success: status < http.StatusBadRequest,
		Data:    data,
		Time:    time.Now().UTC(),
	}); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
		Time:    time.Now().UTC(),
	}); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// statusFor maps sentinel errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrFileBusy), errors.Is(err, common.ErrFileNotIngestible):
		return http.StatusConflict
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrNilInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
