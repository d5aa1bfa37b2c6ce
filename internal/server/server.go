// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server provides the REST API, WebSocket feed and metrics endpoint
// for fetching datasets on a shared host.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/roshan-srin/nidata/internal/logging"
	_ "github.com/roshan-srin/nidata/pkg/dataset/catalog"
	"github.com/roshan-srin/nidata/pkg/fetcher"
)

// Config holds server configuration.
type Config struct {
	Addr    string
	Port    int
	Version string

	// DataDir is where every job writes. It is not configurable via the API.
	DataDir string

	Settings       fetcher.Settings
	AllowedOrigins []string // CORS origins

	Logger *logrus.Logger

	// HTTPClient is handed to the fetcher; nil uses its default client.
	HTTPClient *http.Client
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:     "0.0.0.0",
		Port:     8080,
		Settings: fetcher.DefaultSettings(),
	}
}

// Server is the HTTP server for nidata.
type Server struct {
	mu         sync.RWMutex
	hubOnce    sync.Once
	config     Config
	httpServer *http.Server
	jobs       *JobManager
	wsHub      *WSHub
	metrics    *Metrics
	registry   *prometheus.Registry
	log        *logrus.Logger
}

// New creates a new server with the given configuration.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	metrics.MustRegister(reg)

	wsHub := NewWSHub(logger)
	s := &Server{
		config:   cfg,
		wsHub:    wsHub,
		metrics:  metrics,
		registry: reg,
		log:      logger,
	}
	s.jobs = NewJobManager(s, wsHub)
	return s
}

// settings returns a copy of the current fetch settings.
func (s *Server) settings() fetcher.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Settings
}

// Handler returns the routed handler wrapped in the server middleware.
func (s *Server) Handler() http.Handler {
	s.hubOnce.Do(func() { go s.wsHub.Run() })
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Addr, s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.jobs.CancelAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.WithFields(logging.BaseFields("serve", "")).WithFields(logrus.Fields{
		"addr":     addr,
		"data_dir": s.config.DataDir,
	}).Infof("server starting on http://%s", addr)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/datasets", s.handleListDatasets)
	mux.HandleFunc("GET /api/datasets/{name}", s.handleGetDataset)

	mux.HandleFunc("POST /api/fetch", s.handleStartFetch)
	mux.HandleFunc("POST /api/plan", s.handlePlan)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		// The WebSocket upgrade needs the raw writer.
		if r.URL.Path == "/api/ws" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			if s.originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether a browser at origin may use the API. An
// empty AllowedOrigins list allows every origin.
func (s *Server) originAllowed(origin string) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
