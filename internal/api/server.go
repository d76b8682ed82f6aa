package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/config"
	"github.com/HarborGuard/continuity/internal/dr"
)

// Server exposes the disaster recovery façade over HTTP
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	service    *dr.Service
	metrics    *dr.Metrics
	limiter    *RateLimiter

	requestCount int64
	errorCount   int64
	startTime    time.Time
}

// NewServer creates the HTTP server around a DR service
func NewServer(cfg *config.Config, service *dr.Service, metrics *dr.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    cfg,
		logger:    logger,
		router:    mux.NewRouter(),
		service:   service,
		metrics:   metrics,
		limiter:   NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/plans", s.handleCreatePlan).Methods("POST")
	api.HandleFunc("/plans", s.handleListPlans).Methods("GET")
	api.HandleFunc("/plans/{id}", s.handleGetPlan).Methods("GET")
	api.HandleFunc("/plans/{id}", s.handleUpdatePlan).Methods("PUT")
	api.HandleFunc("/plans/{id}", s.handleDeletePlan).Methods("DELETE")
	api.HandleFunc("/plans/{id}/failover", s.handleFailover).Methods("POST")
	api.HandleFunc("/plans/{id}/recovery", s.handleRecovery).Methods("POST")
	api.HandleFunc("/plans/{id}/test", s.handleTestPlan).Methods("POST")

	api.HandleFunc("/backups", s.handleCreateBackup).Methods("POST")
	api.HandleFunc("/backups", s.handleListBackups).Methods("GET")
	api.HandleFunc("/backups/{id}/verify", s.handleVerifyBackup).Methods("POST")
	api.HandleFunc("/backup-jobs", s.handleScheduleJob).Methods("POST")
	api.HandleFunc("/backup-jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/backup-jobs/{id}", s.handleUnscheduleJob).Methods("DELETE")

	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	s.router.Use(s.loggingMiddleware)
}

// Start begins serving; blocks until the server exits
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.Int("port", s.config.Server.Port))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()

		next.ServeHTTP(w, r)

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(r.RemoteAddr) {
			atomic.AddInt64(&s.errorCount, 1)
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
