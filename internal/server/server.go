package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/promptveil/promptveil/internal/anonymize"
	"github.com/promptveil/promptveil/internal/cache"
	"github.com/promptveil/promptveil/internal/config"
	"github.com/promptveil/promptveil/internal/logger"
	"github.com/promptveil/promptveil/internal/review"
	"github.com/promptveil/promptveil/internal/security"
	"github.com/promptveil/promptveil/internal/session"
	"github.com/promptveil/promptveil/internal/web"
	"github.com/promptveil/promptveil/internal/websocket"
	"go.uber.org/zap"
)

// Server is the PromptVeil HTTP API server. It wires the detection engine,
// session manager, review store, result cache and WebSocket hub behind a
// gorilla/mux router.
type Server struct {
	config      *config.Config
	logger      *logger.Logger
	engine      *anonymize.Engine
	sessions    *session.Manager
	reviews     *review.Store      // nil when the review store is disabled
	resultCache *cache.ResultCache // nil when caching is disabled
	rateLimiter *security.RateLimiter
	wsHub       *websocket.Hub
	router      *mux.Router
	server      *http.Server

	startTime       time.Time
	totalRequests   int64
	totalDetections int64
}

// New creates a new API server instance.
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	engine, err := anonymize.New(cfg.Anonymizer, log.WithComponent("anonymize"))
	if err != nil {
		return nil, fmt.Errorf("failed to create anonymization engine: %w", err)
	}

	var resultCache *cache.ResultCache
	if cfg.Cache.Enabled {
		resultCache, err = cache.NewResultCache(cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
	}

	var reviews *review.Store
	if cfg.Review.Enabled {
		reviews, err = review.NewStore(cfg.Review, log.WithComponent("review").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create review store: %w", err)
		}
	}

	sessions := session.NewManager(cfg.Sessions, engine, resultCache, log.WithComponent("session"))
	wsHub := websocket.NewHub(cfg.WebSocket, log.WithComponent("websocket").Logger)

	server := &Server{
		config:      cfg,
		logger:      log.WithComponent("server"),
		engine:      engine,
		sessions:    sessions,
		reviews:     reviews,
		resultCache: resultCache,
		rateLimiter: security.NewRateLimiter(&cfg.Security),
		wsHub:       wsHub,
		router:      mux.NewRouter(),
		startTime:   time.Now(),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// Dashboard
	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	// WebSocket endpoint for dashboard
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/detect", s.handleDetect).Methods("POST")
	api.HandleFunc("/patterns", s.handleListPatterns).Methods("GET")

	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/text", s.handleUpdateText).Methods("PUT")
	api.HandleFunc("/sessions/{id}/toggle", s.handleToggle).Methods("POST")
	api.HandleFunc("/sessions/{id}/submit", s.handleSubmit).Methods("POST")

	api.HandleFunc("/submissions", s.handleListSubmissions).Methods("GET")
	api.HandleFunc("/submissions/{id}", s.handleGetSubmission).Methods("GET")
	api.HandleFunc("/submissions/{id}/status", s.handleUpdateStatus).Methods("PUT")

	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
	api.HandleFunc("/cache", s.handleCacheClear).Methods("DELETE")
}

// Start starts the HTTP server and all background loops.
func (s *Server) Start() error {
	s.logger.Info("Starting PromptVeil server",
		zap.Int("port", s.config.Server.Port),
		zap.Int("patterns", len(s.engine.Patterns())),
		zap.Bool("cache_enabled", s.resultCache != nil),
		zap.Bool("review_enabled", s.reviews != nil),
	)

	go s.wsHub.Run()
	s.sessions.StartJanitor()
	s.rateLimiter.StartCleanupRoutine()
	go s.statusBroadcastLoop()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and closes backing stores.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PromptVeil server")

	s.sessions.Stop()
	if s.resultCache != nil {
		if err := s.resultCache.Close(); err != nil {
			s.logger.Warn("Failed to close result cache", zap.Error(err))
		}
	}
	if s.reviews != nil {
		if err := s.reviews.Close(); err != nil {
			s.logger.Warn("Failed to close review store", zap.Error(err))
		}
	}

	return s.server.Shutdown(ctx)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

// handleWebSocket handles WebSocket connections for the dashboard
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// statusBroadcastLoop periodically pushes a system status event to dashboard
// clients.
func (s *Server) statusBroadcastLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		stats := s.wsHub.GetStats()
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeSystemStatus,
			Timestamp: time.Now(),
			Data: websocket.SystemStatusEvent{
				Status:           "healthy",
				Uptime:           time.Since(s.startTime).Round(time.Second).String(),
				TotalRequests:    atomic.LoadInt64(&s.totalRequests),
				TotalDetections:  atomic.LoadInt64(&s.totalDetections),
				ActiveSessions:   s.sessions.Count(),
				ActivePatterns:   len(s.engine.Patterns()),
				ConnectedClients: int(stats.ActiveConnections),
				MemoryUsage:      fmt.Sprintf("%.1fMB", float64(mem.Alloc)/1024/1024),
			},
		})
	}
}
