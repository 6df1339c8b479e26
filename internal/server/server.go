// Package server provides the HTTP API of the admin panel.
package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/config"
	"github.com/stackpanel/stackpanel/internal/repository/etcd"
	"github.com/stackpanel/stackpanel/internal/repository/postgres"
	"github.com/stackpanel/stackpanel/internal/repository/redis"
	"github.com/stackpanel/stackpanel/internal/server/middleware"
	"github.com/stackpanel/stackpanel/internal/services/auth"
	"github.com/stackpanel/stackpanel/internal/services/cloudsync"
	"github.com/stackpanel/stackpanel/internal/services/inventory"
)

// Version is reported by /api/v1/info. Set at build time.
var Version = "dev"

// EventSource streams published events. *redis.Cache implements it.
type EventSource interface {
	Subscribe(ctx context.Context, channels ...string) <-chan redis.Event
}

// SyncLeader is this instance's place in the sync leader election. *etcd.Leader implements it.
type SyncLeader interface {
	IsLeader() bool
	Holder(ctx context.Context) (string, error)
	Resign(ctx context.Context) error
}

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	mux        *http.ServeMux

	// Infrastructure
	db    *postgres.DB
	cache *redis.Cache
	etcd  *etcd.Client

	// Sync leadership, resigned on shutdown
	leader SyncLeader

	registry *inventory.Registry
	auth     *auth.Service
	syncer   *cloudsync.Syncer
	events   EventSource
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL reports PostgreSQL health and closes the pool on shutdown.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis reports Redis health and relays its sync events to websocket clients.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
		if s.events == nil {
			s.events = cache
		}
	}
}

// WithEtcd reports etcd health and closes the client on shutdown.
func WithEtcd(client *etcd.Client) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// WithLeader reports the sync leader and resigns leadership on shutdown so another
// instance takes over syncing.
func WithLeader(leader SyncLeader) ServerOption {
	return func(s *Server) {
		s.leader = leader
	}
}

// WithSyncer enables the sync endpoints.
func WithSyncer(syncer *cloudsync.Syncer) ServerOption {
	return func(s *Server) {
		s.syncer = syncer
	}
}

// WithEventSource sets where /api/v1/events reads from.
func WithEventSource(events EventSource) ServerOption {
	return func(s *Server) {
		s.events = events
	}
}

// New creates a new server instance.
func New(cfg *config.Config, registry *inventory.Registry, authService *auth.Service, logger *zap.Logger, opts ...ServerOption) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger.With(zap.String("component", "server")),
		mux:      http.NewServeMux(),
		registry: registry,
		auth:     authService,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /healthz", s.healthHandler)
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.HandleFunc("GET /live", s.liveHandler)

	s.mux.HandleFunc("GET /api/v1/info", s.infoHandler)

	s.registerAuthRoutes()
	s.registerResourceRoutes()
	s.registerSyncRoutes()
	s.mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	s.logger.Info("All routes registered", zap.Int("kinds", len(s.registry.Kinds())))
}

// Handler returns the routed mux wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400,
	})

	var handler http.Handler = s.mux
	handler = middleware.NewAuth(s.auth, s.logger).Wrap(handler)
	handler = corsHandler.Handler(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks
		if r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/live" {
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack exposes the connection for websocket upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "stackpanel"})
}

// readyHandler checks every configured backend.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	check := func(name string, health func(context.Context) error) {
		if err := health(ctx); err != nil {
			ready = false
			details[name] = "unhealthy"
			return
		}
		details[name] = "healthy"
	}

	if s.db != nil {
		check("postgres", s.db.Health)
	}
	if s.cache != nil {
		check("redis", s.cache.Health)
	}
	if s.etcd != nil {
		check("etcd", s.etcd.Health)
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]interface{}{"ready": ready, "components": details})
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	infrastructure := map[string]bool{
		"postgres": s.db != nil,
		"redis":    s.cache != nil,
		"etcd":     s.etcd != nil,
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":           "stackpanel",
		"version":        Version,
		"api_version":    "v1",
		"infrastructure": infrastructure,
		"sync":           s.syncer != nil,
	})
}

// Run starts the HTTP server and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return s.Shutdown()
}

// Shutdown stops accepting requests, stops running syncs and closes backends.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	if s.syncer != nil {
		if err := s.syncer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Closing backends under a running sync", zap.Error(err))
		}
	}

	if s.leader != nil {
		resignCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.leader.Resign(resignCtx); err != nil {
			s.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	}

	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}
