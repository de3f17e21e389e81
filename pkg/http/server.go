package http

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"crisis-monitor/pkg/config"
	"crisis-monitor/pkg/correlation"
	"crisis-monitor/pkg/errors"
	"crisis-monitor/pkg/metrics"
	"crisis-monitor/pkg/protocol"
	"crisis-monitor/pkg/ratelimit"
	"crisis-monitor/pkg/report"
	"crisis-monitor/pkg/session"
	"crisis-monitor/pkg/util"
	"crisis-monitor/pkg/version"

	"github.com/sirupsen/logrus"
)

// ReadinessCheck reports whether a dependency is ready to serve traffic
type ReadinessCheck func() error

// Server exposes the message protocol, the REST API, health checks,
// metrics and the WebSocket endpoints.
type Server struct {
	config     config.HTTPConfig
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	manager    *session.Manager
	handler    *protocol.Handler
	hub        *Hub
	renderer   *report.Renderer
	limiter    *ratelimit.HTTPMiddleware
	archive    ArchiveLister
	startTime  time.Time

	checksMu sync.RWMutex
	checks   map[string]ReadinessCheck
}

// NewServer creates a new HTTP server. hub may be nil, in which case the
// WebSocket endpoints are not registered.
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, manager *session.Manager, hub *Hub) *Server {
	server := &Server{
		config:    cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		manager:   manager,
		handler:   protocol.NewHandler(manager, logger),
		hub:       hub,
		renderer:  report.NewRenderer(),
		startTime: time.Now(),
		checks:    make(map[string]ReadinessCheck),
	}

	server.routes()

	recovery := util.NewPanicHandler(logger)
	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      correlation.Middleware(logger, recovery.Middleware(server.withServerHeader(http.HandlerFunc(server.serveLimited)))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.HealthHandler)
	s.mux.HandleFunc("GET /health/live", s.LivenessHandler)
	s.mux.HandleFunc("GET /health/ready", s.ReadinessHandler)

	s.mux.HandleFunc("POST /api/v1/messages", s.messagesHandler)
	s.mux.HandleFunc("GET /api/v1/status", s.statusHandler)
	s.mux.HandleFunc("POST /api/v1/analyze", s.analyzeHandler)
	s.mux.HandleFunc("POST /api/v1/sessions", s.startSessionHandler)
	s.mux.HandleFunc("POST /api/v1/sessions/{call_id}/segments", s.segmentHandler)
	s.mux.HandleFunc("DELETE /api/v1/sessions/{call_id}", s.endSessionHandler)
	s.mux.HandleFunc("GET /api/v1/sessions/{call_id}/summary", s.summaryHandler)
	s.mux.HandleFunc("GET /api/v1/sessions/{call_id}/emergency", s.emergencyHandler)
	s.mux.HandleFunc("GET /api/v1/sessions/{call_id}/report", s.reportHandler)

	if metrics.IsMetricsEnabled() {
		metrics.RegisterHandler(s.mux)
		s.logger.Info("Prometheus metrics endpoint enabled")
	} else {
		s.logger.Info("Metrics endpoints disabled")
	}

	if s.hub != nil && s.config.EnableWebSocket {
		upgrader := newUpgrader(s.config.AllowedOrigins)
		s.mux.HandleFunc("GET /ws/assessments", s.hub.ServeWs(upgrader))
		s.mux.Handle("GET /ws/ingest", newIngestHandler(s.handler, upgrader, s.allowClient, s.logger))
		s.logger.Info("WebSocket endpoints registered at /ws/assessments and /ws/ingest")
	}
}

func (s *Server) withServerHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", version.ServerHeader())
		next.ServeHTTP(w, r)
	})
}

// SetRateLimiter enables per-client rate limiting of API requests and
// ingest messages. It must be called before Start.
func (s *Server) SetRateLimiter(limiter *ratelimit.HTTPMiddleware) {
	s.limiter = limiter
	s.logger.Info("Rate limiting middleware configured")
}

// SetArchive exposes the archive at GET /api/v1/archive. It must be called
// before Start.
func (s *Server) SetArchive(archive ArchiveLister) {
	s.archive = archive
	s.mux.HandleFunc("GET /api/v1/archive", s.archiveHandler)
}

func (s *Server) serveLimited(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		s.mux.ServeHTTP(w, r)
		return
	}
	s.limiter.Middleware(s.mux).ServeHTTP(w, r)
}

func (s *Server) allowClient(clientIP string) bool {
	return s.limiter == nil || s.limiter.AllowClient(clientIP)
}

// Handler returns the root handler, including middleware
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// AddReadinessCheck registers a named dependency check for /health/ready
func (s *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	s.checks[name] = check
}

// Start starts the HTTP server in a goroutine. Listen errors are sent on
// the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	s.logger.WithField("address", s.httpServer.Addr).Info("Starting HTTP server")

	go func() {
		defer close(errCh)
		var err error
		if s.config.TLSEnabled {
			if s.config.TLSCertFile == "" || s.config.TLSKeyFile == "" {
				errCh <- errors.NewInvalidInput("TLS is enabled but certificate or key path is missing")
				return
			}
			s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
			errCh <- err
		}
	}()

	return errCh
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

// ErrorResponse sends a standardized error response
func (s *Server) ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	errors.WriteError(w, err)
	correlation.Entry(r.Context(), s.logger.WithField("component", "http")).WithError(err).Debug("HTTP error response sent")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
