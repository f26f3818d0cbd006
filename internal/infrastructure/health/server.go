package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"mmexec/internal/core"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes /health, /ready, and /metrics
type Server struct {
	host          string
	port          int
	manager       *Manager
	serveMetrics  bool
	logger        core.ILogger
	srv           *http.Server
}

// NewServer creates the observability HTTP server. When serveMetrics is
// false, /metrics answers 501.
func NewServer(host string, port int, manager *Manager, serveMetrics bool, logger core.ILogger) *Server {
	return &Server{
		host:         host,
		port:         port,
		manager:      manager,
		serveMetrics: serveMetrics,
		logger:       logger.WithField("component", "obs_server"),
	}
}

// Start launches the server in the background
func (s *Server) Start() {
	mux := http.NewServeMux()

	// Liveness: always 200
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Readiness: 200 when every probe passes, 503 otherwise
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := s.manager.GetStatus()
		if s.manager.IsHealthy() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})

	if s.serveMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics registry not configured", http.StatusNotImplemented)
		})
	}

	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("Starting observability server", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Observability server failed", "error", err)
		}
	}()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping observability server")
	return s.srv.Shutdown(ctx)
}
