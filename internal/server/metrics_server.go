package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/bulkloader/internal/metrics"
)

// MetricsServer serves Prometheus metrics via HTTP while a load runs
type MetricsServer struct {
	httpServer *http.Server
	router     *mux.Router
	listener   net.Listener
	logger     *zap.Logger
	started    time.Time
	done       chan struct{}
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Addr string
	Path string
}

// NewMetricsServer creates a new metrics server
func NewMetricsServer(cfg *MetricsServerConfig, m *metrics.Metrics, logger *zap.Logger) *MetricsServer {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	router := mux.NewRouter()
	ms := &MetricsServer{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		router: router,
		logger: logger,
		done:   make(chan struct{}),
	}

	// Register Prometheus metrics handler
	router.Handle(path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Register health check endpoint
	router.HandleFunc("/health", ms.healthHandler).Methods(http.MethodGet)

	return ms
}

// Start binds the listen address and serves in the background
func (s *MetricsServer) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = lis
	s.started = time.Now()

	s.logger.Info("Starting metrics server", zap.String("addr", lis.Addr().String()))

	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start
func (s *MetricsServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the metrics server and waits for the serve loop to exit
func (s *MetricsServer) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	<-s.done
	return nil
}

// healthHandler handles health check requests
func (s *MetricsServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"loading","uptime_seconds":%.0f,"timestamp":"%s"}`,
		time.Since(s.started).Seconds(), time.Now().Format(time.RFC3339))
}
