package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voiceagent/runtime/config"
	"github.com/voiceagent/runtime/dispatcher"
	"github.com/voiceagent/runtime/internal/server"
)

// healthServer exposes the worker's /healthz endpoint and a separate
// Prometheus /metrics endpoint, generalized from cmd/agentflow/server.go's
// dual HTTP+metrics server.Manager pattern down to voiceagent's much
// smaller surface: no HTTP API, no middleware chain, no hot reload,
// nothing but the two operational endpoints an orchestrator needs to
// supervise a worker process.
type healthServer struct {
	healthManager  *server.Manager
	metricsManager *server.Manager
	logger         *zap.Logger
}

type healthStatus struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
}

// newHealthServer builds a healthServer bound to cfg's health and metrics
// ports. It is not started until Start is called.
func newHealthServer(cfg config.ServerConfig, d *dispatcher.Dispatcher, logger *zap.Logger) *healthServer {
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{
			Status:         "ok",
			Version:        Version,
			ActiveSessions: d.ActiveSessions(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	})
	healthMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	shutdownTimeout := cfg.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = server.DefaultConfig().ShutdownTimeout
	}

	healthPort := cfg.HealthPort
	if healthPort == 0 {
		healthPort = 8081
	}
	metricsPort := cfg.MetricsPort
	if metricsPort == 0 {
		metricsPort = 9090
	}

	healthCfg := server.DefaultConfig()
	healthCfg.Addr = fmt.Sprintf(":%d", healthPort)
	healthCfg.ShutdownTimeout = shutdownTimeout

	metricsCfg := server.DefaultConfig()
	metricsCfg.Addr = fmt.Sprintf(":%d", metricsPort)
	metricsCfg.ShutdownTimeout = shutdownTimeout

	return &healthServer{
		healthManager:  server.NewManager(healthMux, healthCfg, logger),
		metricsManager: server.NewManager(metricsMux, metricsCfg, logger),
		logger:         logger.With(zap.String("component", "health_server")),
	}
}

// Start starts both listeners without blocking.
func (h *healthServer) Start() error {
	if err := h.healthManager.Start(); err != nil {
		return fmt.Errorf("start health server: %w", err)
	}
	if err := h.metricsManager.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	h.logger.Info("health and metrics servers started",
		zap.String("health_addr", h.healthManager.Addr()),
		zap.String("metrics_addr", h.metricsManager.Addr()))
	return nil
}

// Shutdown gracefully stops both listeners.
func (h *healthServer) Shutdown(ctx context.Context) {
	if err := h.healthManager.Shutdown(ctx); err != nil {
		h.logger.Warn("health server shutdown failed", zap.Error(err))
	}
	if err := h.metricsManager.Shutdown(ctx); err != nil {
		h.logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
}
