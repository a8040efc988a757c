// Package server exposes the service's HTTP endpoints: liveness, a manual
// cycle trigger, and the latest cycle results.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"visaslot-notifier/cycle"
	"visaslot-notifier/pkg/monitor"
)

// Cycler is the orchestrator slice the server drives.
type Cycler interface {
	RunCycle(ctx context.Context)
	Status() cycle.Status
	LatestResults() []*monitor.Snapshot
}

// Server handles HTTP requests.
type Server struct {
	cycler Cycler
	logger *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Cycler Cycler
	Logger *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		cycler: cfg.Cycler,
		logger: cfg.Logger,
	}
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/cyclez", s.handleCycle)
	mux.HandleFunc("/latestz", s.handleLatest)
	return mux
}

// ListenAndServe starts the server with timeouts to prevent resource
// exhaustion.
func (s *Server) ListenAndServe(port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Cycle endpoint triggered")
	s.cycler.RunCycle(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.cycler.Status()); err != nil {
		s.logger.Warn("Failed to write cycle response", "error", err)
	}
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	results := s.cycler.LatestResults()
	if results == nil {
		results = []*monitor.Snapshot{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":  s.cycler.Status(),
		"results": results,
	}); err != nil {
		s.logger.Warn("Failed to write latest results", "error", err)
	}
}
