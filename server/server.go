// Package server exposes the operational HTTP surface: health, manual scan
// trigger, runtime status and the recent-notification log.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"realty-notifier/agents"
	"realty-notifier/pkg/realty"
	"realty-notifier/scan"
	"realty-notifier/store"
)

// Scanner runs scan cycles on demand and reports on the latest one.
type Scanner interface {
	Run(ctx context.Context) (scan.CycleStats, error)
	LastCycle() scan.CycleStats
	Running() bool
}

// AuditLog reads the notification history.
type AuditLog interface {
	ListRecent(ctx context.Context, f store.Filter) ([]realty.NotificationRecord, error)
}

// Metrics exposes per-provider performance counters.
type Metrics interface {
	Snapshot() []agents.ProviderStats
}

// Config holds server configuration.
type Config struct {
	Scanner Scanner
	Audit   AuditLog
	Metrics Metrics
	Logger  *slog.Logger
}

// Server handles HTTP requests.
type Server struct {
	scanner Scanner
	audit   AuditLog
	metrics Metrics
	logger  *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		scanner: cfg.Scanner,
		audit:   cfg.Audit,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/scanz", s.handleScan)
	mux.HandleFunc("/statusz", s.handleStatus)
	mux.HandleFunc("/recent", s.handleRecent)
	return mux
}

// HTTPServer wraps the handler in an http.Server with timeouts to prevent
// resource exhaustion.
func (s *Server) HTTPServer(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,  // Time to read request headers and body
		WriteTimeout:      30 * time.Second,  // Time to write response
		IdleTimeout:       120 * time.Second, // Time to keep connection alive between requests
		ReadHeaderTimeout: 5 * time.Second,   // Time to read request headers only
	}
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
		return
	}
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Scan endpoint triggered")

	stats, err := s.scanner.Run(r.Context())
	switch {
	case errors.Is(err, scan.ErrBusy):
		s.writeJSON(w, http.StatusConflict, map[string]string{"status": "busy"})
		return
	case err != nil:
		s.logger.Error("Scan cycle failed", "error", err)
		http.Error(w, "Scan failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "stats": stats})
}

type statusResponse struct {
	Status    string                 `json:"status"`
	Scanning  bool                   `json:"scanning"`
	LastCycle scan.CycleStats        `json:"last_cycle"`
	Providers []agents.ProviderStats `json:"providers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{
		Status:    "ok",
		Scanning:  s.scanner.Running(),
		LastCycle: s.scanner.LastCycle(),
		Providers: s.metrics.Snapshot(),
	})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	f := store.Filter{
		ProfileID: query.Get("profile"),
		Channel:   query.Get("channel"),
		Status:    query.Get("status"),
	}
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid offset", http.StatusBadRequest)
			return
		}
		f.Offset = n
	}
	if v := query.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid since timestamp", http.StatusBadRequest)
			return
		}
		f.Since = ts
	}

	recs, err := s.audit.ListRecent(r.Context(), f)
	if err != nil {
		s.logger.Error("List recent notifications failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":         len(recs),
		"notifications": recs,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
