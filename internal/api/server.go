// Argos - Configuration-Driven Endpoint Monitoring Runtime
// Copyright 2026 Jorge S. (JorgeSuarezV)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package api exposes the status listener: health and readiness probes,
// the monitor snapshot endpoints, and Prometheus metrics.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JorgeSuarezV/argos/internal/logging"
	"github.com/JorgeSuarezV/argos/internal/monitor"
)

// Config configures the status listener.
type Config struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// ReadinessCheck reports one subsystem's readiness; nil error means ready.
type ReadinessCheck func() error

// Server serves runtime status over HTTP. It reads from the manager and
// the board; it never mutates monitor state.
type Server struct {
	manager *monitor.Manager
	board   *monitor.Board
	checks  map[string]ReadinessCheck
	started time.Time
}

// NewServer builds the status server. Extra readiness checks (e.g. the
// bridge breaker) are keyed by subsystem name.
func NewServer(manager *monitor.Manager, board *monitor.Board, checks map[string]ReadinessCheck) *Server {
	return &Server{
		manager: manager,
		board:   board,
		checks:  checks,
		started: time.Now().UTC(),
	}
}

// Router assembles the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/monitors", s.handleMonitors)
		r.Get("/monitors/{name}", s.handleMonitor)
	})
	return r
}

// HTTPServer builds the net/http server for the supervised wrapper.
func (s *Server) HTTPServer(cfg Config) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Timeout,
		WriteTimeout:      cfg.Timeout,
		IdleTimeout:       2 * cfg.Timeout,
	}
}

// monitorView joins the manager's supervision row with the board's last
// envelope for one monitor.
type monitorView struct {
	monitor.Status
	Board *monitor.BoardEntry `json:"board,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	failures := make(map[string]string)
	for name, check := range s.checks {
		if err := check(); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "not_ready",
			"failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"monitors": s.manager.Count(),
	})
}

func (s *Server) handleMonitors(w http.ResponseWriter, _ *http.Request) {
	statuses := s.manager.Statuses()
	views := make([]monitorView, 0, len(statuses))
	for _, status := range statuses {
		views = append(views, s.view(status))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(views),
		"monitors": views,
	})
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, status := range s.manager.Statuses() {
		if status.Name == name {
			writeJSON(w, http.StatusOK, s.view(status))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": fmt.Sprintf("monitor %q not found", name),
	})
}

func (s *Server) view(status monitor.Status) monitorView {
	view := monitorView{Status: status}
	if s.board != nil {
		if entry, ok := s.board.Entry(status.Name); ok {
			view.Board = &entry
		}
	}
	return view
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn().Err(err).Msg("failed to encode status response")
	}
}
