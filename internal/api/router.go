package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fantom-ide/rbvmd/internal/config"
)

type Server struct {
	cfg       *config.Config
	pipeline  Pipeline
	sessions  SessionService
	jobs      JobLister
	slots     SlotReporter
	logger    *slog.Logger
	mux       *http.ServeMux
	startTime time.Time
}

func NewServer(cfg *config.Config, pl Pipeline, sessions SessionService, jobs JobLister, slots SlotReporter, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		pipeline:  pl,
		sessions:  sessions,
		jobs:      jobs,
		slots:     slots,
		logger:    logger,
		mux:       http.NewServeMux(),
		startTime: time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.loggingMiddleware(s.mux))
}

func (s *Server) routes() {
	// Toolchain
	s.mux.HandleFunc("POST /api/compile", s.handleCompile)
	s.mux.HandleFunc("POST /api/run", s.handleRun)

	// Interactive sessions
	s.mux.HandleFunc("POST /api/run-maintain", s.handleRunMaintain)
	s.mux.HandleFunc("POST /api/communicate-maintain", s.handleCommunicate)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDestroy)

	// Operations
	s.mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
