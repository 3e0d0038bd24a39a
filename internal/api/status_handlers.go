package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fantom-ide/rbvmd/internal/pool"
)

const maxJobsLimit = 500

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxJobsLimit {
			writeValidationError(w, "limit must be between 1 and 500", map[string]any{"limit": v})
			return
		}
		limit = n
	}

	jobs, err := s.jobs.ListJobs(limit)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type statusResponse struct {
	Slots         pool.Stats `json:"slots"`
	LiveSessions  int        `json:"live_sessions"`
	Executor      string     `json:"executor"`
	MaxOutput     string     `json:"max_output"`
	StartedAt     time.Time  `json:"started_at"`
	Started       string     `json:"started"`
	UptimeSeconds int        `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Slots:         s.slots.Stats(),
		LiveSessions:  s.sessions.Live(),
		Executor:      s.cfg.Executor,
		MaxOutput:     humanize.IBytes(uint64(s.cfg.MaxOutputBytes())),
		StartedAt:     s.startTime.UTC(),
		Started:       humanize.Time(s.startTime),
		UptimeSeconds: int(time.Since(s.startTime).Seconds()),
	})
}
