package api

import (
	"errors"
	"net/http"

	"github.com/fantom-ide/rbvmd/internal/session"
	"github.com/fantom-ide/rbvmd/protocol"
)

// handleCommunicate sends one line to a session and returns its reply. An
// unknown session is reported in the body, not as an HTTP error.
func (s *Server) handleCommunicate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeExchangeRequest(w, r)
	if err != nil {
		writeValidationError(w, "invalid request body: "+err.Error(), nil)
		return
	}
	if err := validateExchangeRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	if ValidateSessionID(req.ID) != nil {
		writeJSON(w, http.StatusOK, protocol.Failure(protocol.NoSuchProcess))
		return
	}

	out, err := s.sessions.Exchange(r.Context(), req.ID, req.Line)
	if errors.Is(err, session.ErrNotFound) {
		writeJSON(w, http.StatusOK, protocol.Failure(protocol.NoSuchProcess))
		return
	}
	if err != nil {
		s.logger.Warn("exchange", "session_id", req.ID, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.Output(out))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	info, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.logger.Debug("list sessions result", "count", len(sessions))
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	s.logger.Debug("destroy session", "session_id", id)
	if err := s.sessions.Destroy(r.Context(), id); err != nil {
		s.logger.Error("destroy", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
