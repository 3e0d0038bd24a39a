package api

import (
	"net/http"
)

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCompileRequest(w, r)
	if err != nil {
		writeValidationError(w, "invalid request body: "+err.Error(), nil)
		return
	}
	if err := validateCompileRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("compile request", "format", req.Format, "smart", req.Smart)
	resp, err := s.pipeline.Compile(r.Context(), req)
	if err != nil {
		s.logger.Error("compile", "error", err, "request_id", requestID(r.Context()))
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRunRequest(w, r)
	if err != nil {
		writeValidationError(w, "invalid request body: "+err.Error(), nil)
		return
	}

	resp, err := s.pipeline.Run(r.Context(), req.Bytecode)
	if err != nil {
		s.logger.Error("run", "error", err, "request_id", requestID(r.Context()))
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunMaintain(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRunRequest(w, r)
	if err != nil {
		writeValidationError(w, "invalid request body: "+err.Error(), nil)
		return
	}

	resp, err := s.pipeline.RunMaintained(r.Context(), req.Bytecode)
	if err != nil {
		s.logger.Error("run maintained", "error", err, "request_id", requestID(r.Context()))
		writeAPIError(w, err)
		return
	}
	s.logger.Debug("session started", "session_id", resp.MaintainID)
	writeJSON(w, http.StatusOK, resp)
}
