package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// maxRequestBody caps incoming JSON bodies.
const maxRequestBody = 1 << 20

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueLength:   st.QueueLength,
		Bridge:        st.Bridge,
	})
}

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

// handleAnalyze handles POST /v1/analyze.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	out, err := s.engine.Analyze(r.Context(), req.Text)
	if err != nil {
		s.logger.Error("analyze failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "analyze failed")
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleExecute handles POST /v1/execute.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		s.writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	out, err := s.engine.Execute(r.Context(), req.Command)
	if err != nil {
		s.logger.Error("execute failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "execute failed")
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleFix handles POST /v1/fix.
func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	var req FixRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if strings.TrimSpace(req.Issue) == "" {
		s.writeError(w, http.StatusBadRequest, "issue is required")
		return
	}

	out, err := s.engine.Fix(r.Context(), req.Code, req.Issue)
	if err != nil {
		s.logger.Error("fix failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "fix failed")
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
