package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/cordon-io/cordon/internal/advice"
	"github.com/cordon-io/cordon/internal/audit"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

type adviceRequest struct {
	UserID        string   `json:"user_id"`
	Tier          string   `json:"tier"`
	OptIn         bool     `json:"opt_in"`
	Certification string   `json:"certification"`
	Portfolios    []string `json:"portfolios,omitempty"`
	Query         string   `json:"query"`
}

func (s *Server) handleAdvice(w http.ResponseWriter, r *http.Request) {
	var req adviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id is required")
		return
	}

	id := advice.Identity{
		ID:            req.UserID,
		Tier:          advice.Tier(req.Tier),
		OptIn:         req.OptIn,
		Certification: advice.Certification(req.Certification),
		Portfolios:    req.Portfolios,
	}

	result, err := s.orch.Run(r.Context(), id, req.Query)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("advice_run_failed")
		writeError(w, http.StatusInternalServerError, "run_failed", "the request could not be completed")
		return
	}

	if result.Denial != nil {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"run_id":   result.RunID,
			"audit_id": result.AuditID,
			"denied":   result.Denial.Family,
			"reason":   result.Denial.Decision.Reason,
			"message":  result.Denial.Message(),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	var from, to time.Time
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			from = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			to = t
		}
	}

	records, err := s.auditStore.List(r.Context(), q.Get("user_id"), from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit_list_failed", "could not list audit records")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (s *Server) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.auditStore.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, audit.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "audit record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit_get_failed", "could not load audit record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.auditStore.Verify(r.Context(), id)
	if errors.Is(err, audit.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "audit record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit_verify_failed", "could not verify audit record")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":    id,
		"valid": ok,
	})
}
