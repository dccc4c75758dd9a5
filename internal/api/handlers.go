package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/FairForge/continuity/internal/engine"
	"github.com/FairForge/continuity/internal/ha"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Status(r.Context()))
}

// decode reads an optional JSON body into v
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &ha.ConfigError{Field: "body", Msg: err.Error()}
	}
	return nil
}

type planRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	plan, err := s.engine.Plan(r.Context(), req.Reason)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	req := engine.SimulationRequest{Scenario: ha.ScenarioPrimaryFailure}
	if err := decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	res, err := s.engine.Simulate(r.Context(), req)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type executeRequest struct {
	Reason  string `json:"reason"`
	DryRun  bool   `json:"dry_run"`
	Confirm bool   `json:"confirm"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decode(w, r, &req); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if !req.DryRun && !req.Confirm {
		s.respondErr(w, r, &ha.ConfigError{Field: "confirm", Msg: "must be true for a real failover"})
		return
	}

	report, err := s.engine.Execute(r.Context(), req.Reason, req.DryRun)
	var planErr *ha.PlanningError
	switch {
	case errors.As(err, &planErr):
		respondJSON(w, http.StatusUnprocessableEntity, report)
	case err != nil:
		s.respondErr(w, r, err)
	default:
		respondJSON(w, http.StatusOK, report)
	}
}

// queryLimit reads ?limit, falling back to def when absent
func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, &ha.ConfigError{Field: "limit", Msg: "must be a positive integer"}
	}
	return n, nil
}

func (s *Server) handleListAudits(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 20)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	packs, err := s.engine.Audits(r.Context(), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, packs)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 50)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	records, err := s.engine.History(r.Context(), limit)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	pack, err := s.engine.Audit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, pack)
}

type verifyResponse struct {
	AuditID      string `json:"audit_id"`
	ManifestHash string `json:"manifest_hash"`
	Verified     bool   `json:"verified"`
	Error        string `json:"error,omitempty"`
}

func (s *Server) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	pack, err := s.engine.VerifyAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil && pack.AuditID == "" {
		s.respondErr(w, r, err)
		return
	}
	resp := verifyResponse{AuditID: pack.AuditID, ManifestHash: pack.ManifestHash, Verified: err == nil}
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, statusFor(err), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
