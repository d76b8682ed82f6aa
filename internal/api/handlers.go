package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HarborGuard/continuity/internal/dr"
)

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := s.service.ValidatePlanDocument(body); err != nil {
		s.writeDomainError(w, err)
		return
	}

	var plan dr.RecoveryPlan
	if err := json.Unmarshal(body, &plan); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid plan document: "+err.Error())
		return
	}

	created, err := s.service.CreatePlan(r.Context(), &plan)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"plans": s.service.ListPlans(),
	})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.service.GetPlan(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := s.service.ValidatePlanDocument(body); err != nil {
		s.writeDomainError(w, err)
		return
	}

	var plan dr.RecoveryPlan
	if err := json.Unmarshal(body, &plan); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid plan document: "+err.Error())
		return
	}
	plan.ID = mux.Vars(r)["id"]

	updated, err := s.service.UpdatePlan(r.Context(), &plan)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePlan(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type failoverRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFailover(w http.ResponseWriter, r *http.Request) {
	var req failoverRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	event, err := s.service.InitiateFailover(r.Context(), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

type recoveryRequest struct {
	BackupID          string `json:"backup_id"`
	TargetEnvironment string `json:"target_environment"`
}

func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid recovery request: "+err.Error())
		return
	}

	event, err := s.service.ExecuteRecovery(r.Context(), mux.Vars(r)["id"], req.BackupID, req.TargetEnvironment)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleTestPlan(w http.ResponseWriter, r *http.Request) {
	event, err := s.service.TestPlan(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	var req dr.BackupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid backup request: "+err.Error())
		return
	}
	if req.Name == "" || req.Scope == "" {
		s.writeError(w, http.StatusBadRequest, "backup name and scope are required")
		return
	}
	if req.Type == "" {
		req.Type = dr.BackupFull
	}

	backup := s.service.CreateBackup(r.Context(), req)
	s.writeJSON(w, http.StatusCreated, backup)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backups": s.service.ListBackups(),
	})
}

func (s *Server) handleVerifyBackup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ok, err := s.service.VerifyBackup(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backup_id": id,
		"verified":  ok,
	})
}

func (s *Server) handleScheduleJob(w http.ResponseWriter, r *http.Request) {
	var spec dr.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job spec: "+err.Error())
		return
	}

	job, err := s.service.ScheduleBackupJob(spec)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"backup_jobs": s.service.ListBackupJobs(),
	})
}

func (s *Server) handleUnscheduleJob(w http.ResponseWriter, r *http.Request) {
	if err := s.service.UnscheduleBackupJob(mux.Vars(r)["id"]); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.GetState())
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.GetMetrics())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	atomic.AddInt64(&s.errorCount, 1)
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps engine errors onto HTTP statuses. Failed
// executions are not errors here; they come back as event records.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation dr.ValidationError
		notFound   dr.NotFoundError
		conflict   dr.ConflictError
	)

	switch {
	case errors.As(err, &validation):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &notFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
