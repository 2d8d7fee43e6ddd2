package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/minionctl/orchestrator/pkg/types"
)

// listSchedules handles GET /schedule?projectID=...
func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectID")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID is required")
		return
	}

	schedules := s.schedules.ListByProject(projectID)
	if schedules == nil {
		schedules = []*types.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

// CreateScheduleRequest is the request body for POST /schedule.
type CreateScheduleRequest struct {
	ProjectID    string `json:"projectID"`
	MinionID     string `json:"minionID"`
	MinionName   string `json:"minionName"`
	Name         string `json:"name"`
	Cron         string `json:"cron"`
	Prompt       string `json:"prompt"`
	ResetSession bool   `json:"resetSession,omitempty"`
	MaxRetries   int    `json:"maxRetries,omitempty"`
}

// createSchedule handles POST /schedule
func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" || req.MinionID == "" || req.Cron == "" || req.Prompt == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID, minionID, cron, and prompt are required")
		return
	}

	sched, err := s.schedules.Create(r.Context(), req.ProjectID, req.MinionID, req.MinionName, req.Name, req.Cron, req.Prompt, req.ResetSession, req.MaxRetries)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// getSchedule handles GET /schedule/{scheduleID}
func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")
	sched, err := s.schedules.Get(scheduleID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// UpdateScheduleRequest is the request body for PATCH
// /schedule/{scheduleID}; every field is optional, only the ones
// present are applied.
type UpdateScheduleRequest struct {
	Cron         *string `json:"cron,omitempty"`
	Prompt       *string `json:"prompt,omitempty"`
	ResetSession *bool   `json:"resetSession,omitempty"`
	MaxRetries   *int    `json:"maxRetries,omitempty"`
}

// updateSchedule handles PATCH /schedule/{scheduleID}
func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")

	var req UpdateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	sched, err := s.schedules.Update(r.Context(), scheduleID, req.Cron, req.Prompt, req.ResetSession, req.MaxRetries)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// deleteSchedule handles DELETE /schedule/{scheduleID}
func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")
	if err := s.schedules.Delete(r.Context(), scheduleID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// pauseSchedule handles POST /schedule/{scheduleID}/pause
func (s *Server) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")
	if err := s.schedules.Pause(r.Context(), scheduleID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// resumeSchedule handles POST /schedule/{scheduleID}/resume
func (s *Server) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")
	if err := s.schedules.Resume(r.Context(), scheduleID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// cancelSchedule handles POST /schedule/{scheduleID}/cancel
func (s *Server) cancelSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")
	if err := s.schedules.Cancel(r.Context(), scheduleID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}
