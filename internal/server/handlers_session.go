package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/minionctl/orchestrator/internal/session"
	"github.com/minionctl/orchestrator/pkg/types"
)

// CreateSessionRequest represents the request body for creating a
// session (a root minion; spawned minions go through spawn_minion
// instead).
type CreateSessionRequest struct {
	ProjectID    string   `json:"projectID"`
	Directory    string   `json:"directory"`
	Name         string   `json:"name"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Start        bool     `json:"start,omitempty"`
}

// listSessions handles GET /session?projectID=...
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectID")
	sessions := s.sessions.List(projectID)
	if sessions == nil {
		sessions = []*types.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// createSession handles POST /session
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" || req.Directory == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID and directory are required")
		return
	}

	var opts []session.CreateOption
	if req.SystemPrompt != "" {
		opts = append(opts, session.WithSystemPrompt(req.SystemPrompt, true))
	}
	if len(req.Capabilities) > 0 {
		opts = append(opts, session.WithCapabilities(req.Capabilities))
	}

	sess, err := s.sessions.Create(r.Context(), req.ProjectID, req.Directory, req.Name, opts...)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.projects.AddSession(r.Context(), req.ProjectID, sess.ID); err != nil {
		writeAPIError(w, err)
		return
	}

	if req.Start {
		if err := s.coordinator.Start(r.Context(), sess.ID); err != nil {
			writeAPIError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, sess)
}

// getSession handles GET /session/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// deleteSession handles DELETE /session/{sessionID}?reason=...
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "deleted via API"
	}

	if err := s.coordinator.DeleteCascade(r.Context(), sessionID, reason); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// startSession handles POST /session/{sessionID}/start
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.coordinator.Start(r.Context(), sessionID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// interruptSession handles POST /session/{sessionID}/interrupt
func (s *Server) interruptSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.coordinator.Interrupt(r.Context(), sessionID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// resetSession handles POST /session/{sessionID}/reset
func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.coordinator.Reset(r.Context(), sessionID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// restartSession handles POST /session/{sessionID}/restart
func (s *Server) restartSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.coordinator.Restart(r.Context(), sessionID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// pauseSession handles POST /session/{sessionID}/pause
func (s *Server) pauseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.coordinator.Pause(r.Context(), sessionID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// resumeSession handles POST /session/{sessionID}/resume
func (s *Server) resumeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.coordinator.Resume(r.Context(), sessionID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// terminateSession handles POST /session/{sessionID}/terminate
func (s *Server) terminateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.coordinator.Terminate(r.Context(), sessionID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// SetPermissionModeRequest is the request body for PATCH
// /session/{sessionID}/permission-mode.
type SetPermissionModeRequest struct {
	Mode types.PermissionMode `json:"mode"`
}

// setPermissionMode handles PATCH /session/{sessionID}/permission-mode
func (s *Server) setPermissionMode(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SetPermissionModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	if err := s.coordinator.SetPermissionMode(r.Context(), sessionID, req.Mode); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// RespondPermissionRequest is the request body for POST
// /session/{sessionID}/permissions/{requestID}, per the permission
// protocol's response shape.
type RespondPermissionRequest struct {
	Decision             types.PermissionDecision `json:"decision"`
	UpdatedInput         map[string]any           `json:"updatedInput,omitempty"`
	SelectedSuggestions  []types.Suggestion       `json:"selectedSuggestions,omitempty"`
	ClarificationMessage *string                  `json:"clarificationMessage,omitempty"`
	Interrupt            bool                     `json:"interrupt,omitempty"`
}

// respondPermission handles POST /session/{sessionID}/permissions/{requestID}
func (s *Server) respondPermission(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var req RespondPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Decision != types.DecisionAllow && req.Decision != types.DecisionDeny {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "decision must be allow or deny")
		return
	}

	s.permissions.Respond(requestID, types.PermissionResponse{
		RequestID:            requestID,
		Decision:             req.Decision,
		UpdatedInput:         req.UpdatedInput,
		SelectedSuggestions:  req.SelectedSuggestions,
		ClarificationMessage: req.ClarificationMessage,
		Interrupt:            req.Interrupt,
	})
	writeSuccess(w)
}
