package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/minionctl/orchestrator/pkg/types"
)

// listChannels handles GET /channel?projectID=...
func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectID")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID is required")
		return
	}

	channels, err := s.channels.ListByProject(r.Context(), projectID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if channels == nil {
		channels = []*types.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

// CreateChannelRequest is the request body for POST /channel.
type CreateChannelRequest struct {
	ProjectID   string `json:"projectID"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Purpose     string `json:"purpose,omitempty"`
	Creator     string `json:"creator,omitempty"`
}

// createChannel handles POST /channel
func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.ProjectID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "projectID and name are required")
		return
	}
	creator := req.Creator
	if creator == "" {
		creator = types.UserDestination
	}

	existing, err := s.channels.ListByProject(r.Context(), req.ProjectID)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	ch, err := s.channels.Create(r.Context(), req.ProjectID, req.Name, req.Description, req.Purpose, creator, existing)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// getChannel handles GET /channel/{channelID}
func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	ch, err := s.channels.Get(r.Context(), channelID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// deleteChannel handles DELETE /channel/{channelID}
func (s *Server) deleteChannel(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	if err := s.channels.Delete(r.Context(), channelID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// AddChannelMemberRequest is the request body for POST
// /channel/{channelID}/members.
type AddChannelMemberRequest struct {
	SessionID string `json:"sessionID"`
}

// addChannelMember handles POST /channel/{channelID}/members
func (s *Server) addChannelMember(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")

	var req AddChannelMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionID is required")
		return
	}

	if err := s.channels.AddMember(r.Context(), channelID, req.SessionID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

// removeChannelMember handles DELETE /channel/{channelID}/members/{sessionID}
func (s *Server) removeChannelMember(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.channels.RemoveMember(r.Context(), channelID, sessionID); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}
