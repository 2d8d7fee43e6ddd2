package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/minionctl/orchestrator/pkg/types"
)

// SendCommRequest is the request body for POST /comm: a comm originated
// by the human user, addressed to a minion or a channel.
type SendCommRequest struct {
	ToMinionID    string         `json:"toMinionID,omitempty"`
	ToChannelID   string         `json:"toChannelID,omitempty"`
	Summary       string         `json:"summary"`
	Content       string         `json:"content"`
	Type          types.CommType `json:"type,omitempty"`
	Priority      types.CommPriority `json:"priority,omitempty"`
	VisibleToUser bool           `json:"visibleToUser,omitempty"`
}

// sendComm handles POST /comm
func (s *Server) sendComm(w http.ResponseWriter, r *http.Request) {
	var req SendCommRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.ToMinionID == "" && req.ToChannelID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "exactly one of toMinionID or toChannelID is required")
		return
	}
	if req.Summary == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "summary and content are required")
		return
	}

	commType := req.Type
	if commType == "" {
		commType = types.CommInfo
	}
	priority := req.Priority
	if priority == "" {
		priority = types.PriorityRoutine
	}

	c := &types.Comm{
		Source:        types.UserDestination,
		Summary:       req.Summary,
		Content:       req.Content,
		Type:          commType,
		Priority:      priority,
		VisibleToUser: true,
		Timestamp:     float64(time.Now().UnixMilli()) / 1000,
	}
	if req.ToMinionID != "" {
		c.ToMinionID = &req.ToMinionID
	}
	if req.ToChannelID != "" {
		c.ToChannelID = &req.ToChannelID
	}

	sent, err := s.comms.SendFromUser(r.Context(), c)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sent)
}
