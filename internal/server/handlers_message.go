package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/minionctl/orchestrator/pkg/types"
)

// SendMessageRequest is the request body for POST
// /session/{sessionID}/message.
type SendMessageRequest struct {
	Content      string `json:"content"`
	ResetSession bool   `json:"resetSession,omitempty"`
}

// sendMessage handles POST /session/{sessionID}/message. A session not
// currently Active is queued rather than sent directly, per the
// Per-Session Message Queue's fallback-on-busy behavior.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}

	sess, err := s.sessions.Get(sessionID)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if sess.State == types.StateActive && !sess.Processing {
		if err := s.coordinator.SendMessage(r.Context(), sessionID, req.Content); err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
		return
	}

	item, err := s.queue.Enqueue(r.Context(), sessionID, req.Content, req.ResetSession, nil)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

// getMessages handles GET /session/{sessionID}/message: replays the
// persisted transcript as transport envelopes.
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := s.sessions.Get(sessionID); err != nil {
		writeAPIError(w, err)
		return
	}

	envelopes := make([]types.Envelope, 0)
	err := s.sessions.Messages(sessionID).Replay(r.Context(), func() any { return &types.MessageRecord{} }, func(v any) error {
		rec := v.(*types.MessageRecord)
		envelopes = append(envelopes, s.processor.Replay(r.Context(), rec))
		return nil
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelopes)
}
