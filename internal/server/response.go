package server

import (
	"encoding/json"
	"net/http"

	"github.com/minionctl/orchestrator/internal/orcherr"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodePermissionDenied = "PERMISSION_DENIED"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeAPIError maps a kind-tagged error onto an HTTP status and writes
// it as a JSON error response. A plain (non-orcherr) error is treated as
// an internal error.
func writeAPIError(w http.ResponseWriter, err error) {
	oe, ok := err.(*orcherr.Error)
	if !ok {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	switch oe.Kind {
	case orcherr.KindValidation:
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, oe.Message)
	case orcherr.KindStorage:
		writeError(w, http.StatusNotFound, ErrCodeNotFound, oe.Message)
	case orcherr.KindSession:
		writeError(w, http.StatusConflict, "SESSION_STATE_CONFLICT", oe.Message)
	case orcherr.KindSDK, orcherr.KindNetwork:
		writeError(w, http.StatusBadGateway, "AGENT_UNAVAILABLE", oe.Message)
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, oe.Message)
	}
}
