package server

import (
	"net/http"
)

// listProjects handles GET /project
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.projects.List())
}

// getCurrentProject handles GET /project/current?directory=...
// Resolves (creating if necessary) the legion for a working directory.
func (s *Server) getCurrentProject(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("directory")
	if dir == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "directory is required")
		return
	}

	proj, err := s.projects.GetOrCreate(r.Context(), dir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, proj)
}
