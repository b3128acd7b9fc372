package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"genflow/internal/model"
)

type createShotRequest struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

func (s *Server) handleCreateShot(w http.ResponseWriter, r *http.Request) {
	var req createShotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	shot, err := s.svc.CreateShot(r.Context(), req.ProjectID, req.Name)
	if err != nil {
		s.writeServiceError(w, r, "create shot", err)
		return
	}
	writeJSON(w, http.StatusCreated, shot)
}

func (s *Server) handleShotGenerations(w http.ResponseWriter, r *http.Request) {
	placements, err := s.svc.ShotGenerations(r.Context(), chi.URLParam(r, "shotID"))
	if err != nil {
		s.writeServiceError(w, r, "list shot generations", err)
		return
	}
	if placements == nil {
		placements = []model.ShotGeneration{}
	}
	writeJSON(w, http.StatusOK, placements)
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "project_id is required")
		return
	}

	gens, err := s.svc.ListGenerations(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, r, "list generations", err)
		return
	}
	if gens == nil {
		gens = []model.Generation{}
	}
	writeJSON(w, http.StatusOK, gens)
}
