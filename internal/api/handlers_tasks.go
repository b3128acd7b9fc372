package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"genflow/internal/core"
	"genflow/internal/model"
)

type createTaskRequest struct {
	TaskType    string       `json:"task_type"`
	Params      model.Params `json:"params"`
	ProjectID   string       `json:"project_id"`
	DependantOn []string     `json:"dependant_on"`
}

type updateStatusRequest struct {
	Status         string  `json:"status"`
	OutputLocation *string `json:"output_location"`
	Reason         string  `json:"reason"`
}

type cancelTaskRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.TaskType) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "task_type is required")
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "project_id is required")
		return
	}

	task, err := s.svc.CreateTask(r.Context(), core.CreateTaskInput{
		Type:        model.TaskType(req.TaskType),
		Params:      req.Params,
		ProjectID:   req.ProjectID,
		DependantOn: req.DependantOn,
	})
	if err != nil {
		s.writeServiceError(w, r, "create task", err)
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	projectID := strings.TrimSpace(r.URL.Query().Get("project_id"))
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "project_id is required")
		return
	}

	var statuses []model.TaskStatus
	for _, raw := range r.URL.Query()["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			st, err := model.ParseTaskStatus(part)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
				return
			}
			statuses = append(statuses, st)
		}
	}

	tasks, err := s.svc.ListTasks(r.Context(), projectID, statuses...)
	if err != nil {
		s.writeServiceError(w, r, "list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.svc.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		s.writeServiceError(w, r, "load task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	status, err := model.ParseTaskStatus(strings.TrimSpace(req.Status))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.OutputLocation != nil {
		trimmed := strings.TrimSpace(*req.OutputLocation)
		if trimmed == "" {
			req.OutputLocation = nil
		} else {
			req.OutputLocation = &trimmed
		}
	}

	task, err := s.svc.SetStatus(r.Context(), chi.URLParam(r, "taskID"), model.StatusUpdate{
		Status:         status,
		Reason:         strings.TrimSpace(req.Reason),
		OutputLocation: req.OutputLocation,
	})
	if err != nil {
		s.writeServiceError(w, r, "update task status", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	var req cancelTaskRequest
	// The body is optional, including chunked empty bodies.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	task, err := s.svc.CancelTask(r.Context(), chi.URLParam(r, "taskID"), strings.TrimSpace(req.Reason))
	if err != nil {
		s.writeServiceError(w, r, "cancel task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
