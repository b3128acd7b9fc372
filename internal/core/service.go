package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"genflow/internal/model"
	"genflow/internal/notify"
)

// ServiceConfig is the configuration for the task Service.
type ServiceConfig struct {
	Store     Store
	Publisher notify.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.Logger = c.Logger.With("svc", "core.Service")
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Service exposes the task lifecycle operations used by the API and MCP surfaces.
type Service struct {
	store     Store
	publisher notify.Publisher
	cascader  *Cascader
	logger    *slog.Logger
	now       func() time.Time

	cascades sync.WaitGroup
}

// NewService creates a new task service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		cascader:  NewCascader(cfg.Store, cfg.Publisher, cfg.Logger),
		logger:    cfg.Logger,
		now:       cfg.Now,
	}, nil
}

// CreateTaskInput describes a task to create.
type CreateTaskInput struct {
	Type        model.TaskType
	Params      model.Params
	ProjectID   string
	DependantOn []string
}

// CreateTask persists a new Pending task. Every prerequisite must exist; if one
// of them is already Cancelled or Failed the new task starts in that status.
func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (*model.Task, error) {
	now := s.now().UTC()
	task := model.Task{
		ID:          NewID(),
		Type:        model.TaskType(strings.TrimSpace(string(in.Type))),
		Params:      in.Params,
		Status:      model.TaskStatusPending,
		DependantOn: dedupe(in.DependantOn),
		ProjectID:   strings.TrimSpace(in.ProjectID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Params == nil {
		task.Params = model.Params{}
	}

	for _, depID := range task.DependantOn {
		dep, err := s.store.GetTask(ctx, depID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("dependency %s does not exist: %w", depID, model.ErrNotValid)
			}
			return nil, fmt.Errorf("get dependency %s: %w", depID, err)
		}
		if dep.Status.IsCascading() && !task.Status.IsTerminal() {
			task.Status = dep.Status
			task.StatusReason = "cascaded from " + dep.ID
		}
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.logger.Info("task created", "task_id", task.ID, "type", task.Type, "project_id", task.ProjectID, "deps", len(task.DependantOn))
	s.publish(notify.NewTaskCreated(task))

	if task.Status.IsTerminal() {
		return &task, nil
	}
	return s.recheckDependencies(ctx, &task)
}

// recheckDependencies catches a prerequisite that was cancelled or failed
// while the task was being inserted. Its cascade may have run before the row
// existed, so the new task is moved here and cascades on its own.
func (s *Service) recheckDependencies(ctx context.Context, task *model.Task) (*model.Task, error) {
	for _, depID := range task.DependantOn {
		dep, err := s.store.GetTask(ctx, depID)
		if err != nil {
			return nil, fmt.Errorf("recheck dependency %s: %w", depID, err)
		}
		if !dep.Status.IsCascading() {
			continue
		}

		updated, err := s.SetStatus(ctx, task.ID, model.StatusUpdate{
			Status: dep.Status,
			Reason: "cascaded from " + dep.ID,
		})
		if errors.Is(err, model.ErrInvalidTransition) {
			// A cascade reached the task first.
			return s.store.GetTask(ctx, task.ID)
		}
		return updated, err
	}
	return task, nil
}

// GetTask returns a task by id.
func (s *Service) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return s.store.GetTask(ctx, id)
}

// ListTasks returns the tasks of a project, optionally restricted to some statuses.
func (s *Service) ListTasks(ctx context.Context, projectID string, statuses ...model.TaskStatus) ([]model.Task, error) {
	return s.store.ListTasks(ctx, model.TaskFilter{ProjectID: projectID, Statuses: statuses})
}

// SetStatus applies a status change. Moving to Cancelled or Failed starts the
// dependency cascade in the background; it outlives the caller's context.
func (s *Service) SetStatus(ctx context.Context, id string, upd model.StatusUpdate) (*model.Task, error) {
	if !upd.Status.IsKnown() {
		return nil, fmt.Errorf("unknown status %q: %w", upd.Status, model.ErrNotValid)
	}

	task, err := s.store.UpdateTaskStatus(ctx, id, upd)
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			s.logger.Warn("rejected status change", "task_id", id, "status", upd.Status, "err", err)
		}
		return nil, err
	}

	s.logger.Info("task status changed", "task_id", id, "status", task.Status)

	if task.Status.IsCascading() {
		s.startCascade(context.WithoutCancel(ctx), task.ID, task.Status, upd.Reason)
	}

	return task, nil
}

// CancelTask moves a task to Cancelled. It does not stop the external worker.
func (s *Service) CancelTask(ctx context.Context, id, reason string) (*model.Task, error) {
	if reason == "" {
		reason = "cancelled by user"
	}
	return s.SetStatus(ctx, id, model.StatusUpdate{Status: model.TaskStatusCancelled, Reason: reason})
}

// Wait blocks until every background cascade has finished.
func (s *Service) Wait() {
	s.cascades.Wait()
}

func (s *Service) startCascade(ctx context.Context, id string, status model.TaskStatus, reason string) {
	s.cascades.Add(1)
	go func() {
		defer s.cascades.Done()
		updated, err := s.cascader.Cascade(ctx, id, status, reason)
		if err != nil {
			s.logger.Error("cascade", "task_id", id, "status", status, "updated", len(updated), "err", err)
		}
	}()
}

func (s *Service) publish(ev notify.Event) {
	if s.publisher != nil {
		s.publisher.Broadcast(ev)
	}
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
