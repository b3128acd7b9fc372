package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"genflow/internal/core"
	"genflow/internal/model"
)

// Store is an in-memory implementation of core.Store.
type Store struct {
	mu              sync.Mutex
	tasks           map[string]model.Task
	shots           map[string]model.Shot
	generations     map[string]model.Generation
	shotGenerations map[string]model.ShotGeneration
	logger          *slog.Logger
	now             func() time.Time
}

var _ core.Store = (*Store)(nil)

// New creates an empty memory store.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{
		tasks:           make(map[string]model.Task),
		shots:           make(map[string]model.Shot),
		generations:     make(map[string]model.Generation),
		shotGenerations: make(map[string]model.ShotGeneration),
		logger:          logger.With("svc", "store.Memory"),
		now:             time.Now,
	}
}

// CreateTask creates a new task in the store.
func (s *Store) CreateTask(ctx context.Context, t model.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
	}
	s.tasks[t.ID] = copyTask(t)
	s.logger.Debug("task created", "task_id", t.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	out := copyTask(t)
	return &out, nil
}

// ListTasks returns the tasks matching the filter, oldest first.
func (s *Store) ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Task
	for _, t := range s.tasks {
		if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, t.Status) {
			continue
		}
		if slices.Contains(filter.ExcludeStatuses, t.Status) {
			continue
		}
		out = append(out, copyTask(t))
	}
	sortTasks(out)
	return out, nil
}

// FindDependents returns the tasks that list id as a prerequisite.
func (s *Store) FindDependents(ctx context.Context, id string) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Task
	for _, t := range s.tasks {
		if slices.Contains(t.DependantOn, id) {
			out = append(out, copyTask(t))
		}
	}
	sortTasks(out)
	return out, nil
}

// UpdateTaskStatus applies a validated status change.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, upd model.StatusUpdate) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	if !model.CanTransition(t.Status, upd.Status) {
		return nil, fmt.Errorf("task %s from %s to %s: %w", id, t.Status, upd.Status, model.ErrInvalidTransition)
	}

	t.Status = upd.Status
	if upd.Reason != "" {
		t.StatusReason = upd.Reason
	}
	if upd.OutputLocation != nil {
		loc := *upd.OutputLocation
		t.OutputLocation = &loc
	}
	t.UpdatedAt = s.now().UTC()
	s.tasks[id] = t

	out := copyTask(t)
	return &out, nil
}

// BulkSetStatus sets status on every non terminal task in ids.
func (s *Store) BulkSetStatus(ctx context.Context, ids []string, status model.TaskStatus, reason string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var changed []string
	for _, id := range ids {
		t, ok := s.tasks[id]
		if !ok || t.Status.IsTerminal() {
			continue
		}
		t.Status = status
		t.StatusReason = reason
		t.UpdatedAt = now
		s.tasks[id] = t
		changed = append(changed, id)
	}
	return changed, nil
}

// ListUnprocessedCompleted returns Complete tasks of the given types without a generation.
func (s *Store) ListUnprocessedCompleted(ctx context.Context, types []model.TaskType) ([]model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Task
	for _, t := range s.tasks {
		if t.Status != model.TaskStatusComplete || t.GenerationProcessedAt != nil {
			continue
		}
		if !slices.Contains(types, t.Type) {
			continue
		}
		out = append(out, copyTask(t))
	}
	sortTasks(out)
	return out, nil
}

// MarkProcessed sets the processed marker if it was not set yet.
func (s *Store) MarkProcessed(ctx context.Context, id string, params model.Params, location string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markProcessed(s.tasks, id, params, location, s.now().UTC())
}

func markProcessed(tasks map[string]model.Task, id string, params model.Params, location string, now time.Time) (bool, error) {
	t, ok := tasks[id]
	if !ok {
		return false, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	if t.GenerationProcessedAt != nil || t.Status != model.TaskStatusComplete {
		return false, nil
	}
	t.GenerationProcessedAt = &now
	t.Params = maps.Clone(params)
	if location != "" {
		t.OutputLocation = &location
	}
	t.UpdatedAt = now
	tasks[id] = t
	return true, nil
}

// CreateShot creates a new shot.
func (s *Store) CreateShot(ctx context.Context, shot model.Shot) error {
	if err := shot.Validate(); err != nil {
		return fmt.Errorf("invalid shot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shots[shot.ID]; ok {
		return fmt.Errorf("shot %s: %w", shot.ID, model.ErrAlreadyExists)
	}
	s.shots[shot.ID] = shot
	return nil
}

// GetShot retrieves a shot by ID.
func (s *Store) GetShot(ctx context.Context, id string) (*model.Shot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shot, ok := s.shots[id]
	if !ok {
		return nil, fmt.Errorf("shot %s: %w", id, model.ErrNotFound)
	}
	return &shot, nil
}

// ListShotGenerations returns the placements of a shot ordered by position.
func (s *Store) ListShotGenerations(ctx context.Context, shotID string) ([]model.ShotGeneration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.ShotGeneration
	for _, sg := range s.shotGenerations {
		if sg.ShotID == shotID {
			out = append(out, sg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// ListGenerations returns the generations of a project, oldest first. An empty
// project id lists every generation.
func (s *Store) ListGenerations(ctx context.Context, projectID string) ([]model.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Generation
	for _, g := range s.generations {
		if projectID == "" || g.ProjectID == projectID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetGenerationByTask returns the generation produced by a task.
func (s *Store) GetGenerationByTask(ctx context.Context, taskID string) (*model.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.generations {
		if slices.Contains(g.Tasks, taskID) {
			return &g, nil
		}
	}
	return nil, fmt.Errorf("generation for task %s: %w", taskID, model.ErrNotFound)
}

// InTx runs fn holding the store lock. Writes are discarded if fn fails.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:           s,
		tasks:           maps.Clone(s.tasks),
		generations:     maps.Clone(s.generations),
		shotGenerations: maps.Clone(s.shotGenerations),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.tasks = tx.tasks
	s.generations = tx.generations
	s.shotGenerations = tx.shotGenerations
	return nil
}

type memTx struct {
	store           *Store
	tasks           map[string]model.Task
	generations     map[string]model.Generation
	shotGenerations map[string]model.ShotGeneration
}

func (t *memTx) MarkProcessed(ctx context.Context, id string, params model.Params, location string) (bool, error) {
	return markProcessed(t.tasks, id, params, location, t.store.now().UTC())
}

func (t *memTx) CreateGeneration(ctx context.Context, g model.Generation) error {
	for _, existing := range t.generations {
		for _, taskID := range g.Tasks {
			if slices.Contains(existing.Tasks, taskID) {
				return fmt.Errorf("generation for task %s: %w", taskID, model.ErrDuplicateSideEffect)
			}
		}
	}
	t.generations[g.ID] = g
	return nil
}

func (t *memTx) NextShotPosition(ctx context.Context, shotID string) (int, error) {
	next := 0
	for _, sg := range t.shotGenerations {
		if sg.ShotID == shotID && sg.Position >= next {
			next = sg.Position + 1
		}
	}
	return next, nil
}

func (t *memTx) CreateShotGeneration(ctx context.Context, sg model.ShotGeneration) error {
	if _, ok := t.store.shots[sg.ShotID]; !ok {
		return fmt.Errorf("shot %s: %w", sg.ShotID, model.ErrMissingDependency)
	}
	if _, ok := t.generations[sg.GenerationID]; !ok {
		return fmt.Errorf("generation %s: %w", sg.GenerationID, model.ErrMissingDependency)
	}
	for _, existing := range t.shotGenerations {
		if existing.ShotID == sg.ShotID && existing.Position == sg.Position {
			return fmt.Errorf("shot %s position %d already taken: %w", sg.ShotID, sg.Position, model.ErrNotValid)
		}
	}
	t.shotGenerations[sg.ID] = sg
	return nil
}

func copyTask(t model.Task) model.Task {
	t.Params = maps.Clone(t.Params)
	t.DependantOn = slices.Clone(t.DependantOn)
	if t.DependantOn == nil {
		t.DependantOn = []string{}
	}
	if t.OutputLocation != nil {
		loc := *t.OutputLocation
		t.OutputLocation = &loc
	}
	if t.GenerationProcessedAt != nil {
		at := *t.GenerationProcessedAt
		t.GenerationProcessedAt = &at
	}
	return t
}

func sortTasks(tasks []model.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
