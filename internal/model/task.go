package model

import (
	"fmt"
	"time"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "Pending"
	TaskStatusQueued     TaskStatus = "Queued"
	TaskStatusInProgress TaskStatus = "In Progress"
	TaskStatusComplete   TaskStatus = "Complete"
	TaskStatusFailed     TaskStatus = "Failed"
	TaskStatusCancelled  TaskStatus = "Cancelled"
)

// Position of each status on the success path.
var successPath = map[TaskStatus]int{
	TaskStatusPending:    0,
	TaskStatusQueued:     1,
	TaskStatusInProgress: 2,
	TaskStatusComplete:   3,
}

// TerminalStatuses are the statuses a task never leaves.
var TerminalStatuses = []TaskStatus{TaskStatusComplete, TaskStatusFailed, TaskStatusCancelled}

// ParseTaskStatus returns the status matching s.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if !st.IsKnown() {
		return "", fmt.Errorf("unknown task status %q: %w", s, ErrNotValid)
	}
	return st, nil
}

// IsKnown reports whether the status is one of the defined statuses.
func (s TaskStatus) IsKnown() bool {
	if _, ok := successPath[s]; ok {
		return true
	}
	return s == TaskStatusFailed || s == TaskStatusCancelled
}

// IsTerminal reports whether no further transition is possible from the status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusComplete, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsCascading reports whether reaching the status must be propagated to dependents.
func (s TaskStatus) IsCascading() bool {
	return s == TaskStatusFailed || s == TaskStatusCancelled
}

// CanTransition reports whether a task may move from one status to another.
//
// Non terminal statuses may only move forward on the success path (or stay
// where they are, which is how a worker refreshes its output location), or
// drop out to Failed or Cancelled. Terminal statuses are final.
func CanTransition(from, to TaskStatus) bool {
	if from.IsTerminal() || !to.IsKnown() {
		return false
	}
	if to.IsCascading() {
		return true
	}
	return successPath[to] >= successPath[from]
}

// TaskType is the tag describing what kind of work a task performs.
type TaskType string

const (
	TaskTypeOrchestrator TaskType = "travel_orchestrator"
	TaskTypeSegment      TaskType = "travel_segment"
	TaskTypeStitch       TaskType = "stitch"
	TaskTypeTravelStitch TaskType = "travel_stitch"
	TaskTypeSingleImage  TaskType = "single_image"
	TaskTypeGeneric      TaskType = "generic"
)

// Params is the opaque orchestration payload attached to a task.
type Params map[string]any

// Well known params keys.
const (
	ParamShotID         = "shot_id"
	ParamOutputLocation = "output_location"
)

// String returns the first non empty string value found under any of the keys.
func (p Params) String(keys ...string) string {
	for _, k := range keys {
		if v, ok := p[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Task is a unit of externally executed work.
type Task struct {
	ID                    string     `json:"id"`
	Type                  TaskType   `json:"taskType"`
	Params                Params     `json:"params"`
	Status                TaskStatus `json:"status"`
	StatusReason          string     `json:"statusReason,omitempty"`
	DependantOn           []string   `json:"dependantOn"`
	OutputLocation        *string    `json:"outputLocation,omitempty"`
	ProjectID             string     `json:"projectId"`
	GenerationProcessedAt *time.Time `json:"generationProcessedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Validate checks the fields required to persist a new task.
func (t Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}
	if t.Type == "" {
		return fmt.Errorf("task type is required: %w", ErrNotValid)
	}
	if t.ProjectID == "" {
		return fmt.Errorf("project id is required: %w", ErrNotValid)
	}
	if !t.Status.IsKnown() {
		return fmt.Errorf("unknown status %q: %w", t.Status, ErrNotValid)
	}
	for _, dep := range t.DependantOn {
		if dep == t.ID {
			return fmt.Errorf("task %s cannot depend on itself: %w", t.ID, ErrNotValid)
		}
	}
	return nil
}

// StatusUpdate is a status change requested for a single task.
type StatusUpdate struct {
	Status         TaskStatus
	Reason         string
	OutputLocation *string
}

// TaskFilter narrows task listings. Zero values match everything.
type TaskFilter struct {
	ProjectID string
	Statuses  []TaskStatus
	// ExcludeStatuses removes tasks in these statuses from the result.
	ExcludeStatuses []TaskStatus
}
