package core

import (
	"context"

	"genflow/internal/model"
)

// TaskStore is the typed persistence contract over the task table.
type TaskStore interface {
	CreateTask(ctx context.Context, t model.Task) error
	// GetTask returns model.ErrNotFound when the task does not exist.
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, error)
	// FindDependents returns the tasks whose dependantOn contains id.
	FindDependents(ctx context.Context, id string) ([]model.Task, error)
	// UpdateTaskStatus applies a validated status change atomically. It returns
	// model.ErrInvalidTransition when the change is not allowed.
	UpdateTaskStatus(ctx context.Context, id string, upd model.StatusUpdate) (*model.Task, error)
	// BulkSetStatus sets status on every non terminal task in ids using a single
	// update and returns the ids that changed.
	BulkSetStatus(ctx context.Context, ids []string, status model.TaskStatus, reason string) ([]string, error)
	// ListUnprocessedCompleted returns Complete tasks of the given types whose
	// generation has not been materialized yet.
	ListUnprocessedCompleted(ctx context.Context, types []model.TaskType) ([]model.Task, error)
	// MarkProcessed sets the generation processed marker and stores the
	// normalized params and output location. An empty location keeps the
	// stored one. It reports whether this call set the marker.
	MarkProcessed(ctx context.Context, id string, params model.Params, location string) (bool, error)
}

// GenerationStore persists shots, generations and their placement.
type GenerationStore interface {
	CreateShot(ctx context.Context, s model.Shot) error
	GetShot(ctx context.Context, id string) (*model.Shot, error)
	ListShotGenerations(ctx context.Context, shotID string) ([]model.ShotGeneration, error)
	ListGenerations(ctx context.Context, projectID string) ([]model.Generation, error)
	GetGenerationByTask(ctx context.Context, taskID string) (*model.Generation, error)
}

// Tx is the set of writes that must commit or roll back together when a
// generation is materialized.
type Tx interface {
	MarkProcessed(ctx context.Context, id string, params model.Params, location string) (bool, error)
	CreateGeneration(ctx context.Context, g model.Generation) error
	// NextShotPosition returns 1 + max position of the shot, or 0 when empty.
	NextShotPosition(ctx context.Context, shotID string) (int, error)
	CreateShotGeneration(ctx context.Context, sg model.ShotGeneration) error
}

// Store abstracts the persistence layer used by the engine.
type Store interface {
	TaskStore
	GenerationStore
	// InTx runs fn in a transaction. Any error returned by fn rolls back every write.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
