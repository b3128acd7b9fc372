package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrInvalidTransition is returned when a task status change is not allowed,
	// e.g. moving a task out of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrMissingDependency is returned when a completed task lacks the data
	// required to materialize its generation (shot, location or project).
	ErrMissingDependency = errors.New("missing dependency")
	// ErrDuplicateSideEffect is returned when the generation for a task was
	// already materialized by another caller.
	ErrDuplicateSideEffect = errors.New("side effect already processed")
)
