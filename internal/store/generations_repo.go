package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"genflow/internal/model"
)

const selectGenerations = `
	SELECT id, project_id, tasks, location, generation_type, params, created_at, updated_at
	FROM generations`

// CreateShot inserts a new shot.
func (s *Store) CreateShot(ctx context.Context, shot model.Shot) error {
	if err := shot.Validate(); err != nil {
		return fmt.Errorf("invalid shot: %w", err)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO shots (id, project_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, shot.ID, shot.ProjectID, shot.Name, formatTime(shot.CreatedAt), formatTime(shot.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("shot %s: %w", shot.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("insert shot: %w", err)
	}
	return nil
}

// GetShot retrieves a shot by ID.
func (s *Store) GetShot(ctx context.Context, id string) (*model.Shot, error) {
	var (
		shot      model.Shot
		createdAt string
		updatedAt string
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, project_id, name, created_at, updated_at FROM shots WHERE id = ?
	`, id).Scan(&shot.ID, &shot.ProjectID, &shot.Name, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("shot %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get shot: %w", err)
	}
	if shot.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if shot.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &shot, nil
}

// ListShotGenerations returns the placements of a shot ordered by position.
func (s *Store) ListShotGenerations(ctx context.Context, shotID string) ([]model.ShotGeneration, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, shot_id, generation_id, position, created_at
		FROM shot_generations
		WHERE shot_id = ?
		ORDER BY position
	`, shotID)
	if err != nil {
		return nil, fmt.Errorf("query shot generations: %w", err)
	}
	defer rows.Close()

	var out []model.ShotGeneration
	for rows.Next() {
		var (
			sg        model.ShotGeneration
			createdAt string
		)
		if err := rows.Scan(&sg.ID, &sg.ShotID, &sg.GenerationID, &sg.Position, &createdAt); err != nil {
			return nil, fmt.Errorf("scan shot generation: %w", err)
		}
		if sg.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

// ListGenerations returns the generations of a project, oldest first. An empty
// project id lists every generation.
func (s *Store) ListGenerations(ctx context.Context, projectID string) ([]model.Generation, error) {
	query := selectGenerations
	var args []any
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	rows, err := s.DB.QueryContext(ctx, query+" ORDER BY created_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var out []model.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// GetGenerationByTask returns the generation materialized from a task.
func (s *Store) GetGenerationByTask(ctx context.Context, taskID string) (*model.Generation, error) {
	row := s.DB.QueryRowContext(ctx, selectGenerations+` WHERE source_task_id = ?`, taskID)
	g, err := scanGeneration(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("generation for task %s: %w", taskID, model.ErrNotFound)
		}
		return nil, err
	}
	return g, nil
}

func insertGeneration(ctx context.Context, q querier, g model.Generation) error {
	if len(g.Tasks) == 0 {
		return fmt.Errorf("generation %s has no source task: %w", g.ID, model.ErrNotValid)
	}
	tasks, err := json.Marshal(g.Tasks)
	if err != nil {
		return fmt.Errorf("encode generation tasks: %w", err)
	}
	params, err := encodeParams(g.Params)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO generations (id, project_id, source_task_id, tasks, location, generation_type, params, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.ProjectID, g.Tasks[0], string(tasks), g.Location, g.Type, params,
		formatTime(g.CreatedAt), formatTime(g.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("generation for task %s: %w", g.Tasks[0], model.ErrDuplicateSideEffect)
		}
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

func nextShotPosition(ctx context.Context, q querier, shotID string) (int, error) {
	var next int
	if err := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position) + 1, 0) FROM shot_generations WHERE shot_id = ?
	`, shotID).Scan(&next); err != nil {
		return 0, fmt.Errorf("next shot position: %w", err)
	}
	return next, nil
}

func insertShotGeneration(ctx context.Context, q querier, sg model.ShotGeneration) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO shot_generations (id, shot_id, generation_id, position, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sg.ID, sg.ShotID, sg.GenerationID, sg.Position, formatTime(sg.CreatedAt))
	switch {
	case err == nil:
		return nil
	case isForeignKeyViolation(err):
		return fmt.Errorf("shot %s: %w", sg.ShotID, model.ErrMissingDependency)
	case isUniqueViolation(err):
		return fmt.Errorf("shot %s position %d is taken: %w", sg.ShotID, sg.Position, model.ErrNotValid)
	default:
		return fmt.Errorf("insert shot generation: %w", err)
	}
}

func scanGeneration(scanner interface {
	Scan(dest ...any) error
}) (*model.Generation, error) {
	var (
		g         model.Generation
		tasks     string
		params    string
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&g.ID, &g.ProjectID, &tasks, &g.Location, &g.Type, &params, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	if err := json.Unmarshal([]byte(tasks), &g.Tasks); err != nil {
		return nil, fmt.Errorf("decode generation %s tasks: %w", g.ID, err)
	}
	if err := json.Unmarshal([]byte(params), &g.Params); err != nil {
		return nil, fmt.Errorf("decode generation %s params: %w", g.ID, err)
	}
	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}
