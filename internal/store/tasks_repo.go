package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"genflow/internal/model"
)

const selectTasks = `
	SELECT t.id, t.task_type, t.params, t.status, t.status_reason, t.output_location, t.project_id,
		t.generation_processed_at, t.created_at, t.updated_at,
		(SELECT json_group_array(d.depends_on_task_id) FROM (
			SELECT depends_on_task_id FROM task_dependencies WHERE task_id = t.id ORDER BY ordinal
		) d) AS dependant_on
	FROM tasks t`

// CreateTask inserts a task and its dependency edges.
func (s *Store) CreateTask(ctx context.Context, task model.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	params, err := encodeParams(task.Params)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, task_type, params, status, status_reason, output_location, project_id,
			generation_processed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.ID, task.Type, params, task.Status, nullIfEmpty(task.StatusReason), nullableString(task.OutputLocation),
		task.ProjectID, nullableTime(task.GenerationProcessedAt), formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", task.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("insert task: %w", err)
	}

	for i, dep := range task.DependantOn {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_task_id, ordinal) VALUES (?, ?, ?)
		`, task.ID, dep, i); err != nil {
			return fmt.Errorf("insert task dependency: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("task created", "task_id", task.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	return getTask(ctx, s.DB, id)
}

func getTask(ctx context.Context, q querier, id string) (*model.Task, error) {
	row := q.QueryRowContext(ctx, selectTasks+` WHERE t.id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns the tasks matching the filter, oldest first.
func (s *Store) ListTasks(ctx context.Context, filter model.TaskFilter) ([]model.Task, error) {
	var where []string
	var args []any
	if filter.ProjectID != "" {
		where = append(where, "t.project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if len(filter.Statuses) > 0 {
		where = append(where, fmt.Sprintf("t.status IN (%s)", placeholders(len(filter.Statuses))))
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if len(filter.ExcludeStatuses) > 0 {
		where = append(where, fmt.Sprintf("t.status NOT IN (%s)", placeholders(len(filter.ExcludeStatuses))))
		for _, st := range filter.ExcludeStatuses {
			args = append(args, st)
		}
	}

	query := selectTasks
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.created_at, t.id"

	return s.queryTasks(ctx, query, args...)
}

// FindDependents returns the tasks that list id as a prerequisite.
func (s *Store) FindDependents(ctx context.Context, id string) ([]model.Task, error) {
	return s.queryTasks(ctx, selectTasks+`
		WHERE t.id IN (SELECT task_id FROM task_dependencies WHERE depends_on_task_id = ?)
		ORDER BY t.created_at, t.id
	`, id)
}

// UpdateTaskStatus applies a validated status change.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, upd model.StatusUpdate) (*model.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current model.TaskStatus
	if err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get task status: %w", err)
	}
	if !model.CanTransition(current, upd.Status) {
		return nil, fmt.Errorf("task %s from %s to %s: %w", id, current, upd.Status, model.ErrInvalidTransition)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, status_reason = COALESCE(?, status_reason), output_location = COALESCE(?, output_location), updated_at = ?
		WHERE id = ? AND status = ?
	`, upd.Status, nullIfEmpty(upd.Reason), nullableString(upd.OutputLocation), formatTime(time.Now()), id, current)
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update task status rows: %w", err)
	}
	if rows == 0 {
		return nil, fmt.Errorf("task %s changed concurrently: %w", id, model.ErrInvalidTransition)
	}

	task, err := getTask(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("task status updated", "task_id", id, "from", current, "to", upd.Status)
	return task, nil
}

// BulkSetStatus sets status on every non terminal task in ids with one statement.
func (s *Store) BulkSetStatus(ctx context.Context, ids []string, status model.TaskStatus, reason string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := []any{status, nullIfEmpty(reason), formatTime(time.Now())}
	for _, id := range ids {
		args = append(args, id)
	}
	for _, st := range model.TerminalStatuses {
		args = append(args, st)
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		UPDATE tasks
		SET status = ?, status_reason = ?, updated_at = ?
		WHERE id IN (%s) AND status NOT IN (%s)
		RETURNING id
	`, placeholders(len(ids)), placeholders(len(model.TerminalStatuses))), args...)
	if err != nil {
		return nil, fmt.Errorf("bulk update task status: %w", err)
	}
	defer rows.Close()

	var changed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan updated task id: %w", err)
		}
		changed = append(changed, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("bulk status update", "status", status, "requested", len(ids), "changed", len(changed))
	return changed, nil
}

// ListUnprocessedCompleted returns Complete tasks of the given types without a generation.
func (s *Store) ListUnprocessedCompleted(ctx context.Context, types []model.TaskType) ([]model.Task, error) {
	if len(types) == 0 {
		return nil, nil
	}
	args := []any{model.TaskStatusComplete}
	for _, t := range types {
		args = append(args, t)
	}
	return s.queryTasks(ctx, selectTasks+fmt.Sprintf(`
		WHERE t.status = ? AND t.generation_processed_at IS NULL AND t.task_type IN (%s)
		ORDER BY t.created_at, t.id
	`, placeholders(len(types))), args...)
}

// MarkProcessed sets the processed marker if it was not set yet.
func (s *Store) MarkProcessed(ctx context.Context, id string, params model.Params, location string) (bool, error) {
	return markProcessed(ctx, s.DB, id, params, location)
}

func markProcessed(ctx context.Context, q querier, id string, params model.Params, location string) (bool, error) {
	encoded, err := encodeParams(params)
	if err != nil {
		return false, err
	}
	now := formatTime(time.Now())
	res, err := q.ExecContext(ctx, `
		UPDATE tasks
		SET generation_processed_at = ?, params = ?, output_location = COALESCE(?, output_location), updated_at = ?
		WHERE id = ? AND status = ? AND generation_processed_at IS NULL
	`, now, encoded, nullIfEmpty(location), now, id, model.TaskStatusComplete)
	if err != nil {
		return false, fmt.Errorf("mark task processed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark task processed rows: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check task: %w", err)
	}
	if exists == 0 {
		return false, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	return false, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*model.Task, error) {
	var (
		task        model.Task
		params      string
		reason      sql.NullString
		output      sql.NullString
		processedAt sql.NullString
		createdAt   string
		updatedAt   string
		deps        sql.NullString
	)
	if err := scanner.Scan(&task.ID, &task.Type, &params, &task.Status, &reason, &output, &task.ProjectID,
		&processedAt, &createdAt, &updatedAt, &deps); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if err := json.Unmarshal([]byte(params), &task.Params); err != nil {
		return nil, fmt.Errorf("decode task %s params: %w", task.ID, err)
	}
	task.DependantOn = []string{}
	if deps.Valid && deps.String != "" {
		if err := json.Unmarshal([]byte(deps.String), &task.DependantOn); err != nil {
			return nil, fmt.Errorf("decode task %s dependencies: %w", task.ID, err)
		}
	}
	if reason.Valid {
		task.StatusReason = reason.String
	}
	if output.Valid {
		task.OutputLocation = &output.String
	}
	if processedAt.Valid {
		t, err := parseTime(processedAt.String)
		if err != nil {
			return nil, err
		}
		task.GenerationProcessedAt = &t
	}
	var err error
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &task, nil
}

func encodeParams(params model.Params) (string, error) {
	if params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return string(data), nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
