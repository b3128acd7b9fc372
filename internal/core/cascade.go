package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"genflow/internal/model"
	"genflow/internal/notify"
)

// Cascader propagates Cancelled and Failed statuses to dependent tasks.
//
// Propagation is best effort: each level is one batched update and there is
// no transaction around the whole walk, so a crash can leave a partially
// cascaded graph.
type Cascader struct {
	store     TaskStore
	publisher notify.Publisher
	logger    *slog.Logger
}

// NewCascader creates a cascader. A nil publisher disables notifications.
func NewCascader(store TaskStore, publisher notify.Publisher, logger *slog.Logger) *Cascader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cascader{
		store:     store,
		publisher: publisher,
		logger:    logger.With("svc", "core.Cascader"),
	}
}

// Cascade sets status on every task that transitively depends on taskID and
// returns the ids that changed. Cycles in the dependency graph are visited once.
//
// A failure on one task is logged and the walk goes on with the rest; the
// joined errors are returned at the end.
func (c *Cascader) Cascade(ctx context.Context, taskID string, status model.TaskStatus, reason string) ([]string, error) {
	if !status.IsCascading() {
		return nil, fmt.Errorf("status %q does not cascade: %w", status, model.ErrNotValid)
	}

	c.logger.Debug("cascade started", "task_id", taskID, "status", status, "reason", reason)

	visited := map[string]struct{}{}
	queue := []string{taskID}
	var updated []string
	var errs []error

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if _, ok := visited[current]; ok {
			continue
		}
		visited[current] = struct{}{}

		if err := ctx.Err(); err != nil {
			return updated, err
		}

		dependents, err := c.store.FindDependents(ctx, current)
		if err != nil {
			c.logger.Error("find dependents", "task_id", current, "err", err)
			errs = append(errs, fmt.Errorf("find dependents of %s: %w", current, err))
			continue
		}
		if len(dependents) == 0 {
			continue
		}

		childReason := "cascaded from " + current
		ids := make([]string, 0, len(dependents))
		for _, d := range dependents {
			if _, ok := visited[d.ID]; ok {
				continue
			}
			ids = append(ids, d.ID)
		}
		if len(ids) == 0 {
			continue
		}

		changed, err := c.store.BulkSetStatus(ctx, ids, status, childReason)
		if err != nil {
			c.logger.Error("bulk set status", "task_id", current, "status", status, "err", err)
			errs = append(errs, fmt.Errorf("set status of dependents of %s: %w", current, err))
		} else if len(changed) > 0 {
			updated = append(updated, changed...)
			c.logger.Info("cascaded status", "task_id", current, "status", status, "count", len(changed))
			c.publish(dependents, changed, current, status)
		}

		queue = append(queue, ids...)
	}

	return updated, errors.Join(errs...)
}

func (c *Cascader) publish(dependents []model.Task, changed []string, sourceID string, status model.TaskStatus) {
	if c.publisher == nil {
		return
	}

	projectOf := make(map[string]string, len(dependents))
	for _, d := range dependents {
		projectOf[d.ID] = d.ProjectID
	}

	byProject := map[string][]string{}
	var order []string
	for _, id := range changed {
		p := projectOf[id]
		if _, ok := byProject[p]; !ok {
			order = append(order, p)
		}
		byProject[p] = append(byProject[p], id)
	}
	for _, p := range order {
		c.publisher.Broadcast(notify.NewTasksCascaded(p, sourceID, status, byProject[p]))
	}
}
