// Package storetest holds the behaviour shared by every core.Store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genflow/internal/core"
	"genflow/internal/model"
)

// Factory returns an empty store for a single test.
type Factory func(t *testing.T) core.Store

// Run executes the store contract tests against the stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Tasks", func(t *testing.T) { testTasks(t, newStore) })
	t.Run("ListTasks", func(t *testing.T) { testListTasks(t, newStore) })
	t.Run("FindDependents", func(t *testing.T) { testFindDependents(t, newStore) })
	t.Run("UpdateTaskStatus", func(t *testing.T) { testUpdateTaskStatus(t, newStore) })
	t.Run("BulkSetStatus", func(t *testing.T) { testBulkSetStatus(t, newStore) })
	t.Run("MarkProcessed", func(t *testing.T) { testMarkProcessed(t, newStore) })
	t.Run("Transactions", func(t *testing.T) { testTransactions(t, newStore) })
	t.Run("Shots", func(t *testing.T) { testShots(t, newStore) })
}

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// NewTask returns a valid task created offset after a fixed base time.
func NewTask(id, projectID string, status model.TaskStatus, offset time.Duration, deps ...string) model.Task {
	at := base.Add(offset)
	return model.Task{
		ID:          id,
		Type:        model.TaskTypeGeneric,
		Params:      model.Params{"prompt": "a cat"},
		Status:      status,
		DependantOn: deps,
		ProjectID:   projectID,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func ids(tasks []model.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

func testTasks(t *testing.T, newStore Factory) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := newStore(t)

	task := NewTask("t1", "p1", model.TaskStatusPending, 0, "a", "b", "c")
	task.Params = model.Params{"shot_id": "s1", "nested": map[string]any{"n": float64(1)}}
	require.NoError(s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(err)
	assert.Equal("t1", got.ID)
	assert.Equal(model.TaskTypeGeneric, got.Type)
	assert.Equal(model.TaskStatusPending, got.Status)
	assert.Equal([]string{"a", "b", "c"}, got.DependantOn)
	assert.Equal("p1", got.ProjectID)
	assert.Equal("s1", got.Params.String("shot_id"))
	assert.Nil(got.OutputLocation)
	assert.Nil(got.GenerationProcessedAt)
	assert.True(task.CreatedAt.Equal(got.CreatedAt))

	err = s.CreateTask(ctx, task)
	assert.ErrorIs(err, model.ErrAlreadyExists)

	_, err = s.GetTask(ctx, "missing")
	assert.ErrorIs(err, model.ErrNotFound)

	err = s.CreateTask(ctx, model.Task{ID: "bad", Status: model.TaskStatusPending})
	assert.ErrorIs(err, model.ErrNotValid)

	noDeps := NewTask("t2", "p1", model.TaskStatusQueued, time.Second)
	require.NoError(s.CreateTask(ctx, noDeps))
	got, err = s.GetTask(ctx, "t2")
	require.NoError(err)
	assert.NotNil(got.DependantOn)
	assert.Empty(got.DependantOn)
}

func testListTasks(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	seed := []model.Task{
		NewTask("a", "p1", model.TaskStatusPending, 3*time.Second),
		NewTask("b", "p1", model.TaskStatusComplete, 1*time.Second),
		NewTask("c", "p2", model.TaskStatusInProgress, 2*time.Second),
		NewTask("d", "p1", model.TaskStatusFailed, 4*time.Second),
	}
	for _, task := range seed {
		require.NoError(t, s.CreateTask(ctx, task))
	}

	tests := map[string]struct {
		filter model.TaskFilter
		expIDs []string
	}{
		"An empty filter should list every task oldest first.": {
			expIDs: []string{"b", "c", "a", "d"},
		},
		"Filtering by project should only list the project tasks.": {
			filter: model.TaskFilter{ProjectID: "p1"},
			expIDs: []string{"b", "a", "d"},
		},
		"Filtering by status should only list tasks in those statuses.": {
			filter: model.TaskFilter{Statuses: []model.TaskStatus{model.TaskStatusPending, model.TaskStatusInProgress}},
			expIDs: []string{"c", "a"},
		},
		"Excluding statuses should drop tasks in those statuses.": {
			filter: model.TaskFilter{ProjectID: "p1", ExcludeStatuses: model.TerminalStatuses},
			expIDs: []string{"a"},
		},
		"A filter without matches should list nothing.": {
			filter: model.TaskFilter{ProjectID: "p3"},
			expIDs: []string{},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := s.ListTasks(ctx, test.filter)
			require.NoError(t, err)
			assert.Equal(t, test.expIDs, ids(got))
		})
	}
}

func testFindDependents(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := newStore(t)

	for _, task := range []model.Task{
		NewTask("root", "p1", model.TaskStatusPending, 0),
		NewTask("child1", "p1", model.TaskStatusPending, time.Second, "root"),
		NewTask("child2", "p2", model.TaskStatusPending, 2*time.Second, "other", "root"),
		NewTask("grandchild", "p1", model.TaskStatusPending, 3*time.Second, "child1"),
	} {
		require.NoError(t, s.CreateTask(ctx, task))
	}

	got, err := s.FindDependents(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []string{"child1", "child2"}, ids(got))

	got, err = s.FindDependents(ctx, "grandchild")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testUpdateTaskStatus(t *testing.T, newStore Factory) {
	loc := "outputs/video.mp4"

	tests := map[string]struct {
		from      model.TaskStatus
		update    model.StatusUpdate
		expStatus model.TaskStatus
		expErr    error
	}{
		"Moving forward on the success path should work.": {
			from:      model.TaskStatusQueued,
			update:    model.StatusUpdate{Status: model.TaskStatusInProgress},
			expStatus: model.TaskStatusInProgress,
		},
		"Completing with an output location should store it.": {
			from:      model.TaskStatusInProgress,
			update:    model.StatusUpdate{Status: model.TaskStatusComplete, OutputLocation: &loc},
			expStatus: model.TaskStatusComplete,
		},
		"Failing a pending task should store the reason.": {
			from:      model.TaskStatusPending,
			update:    model.StatusUpdate{Status: model.TaskStatusFailed, Reason: "gpu lost"},
			expStatus: model.TaskStatusFailed,
		},
		"Moving backwards should fail.": {
			from:   model.TaskStatusInProgress,
			update: model.StatusUpdate{Status: model.TaskStatusQueued},
			expErr: model.ErrInvalidTransition,
		},
		"A terminal task should never change.": {
			from:   model.TaskStatusCancelled,
			update: model.StatusUpdate{Status: model.TaskStatusFailed},
			expErr: model.ErrInvalidTransition,
		},
		"A complete task should never be cancelled.": {
			from:   model.TaskStatusComplete,
			update: model.StatusUpdate{Status: model.TaskStatusCancelled},
			expErr: model.ErrInvalidTransition,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()
			s := newStore(t)

			require.NoError(s.CreateTask(ctx, NewTask("t1", "p1", test.from, 0)))

			got, err := s.UpdateTaskStatus(ctx, "t1", test.update)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				stored, err := s.GetTask(ctx, "t1")
				require.NoError(err)
				assert.Equal(test.from, stored.Status)
				return
			}

			require.NoError(err)
			assert.Equal(test.expStatus, got.Status)
			assert.Equal(test.update.Reason, got.StatusReason)
			if test.update.OutputLocation != nil {
				require.NotNil(got.OutputLocation)
				assert.Equal(*test.update.OutputLocation, *got.OutputLocation)
			}
			stored, err := s.GetTask(ctx, "t1")
			require.NoError(err)
			assert.Equal(test.expStatus, stored.Status)
		})
	}

	t.Run("Updating a missing task should fail with not found.", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpdateTaskStatus(context.Background(), "missing", model.StatusUpdate{Status: model.TaskStatusFailed})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func testBulkSetStatus(t *testing.T, newStore Factory) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := newStore(t)

	for _, task := range []model.Task{
		NewTask("a", "p1", model.TaskStatusPending, 0),
		NewTask("b", "p1", model.TaskStatusInProgress, time.Second),
		NewTask("c", "p1", model.TaskStatusComplete, 2*time.Second),
		NewTask("d", "p1", model.TaskStatusFailed, 3*time.Second),
	} {
		require.NoError(s.CreateTask(ctx, task))
	}

	changed, err := s.BulkSetStatus(ctx, []string{"a", "b", "c", "d", "missing"}, model.TaskStatusCancelled, "cascaded from x")
	require.NoError(err)
	assert.ElementsMatch([]string{"a", "b"}, changed)

	exp := map[string]model.TaskStatus{
		"a": model.TaskStatusCancelled,
		"b": model.TaskStatusCancelled,
		"c": model.TaskStatusComplete,
		"d": model.TaskStatusFailed,
	}
	for id, status := range exp {
		got, err := s.GetTask(ctx, id)
		require.NoError(err)
		assert.Equal(status, got.Status, id)
	}
	got, err := s.GetTask(ctx, "a")
	require.NoError(err)
	assert.Equal("cascaded from x", got.StatusReason)

	changed, err = s.BulkSetStatus(ctx, nil, model.TaskStatusCancelled, "")
	require.NoError(err)
	assert.Empty(changed)
}

func testMarkProcessed(t *testing.T, newStore Factory) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := newStore(t)

	stitch := NewTask("stitch", "p1", model.TaskStatusComplete, 0)
	stitch.Type = model.TaskTypeStitch
	pending := NewTask("pending", "p1", model.TaskStatusPending, time.Second)
	pending.Type = model.TaskTypeStitch
	other := NewTask("other", "p1", model.TaskStatusComplete, 2*time.Second)
	for _, task := range []model.Task{stitch, pending, other} {
		require.NoError(s.CreateTask(ctx, task))
	}

	got, err := s.ListUnprocessedCompleted(ctx, []model.TaskType{model.TaskTypeStitch})
	require.NoError(err)
	assert.Equal([]string{"stitch"}, ids(got))

	won, err := s.MarkProcessed(ctx, "stitch", model.Params{"shot_id": "s1"}, "files/out.mp4")
	require.NoError(err)
	assert.True(won)

	won, err = s.MarkProcessed(ctx, "stitch", model.Params{"shot_id": "s2"}, "files/other.mp4")
	require.NoError(err)
	assert.False(won)

	won, err = s.MarkProcessed(ctx, "pending", nil, "")
	require.NoError(err)
	assert.False(won)

	_, err = s.MarkProcessed(ctx, "missing", nil, "")
	assert.ErrorIs(err, model.ErrNotFound)

	task, err := s.GetTask(ctx, "stitch")
	require.NoError(err)
	assert.NotNil(task.GenerationProcessedAt)
	assert.Equal("s1", task.Params.String("shot_id"))
	require.NotNil(task.OutputLocation)
	assert.Equal("files/out.mp4", *task.OutputLocation)

	got, err = s.ListUnprocessedCompleted(ctx, []model.TaskType{model.TaskTypeStitch})
	require.NoError(err)
	assert.Empty(got)
}

func testTransactions(t *testing.T, newStore Factory) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := newStore(t)

	task := NewTask("stitch", "p1", model.TaskStatusComplete, 0)
	task.Type = model.TaskTypeStitch
	require.NoError(s.CreateTask(ctx, task))
	require.NoError(s.CreateShot(ctx, model.Shot{ID: "s1", ProjectID: "p1", CreatedAt: base, UpdatedAt: base}))

	errBoom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		won, err := tx.MarkProcessed(ctx, "stitch", nil, "")
		require.NoError(err)
		require.True(won)
		require.NoError(tx.CreateGeneration(ctx, model.Generation{
			ID: "g1", ProjectID: "p1", Tasks: []string{"stitch"}, Location: "a.mp4", Type: "video_travel_output",
			CreatedAt: base, UpdatedAt: base,
		}))
		return errBoom
	})
	assert.ErrorIs(err, errBoom)

	stored, err := s.GetTask(ctx, "stitch")
	require.NoError(err)
	assert.Nil(stored.GenerationProcessedAt, "rolled back claim must leave the task eligible")
	_, err = s.GetGenerationByTask(ctx, "stitch")
	assert.ErrorIs(err, model.ErrNotFound)

	err = s.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		if _, err := tx.MarkProcessed(ctx, "stitch", nil, ""); err != nil {
			return err
		}
		return tx.CreateGeneration(ctx, model.Generation{
			ID: "g1", ProjectID: "p1", Tasks: []string{"stitch"}, Location: "a.mp4", Type: "video_travel_output",
			CreatedAt: base, UpdatedAt: base,
		})
	})
	require.NoError(err)

	gen, err := s.GetGenerationByTask(ctx, "stitch")
	require.NoError(err)
	assert.Equal("g1", gen.ID)
	assert.Equal([]string{"stitch"}, gen.Tasks)

	err = s.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.CreateGeneration(ctx, model.Generation{
			ID: "g2", ProjectID: "p1", Tasks: []string{"stitch"}, Location: "b.mp4", Type: "video_travel_output",
			CreatedAt: base, UpdatedAt: base,
		})
	})
	assert.ErrorIs(err, model.ErrDuplicateSideEffect)
}

func testShots(t *testing.T, newStore Factory) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := newStore(t)

	shot := model.Shot{ID: "s1", ProjectID: "p1", Name: "opening", CreatedAt: base, UpdatedAt: base}
	require.NoError(s.CreateShot(ctx, shot))
	assert.ErrorIs(s.CreateShot(ctx, shot), model.ErrAlreadyExists)

	got, err := s.GetShot(ctx, "s1")
	require.NoError(err)
	assert.Equal("opening", got.Name)
	assert.Equal("p1", got.ProjectID)

	_, err = s.GetShot(ctx, "missing")
	assert.ErrorIs(err, model.ErrNotFound)

	for i, id := range []string{"g1", "g2", "g3"} {
		taskID := "task-" + id
		err := s.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
			if err := tx.CreateGeneration(ctx, model.Generation{
				ID: id, ProjectID: "p1", Tasks: []string{taskID}, Location: id + ".mp4", Type: "video_travel_output",
				CreatedAt: base.Add(time.Duration(i) * time.Second), UpdatedAt: base,
			}); err != nil {
				return err
			}
			pos, err := tx.NextShotPosition(ctx, "s1")
			if err != nil {
				return err
			}
			assert.Equal(i, pos)
			return tx.CreateShotGeneration(ctx, model.ShotGeneration{
				ID: "sg-" + id, ShotID: "s1", GenerationID: id, Position: pos, CreatedAt: base,
			})
		})
		require.NoError(err)
	}

	placements, err := s.ListShotGenerations(ctx, "s1")
	require.NoError(err)
	require.Len(placements, 3)
	for i, p := range placements {
		assert.Equal(i, p.Position)
	}
	assert.Equal("g1", placements[0].GenerationID)

	gens, err := s.ListGenerations(ctx, "p1")
	require.NoError(err)
	assert.Len(gens, 3)

	err = s.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.CreateShotGeneration(ctx, model.ShotGeneration{
			ID: "sg-dup", ShotID: "s1", GenerationID: "g1", Position: 1, CreatedAt: base,
		})
	})
	assert.ErrorIs(err, model.ErrNotValid)

	err = s.InTx(ctx, func(ctx context.Context, tx core.Tx) error {
		return tx.CreateShotGeneration(ctx, model.ShotGeneration{
			ID: "sg-missing", ShotID: "missing", GenerationID: "g1", Position: 0, CreatedAt: base,
		})
	})
	assert.ErrorIs(err, model.ErrMissingDependency)
}
