package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genflow/internal/core"
	"genflow/internal/model"
	"genflow/internal/notify"
	"genflow/internal/store/memory"
)

func newService(t *testing.T) (*core.Service, *memory.Store, *recorder) {
	t.Helper()
	s := memory.New(nil)
	rec := &recorder{}
	svc, err := core.NewService(core.ServiceConfig{Store: s, Publisher: rec})
	require.NoError(t, err)
	return svc, s, rec
}

func TestServiceCreateTask(t *testing.T) {
	tests := map[string]struct {
		seed      []model.Task
		in        core.CreateTaskInput
		expStatus model.TaskStatus
		expDeps   []string
		expErr    error
	}{
		"A task without dependencies should start pending.": {
			in:        core.CreateTaskInput{Type: model.TaskTypeOrchestrator, ProjectID: "p1"},
			expStatus: model.TaskStatusPending,
			expDeps:   []string{},
		},
		"Duplicated and blank dependencies should be dropped.": {
			seed:      []model.Task{{ID: "a"}, {ID: "b"}},
			in:        core.CreateTaskInput{Type: model.TaskTypeStitch, ProjectID: "p1", DependantOn: []string{"a", " ", "b", "a"}},
			expStatus: model.TaskStatusPending,
			expDeps:   []string{"a", "b"},
		},
		"A cancelled dependency should be inherited.": {
			seed:      []model.Task{{ID: "a", Status: model.TaskStatusCancelled}},
			in:        core.CreateTaskInput{Type: model.TaskTypeSegment, ProjectID: "p1", DependantOn: []string{"a"}},
			expStatus: model.TaskStatusCancelled,
			expDeps:   []string{"a"},
		},
		"An unknown dependency should be rejected.": {
			in:     core.CreateTaskInput{Type: model.TaskTypeSegment, ProjectID: "p1", DependantOn: []string{"ghost"}},
			expErr: model.ErrNotValid,
		},
		"A missing project should be rejected.": {
			in:     core.CreateTaskInput{Type: model.TaskTypeSegment},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			svc, s, rec := newService(t)
			seedTasks(t, s, test.seed...)

			task, err := svc.CreateTask(context.Background(), test.in)
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				assert.Empty(rec.ofType(notify.EventTaskCreated))
				return
			}
			require.NoError(err)
			assert.NotEmpty(task.ID)
			assert.Equal(test.expStatus, task.Status)
			assert.Equal(test.expDeps, task.DependantOn)
			assert.NotNil(task.Params)

			stored, err := s.GetTask(context.Background(), task.ID)
			require.NoError(err)
			assert.Equal(test.expStatus, stored.Status)
			assert.Len(rec.ofType(notify.EventTaskCreated), 1)
		})
	}
}

func TestServiceCancelCascades(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	svc, s, _ := newService(t)

	t1, err := svc.CreateTask(ctx, core.CreateTaskInput{Type: model.TaskTypeOrchestrator, ProjectID: "p1"})
	require.NoError(err)
	t2, err := svc.CreateTask(ctx, core.CreateTaskInput{Type: model.TaskTypeSegment, ProjectID: "p1", DependantOn: []string{t1.ID}})
	require.NoError(err)
	t3, err := svc.CreateTask(ctx, core.CreateTaskInput{Type: model.TaskTypeStitch, ProjectID: "p1", DependantOn: []string{t2.ID}})
	require.NoError(err)

	got, err := svc.CancelTask(ctx, t1.ID, "")
	require.NoError(err)
	assert.Equal(model.TaskStatusCancelled, got.Status)
	assert.Equal("cancelled by user", got.StatusReason)

	svc.Wait()
	assert.Equal(model.TaskStatusCancelled, statusOf(t, s, t2.ID))
	assert.Equal(model.TaskStatusCancelled, statusOf(t, s, t3.ID))
}

// beforeCreateStore runs a hook right before a task row is inserted.
type beforeCreateStore struct {
	core.Store
	beforeCreate func()
}

func (b *beforeCreateStore) CreateTask(ctx context.Context, task model.Task) error {
	if b.beforeCreate != nil {
		hook := b.beforeCreate
		b.beforeCreate = nil
		hook()
	}
	return b.Store.CreateTask(ctx, task)
}

func TestServiceCreateTaskRacingCancel(t *testing.T) {
	tests := map[string]struct {
		status    model.TaskStatus
		expReason string
	}{
		"A prerequisite cancelled during the insert should cancel the new task.": {
			status:    model.TaskStatusCancelled,
			expReason: "cascaded from t1",
		},
		"A prerequisite failed during the insert should fail the new task.": {
			status:    model.TaskStatusFailed,
			expReason: "cascaded from t1",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			mem := memory.New(nil)
			seedTasks(t, mem, model.Task{ID: "t1"})
			wrapped := &beforeCreateStore{Store: mem}
			svc, err := core.NewService(core.ServiceConfig{Store: wrapped})
			require.NoError(err)

			// The prerequisite changes after the dependency check and before the insert.
			wrapped.beforeCreate = func() {
				_, err := svc.SetStatus(ctx, "t1", model.StatusUpdate{Status: test.status})
				require.NoError(err)
				svc.Wait()
			}

			task, err := svc.CreateTask(ctx, core.CreateTaskInput{Type: model.TaskTypeSegment, ProjectID: "p1", DependantOn: []string{"t1"}})
			require.NoError(err)
			svc.Wait()

			assert.Equal(test.status, task.Status)
			stored, err := mem.GetTask(ctx, task.ID)
			require.NoError(err)
			assert.Equal(test.status, stored.Status)
			assert.Equal(test.expReason, stored.StatusReason)
		})
	}
}

func TestServiceSetStatus(t *testing.T) {
	tests := map[string]struct {
		from      model.TaskStatus
		to        model.TaskStatus
		expErr    error
		expStatus model.TaskStatus
	}{
		"A worker reporting progress should move the task forward.": {
			from:      model.TaskStatusQueued,
			to:        model.TaskStatusInProgress,
			expStatus: model.TaskStatusInProgress,
		},
		"A failed task should reject any further change.": {
			from:   model.TaskStatusFailed,
			to:     model.TaskStatusInProgress,
			expErr: model.ErrInvalidTransition,
		},
		"A cancelled task should reject a completion.": {
			from:   model.TaskStatusCancelled,
			to:     model.TaskStatusComplete,
			expErr: model.ErrInvalidTransition,
		},
		"An unknown status should be rejected.": {
			from:   model.TaskStatusQueued,
			to:     model.TaskStatus("Paused"),
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			svc, s, _ := newService(t)
			seedTasks(t, s, model.Task{ID: "t1", Status: test.from})

			task, err := svc.SetStatus(context.Background(), "t1", model.StatusUpdate{Status: test.to})
			svc.Wait()
			if test.expErr != nil {
				assert.ErrorIs(err, test.expErr)
				assert.Equal(test.from, statusOf(t, s, "t1"))
				return
			}
			require.NoError(err)
			assert.Equal(test.expStatus, task.Status)
		})
	}
}

func TestServiceCascadeOutlivesRequestContext(t *testing.T) {
	require := require.New(t)

	svc, s, _ := newService(t)
	seedTasks(t, s, model.Task{ID: "a"}, model.Task{ID: "b", DependantOn: []string{"a"}})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.SetStatus(ctx, "a", model.StatusUpdate{Status: model.TaskStatusFailed, Reason: "worker crashed"})
	require.NoError(err)
	cancel()

	svc.Wait()
	require.Equal(model.TaskStatusFailed, statusOf(t, s, "b"))
}

func TestServiceListTasks(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	svc, s, _ := newService(t)
	seedTasks(t, s,
		model.Task{ID: "a", ProjectID: "p1"},
		model.Task{ID: "b", ProjectID: "p1", Status: model.TaskStatusComplete},
		model.Task{ID: "c", ProjectID: "p2"},
	)

	all, err := svc.ListTasks(context.Background(), "p1")
	require.NoError(err)
	assert.Len(all, 2)

	pending, err := svc.ListTasks(context.Background(), "p1", model.TaskStatusPending)
	require.NoError(err)
	require.Len(pending, 1)
	assert.Equal("a", pending[0].ID)
}

func TestServiceShots(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	svc, _, _ := newService(t)

	_, err := svc.CreateShot(ctx, " ", "intro")
	assert.ErrorIs(err, model.ErrNotValid)

	shot, err := svc.CreateShot(ctx, "p1", " intro ")
	require.NoError(err)
	assert.Equal("intro", shot.Name)

	placements, err := svc.ShotGenerations(ctx, shot.ID)
	require.NoError(err)
	assert.Empty(placements)

	_, err = svc.ShotGenerations(ctx, "missing")
	assert.ErrorIs(err, model.ErrNotFound)
}
