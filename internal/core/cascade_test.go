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

func TestCascade(t *testing.T) {
	tests := map[string]struct {
		tasks     []model.Task
		source    string
		status    model.TaskStatus
		expStatus map[string]model.TaskStatus
		expErr    bool
	}{
		"Failing the head of a chain should fail every task down the chain.": {
			tasks: []model.Task{
				{ID: "a"},
				{ID: "b", DependantOn: []string{"a"}},
				{ID: "c", DependantOn: []string{"b"}},
			},
			source: "a",
			status: model.TaskStatusFailed,
			expStatus: map[string]model.TaskStatus{
				"b": model.TaskStatusFailed,
				"c": model.TaskStatusFailed,
			},
		},
		"A cycle in the graph should terminate.": {
			tasks: []model.Task{
				{ID: "a", DependantOn: []string{"c"}},
				{ID: "b", DependantOn: []string{"a"}},
				{ID: "c", DependantOn: []string{"b"}},
			},
			source: "a",
			status: model.TaskStatusCancelled,
			expStatus: map[string]model.TaskStatus{
				"b": model.TaskStatusCancelled,
				"c": model.TaskStatusCancelled,
			},
		},
		"Terminal dependents should keep their status.": {
			tasks: []model.Task{
				{ID: "a"},
				{ID: "done", Status: model.TaskStatusComplete, DependantOn: []string{"a"}},
				{ID: "failed", Status: model.TaskStatusFailed, DependantOn: []string{"a"}},
				{ID: "running", Status: model.TaskStatusInProgress, DependantOn: []string{"a"}},
			},
			source: "a",
			status: model.TaskStatusCancelled,
			expStatus: map[string]model.TaskStatus{
				"done":    model.TaskStatusComplete,
				"failed":  model.TaskStatusFailed,
				"running": model.TaskStatusCancelled,
			},
		},
		"A diamond should reach the shared dependent once.": {
			tasks: []model.Task{
				{ID: "a"},
				{ID: "left", DependantOn: []string{"a"}},
				{ID: "right", DependantOn: []string{"a"}},
				{ID: "join", DependantOn: []string{"left", "right"}},
			},
			source: "a",
			status: model.TaskStatusFailed,
			expStatus: map[string]model.TaskStatus{
				"left":  model.TaskStatusFailed,
				"right": model.TaskStatusFailed,
				"join":  model.TaskStatusFailed,
			},
		},
		"A non cascading status should fail.": {
			tasks:  []model.Task{{ID: "a"}},
			source: "a",
			status: model.TaskStatusComplete,
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			s := memory.New(nil)
			seedTasks(t, s, test.tasks...)
			rec := &recorder{}

			c := core.NewCascader(s, rec, nil)
			updated, err := c.Cascade(context.Background(), test.source, test.status, "boom")
			if test.expErr {
				assert.ErrorIs(err, model.ErrNotValid)
				return
			}
			require.NoError(err)

			// Each task is updated at most once.
			seen := map[string]int{}
			for _, id := range updated {
				seen[id]++
			}
			for id, n := range seen {
				assert.Equal(1, n, id)
			}

			for id, exp := range test.expStatus {
				assert.Equal(exp, statusOf(t, s, id), id)
			}
		})
	}
}

func TestCascadePublishesPerProject(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := memory.New(nil)
	seedTasks(t, s,
		model.Task{ID: "root", ProjectID: "p1"},
		model.Task{ID: "x", ProjectID: "p1", DependantOn: []string{"root"}},
		model.Task{ID: "y", ProjectID: "p2", DependantOn: []string{"root"}},
	)
	rec := &recorder{}

	_, err := core.NewCascader(s, rec, nil).Cascade(context.Background(), "root", model.TaskStatusCancelled, "")
	require.NoError(err)

	events := rec.ofType(notify.EventTasksCascaded)
	require.Len(events, 2)
	byProject := map[string]notify.TasksCascaded{}
	for _, ev := range events {
		p := ev.Payload.(notify.TasksCascaded)
		byProject[p.ProjectID] = p
	}
	assert.Equal([]string{"x"}, byProject["p1"].TaskIDs)
	assert.Equal([]string{"y"}, byProject["p2"].TaskIDs)
	assert.Equal("root", byProject["p1"].SourceTaskID)
	assert.Equal(model.TaskStatusCancelled, byProject["p2"].Status)

	task, err := s.GetTask(context.Background(), "x")
	require.NoError(err)
	assert.Equal("cascaded from root", task.StatusReason)
}
