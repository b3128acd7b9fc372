package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genflow/internal/core"
	"genflow/internal/model"
	"genflow/internal/notify"
	"genflow/internal/store/memory"
)

func newScheduler(t *testing.T, s core.Store, pub notify.Publisher) *core.Scheduler {
	t.Helper()
	sched, err := core.NewScheduler(core.SchedulerConfig{
		Store:              s,
		Processor:          newProcessor(t, s, pub),
		Publisher:          pub,
		CompletionInterval: 10 * time.Millisecond,
		StatusInterval:     10 * time.Millisecond,
	})
	require.NoError(t, err)
	return sched
}

func TestPollCompletionsScenario(t *testing.T) {
	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			s := newStore(t)
			seedShot(t, s, "S1")
			seedTasks(t, s, completedStitch("existing", "S1", "files/first.mp4"))
			p := newProcessor(t, s, nil)
			existing, err := s.GetTask(ctx, "existing")
			require.NoError(err)
			_, err = p.Process(ctx, *existing)
			require.NoError(err)

			seedTasks(t, s, model.Task{
				ID:             "stitch",
				Type:           model.TaskTypeStitch,
				Status:         model.TaskStatusComplete,
				Params:         model.Params{"shot_id": "S1"},
				OutputLocation: strPtr("http://192.168.1.5:8085/files/out.mp4"),
				CreatedAt:      epoch.Add(time.Hour),
				UpdatedAt:      epoch.Add(time.Hour),
			})

			rec := &recorder{}
			processed, err := newScheduler(t, s, rec).PollCompletions(ctx)
			require.NoError(err)
			assert.Equal(1, processed)

			gen, err := s.GetGenerationByTask(ctx, "stitch")
			require.NoError(err)
			assert.Equal("files/out.mp4", gen.Location)

			placements, err := s.ListShotGenerations(ctx, "S1")
			require.NoError(err)
			require.Len(placements, 2)
			assert.Equal(gen.ID, placements[1].GenerationID)
			assert.Equal(1, placements[1].Position)

			task, err := s.GetTask(ctx, "stitch")
			require.NoError(err)
			assert.NotNil(task.GenerationProcessedAt)
			require.NotNil(task.OutputLocation)
			assert.Equal("files/out.mp4", *task.OutputLocation)

			completed := rec.ofType(notify.EventTaskCompleted)
			require.Len(completed, 1)
			assert.Equal("stitch", completed[0].Payload.(notify.TaskCompleted).TaskID)

			// A second tick finds nothing left to do.
			processed, err = newScheduler(t, s, rec).PollCompletions(ctx)
			require.NoError(err)
			assert.Zero(processed)
		})
	}
}

func TestPollCompletionsIsolatesFailures(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	s := memory.New(nil)
	seedShot(t, s, "s1")
	seedTasks(t, s,
		model.Task{ID: "broken", Type: model.TaskTypeStitch, Status: model.TaskStatusComplete, Params: model.Params{}},
		completedStitch("good", "s1", "files/good.mp4"),
	)
	sched := newScheduler(t, s, nil)

	processed, err := sched.PollCompletions(ctx)
	require.NoError(err)
	assert.Equal(1, processed)

	broken, err := s.GetTask(ctx, "broken")
	require.NoError(err)
	assert.Nil(broken.GenerationProcessedAt)

	// The next tick retries the broken task only.
	processed, err = sched.PollCompletions(ctx)
	require.NoError(err)
	assert.Equal(0, processed)
}

func TestBroadcastStatuses(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := memory.New(nil)
	seedTasks(t, s,
		model.Task{ID: "a", ProjectID: "p2", Status: model.TaskStatusInProgress},
		model.Task{ID: "b", ProjectID: "p1", Status: model.TaskStatusQueued},
		model.Task{ID: "c", ProjectID: "p1", Status: model.TaskStatusComplete},
		model.Task{ID: "d", ProjectID: "p1", Status: model.TaskStatusPending},
		model.Task{ID: "e", ProjectID: "p3", Status: model.TaskStatusCancelled},
	)
	rec := &recorder{}

	require.NoError(newScheduler(t, s, rec).BroadcastStatuses(context.Background()))

	events := rec.ofType(notify.EventTasksStatusUpdate)
	require.Len(events, 2)
	first := events[0].Payload.(notify.TasksStatusUpdate)
	second := events[1].Payload.(notify.TasksStatusUpdate)
	assert.Equal("p1", first.ProjectID)
	assert.Len(first.Tasks, 2)
	assert.Equal("p2", second.ProjectID)
	assert.Len(second.Tasks, 1)
}

func TestSchedulerStartStop(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	s := memory.New(nil)
	seedShot(t, s, "s1")
	seedTasks(t, s, completedStitch("t1", "s1", "files/out.mp4"))
	rec := &recorder{}
	sched := newScheduler(t, s, rec)

	require.NoError(sched.Start(context.Background()))
	assert.True(sched.Running())
	assert.Error(sched.Start(context.Background()))

	// cron.Every rounds to the second, so the first tick comes within about a second.
	assert.Eventually(func() bool {
		task, err := s.GetTask(context.Background(), "t1")
		return err == nil && task.GenerationProcessedAt != nil
	}, 5*time.Second, 50*time.Millisecond)

	<-sched.Stop().Done()
	assert.False(sched.Running())

	// Stopping twice is harmless.
	<-sched.Stop().Done()
}
