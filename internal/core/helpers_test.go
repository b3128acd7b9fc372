package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genflow/internal/core"
	"genflow/internal/model"
	"genflow/internal/notify"
	"genflow/internal/store"
	"genflow/internal/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Broadcast(ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(t notify.EventType) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// backends are the stores the engine runs on.
var backends = map[string]func(t *testing.T) core.Store{
	"memory": func(t *testing.T) core.Store { return memory.New(nil) },
	"sqlite": func(t *testing.T) core.Store { return openSQLite(t, t.TempDir()) },
}

func openSQLite(t *testing.T, dir string) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func seedTasks(t *testing.T, s core.Store, tasks ...model.Task) {
	t.Helper()
	for i, task := range tasks {
		if task.Type == "" {
			task.Type = model.TaskTypeGeneric
		}
		if task.Status == "" {
			task.Status = model.TaskStatusPending
		}
		if task.ProjectID == "" {
			task.ProjectID = "p1"
		}
		if task.CreatedAt.IsZero() {
			task.CreatedAt = epoch.Add(time.Duration(i) * time.Second)
			task.UpdatedAt = task.CreatedAt
		}
		require.NoError(t, s.CreateTask(context.Background(), task))
	}
}

func statusOf(t *testing.T, s core.Store, id string) model.TaskStatus {
	t.Helper()
	task, err := s.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task.Status
}
