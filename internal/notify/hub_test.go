package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genflow/internal/model"
	"genflow/internal/notify"
)

func TestHubBroadcast(t *testing.T) {
	tests := map[string]struct {
		subProjects []string
		events      []notify.Event
		expCounts   []int
	}{
		"Every subscriber should receive an unscoped broadcast.": {
			subProjects: []string{"", ""},
			events:      []notify.Event{notify.NewTaskCompleted("t1", "p1")},
			expCounts:   []int{1, 1},
		},
		"Project scoped subscribers should only receive their project events.": {
			subProjects: []string{"p1", "p2", ""},
			events: []notify.Event{
				notify.NewTaskCompleted("t1", "p1"),
				notify.NewGenerationsUpdated("p2", "s1"),
				notify.NewTasksStatusUpdate("p1", nil),
			},
			expCounts: []int{2, 1, 3},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			hub := notify.NewHub(10, nil)
			var subs []*notify.Subscription
			for _, p := range test.subProjects {
				subs = append(subs, hub.Subscribe(p))
			}

			for _, ev := range test.events {
				hub.Broadcast(ev)
			}

			for i, sub := range subs {
				assert.Len(t, sub.Events(), test.expCounts[i])
			}
		})
	}
}

func TestHubSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	hub := notify.NewHub(1, nil)
	slow := hub.Subscribe("")
	fast := hub.Subscribe("")

	var received []notify.Event
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range fast.Events() {
			received = append(received, ev)
		}
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Broadcast(notify.NewTaskCompleted("t", "p"))
			time.Sleep(20 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}

	hub.Unsubscribe(fast)
	wg.Wait()

	assert.Len(t, received, 5)
	assert.Equal(t, int64(4), slow.Dropped())
}

func TestHubUnsubscribe(t *testing.T) {
	hub := notify.NewHub(0, nil)
	sub := hub.Subscribe("")
	require.Equal(t, 1, hub.Len())

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	assert.Equal(t, 0, hub.Len())

	_, ok := <-sub.Events()
	assert.False(t, ok)

	// Late subscribers do not see earlier events.
	hub.Broadcast(notify.NewTaskCompleted("t1", "p1"))
	late := hub.Subscribe("")
	assert.Len(t, late.Events(), 0)
}

func TestEventProjectID(t *testing.T) {
	task := model.Task{ID: "t1", ProjectID: "p9"}
	assert.Equal(t, "p9", notify.NewTaskCreated(task).ProjectID())
	assert.Equal(t, "p9", notify.NewTasksCascaded("p9", "t1", model.TaskStatusFailed, []string{"t2"}).ProjectID())
	assert.Equal(t, "", notify.Event{Type: "OTHER"}.ProjectID())
}

type barkPush struct {
	title, body, group, level string
}

func newBarkServer(t *testing.T) (*httptest.Server, func() []barkPush) {
	t.Helper()
	var mu sync.Mutex
	var pushes []barkPush
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		pushes = append(pushes, barkPush{
			title: r.PostForm.Get("title"),
			body:  r.PostForm.Get("body"),
			group: r.PostForm.Get("group"),
			level: r.PostForm.Get("level"),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []barkPush {
		mu.Lock()
		defer mu.Unlock()
		return append([]barkPush(nil), pushes...)
	}
}

func TestForwarderSendsToBark(t *testing.T) {
	tests := map[string]struct {
		events  []notify.Event
		expPush []barkPush
	}{
		"A completed task should push a generation ready message grouped by project.": {
			events: []notify.Event{
				notify.NewGenerationsUpdated("p1", "s1"),
				notify.NewTaskCompleted("t1", "p1"),
			},
			expPush: []barkPush{{
				title: "Generation ready",
				body:  "Task t1 produced a new generation in project p1.",
				group: "genflow/p1",
				level: "active",
			}},
		},
		"A failure cascade should push an urgent message.": {
			events: []notify.Event{
				notify.NewTasksCascaded("p2", "t1", model.TaskStatusFailed, []string{"t2", "t3"}),
			},
			expPush: []barkPush{{
				title: "Tasks failed",
				body:  "Task t1 failed and took 2 dependent task(s) down in project p2.",
				group: "genflow/p2",
				level: "timeSensitive",
			}},
		},
		"A cancel cascade should stay silent.": {
			events: []notify.Event{
				notify.NewTasksCascaded("p1", "t1", model.TaskStatusCancelled, []string{"t2"}),
				notify.NewTaskCompleted("t9", "p1"),
			},
			expPush: []barkPush{{
				title: "Generation ready",
				body:  "Task t9 produced a new generation in project p1.",
				group: "genflow/p1",
				level: "active",
			}},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			srv, pushes := newBarkServer(t)
			bark, err := notify.NewBarkNotifier(srv.URL + "/")
			require.NoError(t, err)

			hub := notify.NewHub(10, nil)
			fwd := notify.NewForwarder(hub, notify.NewMultiNotifier(bark), nil)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() { _ = fwd.Run(ctx) }()

			require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)
			for _, ev := range test.events {
				hub.Broadcast(ev)
			}

			assert.Eventually(t, func() bool { return len(pushes()) == len(test.expPush) }, time.Second, 5*time.Millisecond)
			// Nothing else arrives once the last expected push is in.
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, test.expPush, pushes())
		})
	}
}

func TestBarkNotifierReportsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	bark, err := notify.NewBarkNotifier(srv.URL)
	require.NoError(t, err)

	err = bark.Send(context.Background(), notify.Message{Title: "x", Body: "y"})
	assert.ErrorContains(t, err, "502")
}

func TestNewBarkNotifierRequiresURL(t *testing.T) {
	tests := map[string]string{
		"An empty url should be rejected.":    "  ",
		"A relative url should be rejected.": "api.day.app/key",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := notify.NewBarkNotifier(raw)
			assert.Error(t, err)
		})
	}
}
