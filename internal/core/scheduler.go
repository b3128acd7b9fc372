package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"genflow/internal/model"
	"genflow/internal/notify"
)

const (
	DefaultCompletionInterval = 10 * time.Second
	DefaultStatusInterval     = 5 * time.Second
)

// SchedulerConfig is the configuration for the Scheduler.
type SchedulerConfig struct {
	Store              TaskStore
	Processor          *Processor
	Publisher          notify.Publisher
	Logger             *slog.Logger
	CompletionInterval time.Duration
	StatusInterval     time.Duration
}

func (c *SchedulerConfig) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Processor == nil {
		return fmt.Errorf("processor is required")
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.Logger = c.Logger.With("svc", "core.Scheduler")
	if c.CompletionInterval <= 0 {
		c.CompletionInterval = DefaultCompletionInterval
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	return nil
}

// Scheduler runs the completion poller and the status broadcast poller on
// their own intervals. Each instance owns its state, so several can coexist.
type Scheduler struct {
	store     TaskStore
	processor *Processor
	publisher notify.Publisher
	logger    *slog.Logger

	completionInterval time.Duration
	statusInterval     time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Scheduler{
		store:              cfg.Store,
		processor:          cfg.Processor,
		publisher:          cfg.Publisher,
		logger:             cfg.Logger,
		completionInterval: cfg.CompletionInterval,
		statusInterval:     cfg.StatusInterval,
	}, nil
}

// Start begins both polling loops. ctx is used by every tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	c.Schedule(cron.Every(s.completionInterval), cron.FuncJob(func() {
		if _, err := s.PollCompletions(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("completion poll", "err", err)
		}
	}))
	c.Schedule(cron.Every(s.statusInterval), cron.FuncJob(func() {
		if err := s.BroadcastStatuses(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("status broadcast", "err", err)
		}
	}))
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.logger.Info("scheduler started", "completion_interval", s.completionInterval, "status_interval", s.statusInterval)
	return nil
}

// Stop stops both loops. The returned context is done once running ticks finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.cancel()
	s.running = false
	s.logger.Info("scheduler stopped")
	return s.cron.Stop()
}

// Running reports whether the loops are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PollCompletions runs one completion poller tick: every unprocessed Complete
// task of a side effect type goes through the processor, one after another.
// A failing task is logged and left for the next tick.
func (s *Scheduler) PollCompletions(ctx context.Context) (int, error) {
	tasks, err := s.store.ListUnprocessedCompleted(ctx, s.processor.SideEffectTypes())
	if err != nil {
		return 0, fmt.Errorf("list unprocessed tasks: %w", err)
	}

	processed := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		// The listing may lag a concurrent claim or status change.
		if !s.processor.Eligible(task) {
			continue
		}
		res, err := s.processor.Process(ctx, task)
		if err != nil {
			if errors.Is(err, model.ErrMissingDependency) {
				s.logger.Warn("task cannot produce a generation", "task_id", task.ID, "err", err)
			} else {
				s.logger.Error("process completed task", "task_id", task.ID, "err", err)
			}
			continue
		}
		if !res.Duplicate {
			processed++
		}
	}

	if processed > 0 {
		s.logger.Debug("completion poll done", "eligible", len(tasks), "processed", processed)
	}
	return processed, nil
}

// BroadcastStatuses runs one status broadcast tick: every non terminal task is
// sent to subscribers, one event per project.
func (s *Scheduler) BroadcastStatuses(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx, model.TaskFilter{ExcludeStatuses: model.TerminalStatuses})
	if err != nil {
		return fmt.Errorf("list active tasks: %w", err)
	}
	if s.publisher == nil || len(tasks) == 0 {
		return nil
	}

	byProject := map[string][]model.Task{}
	for _, t := range tasks {
		byProject[t.ProjectID] = append(byProject[t.ProjectID], t)
	}
	projects := make([]string, 0, len(byProject))
	for p := range byProject {
		projects = append(projects, p)
	}
	sort.Strings(projects)

	for _, p := range projects {
		s.publisher.Broadcast(notify.NewTasksStatusUpdate(p, byProject[p]))
	}
	return nil
}

// cronLogger adapts slog to the cron logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}
