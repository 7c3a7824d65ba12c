package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Action identifies a maintenance action the scheduler can run.
type Action string

const (
	// ActionJournalPrune trims old rows from the dispatch journal.
	ActionJournalPrune Action = "journal_prune"
	// ActionMetricsReport logs a per-handler metrics snapshot.
	ActionMetricsReport Action = "metrics_report"
)

// taskTimeout bounds one maintenance run. These are local operations;
// anything slower is stuck.
const taskTimeout = time.Minute

// Task is one recurring maintenance job.
type Task struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" or duration "30m"
	Action   Action
	OneShot  bool
}

// Scheduler runs maintenance tasks on cron expressions or fixed intervals.
// Actions are registered first, then tasks bind a schedule to an action.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	actions map[Action]func(ctx context.Context) error
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		actions: make(map[Action]func(ctx context.Context) error),
	}
}

// RegisterAction binds an action name to its implementation.
func (s *Scheduler) RegisterAction(action Action, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask schedules a task. Its action must already be registered.
func (s *Scheduler) AddTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}
	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	name := task.Name
	oneShot := task.OneShot
	logger := s.logger

	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			logger.Debug("scheduler not running, skipping task", "task", name)
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			logger.Warn("maintenance task failed",
				"task", name,
				"error", err,
				"duration", time.Since(start),
			)
		} else {
			logger.Debug("maintenance task completed",
				"task", name,
				"duration", time.Since(start),
			)
		}

		if oneShot {
			s.cron.Remove(entryID)
		}
	}))

	logger.Info("maintenance task scheduled", "task", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// Start begins firing schedules. Idempotent.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running tasks and waits for them to return. Idempotent.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.started = false
	return nil
}

// parseSchedule accepts a standard five-field cron expression (descriptors
// like @hourly included) or a Go duration string.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// constantDelay fires at a fixed interval. Unlike cron.Every it has no
// one-second floor.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
