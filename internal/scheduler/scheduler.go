// Package scheduler fires a task's schedule (cron or interval) and runs its
// step chain, guaranteeing that a task never has two chain runs in flight
// at once: an overlapping fire is dropped and counted, not queued or
// rescheduled.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/shaharia-lab/taskrun/internal/chain"
	"github.com/shaharia-lab/taskrun/internal/metrics"
	"github.com/shaharia-lab/taskrun/internal/storage"
	"github.com/shaharia-lab/taskrun/internal/tasklog"
)

const defaultMaxConcurrency = 10

// Config holds the scheduler's dependencies.
type Config struct {
	Store          storage.TaskStore
	Runner         *chain.Runner
	Metrics        *metrics.Recorder
	Logger         *slog.Logger
	Log            *tasklog.Logger
	MaxConcurrency int
}

// Scheduler fires tasks on their configured schedule using gocron/v2 as the
// timer and a per-task mutex to enforce the non-overlap guarantee gocron's
// own singleton modes don't provide (they reschedule or wait; the spec
// requires dropping the overlapping fire outright).
type Scheduler struct {
	cron gocron.Scheduler
	cfg  Config

	mu   sync.Mutex
	jobs map[int64]uuid.UUID

	locksMu   sync.Mutex
	taskLocks map[int64]*sync.Mutex

	semaphore chan struct{}
	logger    *slog.Logger
	baseCtx   context.Context
}

// New creates a Scheduler. It does not start firing jobs until Start is called.
func New(cfg Config) (*Scheduler, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}

	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = defaultMaxConcurrency
	}

	return &Scheduler{
		cron:      cron,
		cfg:       cfg,
		jobs:      make(map[int64]uuid.UUID),
		taskLocks: make(map[int64]*sync.Mutex),
		semaphore: make(chan struct{}, maxConc),
		logger:    cfg.Logger,
		baseCtx:   context.Background(),
	}, nil
}

// Start loads every active task from the store, schedules it, and starts
// the underlying gocron scheduler. ctx is kept as the base context for
// every future fire; cancelling it cancels in-flight chain runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx = ctx

	tasks, err := s.cfg.Store.LoadTasks()
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}

	for _, task := range tasks {
		if task.Status != storage.TaskStatusActive {
			continue
		}
		if err := s.ScheduleTask(task); err != nil {
			s.logger.Warn("failed to schedule task on startup",
				"task_id", task.ID, "task_name", task.Name, "error", err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "active_tasks", len(s.jobs))
	return nil
}

// Stop shuts down the underlying gocron scheduler.
func (s *Scheduler) Stop() error {
	return s.cron.Shutdown()
}

// ScheduleTask adds or replaces task's job in gocron.
func (s *Scheduler) ScheduleTask(task *storage.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobID, ok := s.jobs[task.ID]; ok {
		if err := s.cron.RemoveJob(jobID); err != nil {
			s.logger.Warn("failed to remove existing job", "task_id", task.ID, "error", err)
		}
		delete(s.jobs, task.ID)
	}

	jobDef, err := buildJobDefinition(task)
	if err != nil {
		wrapped := fmt.Errorf("building job definition for task %d: %w", task.ID, err)
		s.recordScheduleFailure(task, err)
		return wrapped
	}

	taskID := task.ID
	job, err := s.cron.NewJob(jobDef, gocron.NewTask(func() {
		s.fire(taskID)
	}), gocron.WithName(fmt.Sprintf("task_%d", taskID)))
	if err != nil {
		wrapped := fmt.Errorf("scheduling task %d: %w", task.ID, err)
		s.recordScheduleFailure(task, err)
		return wrapped
	}

	s.jobs[task.ID] = job.ID()
	s.logger.Info("task scheduled", "task_id", task.ID, "task_name", task.Name, "type", task.Type)
	return nil
}

// recordScheduleFailure appends a failure-event complete LogEntry when a
// task cannot be scheduled, via the tasklog facade, so a bad cron expression
// or interval is visible in the task's execution history, not only the
// system log. A task left unschedulable this way stays persisted as active
// but never fires until its schedule is fixed and it is rescheduled.
func (s *Scheduler) recordScheduleFailure(task *storage.Task, cause error) {
	if s.cfg.Log == nil {
		return
	}
	message := fmt.Sprintf("schedule configuration error: %v", cause)
	if task.Type == storage.ScheduleCron {
		message = fmt.Sprintf("cron expression parse error: %v", cause)
	}
	s.cfg.Log.Complete(task.ID, task.Name, false, message, map[string]interface{}{
		"schedule_type": task.Type,
	})
}

// UnscheduleTask removes a task's job from gocron, if scheduled.
func (s *Scheduler) UnscheduleTask(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobID, ok := s.jobs[taskID]; ok {
		if err := s.cron.RemoveJob(jobID); err != nil {
			s.logger.Warn("failed to remove job", "task_id", taskID, "error", err)
		}
		delete(s.jobs, taskID)
		s.logger.Info("task unscheduled", "task_id", taskID)
	}
}

// RunNow executes task's chain immediately, outside its schedule. It still
// respects the non-overlap guarantee: if the task's chain is already
// running, RunNow returns an error rather than queuing a second run.
//
// This runs the chain synchronously in the caller's goroutine rather than on
// a separate worker, which is a deviation from a strictly asynchronous
// run-now: acceptable since the only caller is the blocking taskrun CLI,
// which wants the chain's outcome before it exits anyway.
func (s *Scheduler) RunNow(ctx context.Context, task *storage.Task) error {
	lock := s.taskLock(task.ID)
	if !lock.TryLock() {
		return fmt.Errorf("task %d is already running", task.ID)
	}
	defer lock.Unlock()

	s.cfg.Metrics.Fire(strconv.FormatInt(task.ID, 10))

	s.semaphore <- struct{}{}
	defer func() { <-s.semaphore }()

	result := s.cfg.Runner.Run(ctx, task)
	if !result.Success {
		return fmt.Errorf("chain failed at step %q: %s", result.FailedStep, result.Error)
	}
	return nil
}

// fire is invoked by gocron on every schedule tick. It drops the fire
// outright, without running anything, when the task's previous run is
// still in flight.
func (s *Scheduler) fire(taskID int64) {
	lock := s.taskLock(taskID)
	if !lock.TryLock() {
		s.logger.Info("dropping overlapping fire", "task_id", taskID)
		s.cfg.Metrics.Drop(strconv.FormatInt(taskID, 10))
		return
	}
	defer lock.Unlock()

	s.cfg.Metrics.Fire(strconv.FormatInt(taskID, 10))

	s.semaphore <- struct{}{}
	defer func() { <-s.semaphore }()

	task, err := s.cfg.Store.GetTask(taskID)
	if err != nil {
		s.logger.Error("failed to load task for execution", "task_id", taskID, "error", err)
		return
	}
	if task == nil || task.Status != storage.TaskStatusActive {
		return
	}

	s.cfg.Runner.Run(s.baseCtx, task)
}

// taskLock returns the mutex guarding taskID's overlap check, creating it on
// first use. Locks are never removed — a deleted task's lock is simply
// never looked up again, and the memory cost is one mutex per task ever
// scheduled in the process's lifetime.
func (s *Scheduler) taskLock(taskID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.taskLocks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.taskLocks[taskID] = l
	}
	return l
}

// buildJobDefinition converts a Task's schedule into a gocron JobDefinition.
func buildJobDefinition(task *storage.Task) (gocron.JobDefinition, error) {
	switch task.Type {
	case storage.ScheduleCron:
		return gocron.CronJob(task.CronExpression, false), nil
	case storage.ScheduleInterval:
		if task.IntervalSeconds <= 0 {
			return nil, fmt.Errorf("interval_seconds must be positive, got %d", task.IntervalSeconds)
		}
		return gocron.DurationJob(time.Duration(task.IntervalSeconds) * time.Second), nil
	default:
		return nil, fmt.Errorf("unknown schedule type: %s", task.Type)
	}
}
