// Package service implements the admin facade: the single entry point the
// CLI (cmd/) drives to create, inspect, and control tasks and to read back
// execution logs and aggregate stats. It is a pure Go dispatcher with no
// HTTP transport of its own.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shaharia-lab/taskrun/internal/scheduler"
	"github.com/shaharia-lab/taskrun/internal/storage"
)

// Stats summarizes task activity for the `taskrun stats` command.
type Stats struct {
	TotalTasks      int     `json:"total_tasks"`
	ActiveTasks     int     `json:"active_tasks"`
	PausedTasks     int     `json:"paused_tasks"`
	TodayExecutions int     `json:"today_executions"`
	SuccessRate     float64 `json:"success_rate"`
}

// TaskService is the admin facade's interface.
type TaskService interface {
	ListTasks(ctx context.Context) ([]*storage.Task, error)
	GetTask(ctx context.Context, id int64) (*storage.Task, error)
	CreateTask(ctx context.Context, task *storage.Task) (*storage.Task, error)
	UpdateTask(ctx context.Context, id int64, patch map[string]interface{}) (*storage.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	PauseTask(ctx context.Context, id int64) (*storage.Task, error)
	ResumeTask(ctx context.Context, id int64) (*storage.Task, error)
	RunNow(ctx context.Context, id int64) error
	ListLogs(ctx context.Context, taskID *int64, limit int) ([]*storage.LogEntry, error)
	GetLog(ctx context.Context, id int64) (*storage.LogEntry, error)
	ClearLogs(ctx context.Context) error
	Stats(ctx context.Context) (*Stats, error)
}

type taskService struct {
	store     storage.Store
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewTaskService returns a TaskService backed by store and wired to sch for
// schedule (de)registration and manual runs.
func NewTaskService(store storage.Store, sch *scheduler.Scheduler, logger *slog.Logger) TaskService {
	return &taskService{store: store, scheduler: sch, logger: logger}
}

func (s *taskService) ListTasks(_ context.Context) ([]*storage.Task, error) {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	out := make([]*storage.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status != storage.TaskStatusDeleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *taskService) GetTask(_ context.Context, id int64) (*storage.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, fmt.Errorf("getting task %d: %w", id, err)
	}
	if task == nil {
		return nil, &NotFoundError{Resource: "task", ID: id}
	}
	return task, nil
}

func (s *taskService) CreateTask(_ context.Context, task *storage.Task) (*storage.Task, error) {
	if err := validateTask(task); err != nil {
		return nil, err
	}
	if task.RetryTimes == 0 {
		task.RetryTimes = 1
	}
	if task.RetryDelaySeconds == 0 {
		task.RetryDelaySeconds = 1
	}

	id, err := s.store.AddTask(task)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	if err := s.scheduler.ScheduleTask(task); err != nil {
		s.logger.Error("failed to schedule newly created task", "task_id", id, "error", err)
	}

	s.logger.Info("task created", "id", id, "name", task.Name)
	return task, nil
}

func (s *taskService) UpdateTask(_ context.Context, id int64, patch map[string]interface{}) (*storage.Task, error) {
	existing, err := s.store.GetTask(id)
	if err != nil {
		return nil, fmt.Errorf("looking up task: %w", err)
	}
	if existing == nil {
		return nil, &NotFoundError{Resource: "task", ID: id}
	}

	if _, ok := patch["status"]; ok {
		return nil, &ValidationError{Field: "status", Message: "status cannot be set via update; use pause/resume/delete"}
	}

	ok, err := s.store.UpdateTask(id, patch)
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	if !ok {
		return nil, &NotFoundError{Resource: "task", ID: id}
	}

	updated, err := s.store.GetTask(id)
	if err != nil {
		return nil, fmt.Errorf("reloading updated task: %w", err)
	}
	if err := validateTask(updated); err != nil {
		return nil, err
	}

	if updated.Status == storage.TaskStatusActive {
		if err := s.scheduler.ScheduleTask(updated); err != nil {
			s.logger.Error("failed to reschedule updated task", "task_id", id, "error", err)
		}
	}

	s.logger.Info("task updated", "id", id, "name", updated.Name)
	return updated, nil
}

func (s *taskService) DeleteTask(_ context.Context, id int64) error {
	existing, err := s.store.GetTask(id)
	if err != nil {
		return fmt.Errorf("looking up task: %w", err)
	}
	if existing == nil {
		return &NotFoundError{Resource: "task", ID: id}
	}

	ok, err := s.store.DeleteTask(id)
	if err != nil {
		return fmt.Errorf("deleting task %d: %w", id, err)
	}
	if !ok {
		return &NotFoundError{Resource: "task", ID: id}
	}

	s.scheduler.UnscheduleTask(id)
	s.logger.Info("task deleted", "id", id)
	return nil
}

func (s *taskService) PauseTask(_ context.Context, id int64) (*storage.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, fmt.Errorf("looking up task: %w", err)
	}
	if task == nil {
		return nil, &NotFoundError{Resource: "task", ID: id}
	}

	ok, err := s.store.UpdateTask(id, map[string]interface{}{"status": string(storage.TaskStatusPaused)})
	if err != nil || !ok {
		return nil, fmt.Errorf("pausing task: %w", err)
	}

	s.scheduler.UnscheduleTask(id)
	s.logger.Info("task paused", "id", id)
	return s.GetTask(context.Background(), id)
}

func (s *taskService) ResumeTask(_ context.Context, id int64) (*storage.Task, error) {
	task, err := s.store.GetTask(id)
	if err != nil {
		return nil, fmt.Errorf("looking up task: %w", err)
	}
	if task == nil {
		return nil, &NotFoundError{Resource: "task", ID: id}
	}

	ok, err := s.store.UpdateTask(id, map[string]interface{}{"status": string(storage.TaskStatusActive)})
	if err != nil || !ok {
		return nil, fmt.Errorf("resuming task: %w", err)
	}

	updated, err := s.store.GetTask(id)
	if err != nil {
		return nil, fmt.Errorf("reloading resumed task: %w", err)
	}
	if err := s.scheduler.ScheduleTask(updated); err != nil {
		return nil, fmt.Errorf("resuming task: %w", err)
	}

	s.logger.Info("task resumed", "id", id)
	return updated, nil
}

func (s *taskService) RunNow(ctx context.Context, id int64) error {
	task, err := s.store.GetTask(id)
	if err != nil {
		return fmt.Errorf("looking up task: %w", err)
	}
	if task == nil {
		return &NotFoundError{Resource: "task", ID: id}
	}
	return s.scheduler.RunNow(ctx, task)
}

func (s *taskService) ListLogs(_ context.Context, taskID *int64, limit int) ([]*storage.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	logs, err := s.store.LoadLogs(taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	return logs, nil
}

func (s *taskService) GetLog(_ context.Context, id int64) (*storage.LogEntry, error) {
	entry, err := s.store.GetLog(id)
	if err != nil {
		return nil, fmt.Errorf("getting log %d: %w", id, err)
	}
	if entry == nil {
		return nil, &NotFoundError{Resource: "log", ID: id}
	}
	return entry, nil
}

func (s *taskService) ClearLogs(_ context.Context) error {
	if err := s.store.ClearLogs(); err != nil {
		return fmt.Errorf("clearing logs: %w", err)
	}
	s.logger.Info("logs cleared")
	return nil
}

func (s *taskService) Stats(_ context.Context) (*Stats, error) {
	tasks, err := s.store.LoadTasks()
	if err != nil {
		return nil, fmt.Errorf("loading tasks for stats: %w", err)
	}
	logs, err := s.store.LoadLogs(nil, 0)
	if err != nil {
		return nil, fmt.Errorf("loading logs for stats: %w", err)
	}

	stats := &Stats{}
	for _, t := range tasks {
		switch t.Status {
		case storage.TaskStatusDeleted:
			continue
		case storage.TaskStatusActive:
			stats.ActiveTasks++
		case storage.TaskStatusPaused:
			stats.PausedTasks++
		}
		stats.TotalTasks++
	}

	today := time.Now().Format("2006-01-02")
	var completedToday, successfulToday int
	for _, l := range logs {
		if l.Event != storage.EventComplete {
			continue
		}
		if !strings.HasPrefix(l.Timestamp, today) {
			continue
		}
		completedToday++
		if l.Status == storage.StatusSuccess {
			successfulToday++
		}
	}
	stats.TodayExecutions = completedToday
	if completedToday > 0 {
		stats.SuccessRate = float64(successfulToday) / float64(completedToday)
	}
	return stats, nil
}

func validateTask(task *storage.Task) error {
	if task.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(task.Steps) == 0 {
		return &ValidationError{Field: "steps", Message: "at least one step is required"}
	}

	switch task.Type {
	case storage.ScheduleCron:
		if task.CronExpression == "" {
			return &ValidationError{Field: "cron_expression", Message: "cron_expression is required for cron schedules"}
		}
	case storage.ScheduleInterval:
		if task.IntervalSeconds <= 0 {
			return &ValidationError{Field: "interval_seconds", Message: "interval_seconds must be positive for interval schedules"}
		}
	default:
		return &ValidationError{Field: "type", Message: "must be cron or interval"}
	}

	if task.RetryTimes < 0 {
		return &ValidationError{Field: "retry_times", Message: "retry_times cannot be negative"}
	}
	if task.RetryDelaySeconds < 0 {
		return &ValidationError{Field: "retry_delay_seconds", Message: "retry_delay_seconds cannot be negative"}
	}

	for i, step := range task.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step storage.Step) error {
	field := fmt.Sprintf("steps[%d]", index)
	if step.Name == "" {
		return &ValidationError{Field: field + ".name", Message: "name is required"}
	}
	if step.URL == "" {
		return &ValidationError{Field: field + ".url", Message: "url is required"}
	}
	switch step.Method {
	case storage.MethodGet, storage.MethodPost, storage.MethodPut, storage.MethodPatch, storage.MethodDelete:
	default:
		return &ValidationError{Field: field + ".method", Message: "must be GET, POST, PUT, PATCH, or DELETE"}
	}
	for j, p := range step.ExtractParams {
		if p.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("%s.extract_params[%d].name", field, j), Message: "name is required"}
		}
		if p.Path == "" {
			return &ValidationError{Field: fmt.Sprintf("%s.extract_params[%d].path", field, j), Message: "path is required"}
		}
		switch p.Type {
		case storage.ExtractString, storage.ExtractNumber, storage.ExtractBoolean:
		default:
			return &ValidationError{Field: fmt.Sprintf("%s.extract_params[%d].type", field, j), Message: "must be string, number, or boolean"}
		}
	}
	return nil
}
