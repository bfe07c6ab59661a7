package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/taskrun/internal/chain"
	"github.com/shaharia-lab/taskrun/internal/executor"
	"github.com/shaharia-lab/taskrun/internal/scheduler"
	"github.com/shaharia-lab/taskrun/internal/service"
	"github.com/shaharia-lab/taskrun/internal/storage"
	"github.com/shaharia-lab/taskrun/internal/tasklog"
)

type stubStore struct {
	mu    sync.Mutex
	tasks map[int64]*storage.Task
	logs  []*storage.LogEntry
	errOn string
}

func newStubStore(tasks ...*storage.Task) *stubStore {
	s := &stubStore{tasks: make(map[int64]*storage.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *stubStore) LoadTasks() ([]*storage.Task, error) {
	if s.errOn == "LoadTasks" {
		return nil, errors.New("store error")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	return out, nil
}

func (s *stubStore) GetTask(id int64) (*storage.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[id]
	if t == nil || t.Status == storage.TaskStatusDeleted {
		return nil, nil
	}
	return t, nil
}

func (s *stubStore) AddTask(task *storage.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == 0 {
		task.ID = int64(len(s.tasks) + 1)
	}
	task.Status = storage.TaskStatusActive
	s.tasks[task.ID] = task
	return task.ID, nil
}

func (s *stubStore) UpdateTask(id int64, patch map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return false, nil
	}
	if status, ok := patch["status"].(string); ok {
		t.Status = storage.TaskStatus(status)
	}
	if name, ok := patch["name"].(string); ok {
		t.Name = name
	}
	return true, nil
}

func (s *stubStore) DeleteTask(id int64) (bool, error) {
	return s.UpdateTask(id, map[string]interface{}{"status": string(storage.TaskStatusDeleted)})
}

func (s *stubStore) LoadLogs(_ *int64, _ int) ([]*storage.LogEntry, error) { return s.logs, nil }
func (s *stubStore) GetLog(id int64) (*storage.LogEntry, error) {
	for _, l := range s.logs {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, nil
}
func (s *stubStore) AddLog(entry *storage.LogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.logs) + 1)
	s.logs = append(s.logs, entry)
	return entry.ID, nil
}
func (s *stubStore) ClearLogs() error { s.logs = nil; return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, store *stubStore) service.TaskService {
	t.Helper()
	l := tasklog.New(store, discardLogger())
	runner := chain.New(executor.New(5*time.Second), l, nil)
	sch, err := scheduler.New(scheduler.Config{Store: store, Runner: runner, Logger: discardLogger(), Log: l})
	require.NoError(t, err)
	return service.NewTaskService(store, sch, discardLogger())
}

func validTask(name string) *storage.Task {
	return &storage.Task{
		Name:            name,
		Type:            storage.ScheduleInterval,
		IntervalSeconds: 3600,
		Steps: []storage.Step{
			{Name: "ping", URL: "http://example.invalid/ping", Method: storage.MethodGet},
		},
	}
}

func TestListTasks_ExcludesDeleted(t *testing.T) {
	store := newStubStore(
		&storage.Task{ID: 1, Name: "a", Status: storage.TaskStatusActive},
		&storage.Task{ID: 2, Name: "b", Status: storage.TaskStatusDeleted},
	)
	svc := newTestService(t, store)

	tasks, err := svc.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, "a", tasks[0].Name)
}

func TestGetTask_NotFound(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)

	_, err := svc.GetTask(context.Background(), 99)
	require.Error(t, err)
	var notFound *service.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestCreateTask_AssignsIDAndSchedules(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)

	created, err := svc.CreateTask(context.Background(), validTask("sync-job"))
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, 1, created.RetryTimes)
	assert.Equal(t, 1, created.RetryDelaySeconds)
}

func TestCreateTask_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		task    *storage.Task
		wantErr string
	}{
		{"missing name", &storage.Task{Type: storage.ScheduleInterval, IntervalSeconds: 5, Steps: []storage.Step{{Name: "s", URL: "x", Method: storage.MethodGet}}}, "name"},
		{"no steps", &storage.Task{Name: "n", Type: storage.ScheduleInterval, IntervalSeconds: 5}, "steps"},
		{"bad type", &storage.Task{Name: "n", Type: "bogus", Steps: []storage.Step{{Name: "s", URL: "x", Method: storage.MethodGet}}}, "type"},
		{"cron missing expression", &storage.Task{Name: "n", Type: storage.ScheduleCron, Steps: []storage.Step{{Name: "s", URL: "x", Method: storage.MethodGet}}}, "cron_expression"},
		{"interval missing seconds", &storage.Task{Name: "n", Type: storage.ScheduleInterval, Steps: []storage.Step{{Name: "s", URL: "x", Method: storage.MethodGet}}}, "interval_seconds"},
		{"step missing name", &storage.Task{Name: "n", Type: storage.ScheduleInterval, IntervalSeconds: 5, Steps: []storage.Step{{URL: "x", Method: storage.MethodGet}}}, "steps[0].name"},
		{"step missing url", &storage.Task{Name: "n", Type: storage.ScheduleInterval, IntervalSeconds: 5, Steps: []storage.Step{{Name: "s", Method: storage.MethodGet}}}, "steps[0].url"},
		{"step bad method", &storage.Task{Name: "n", Type: storage.ScheduleInterval, IntervalSeconds: 5, Steps: []storage.Step{{Name: "s", URL: "x", Method: "BOGUS"}}}, "steps[0].method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStubStore()
			svc := newTestService(t, store)

			_, err := svc.CreateTask(context.Background(), tt.task)
			require.Error(t, err)
			var ve *service.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Contains(t, ve.Field, tt.wantErr)
		})
	}
}

func TestPauseThenResumeTask(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)

	created, err := svc.CreateTask(context.Background(), validTask("pausable"))
	require.NoError(t, err)

	paused, err := svc.PauseTask(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusPaused, paused.Status)

	resumed, err := svc.ResumeTask(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusActive, resumed.Status)
}

func TestDeleteTask_NotFound(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)

	err := svc.DeleteTask(context.Background(), 99)
	require.Error(t, err)
	var notFound *service.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestDeleteTask_Tombstones(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)

	created, err := svc.CreateTask(context.Background(), validTask("to-delete"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTask(context.Background(), created.ID))

	_, err = svc.GetTask(context.Background(), created.ID)
	var notFound *service.NotFoundError
	assert.True(t, errors.As(err, &notFound), "deleted task should not be retrievable")
}

func TestUpdateTask_RejectsStatusField(t *testing.T) {
	store := newStubStore()
	svc := newTestService(t, store)

	created, err := svc.CreateTask(context.Background(), validTask("no-status-patch"))
	require.NoError(t, err)

	_, err = svc.UpdateTask(context.Background(), created.ID, map[string]interface{}{"status": "paused"})
	require.Error(t, err)
	var ve *service.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestStats_CountsActiveAndPaused(t *testing.T) {
	store := newStubStore(
		&storage.Task{ID: 1, Name: "a", Status: storage.TaskStatusActive},
		&storage.Task{ID: 2, Name: "b", Status: storage.TaskStatusPaused},
		&storage.Task{ID: 3, Name: "c", Status: storage.TaskStatusDeleted},
	)
	svc := newTestService(t, store)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTasks)
	assert.Equal(t, 1, stats.ActiveTasks)
	assert.Equal(t, 1, stats.PausedTasks)
}

func TestClearLogs(t *testing.T) {
	store := newStubStore()
	store.logs = []*storage.LogEntry{{ID: 1}}
	svc := newTestService(t, store)

	require.NoError(t, svc.ClearLogs(context.Background()))
	logs, err := svc.ListLogs(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
