package scheduler_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/taskrun/internal/chain"
	"github.com/shaharia-lab/taskrun/internal/executor"
	"github.com/shaharia-lab/taskrun/internal/scheduler"
	"github.com/shaharia-lab/taskrun/internal/storage"
	"github.com/shaharia-lab/taskrun/internal/tasklog"
)

type stubStore struct {
	mu    sync.Mutex
	tasks map[int64]*storage.Task
	logs  []*storage.LogEntry
}

func newStubStore(tasks ...*storage.Task) *stubStore {
	s := &stubStore{tasks: make(map[int64]*storage.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

func (s *stubStore) LoadTasks() ([]*storage.Task, error) {
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
	return s.tasks[id], nil
}

func (s *stubStore) AddTask(task *storage.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	return true, nil
}

func (s *stubStore) DeleteTask(id int64) (bool, error) {
	return s.UpdateTask(id, map[string]interface{}{"status": string(storage.TaskStatusDeleted)})
}

func (s *stubStore) LoadLogs(_ *int64, _ int) ([]*storage.LogEntry, error) { return s.logs, nil }
func (s *stubStore) GetLog(_ int64) (*storage.LogEntry, error)             { return nil, nil }
func (s *stubStore) AddLog(entry *storage.LogEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.logs) + 1)
	s.logs = append(s.logs, entry)
	return entry.ID, nil
}
func (s *stubStore) ClearLogs() error { s.logs = nil; return nil }

func newRunner() *chain.Runner {
	store := newStubStore()
	l := tasklog.New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return chain.New(executor.New(5*time.Second), l, nil)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduleTask_RejectsInvalidCronExpression(t *testing.T) {
	store := newStubStore()
	sch, err := scheduler.New(scheduler.Config{Store: store, Runner: newRunner(), Logger: discardLogger()})
	require.NoError(t, err)

	task := &storage.Task{ID: 1, Name: "bad-cron", Type: storage.ScheduleCron, CronExpression: "not a cron expression", Status: storage.TaskStatusActive}
	err = sch.ScheduleTask(task)
	assert.Error(t, err)
}

// TestScheduleTask_RecordsFailureLogEntryOnBadCronExpression covers the
// spec's requirement that an unschedulable task (bad cron expression) still
// gets a failure-event complete LogEntry via the execution log facade, not
// just a system-log warning, and is left persisted but unscheduled.
func TestScheduleTask_RecordsFailureLogEntryOnBadCronExpression(t *testing.T) {
	store := newStubStore()
	l := tasklog.New(store, discardLogger())
	sch, err := scheduler.New(scheduler.Config{Store: store, Runner: newRunner(), Logger: discardLogger(), Log: l})
	require.NoError(t, err)

	task := &storage.Task{ID: 1, Name: "bad-cron", Type: storage.ScheduleCron, CronExpression: "not a cron expression", Status: storage.TaskStatusActive}
	err = sch.ScheduleTask(task)
	require.Error(t, err)

	require.Len(t, store.logs, 1)
	entry := store.logs[0]
	assert.Equal(t, storage.EventComplete, entry.Event)
	assert.Equal(t, storage.StatusFailure, entry.Status)
	assert.Contains(t, entry.Message, "cron expression parse error")
}

func TestScheduleTask_RejectsZeroInterval(t *testing.T) {
	store := newStubStore()
	sch, err := scheduler.New(scheduler.Config{Store: store, Runner: newRunner(), Logger: discardLogger()})
	require.NoError(t, err)

	task := &storage.Task{ID: 1, Name: "bad-interval", Type: storage.ScheduleInterval, IntervalSeconds: 0, Status: storage.TaskStatusActive}
	err = sch.ScheduleTask(task)
	assert.Error(t, err)
}

// TestRunNow_OverlappingRunIsRejected covers the spec's non-overlap
// guarantee: while a slow chain run is in flight for a task, a concurrent
// attempt to run that same task must be rejected outright, not queued.
func TestRunNow_OverlappingRunIsRejected(t *testing.T) {
	var inFlight int32
	var maxConcurrent int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inFlight, 1)
		if cur > atomic.LoadInt32(&maxConcurrent) {
			atomic.StoreInt32(&maxConcurrent, cur)
		}
		time.Sleep(150 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	task := &storage.Task{
		ID:     1,
		Name:   "slow",
		Type:   storage.ScheduleInterval,
		Status: storage.TaskStatusActive,
		Steps:  []storage.Step{{Name: "slow-step", URL: srv.URL, Method: storage.MethodGet}},
	}
	store := newStubStore(task)

	logStore := newStubStore()
	l := tasklog.New(logStore, discardLogger())
	runner := chain.New(executor.New(5*time.Second), l, nil)

	sch, err := scheduler.New(scheduler.Config{Store: store, Runner: runner, Logger: discardLogger(), MaxConcurrency: 10})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 20 * time.Millisecond)
			results[i] = sch.RunNow(t.Context(), task)
		}(i)
	}
	wg.Wait()

	successes, rejections := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		default:
			rejections++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, rejections)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxConcurrent)), 1)
}

func TestUnscheduleTask_RemovesJobWithoutError(t *testing.T) {
	task := &storage.Task{ID: 1, Name: "interval-task", Type: storage.ScheduleInterval, IntervalSeconds: 3600, Status: storage.TaskStatusActive}
	store := newStubStore(task)

	sch, err := scheduler.New(scheduler.Config{Store: store, Runner: newRunner(), Logger: discardLogger()})
	require.NoError(t, err)
	require.NoError(t, sch.ScheduleTask(task))

	assert.NotPanics(t, func() { sch.UnscheduleTask(task.ID) })
	// Unscheduling an already-unscheduled (or unknown) task is a no-op.
	assert.NotPanics(t, func() { sch.UnscheduleTask(task.ID) })
}

func TestRunNow_ReportsChainFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	task := &storage.Task{
		ID:     1,
		Name:   "always-fails",
		Type:   storage.ScheduleInterval,
		Status: storage.TaskStatusActive,
		Steps:  []storage.Step{{Name: "fail", URL: srv.URL, Method: storage.MethodGet}},
	}
	store := newStubStore(task)

	sch, err := scheduler.New(scheduler.Config{Store: store, Runner: newRunner(), Logger: discardLogger()})
	require.NoError(t, err)

	err = sch.RunNow(t.Context(), task)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fail")
}
