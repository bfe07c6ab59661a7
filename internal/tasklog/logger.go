// Package tasklog implements the spec's execution-log facade: one record
// per lifecycle event (task start, each step, task completion), appended to
// the Store's log array. It is a thin wrapper over storage.LogStore, not a
// diagnostic stream — internal/logger fills that separate role.
package tasklog

import (
	"log/slog"

	"github.com/shaharia-lab/taskrun/internal/storage"
)

// Logger records task execution events to a storage.LogStore. Write
// failures are logged to the system logger but never returned to the
// caller — a task chain's own success or failure must never be masked by a
// log-persistence problem.
type Logger struct {
	store  storage.LogStore
	system *slog.Logger
}

// New returns a Logger backed by store, reporting its own write failures to
// system.
func New(store storage.LogStore, system *slog.Logger) *Logger {
	return &Logger{store: store, system: system}
}

// Start records that a task chain has begun running.
func (l *Logger) Start(taskID int64, taskName string) {
	l.append(&storage.LogEntry{
		TaskID:   taskID,
		TaskName: taskName,
		Event:    storage.EventStart,
		Status:   storage.StatusRunning,
		Message:  "task started",
	})
}

// Step records the outcome of a single chain step. details is expected to
// already carry step_index/step_name/url/method/headers/body/status_code/
// response/extracted_params, per the execution log's step-detail contract.
func (l *Logger) Step(taskID int64, taskName, stepName string, success bool, message string, details map[string]interface{}) {
	status := storage.StatusSuccess
	if !success {
		status = storage.StatusFailure
	}
	l.append(&storage.LogEntry{
		TaskID:   taskID,
		TaskName: taskName,
		Event:    storage.EventStep,
		Status:   status,
		Message:  message,
		Details:  details,
	})
}

// Complete records the final outcome of a task chain run.
func (l *Logger) Complete(taskID int64, taskName string, success bool, message string, details map[string]interface{}) {
	status := storage.StatusSuccess
	if !success {
		status = storage.StatusFailure
	}
	l.append(&storage.LogEntry{
		TaskID:   taskID,
		TaskName: taskName,
		Event:    storage.EventComplete,
		Status:   status,
		Message:  message,
		Details:  details,
	})
}

func (l *Logger) append(entry *storage.LogEntry) {
	if _, err := l.store.AddLog(entry); err != nil {
		l.system.Error("writing task log entry", "task_id", entry.TaskID, "error", err)
	}
}
