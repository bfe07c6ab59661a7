package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// FileStore persists tasks and log entries as two JSON array files under a
// data directory: tasks.json and logs.json. Reads and writes of each file
// are serialized through their own mutex — this is a correctness
// requirement, not just a convenience, because monotonic id assignment
// requires a read-modify-write cycle to be atomic with respect to other
// writers of the same file.
//
// Writes rewrite the whole file via a temp-file-then-rename, the pattern
// used by oss.nandlabs.io/golly's chrono.FileStorage, so a crash mid-write
// never leaves a torn tasks.json or logs.json on disk.
type FileStore struct {
	tasksPath string
	logsPath  string

	tasksMu sync.Mutex
	logsMu  sync.Mutex
}

// NewFileStore creates a FileStore rooted at dataDir, creating the
// directory if it does not already exist.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory %q: %w", dataDir, err)
	}
	return &FileStore{
		tasksPath: filepath.Join(dataDir, "tasks.json"),
		logsPath:  filepath.Join(dataDir, "logs.json"),
	}, nil
}

// ─── tasks ──────────────────────────────────────────────────────────────────

func (s *FileStore) readTasksLocked() ([]*Task, error) {
	var tasks []*Task
	if err := readJSONArray(s.tasksPath, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *FileStore) writeTasksLocked(tasks []*Task) error {
	return writeJSONArray(s.tasksPath, tasks)
}

// LoadTasks returns all tasks, including tombstoned ones.
func (s *FileStore) LoadTasks() ([]*Task, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	return s.readTasksLocked()
}

// GetTask returns the task with the given id, excluding tombstoned tasks.
// It returns (nil, nil) when no such non-deleted task exists.
func (s *FileStore) GetTask(id int64) (*Task, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	tasks, err := s.readTasksLocked()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id && t.Status != TaskStatusDeleted {
			return t, nil
		}
	}
	return nil, nil
}

// AddTask assigns a monotonic id, stamps created_at, forces status=active,
// appends the task, and persists the store.
func (s *FileStore) AddTask(task *Task) (int64, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	tasks, err := s.readTasksLocked()
	if err != nil {
		return 0, err
	}

	task.ID = nextID(tasks, func(t *Task) int64 { return t.ID })
	task.CreatedAt = time.Now().Format(timestampLayout)
	task.Status = TaskStatusActive

	tasks = append(tasks, task)
	if err := s.writeTasksLocked(tasks); err != nil {
		return 0, err
	}
	return task.ID, nil
}

// UpdateTask shallow-merges patch over the existing record (including
// tombstoned records) and persists it. Fields absent from patch are left
// unchanged; id and created_at are never rewritten. It returns false if no
// task with the given id exists.
func (s *FileStore) UpdateTask(id int64, patch map[string]interface{}) (bool, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	tasks, err := s.readTasksLocked()
	if err != nil {
		return false, err
	}

	for i, t := range tasks {
		if t.ID != id {
			continue
		}
		merged, err := mergePatch(t, patch)
		if err != nil {
			return false, err
		}
		merged.ID = t.ID
		merged.CreatedAt = t.CreatedAt
		merged.UpdatedAt = time.Now().Format(timestampLayout)
		tasks[i] = merged
		return true, s.writeTasksLocked(tasks)
	}
	return false, nil
}

// DeleteTask tombstones the task (sets status=deleted) and persists it.
// It returns false if no task with the given id exists.
func (s *FileStore) DeleteTask(id int64) (bool, error) {
	return s.UpdateTask(id, map[string]interface{}{"status": string(TaskStatusDeleted)})
}

// ─── logs ───────────────────────────────────────────────────────────────────

func (s *FileStore) readLogsLocked() ([]*LogEntry, error) {
	var logs []*LogEntry
	if err := readJSONArray(s.logsPath, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *FileStore) writeLogsLocked(logs []*LogEntry) error {
	return writeJSONArray(s.logsPath, logs)
}

// LoadLogs returns log entries, optionally filtered by task id, sorted by
// timestamp descending and truncated to limit (limit<=0 means unbounded).
func (s *FileStore) LoadLogs(taskID *int64, limit int) ([]*LogEntry, error) {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()

	logs, err := s.readLogsLocked()
	if err != nil {
		return nil, err
	}

	var filtered []*LogEntry
	for _, l := range logs {
		if taskID != nil && l.TaskID != *taskID {
			continue
		}
		filtered = append(filtered, l)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp > filtered[j].Timestamp
	})

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// GetLog returns the log entry with the given id, or (nil, nil) if absent.
func (s *FileStore) GetLog(id int64) (*LogEntry, error) {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()

	logs, err := s.readLogsLocked()
	if err != nil {
		return nil, err
	}
	for _, l := range logs {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, nil
}

// AddLog assigns a monotonic id, stamps the timestamp, appends the entry,
// and persists the store.
func (s *FileStore) AddLog(entry *LogEntry) (int64, error) {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()

	logs, err := s.readLogsLocked()
	if err != nil {
		return 0, err
	}

	entry.ID = nextID(logs, func(l *LogEntry) int64 { return l.ID })
	entry.Timestamp = time.Now().Format(timestampLayout)

	logs = append(logs, entry)
	if err := s.writeLogsLocked(logs); err != nil {
		return 0, err
	}
	return entry.ID, nil
}

// ClearLogs truncates the log store to an empty array.
func (s *FileStore) ClearLogs() error {
	s.logsMu.Lock()
	defer s.logsMu.Unlock()
	return s.writeLogsLocked([]*LogEntry{})
}

// ─── shared helpers ─────────────────────────────────────────────────────────

// nextID assigns max(existing ids)+1, rather than len+1, so that ids stay
// unique even after a compaction pass removes tombstoned records in the
// future (spec.md §9, "Monotonic ids over JSON arrays").
func nextID[T any](items []T, idOf func(T) int64) int64 {
	var max int64
	for _, it := range items {
		if id := idOf(it); id > max {
			max = id
		}
	}
	return max + 1
}

// mergePatch shallow-merges patch (decoded JSON keys) over base and decodes
// the result into a new *Task, leaving fields patch doesn't mention intact.
func mergePatch(base *Task, patch map[string]interface{}) (*Task, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("encoding existing task: %w", err)
	}

	var baseMap map[string]interface{}
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, fmt.Errorf("decoding existing task: %w", err)
	}
	for k, v := range patch {
		baseMap[k] = v
	}

	mergedJSON, err := json.Marshal(baseMap)
	if err != nil {
		return nil, fmt.Errorf("encoding merged task: %w", err)
	}

	var merged Task
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, fmt.Errorf("decoding merged task: %w", err)
	}
	return &merged, nil
}

// readJSONArray reads a JSON array file into dest. A missing file is
// treated as an empty array; malformed JSON is a hard failure.
func readJSONArray(path string, dest interface{}) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is derived from the configured data directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// writeJSONArray pretty-prints v (indent 2, non-ASCII preserved literally)
// to a temp file in the same directory as path, then renames it into
// place so a crash mid-write cannot leave a torn file behind.
func writeJSONArray(path string, v interface{}) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file into %s: %w", path, err)
	}
	return nil
}
