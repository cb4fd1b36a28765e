// internal/state/task.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// PromptTask is a stored generation prompt the serve daemon fires on a
// cron schedule, e.g. a nightly rebuild of a strategy against fresh
// market conditions. A task without a schedule is kept but never fires.
type PromptTask struct {
	Name      string     `json:"name"`
	Prompt    string     `json:"prompt"`
	Schedule  string     `json:"schedule,omitempty"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
	LastFired *time.Time `json:"last_fired,omitempty"`
	FireCount int        `json:"fire_count,omitempty"`
}

// ScheduleParser accepts standard 5-field cron expressions, 6-field
// expressions with a leading seconds field, and @-descriptors. The
// scheduler registers entries with this same parser, so an expression
// accepted here is guaranteed to register.
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether expr is a cron expression the
// scheduler can register. The empty expression is valid (an unscheduled
// task).
func ValidateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := ScheduleParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}

func (t *PromptTask) validate() error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.Prompt == "" {
		return fmt.Errorf("task prompt is required")
	}
	return ValidateSchedule(t.Schedule)
}

// TaskStore persists prompt tasks as a JSON file in the data dir.
type TaskStore struct {
	path string
	mu   sync.RWMutex
}

// NewTaskStore creates a TaskStore backed by the given file path.
func NewTaskStore(path string) *TaskStore {
	return &TaskStore{path: path}
}

// Path returns the file path used by this store.
func (s *TaskStore) Path() string {
	return s.path
}

// List returns all tasks, empty when no task file exists yet.
func (s *TaskStore) List() ([]*PromptTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		return []*PromptTask{}, nil
	}
	return tasks, nil
}

// Get finds a task by name.
func (s *TaskStore) Get(name string) (*PromptTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if task.Name == name {
			return task, nil
		}
	}
	return nil, fmt.Errorf("task not found: %s", name)
}

// Add stores a new task. The task is validated first, so a bad cron
// expression is rejected here instead of surfacing as a dead entry the
// scheduler skips at startup. CreatedAt is stamped if unset.
func (s *TaskStore) Add(task *PromptTask) error {
	if err := task.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range tasks {
		if existing.Name == task.Name {
			return fmt.Errorf("task already exists: %s", task.Name)
		}
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	tasks = append(tasks, task)
	return s.save(tasks)
}

// Remove deletes a task by name.
func (s *TaskStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	for i, task := range tasks {
		if task.Name == name {
			tasks = append(tasks[:i], tasks[i+1:]...)
			return s.save(tasks)
		}
	}
	return fmt.Errorf("task not found: %s", name)
}

// SetEnabled toggles whether a task fires.
func (s *TaskStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Name == name {
			task.Enabled = enabled
			return s.save(tasks)
		}
	}
	return fmt.Errorf("task not found: %s", name)
}

// MarkFired records a firing: LastFired is set to now and the fire
// count incremented. The scheduler calls this on each trigger so
// `task list` shows when a schedule last actually ran.
func (s *TaskStore) MarkFired(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.load()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Name == name {
			now := time.Now().UTC()
			task.LastFired = &now
			task.FireCount++
			return s.save(tasks)
		}
	}
	return fmt.Errorf("task not found: %s", name)
}

func (s *TaskStore) load() ([]*PromptTask, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tasks file: %w", err)
	}

	var tasks []*PromptTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("unmarshal tasks: %w", err)
	}
	return tasks, nil
}

func (s *TaskStore) save(tasks []*PromptTask) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create tasks dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp tasks file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp tasks file: %w", err)
	}
	return nil
}
