// internal/scheduler/scheduler.go
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/user/stratforge/internal/state"
)

// Handler is the callback invoked when a scheduled prompt task fires.
type Handler func(name, prompt string)

// Scheduler evaluates cron expressions from the task store and submits
// stored prompts through a handler callback. The handler is expected to
// tolerate rejection: a task firing while a generation is already in
// flight is skipped, never queued.
type Scheduler struct {
	store   *state.TaskStore
	handler Handler
	cron    *cron.Cron
}

// New creates a Scheduler backed by the given task store. Expressions
// are parsed with the store's ScheduleParser, the same one Add
// validates against.
func New(store *state.TaskStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		cron:    cron.New(cron.WithParser(state.ScheduleParser)),
	}
}

// Start loads tasks from the store, registers enabled tasks that have a
// schedule as cron entries, and starts the cron ticker.
func (s *Scheduler) Start() error {
	tasks, err := s.store.List()
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if task.Schedule == "" || !task.Enabled {
			continue
		}

		name := task.Name
		promptText := task.Prompt

		_, err := s.cron.AddFunc(task.Schedule, func() {
			slog.Info("cron firing prompt task", "name", name)
			if err := s.store.MarkFired(name); err != nil {
				slog.Warn("mark task fired failed", "name", name, "error", err)
			}
			s.handler(name, promptText)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", name, "schedule", task.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled prompt task", "name", name, "schedule", task.Schedule)
	}

	s.cron.Start()
	return nil
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(state.ScheduleParser))
	return s.Start()
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
