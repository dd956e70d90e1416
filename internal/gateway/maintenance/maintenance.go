// Package maintenance runs periodic housekeeping over the budget tracker
// and cache: pruning records/entries past their retention window, spec.md
// §B. Grounded on jefflaplante-conduit's internal/maintenance scheduler —
// same Task/Scheduler split over robfig/cron/v3, trimmed of the database-
// vacuum and maintenance-window machinery the gateway has no use for.
package maintenance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is one periodic housekeeping job.
type Task interface {
	Name() string
	Execute(ctx context.Context) TaskResult
}

// TaskResult is what a Task reports after running.
type TaskResult struct {
	Success  bool
	Duration time.Duration
	Message  string
	Error    error
}

// TaskStatus is the last-known state of a registered Task.
type TaskStatus struct {
	Name       string
	LastRun    time.Time
	LastResult TaskResult
}

// Scheduler runs registered Tasks on a single cron schedule.
type Scheduler struct {
	schedule string
	cron     *cron.Cron
	tasks    map[string]Task
	status   map[string]TaskStatus
	mu       sync.RWMutex
	running  bool
	logger   *log.Logger
}

// NewScheduler creates a scheduler that runs every registered task on the
// given cron expression (spec.md §B default: "@hourly").
func NewScheduler(schedule string, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Scheduler{
		schedule: schedule,
		cron:     cron.New(),
		tasks:    make(map[string]Task),
		status:   make(map[string]TaskStatus),
		logger:   logger,
	}
}

// RegisterTask adds a task to run on every tick of the scheduler's cron
// expression.
func (s *Scheduler) RegisterTask(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Name()] = task
	s.logger.Printf("[maintenance] registered task: %s", task.Name())
}

// Start begins running registered tasks on schedule.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("maintenance: scheduler already running")
	}

	for name, task := range s.tasks {
		_, err := s.cron.AddFunc(s.schedule, func(taskName string, t Task) func() {
			return func() { s.executeTask(context.Background(), taskName, t) }
		}(name, task))
		if err != nil {
			return fmt.Errorf("maintenance: schedule task %s: %w", name, err)
		}
	}

	s.cron.Start()
	s.running = true
	s.logger.Printf("[maintenance] scheduler started with %d tasks on %q", len(s.tasks), s.schedule)
	return nil
}

// Stop halts the scheduler, waiting briefly for an in-flight task.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	s.running = false

	select {
	case <-ctx.Done():
		s.logger.Println("[maintenance] scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Println("[maintenance] scheduler stop timed out")
	}
}

// RunNow executes every registered task immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context) {
	s.mu.RLock()
	tasks := make(map[string]Task, len(s.tasks))
	for name, t := range s.tasks {
		tasks[name] = t
	}
	s.mu.RUnlock()

	for name, t := range tasks {
		s.executeTask(ctx, name, t)
	}
}

// GetStatus returns the last-known result of every registered task.
func (s *Scheduler) GetStatus() map[string]TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]TaskStatus, len(s.status))
	for name, st := range s.status {
		out[name] = st
	}
	return out
}

func (s *Scheduler) executeTask(ctx context.Context, name string, task Task) {
	start := time.Now()
	result := task.Execute(ctx)
	result.Duration = time.Since(start)

	s.mu.Lock()
	s.status[name] = TaskStatus{Name: name, LastRun: start, LastResult: result}
	s.mu.Unlock()

	if result.Success {
		s.logger.Printf("[maintenance] task %s completed in %v: %s", name, result.Duration, result.Message)
	} else {
		s.logger.Printf("[maintenance] task %s failed after %v: %v", name, result.Duration, result.Error)
	}
}
