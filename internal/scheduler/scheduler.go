// Package scheduler triggers workflow executions on cron expressions.
// Scheduling is in-memory; active definitions are re-scheduled from the
// store at boot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/stockd/internal/storage"
	"github.com/haasonsaas/stockd/pkg/models"
)

var (
	ErrJobNotFound = errors.New("scheduled job not found")
	ErrInvalidCron = errors.New("invalid cron expression")
)

// WorkflowRunner launches a workflow execution. Execution is fire-and-forget
// from the scheduler's perspective; the engine owns the record.
type WorkflowRunner interface {
	Start(ctx context.Context, definitionID string, input map[string]any) (*models.WorkflowExecution, error)
}

// JobInfo describes one scheduled job.
type JobInfo struct {
	Name    string    `json:"name"`
	Expr    string    `json:"expr"`
	NextRun time.Time `json:"next_run"`
}

type entry struct {
	id   cron.EntryID
	expr string
}

// Scheduler maps workflow definitions to cron jobs named workflow_{id}.
type Scheduler struct {
	cron      *cron.Cron
	workflows storage.WorkflowStore
	runner    WorkflowRunner
	logger    *slog.Logger

	mu      sync.Mutex
	entries map[string]entry // definition ID -> cron entry
}

// New constructs a scheduler using the standard 5-field cron grammar.
func New(workflows storage.WorkflowStore, runner WorkflowRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:      cron.New(),
		workflows: workflows,
		runner:    runner,
		logger:    logger.With("component", "scheduler"),
		entries:   make(map[string]entry),
	}
}

// Start begins dispatching jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop stops dispatching and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// ScheduleWorkflow registers (or replaces) the cron job for a definition and
// returns the job ID. input is the static workflow context passed on every
// trigger.
func (s *Scheduler) ScheduleWorkflow(definitionID, expr string, input map[string]any) (string, error) {
	if _, err := cron.ParseStandard(expr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}

	jobName := JobName(definitionID)
	job := func() {
		exec, err := s.runner.Start(context.Background(), definitionID, input)
		if err != nil {
			s.logger.Error("scheduled workflow failed to start", "job", jobName, "error", err)
			return
		}
		s.logger.Info("scheduled workflow started", "job", jobName, "execution_id", exec.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace semantics: one job per definition.
	if existing, ok := s.entries[definitionID]; ok {
		s.cron.Remove(existing.id)
	}
	id, err := s.cron.AddFunc(expr, job)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	s.entries[definitionID] = entry{id: id, expr: expr}
	s.logger.Info("workflow scheduled", "job", jobName, "expr", expr)
	return jobName, nil
}

// CancelWorkflow removes the definition's job and deactivates the definition
// so it is not restored on the next boot.
func (s *Scheduler) CancelWorkflow(ctx context.Context, definitionID string) error {
	s.mu.Lock()
	existing, ok := s.entries[definitionID]
	if ok {
		s.cron.Remove(existing.id)
		delete(s.entries, definitionID)
	}
	s.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}

	if err := s.workflows.SetActive(ctx, definitionID, false); err != nil {
		return fmt.Errorf("deactivate workflow: %w", err)
	}
	s.logger.Info("workflow unscheduled", "job", JobName(definitionID))
	return nil
}

// ListJobs returns the live jobs keyed by job ID.
func (s *Scheduler) ListJobs() map[string]JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]JobInfo, len(s.entries))
	for definitionID, e := range s.entries {
		jobName := JobName(definitionID)
		out[jobName] = JobInfo{
			Name:    jobName,
			Expr:    e.expr,
			NextRun: s.cron.Entry(e.id).Next,
		}
	}
	return out
}

// Restore re-schedules every active definition that carries a cron field.
// Invalid persisted expressions are logged and skipped.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	defs, err := s.workflows.ListScheduled(ctx)
	if err != nil {
		return 0, fmt.Errorf("list scheduled workflows: %w", err)
	}

	restored := 0
	for _, def := range defs {
		if _, err := s.ScheduleWorkflow(def.ID, def.Cron, nil); err != nil {
			s.logger.Error("restore schedule", "workflow_id", def.ID, "expr", def.Cron, "error", err)
			continue
		}
		restored++
	}
	s.logger.Info("schedules restored", "count", restored)
	return restored, nil
}

// JobName returns the job ID for a definition.
func JobName(definitionID string) string {
	return "workflow_" + definitionID
}
