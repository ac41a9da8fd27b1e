// Package scheduler runs recurring re-audits of stored documents on cron
// schedules, with an optional CEL condition gating each trigger on the
// outcome of the previous run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/verityops/plandrift/internal/audit"
	"github.com/verityops/plandrift/internal/expressions"
	"github.com/verityops/plandrift/internal/store"
)

// AuditRunner is the interface the scheduler uses to trigger audits.
// Satisfied by the audit service.
type AuditRunner interface {
	AuditStored(ctx context.Context, documentID string) (*audit.RunResult, error)
}

// Scheduler polls the store for due scheduled audits and runs them.
type Scheduler struct {
	store  store.Store
	runner AuditRunner
	parser cron.Parser
	cel    *expressions.CELEngine
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, runner AuditRunner, logger *slog.Logger) (*Scheduler, error) {
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("create condition engine: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		cel:      celEngine,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}, nil
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick checks all enabled scheduled audits and runs those that are due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledAudits(ctx, store.ScheduledAuditFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled audits", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.After(now) {
			if !s.tryAcquire(job.ID) {
				continue // already running (dedup)
			}
			if err := s.runJob(ctx, job, now); err != nil {
				s.logger.Error("failed to run scheduled audit",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
			s.releaseJob(job.ID)
		}
	}
}

// runJob executes a scheduled audit and updates its timestamps. A false
// condition is a skip, not a failure: timestamps advance so the job stays
// on schedule.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledAudit, now time.Time) error {
	ok, err := s.conditionHolds(ctx, job)
	if err != nil {
		s.logger.Error("scheduled audit condition failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return s.updateJobStatus(ctx, job, now, "", "condition_error")
	}
	if !ok {
		s.logger.Info("scheduled audit condition not met, skipping",
			slog.String("job_id", job.ID),
		)
		return s.updateJobStatus(ctx, job, now, "", "skipped")
	}

	s.logger.Info("running scheduled audit",
		slog.String("job_id", job.ID),
		slog.String("document_id", job.DocumentID),
	)

	result, err := s.runner.AuditStored(ctx, job.DocumentID)
	status := "success"
	runID := ""
	if err != nil {
		status = "error"
		s.logger.Error("scheduled audit execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	} else {
		runID = result.RunID
	}

	return s.updateJobStatus(ctx, job, now, runID, status)
}

// conditionHolds evaluates the job's CEL condition against the last run's
// summary. No condition, or no previous run to judge, means run.
func (s *Scheduler) conditionHolds(ctx context.Context, job *store.ScheduledAudit) (bool, error) {
	if job.Condition == "" {
		return true, nil
	}
	if job.LastRunID == "" {
		return true, nil
	}

	run, err := s.store.GetRun(ctx, job.LastRunID)
	if err != nil {
		return false, fmt.Errorf("load last run %q: %w", job.LastRunID, err)
	}

	data := map[string]any{
		"last": map[string]any{
			"status":     string(run.Status),
			"risk_level": run.RiskLevel,
		},
		"job": map[string]any{
			"id":          job.ID,
			"document_id": job.DocumentID,
		},
	}
	return s.cel.EvaluateBool(job.Condition, data)
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledAudit, now time.Time, runID, status string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledAudit(ctx, job.ID, store.ScheduledAuditUpdate{
		LastRunID:     runID,
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
	})
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed checks for audits that missed their next_run_at and runs them once.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledAudits(ctx, store.ScheduledAuditFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed audits: %w", err)
	}

	now := time.Now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.Before(now) {
			if !s.tryAcquire(job.ID) {
				continue
			}
			if err := s.runJob(ctx, job, now); err != nil {
				s.logger.Error("failed to recover missed audit",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				s.releaseJob(job.ID)
				continue
			}
			s.releaseJob(job.ID)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed audits", slog.Int("count", recovered))
	}
	return nil
}
