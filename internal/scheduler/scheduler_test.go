package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verityops/plandrift/internal/audit"
	"github.com/verityops/plandrift/internal/store"
	"github.com/verityops/plandrift/pkg/schema"
)

// schedulerStore stubs the store methods the scheduler touches. The embedded
// nil interface panics on anything unexpected.
type schedulerStore struct {
	store.Store

	jobs    []*store.ScheduledAudit
	listErr error

	run    *store.Run
	runErr error

	updates map[string]store.ScheduledAuditUpdate
}

func (s *schedulerStore) ListScheduledAudits(_ context.Context, _ store.ScheduledAuditFilter) ([]*store.ScheduledAudit, error) {
	return s.jobs, s.listErr
}

func (s *schedulerStore) GetRun(_ context.Context, _ string) (*store.Run, error) {
	return s.run, s.runErr
}

func (s *schedulerStore) UpdateScheduledAudit(_ context.Context, id string, update store.ScheduledAuditUpdate) error {
	if s.updates == nil {
		s.updates = make(map[string]store.ScheduledAuditUpdate)
	}
	s.updates[id] = update
	return nil
}

type stubRunner struct {
	result *audit.RunResult
	err    error
	calls  int
}

func (r *stubRunner) AuditStored(_ context.Context, _ string) (*audit.RunResult, error) {
	r.calls++
	return r.result, r.err
}

func newTestScheduler(t *testing.T, st store.Store, runner AuditRunner) *Scheduler {
	t.Helper()
	s, err := NewScheduler(st, runner, nil)
	require.NoError(t, err)
	return s
}

func TestCalculateNextRun(t *testing.T) {
	s := newTestScheduler(t, &schedulerStore{}, &stubRunner{})
	from := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	next, err := s.CalculateNextRun("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 2, 0, 0, 0, time.UTC), next)

	next, err = s.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, from.Add(15*time.Minute), next)

	_, err = s.CalculateNextRun("not a cron", from)
	assert.Error(t, err)

	// Six-field (seconds) expressions are rejected; the parser is 5-field.
	_, err = s.CalculateNextRun("0 0 2 * * *", from)
	assert.Error(t, err)
}

func TestTryAcquireRelease(t *testing.T) {
	s := newTestScheduler(t, &schedulerStore{}, &stubRunner{})

	assert.True(t, s.tryAcquire("job-1"))
	assert.False(t, s.tryAcquire("job-1"))
	assert.True(t, s.tryAcquire("job-2"))

	s.releaseJob("job-1")
	assert.True(t, s.tryAcquire("job-1"))
}

func TestConditionHolds(t *testing.T) {
	ctx := context.Background()

	t.Run("no condition always runs", func(t *testing.T) {
		s := newTestScheduler(t, &schedulerStore{}, &stubRunner{})
		ok, err := s.conditionHolds(ctx, &store.ScheduledAudit{ID: "j1"})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("no previous run always runs", func(t *testing.T) {
		s := newTestScheduler(t, &schedulerStore{}, &stubRunner{})
		job := &store.ScheduledAudit{ID: "j1", Condition: `last.risk_level == "High"`}
		ok, err := s.conditionHolds(ctx, job)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("condition gates on last run", func(t *testing.T) {
		st := &schedulerStore{run: &store.Run{
			ID:        "run-9",
			Status:    schema.RunStatusCompleted,
			RiskLevel: "High",
		}}
		s := newTestScheduler(t, st, &stubRunner{})
		job := &store.ScheduledAudit{
			ID:        "j1",
			Condition: `last.risk_level == "High"`,
			LastRunID: "run-9",
		}

		ok, err := s.conditionHolds(ctx, job)
		require.NoError(t, err)
		assert.True(t, ok)

		st.run.RiskLevel = "Low"
		ok, err = s.conditionHolds(ctx, job)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing last run is an error", func(t *testing.T) {
		st := &schedulerStore{runErr: errors.New("not found")}
		s := newTestScheduler(t, st, &stubRunner{})
		job := &store.ScheduledAudit{ID: "j1", Condition: `true`, LastRunID: "gone"}

		_, err := s.conditionHolds(ctx, job)
		assert.Error(t, err)
	})
}

func TestRunJob_SuccessAdvancesSchedule(t *testing.T) {
	st := &schedulerStore{}
	runner := &stubRunner{result: &audit.RunResult{RunID: "run-42"}}
	s := newTestScheduler(t, st, runner)

	now := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	job := &store.ScheduledAudit{ID: "j1", DocumentID: "d1", CronExpression: "0 2 * * *"}

	require.NoError(t, s.runJob(context.Background(), job, now))
	assert.Equal(t, 1, runner.calls)

	update, ok := st.updates["j1"]
	require.True(t, ok)
	assert.Equal(t, "success", update.LastRunStatus)
	assert.Equal(t, "run-42", update.LastRunID)
	require.NotNil(t, update.NextRunAt)
	assert.Equal(t, now.Add(24*time.Hour), *update.NextRunAt)
}

func TestRunJob_SkippedWhenConditionFalse(t *testing.T) {
	st := &schedulerStore{run: &store.Run{Status: schema.RunStatusCompleted, RiskLevel: "Low"}}
	runner := &stubRunner{result: &audit.RunResult{RunID: "run-1"}}
	s := newTestScheduler(t, st, runner)

	job := &store.ScheduledAudit{
		ID:             "j1",
		DocumentID:     "d1",
		CronExpression: "0 2 * * *",
		Condition:      `last.risk_level == "High"`,
		LastRunID:      "run-0",
	}

	require.NoError(t, s.runJob(context.Background(), job, time.Now().UTC()))
	assert.Zero(t, runner.calls)
	assert.Equal(t, "skipped", st.updates["j1"].LastRunStatus)
	// A skip still advances the schedule.
	assert.NotNil(t, st.updates["j1"].NextRunAt)
}

func TestRunJob_RunnerErrorRecorded(t *testing.T) {
	st := &schedulerStore{}
	runner := &stubRunner{err: errors.New("audit blew up")}
	s := newTestScheduler(t, st, runner)

	job := &store.ScheduledAudit{ID: "j1", DocumentID: "d1", CronExpression: "0 2 * * *"}

	require.NoError(t, s.runJob(context.Background(), job, time.Now().UTC()))
	assert.Equal(t, "error", st.updates["j1"].LastRunStatus)
	assert.Empty(t, st.updates["j1"].LastRunID)
}

func TestRunJob_ConditionErrorRecorded(t *testing.T) {
	st := &schedulerStore{runErr: errors.New("db down")}
	runner := &stubRunner{}
	s := newTestScheduler(t, st, runner)

	job := &store.ScheduledAudit{
		ID:             "j1",
		DocumentID:     "d1",
		CronExpression: "0 2 * * *",
		Condition:      `true`,
		LastRunID:      "run-0",
	}

	require.NoError(t, s.runJob(context.Background(), job, time.Now().UTC()))
	assert.Zero(t, runner.calls)
	assert.Equal(t, "condition_error", st.updates["j1"].LastRunStatus)
}

func TestStartStop(t *testing.T) {
	st := &schedulerStore{}
	s := newTestScheduler(t, st, &stubRunner{})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	// Stop is idempotent.
	require.NoError(t, s.Stop())
}
