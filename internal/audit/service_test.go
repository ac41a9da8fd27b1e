package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verityops/plandrift/internal/graph"
	"github.com/verityops/plandrift/internal/store"
	"github.com/verityops/plandrift/pkg/schema"
)

// stubCollab drives the engine with canned answers so service tests cover
// persistence, not reasoning.
type stubCollab struct {
	extracted  map[string]any
	extractErr error
	verdict    schema.Verdict
}

func (c *stubCollab) ExtractFeatures(context.Context, string) (map[string]any, error) {
	return c.extracted, c.extractErr
}

func (c *stubCollab) LookupKnowledge(context.Context, string, int) (string, error) {
	return "regulation text", nil
}

func (c *stubCollab) ClassifySufficiency(context.Context, string, string, string) (bool, error) {
	return true, nil
}

func (c *stubCollab) SearchOfficialSources(context.Context, string, int) ([]schema.Link, error) {
	return nil, nil
}

func (c *stubCollab) Adjudicate(context.Context, string, string, string) (*schema.Verdict, error) {
	v := c.verdict
	return &v, nil
}

func (c *stubCollab) SynthesizeReport(_ context.Context, planName string, _ []schema.Finding) (string, error) {
	return "Report for " + planName, nil
}

func newTestService(t *testing.T, collab *stubCollab) (*Service, *store.LibSQLStore) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "audit_test.db")
	st, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	eventLog := store.NewEventLog(st)
	engine := graph.NewEngine(graph.Collaborators{
		Extractor: collab,
		Knowledge: collab,
		Search:    collab,
		Reasoner:  collab,
	}, graph.Options{Trace: TraceAppender(eventLog)})

	return NewService(st, eventLog, engine, nil), st
}

func vestingDoc() *stubCollab {
	return &stubCollab{
		extracted: map[string]any{
			"plan_name": "Acme 401(k) Plan",
			"vesting":   map[string]any{"type": "cliff", "schedule": "3 years"},
		},
		verdict: schema.Verdict{Status: schema.StatusCompliant, Regulation: "ERISA 203", Notes: "within limits"},
	}
}

func TestRunDocument_PersistsEverything(t *testing.T) {
	svc, st := newTestService(t, vestingDoc())
	ctx := context.Background()

	result, err := svc.RunDocument(ctx, "acme-plan.txt", "SECTION 1. Vesting...")
	require.NoError(t, err)
	assert.Equal(t, "Report for Acme 401(k) Plan", result.Report)
	assert.Equal(t, schema.RiskLow, result.RiskLevel)
	require.Len(t, result.Findings, 1)

	run, err := st.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
	assert.Equal(t, "Low", run.RiskLevel)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.CompletedAt)
	assert.Contains(t, string(run.Extracted), "Acme 401(k) Plan")

	// Document stored with content hash.
	docs, err := st.ListDocuments(ctx, store.DocumentFilter{Name: "acme-plan.txt"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Len(t, docs[0].SHA256, 64)
	assert.Equal(t, docs[0].ID, run.DocumentID)

	// Findings persisted in evaluation order.
	findings, err := st.ListFindings(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "vesting", findings[0].Feature)
	assert.Equal(t, "cliff - 3 years", findings[0].PlanValue)
	assert.Equal(t, "compliant", findings[0].Status)
}

func TestRunDocument_EventLogCoversLifecycleAndStages(t *testing.T) {
	svc, st := newTestService(t, vestingDoc())
	ctx := context.Background()

	result, err := svc.RunDocument(ctx, "p.txt", "doc")
	require.NoError(t, err)

	events, err := st.GetEvents(ctx, result.RunID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)

	// First event is the lifecycle start, last the completion; stage traces
	// fill the middle, all gapless.
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
	assert.Equal(t, schema.EventRunCompleted, events[len(events)-1].Type)
	var stageEvents int
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
		if e.Type == schema.EventStageCompleted {
			stageEvents++
		}
	}
	assert.Equal(t, 7, stageEvents)
}

func TestStatus_ReplaysProgress(t *testing.T) {
	svc, _ := newTestService(t, vestingDoc())
	ctx := context.Background()

	result, err := svc.RunDocument(ctx, "p.txt", "doc")
	require.NoError(t, err)

	status, err := svc.Status(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, status.Run.Status)
	assert.NotEmpty(t, status.Progress)
	assert.Equal(t, int64(1), status.Progress[0].Sequence)
}

func TestReport_OnlyForCompletedRuns(t *testing.T) {
	svc, st := newTestService(t, vestingDoc())
	ctx := context.Background()

	result, err := svc.RunDocument(ctx, "p.txt", "doc")
	require.NoError(t, err)

	report, err := svc.Report(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, "Report for Acme 401(k) Plan", report.Report)
	assert.Equal(t, "Low", report.RiskLevel)
	require.Len(t, report.Findings, 1)

	// A run that never completed has no report.
	require.NoError(t, st.CreateRun(ctx, &store.Run{ID: "r-pending", Status: schema.RunStatusPending}))
	_, err = svc.Report(ctx, "r-pending")
	require.Error(t, err)

	var auditErr *schema.AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, schema.ErrCodeConflict, auditErr.Code)
}

func TestRunDocument_FailureMarksRunFailed(t *testing.T) {
	collab := vestingDoc()
	collab.extractErr = schema.NewError(schema.ErrCodeExtraction, "unreadable document")
	svc, st := newTestService(t, collab)
	ctx := context.Background()

	_, err := svc.RunDocument(ctx, "p.txt", "doc")
	require.Error(t, err)

	var auditErr *schema.AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, schema.ErrCodeExtraction, auditErr.Code)

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, schema.RunStatusFailed, runs[0].Status)
	assert.Contains(t, string(runs[0].Error), "unreadable document")
	assert.NotNil(t, runs[0].CompletedAt)

	// Failure is recorded in the event log too.
	events, err := st.GetEventsByType(ctx, schema.EventRunFailed, store.EventFilter{RunID: runs[0].ID})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAuditStored_UnknownDocument(t *testing.T) {
	svc, _ := newTestService(t, vestingDoc())

	_, err := svc.AuditStored(context.Background(), "no-such-doc")
	require.Error(t, err)

	var auditErr *schema.AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, schema.ErrCodeNotFound, auditErr.Code)
}
