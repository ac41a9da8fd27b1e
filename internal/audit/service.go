// Package audit wires the state machine engine to persistence: it owns the
// run lifecycle, stores findings and reports, and serves status queries.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/verityops/plandrift/internal/graph"
	"github.com/verityops/plandrift/internal/store"
	"github.com/verityops/plandrift/pkg/schema"
)

// Service runs audits end to end and persists every step of the way.
// Safe for concurrent use; each run owns its own state.
type Service struct {
	store    store.Store
	eventLog *store.EventLog
	engine   *graph.Engine
	fsm      *RunFSM
	logger   *slog.Logger
}

// NewService creates a Service. The engine should be constructed with
// TraceAppender(eventLog) as its trace sink so the persisted event log and
// the in-memory trace stay in step.
func NewService(st store.Store, eventLog *store.EventLog, engine *graph.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		eventLog: eventLog,
		engine:   engine,
		fsm:      NewRunFSM(eventLog),
		logger:   logger,
	}
}

// RunResult is the caller-facing summary of a completed audit.
type RunResult struct {
	RunID     string           `json:"run_id"`
	Report    string           `json:"report"`
	RiskLevel schema.RiskLevel `json:"risk_level"`
	Findings  []schema.Finding `json:"findings"`
}

// RunDocument stores the document and audits it in one call.
func (s *Service) RunDocument(ctx context.Context, name, text string) (*RunResult, error) {
	sum := sha256.Sum256([]byte(text))
	doc := &store.Document{
		ID:     uuid.NewString(),
		Name:   name,
		Text:   text,
		SHA256: hex.EncodeToString(sum[:]),
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "store document: %s", err.Error()).WithCause(err)
	}
	return s.audit(ctx, doc)
}

// AuditStored audits a previously stored document.
func (s *Service) AuditStored(ctx context.Context, documentID string) (*RunResult, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.audit(ctx, doc)
}

func (s *Service) audit(ctx context.Context, doc *store.Document) (*RunResult, error) {
	runID := uuid.NewString()

	run := &store.Run{
		ID:         runID,
		DocumentID: doc.ID,
		Status:     schema.RunStatusPending,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
	}

	if err := s.transition(ctx, runID, schema.RunStatusPending, schema.RunStatusActive); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	_ = s.store.UpdateRun(ctx, runID, store.RunUpdate{StartedAt: &now})

	result, err := s.engine.Run(ctx, runID, doc.Text)
	if err != nil {
		s.recordFailure(ctx, runID, err)
		return nil, err
	}

	if err := s.persistResult(ctx, runID, result); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "audit completed",
		"run_id", runID,
		"document_id", doc.ID,
		"risk_level", string(result.State.RiskLevel),
		"findings", len(result.State.Findings),
	)

	return &RunResult{
		RunID:     runID,
		Report:    result.State.Report,
		RiskLevel: result.State.RiskLevel,
		Findings:  result.State.Findings,
	}, nil
}

func (s *Service) persistResult(ctx context.Context, runID string, result *graph.Result) error {
	if err := s.transition(ctx, runID, schema.RunStatusActive, schema.RunStatusCompleted); err != nil {
		return err
	}

	extracted, _ := json.Marshal(result.State.Extracted)
	status := schema.RunStatusCompleted
	risk := string(result.State.RiskLevel)
	now := time.Now().UTC()
	if err := s.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:      &status,
		Extracted:   extracted,
		Report:      &result.State.Report,
		RiskLevel:   &risk,
		CompletedAt: &now,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist run result: %s", err.Error()).WithCause(err)
	}

	stored := make([]*store.StoredFinding, 0, len(result.State.Findings))
	for i, f := range result.State.Findings {
		links, _ := json.Marshal(f.Links)
		stored = append(stored, &store.StoredFinding{
			RunID:      runID,
			Position:   i,
			Feature:    f.Feature,
			PlanValue:  f.PlanValue,
			Regulation: f.Regulation,
			Source:     f.Source,
			Status:     string(f.Status),
			Notes:      f.Notes,
			Links:      links,
		})
	}
	if err := s.store.ReplaceFindings(ctx, runID, stored); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist findings: %s", err.Error()).WithCause(err)
	}
	return nil
}

// recordFailure moves the run to its terminal failure state. Persistence
// errors here are logged, not returned: the engine error is the one the
// caller needs.
func (s *Service) recordFailure(ctx context.Context, runID string, runErr error) {
	target := schema.RunStatusFailed
	var auditErr *schema.AuditError
	if errors.As(runErr, &auditErr) && auditErr.Code == schema.ErrCodeCancelled {
		target = schema.RunStatusCancelled
	}

	if err := s.transition(ctx, runID, schema.RunStatusActive, target); err != nil {
		s.logger.WarnContext(ctx, "record run failure transition", "run_id", runID, "error", err.Error())
	}

	errPayload, _ := json.Marshal(map[string]any{"error": runErr.Error()})
	now := time.Now().UTC()
	if err := s.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:      &target,
		Error:       errPayload,
		CompletedAt: &now,
	}); err != nil {
		s.logger.WarnContext(ctx, "record run failure", "run_id", runID, "error", err.Error())
	}
}

func (s *Service) transition(ctx context.Context, runID string, from, to schema.RunStatus) error {
	if err := s.fsm.Transition(ctx, runID, from, to); err != nil {
		return err
	}
	if from == schema.RunStatusPending && to == schema.RunStatusActive {
		status := to
		return s.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &status})
	}
	return nil
}

// RunStatus is the run summary plus its replayed progress.
type RunStatus struct {
	Run      *store.Run            `json:"run"`
	Progress []store.StageProgress `json:"progress"`
}

// Status returns the current lifecycle state and stage progress of a run.
func (s *Service) Status(ctx context.Context, runID string) (*RunStatus, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	progress, err := s.eventLog.ReplayRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunStatus{Run: run, Progress: progress}, nil
}

// RunReport is the persisted report of a completed run.
type RunReport struct {
	RunID     string                 `json:"run_id"`
	Report    string                 `json:"report"`
	RiskLevel string                 `json:"risk_level"`
	Findings  []*store.StoredFinding `json:"findings"`
}

// Report returns the report and findings of a completed run. Runs that
// have not completed have no report.
func (s *Service) Report(ctx context.Context, runID string) (*RunReport, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != schema.RunStatusCompleted {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"run %s has no report: status is %s", runID, run.Status)
	}
	findings, err := s.store.ListFindings(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunReport{
		RunID:     runID,
		Report:    run.Report,
		RiskLevel: run.RiskLevel,
		Findings:  findings,
	}, nil
}
