package graph

import (
	"context"
	"errors"
	"log/slog"

	"github.com/verityops/plandrift/internal/logging"
	"github.com/verityops/plandrift/internal/streaming"
	"github.com/verityops/plandrift/pkg/schema"
)

// DefaultMaxSteps is the default hard ceiling on state machine transitions.
// A full run over all six catalog features needs at most 32 steps; the
// ceiling exists as a safety valve against malformed state looping forever,
// and breaching it is a fatal run error, never a silent truncation.
const DefaultMaxSteps = 60

// TraceEntry is one step of the execution trace: the stage that ran and the
// partial update it produced. The ordered trace is the engine's observable
// progress feed and must be reproducible for a given document and
// collaborator behavior.
type TraceEntry struct {
	Seq     int    `json:"seq"`
	Stage   Stage  `json:"stage"`
	Feature string `json:"feature,omitempty"`
	Update  Update `json:"update"`
}

// TraceSink persists trace entries as they are produced. Satisfied by the
// store event log; optional.
type TraceSink interface {
	AppendTrace(ctx context.Context, runID string, entry TraceEntry) error
}

// Result is the outcome of a completed run: the final state and the full
// step trace.
type Result struct {
	RunID string     `json:"run_id"`
	State AuditState `json:"state"`
	Trace []TraceEntry `json:"trace"`
}

// Options configures an Engine. Zero values select defaults; Hub and Trace
// are optional observability sinks.
type Options struct {
	MaxSteps int
	Hub      streaming.EventHub
	Trace    TraceSink
	Logger   *slog.Logger
}

// Engine drives the audit state machine. One Engine serves any number of
// concurrent runs: all per-run state lives in the AuditState value owned by
// Run, and collaborators are required to be thread-safe.
type Engine struct {
	collab   Collaborators
	registry *FeatureRegistry
	maxSteps int
	hub      streaming.EventHub
	trace    TraceSink
	logger   *slog.Logger

	stages map[Stage]stageFunc
}

type stageFunc func(ctx context.Context, s AuditState) (Update, error)

// NewEngine creates an Engine with the given collaborators.
func NewEngine(collab Collaborators, opts Options) *Engine {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := &Engine{
		collab:   collab,
		registry: NewFeatureRegistry(),
		maxSteps: opts.MaxSteps,
		hub:      opts.Hub,
		trace:    opts.Trace,
		logger:   opts.Logger,
	}

	e.stages = map[Stage]stageFunc{
		StageExtractFeatures:   e.extractFeatures,
		StageSelectNextFeature: e.selectNextFeature,
		StageSearchKB:          e.searchKB,
		StageEvaluateKB:        e.evaluateKB,
		StageSearchWeb:         e.searchWeb,
		StageDetermine:         e.determineCompliance,
		StageGenerateReport:    e.generateReport,
	}

	return e
}

// Run executes one audit from extraction to report. Stages run strictly
// sequentially; the only suspension points are collaborator calls. On fatal
// error no partial result is returned — the error carries the stage and
// feature that were in progress.
func (e *Engine) Run(ctx context.Context, runID, documentText string) (*Result, error) {
	ctx = logging.WithRunID(ctx, runID)

	state := AuditState{DocumentText: documentText}
	result := &Result{RunID: runID}

	stage := StageExtractFeatures
	steps := 0

	for stage != StageDone {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "run cancelled before stage dispatch").
				WithStage(string(stage)).
				WithFeature(state.CurrentFeature).
				WithCause(err)
		}

		steps++
		if steps > e.maxSteps {
			return nil, schema.NewErrorf(schema.ErrCodeIterationLimit,
				"step ceiling of %d transitions exceeded", e.maxSteps).
				WithStage(string(stage)).
				WithFeature(state.CurrentFeature)
		}

		stageCtx := logging.WithStage(ctx, string(stage))
		if state.CurrentFeature != "" {
			stageCtx = logging.WithFeature(stageCtx, state.CurrentFeature)
		}

		fn, ok := e.stages[stage]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "no stage function for %q", stage).
				WithStage(string(stage))
		}

		update, err := fn(stageCtx, state)
		if err != nil {
			return nil, e.fatal(stageCtx, stage, state, err)
		}

		state.Apply(update)

		entry := TraceEntry{
			Seq:     steps,
			Stage:   stage,
			Feature: state.CurrentFeature,
			Update:  update,
		}
		result.Trace = append(result.Trace, entry)
		e.record(stageCtx, runID, entry)

		stage = nextStage(stage, state)
	}

	result.State = state
	return result, nil
}

// fatal normalizes a stage error into an AuditError annotated with the
// stage and feature in progress, so the failed run stays auditable.
func (e *Engine) fatal(ctx context.Context, stage Stage, state AuditState, err error) error {
	var auditErr *schema.AuditError
	if !errors.As(err, &auditErr) {
		auditErr = schema.NewErrorf(schema.ErrCodeExecution, "stage failed: %s", err.Error()).WithCause(err)
	}
	if auditErr.Stage == "" {
		auditErr.Stage = string(stage)
	}
	if auditErr.Feature == "" {
		auditErr.Feature = state.CurrentFeature
	}

	e.logger.ErrorContext(ctx, "audit run failed",
		"code", auditErr.Code,
		"error", auditErr.Message,
	)
	e.publish(ctx, schema.EventStageFailed, state.CurrentFeature, map[string]any{
		"code":  auditErr.Code,
		"error": auditErr.Message,
	})
	return auditErr
}

// record pushes a completed transition to the optional observability sinks.
// Both are best-effort: the progress feed and persisted trace never gate
// run correctness.
func (e *Engine) record(ctx context.Context, runID string, entry TraceEntry) {
	e.publish(ctx, schema.EventStageCompleted, entry.Feature, entry)

	if e.trace != nil {
		if err := e.trace.AppendTrace(ctx, runID, entry); err != nil {
			e.logger.WarnContext(ctx, "trace append failed", "error", err.Error())
		}
	}
}

func (e *Engine) publish(ctx context.Context, eventType, feature string, payload any) {
	if e.hub == nil {
		return
	}
	_ = e.hub.Publish(ctx, streaming.StageEvent{
		RunID:     logging.RunID(ctx),
		Stage:     logging.Stage(ctx),
		Feature:   feature,
		EventType: eventType,
		Payload:   payload,
	})
}
