package audit

import (
	"context"
	"encoding/json"

	"github.com/verityops/plandrift/internal/graph"
	"github.com/verityops/plandrift/internal/store"
	"github.com/verityops/plandrift/pkg/schema"
)

// traceAppender adapts the event log to the engine's trace sink: every
// completed stage transition becomes one appended event, giving the
// persisted log the same ordering guarantees as the in-memory trace.
type traceAppender struct {
	log *store.EventLog
}

// TraceAppender wraps an EventLog as a graph.TraceSink.
func TraceAppender(log *store.EventLog) graph.TraceSink {
	return &traceAppender{log: log}
}

func (t *traceAppender) AppendTrace(ctx context.Context, runID string, entry graph.TraceEntry) error {
	payload, err := json.Marshal(entry.Update)
	if err != nil {
		return err
	}
	return t.log.AppendEvent(ctx, &store.Event{
		RunID:   runID,
		Stage:   string(entry.Stage),
		Feature: entry.Feature,
		Type:    schema.EventStageCompleted,
		Payload: payload,
	})
}
