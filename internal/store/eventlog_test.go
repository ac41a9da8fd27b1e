package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verityops/plandrift/pkg/schema"
)

func TestEventLog_AppendAssignsSequence(t *testing.T) {
	s := newTestStore(t)
	log := NewEventLog(s)
	ctx := context.Background()

	e1 := &Event{RunID: "r1", Type: "run_started"}
	e2 := &Event{RunID: "r1", Type: "stage_completed", Stage: "extract_features"}
	require.NoError(t, log.AppendEvent(ctx, e1))
	require.NoError(t, log.AppendEvent(ctx, e2))

	assert.Equal(t, int64(1), e1.Sequence)
	assert.Equal(t, int64(2), e2.Sequence)
	assert.False(t, e1.Timestamp.IsZero())
}

func TestEventLog_ConcurrentAppendsStayGapless(t *testing.T) {
	s := newTestStore(t)
	log := NewEventLog(s)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- log.AppendEvent(ctx, &Event{RunID: "r1", Type: "stage_completed"})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events, err := log.GetEvents(ctx, "r1", 0)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestEventLog_ReplayRun(t *testing.T) {
	s := newTestStore(t)
	log := NewEventLog(s)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]string{"feature": "vesting"})
	require.NoError(t, log.AppendEvent(ctx, &Event{RunID: "r1", Type: "run_started"}))
	require.NoError(t, log.AppendEvent(ctx, &Event{
		RunID: "r1", Type: "stage_completed", Stage: "search_kb", Feature: "vesting", Payload: payload,
	}))

	progress, err := log.ReplayRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, progress, 2)
	assert.Equal(t, int64(1), progress[0].Sequence)
	assert.Equal(t, "run_started", progress[0].Type)
	assert.Equal(t, "search_kb", progress[1].Stage)
	assert.Equal(t, "vesting", progress[1].Feature)
	assert.JSONEq(t, string(payload), string(progress[1].Payload))
}

func TestEventLog_ReplayDetectsGaps(t *testing.T) {
	s := newTestStore(t)
	log := NewEventLog(s)
	ctx := context.Background()

	require.NoError(t, log.AppendEvent(ctx, &Event{RunID: "r1", Type: "run_started"}))
	require.NoError(t, log.AppendEvent(ctx, &Event{RunID: "r1", Type: "stage_completed"}))

	// Punch a hole in the log.
	_, err := s.DB().ExecContext(ctx, `DELETE FROM events WHERE run_id = 'r1' AND sequence = 1`)
	require.NoError(t, err)

	_, err = log.ReplayRun(ctx, "r1")
	require.Error(t, err)

	var auditErr *schema.AuditError
	require.ErrorAs(t, err, &auditErr)
	assert.Equal(t, schema.ErrCodeStore, auditErr.Code)
}

func TestEventLog_ReplayEmptyRun(t *testing.T) {
	s := newTestStore(t)
	log := NewEventLog(s)

	progress, err := log.ReplayRun(context.Background(), "no-such-run")
	require.NoError(t, err)
	assert.Empty(t, progress)
}
