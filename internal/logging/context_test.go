package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunID(ctx))
	assert.Empty(t, Stage(ctx))
	assert.Empty(t, Feature(ctx))

	ctx = WithRunID(ctx, "run-1")
	ctx = WithStage(ctx, "search_kb")
	ctx = WithFeature(ctx, "vesting")

	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "search_kb", Stage(ctx))
	assert.Equal(t, "vesting", Feature(ctx))
}

func TestCorrelationHandler_InjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithFeature(WithStage(WithRunID(context.Background(), "run-7"), "evaluate_kb"), "catch_up")
	logger.InfoContext(ctx, "checking evidence", "topk", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "run-7", record["run_id"])
	assert.Equal(t, "evaluate_kb", record["stage"])
	assert.Equal(t, "catch_up", record["feature"])
	assert.Equal(t, "checking evidence", record["msg"])
	assert.EqualValues(t, 3, record["topk"])
}

func TestCorrelationHandler_BareContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "no correlation")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	_, hasRunID := record["run_id"]
	assert.False(t, hasRunID)
}

func TestCorrelationHandler_WithAttrsPreservesWrapping(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))
	logger := base.With("component", "scheduler")

	logger.InfoContext(WithRunID(context.Background(), "run-9"), "tick")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "scheduler", record["component"])
	assert.Equal(t, "run-9", record["run_id"])
}
