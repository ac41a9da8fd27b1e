package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCEL_EvaluateBool(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"last": map[string]any{
			"status":     "completed",
			"risk_level": "High",
		},
		"job": map[string]any{
			"id":          "job-1",
			"document_id": "doc-1",
		},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"risk match", `last.risk_level == "High"`, true},
		{"risk mismatch", `last.risk_level == "Low"`, false},
		{"status and risk", `last.status == "completed" && last.risk_level in ["Medium", "High"]`, true},
		{"job metadata", `job.document_id == "doc-1"`, true},
		{"negation", `!(last.status == "failed")`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateBool(tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCEL_MissingKeysAreErrors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// Defaults keep 'last' and 'job' bound even when the caller passes nothing,
	// but a lookup on a key that is absent still fails at eval time.
	_, err = e.EvaluateBool(`last.risk_level == "High"`, nil)
	assert.Error(t, err)
}

func TestCEL_CompileErrors(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.EvaluateBool(`last.risk_level ==`, nil)
	assert.Error(t, err)

	_, err = e.EvaluateBool(``, nil)
	assert.Error(t, err)

	// Unknown top-level variables are rejected at compile time.
	_, err = e.EvaluateBool(`document.size > 10`, nil)
	assert.Error(t, err)
}

func TestCEL_NonBooleanResultRejected(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.EvaluateBool(`job.id`, map[string]any{
		"job": map[string]any{"id": "job-1"},
	})
	assert.Error(t, err)
}

func TestCEL_CacheReuse(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	expr := `last.status == "completed"`
	data := map[string]any{"last": map[string]any{"status": "completed"}}

	_, err = e.EvaluateBool(expr, data)
	require.NoError(t, err)

	e.mu.RLock()
	_, cached := e.cache[expr]
	e.mu.RUnlock()
	assert.True(t, cached)

	got, err := e.EvaluateBool(expr, data)
	require.NoError(t, err)
	assert.True(t, got)
}
