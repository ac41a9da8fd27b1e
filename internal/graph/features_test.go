package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullExtract() map[string]any {
	return map[string]any{
		"plan_name": "Acme 401(k) Plan",
		"eligibility": map[string]any{
			"age_requirement":     float64(21),
			"service_requirement": "1 year",
		},
		"contributions": map[string]any{
			"employer_match_formula": "100% of first 3%",
			"catch_up_allowed":       true,
		},
		"vesting": map[string]any{
			"type":     "graded",
			"schedule": "20% per year",
		},
		"auto_enrollment": map[string]any{
			"enabled":      true,
			"default_rate": float64(3),
		},
	}
}

func TestCheckableFeatures_FullDocument(t *testing.T) {
	r := NewFeatureRegistry()

	ids, err := r.CheckableFeatures(context.Background(), fullExtract())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"eligibility_age",
		"eligibility_service",
		"vesting",
		"employer_match",
		"auto_enrollment",
		"catch_up",
	}, ids)
}

func TestCheckableFeatures_NullAndMissingGates(t *testing.T) {
	r := NewFeatureRegistry()

	extracted := map[string]any{
		"eligibility": map[string]any{
			"age_requirement":     nil,
			"service_requirement": nil,
		},
		"vesting": map[string]any{
			"type": "cliff",
		},
		// contributions and auto_enrollment absent entirely.
	}

	ids, err := r.CheckableFeatures(context.Background(), extracted)
	require.NoError(t, err)
	assert.Equal(t, []string{"vesting"}, ids)
}

func TestCheckableFeatures_EmptyDocument(t *testing.T) {
	r := NewFeatureRegistry()

	ids, err := r.CheckableFeatures(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPlanValue_Projections(t *testing.T) {
	r := NewFeatureRegistry()
	ctx := context.Background()
	extracted := fullExtract()

	tests := []struct {
		feature string
		want    string
	}{
		{"eligibility_age", "21"},
		{"eligibility_service", "1 year"},
		{"vesting", "graded - 20% per year"},
		{"employer_match", "100% of first 3%"},
		{"auto_enrollment", "Enabled: true, Rate: 3%"},
		{"catch_up", "true"},
	}
	for _, tt := range tests {
		got, err := r.PlanValue(ctx, tt.feature, extracted)
		require.NoError(t, err, tt.feature)
		assert.Equal(t, tt.want, got, tt.feature)
	}
}

func TestPlanValue_MissingSchedulePlaceholder(t *testing.T) {
	r := NewFeatureRegistry()

	extracted := map[string]any{
		"vesting": map[string]any{"type": "cliff", "schedule": nil},
	}
	got, err := r.PlanValue(context.Background(), "vesting", extracted)
	require.NoError(t, err)
	assert.Equal(t, "cliff - N/A", got)
}

func TestPlanValue_UnknownFeature(t *testing.T) {
	r := NewFeatureRegistry()

	_, err := r.PlanValue(context.Background(), "nonexistent", fullExtract())
	assert.Error(t, err)
}

func TestQuery_KnownAndFallback(t *testing.T) {
	r := NewFeatureRegistry()

	assert.Equal(t,
		"401k vesting schedule requirements cliff graded maximum years ERISA",
		r.Query("vesting"))

	// Unknown features fall back to the raw ID.
	assert.Equal(t, "mystery", r.Query("mystery"))
}

func TestWebQuery_AppendsRecencyQualifier(t *testing.T) {
	r := NewFeatureRegistry()

	q := r.WebQuery("catch_up")
	assert.True(t, strings.HasSuffix(q, " 2024 2025"), q)
	assert.True(t, strings.HasPrefix(q, r.Query("catch_up")), q)
}
