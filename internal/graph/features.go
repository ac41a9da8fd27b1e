package graph

import (
	"context"
	"fmt"

	"github.com/verityops/plandrift/internal/expressions"
)

// FeatureSpec describes one checkable plan feature: how to tell whether the
// extracted document carries it (Gate), how to render its plan value for
// humans and prompts (Projection), and the canonical knowledge-base query
// used to retrieve the governing regulation text.
type FeatureSpec struct {
	ID         string
	Gate       string // jq: non-null result means the feature is checkable
	Projection string // jq: human-readable plan value
	Query      string // canonical KB query template
}

// checkableFeatures is the fixed feature catalog, in canonical evaluation
// order. Each feature is gated independently on presence of its source
// attribute; the queue produced by extraction preserves this order exactly.
var checkableFeatures = []FeatureSpec{
	{
		ID:         "eligibility_age",
		Gate:       ".eligibility.age_requirement",
		Projection: ".eligibility.age_requirement | tostring",
		Query:      "401k plan maximum age requirement eligibility ERISA",
	},
	{
		ID:         "eligibility_service",
		Gate:       ".eligibility.service_requirement",
		Projection: ".eligibility.service_requirement | tostring",
		Query:      "401k plan maximum service requirement eligibility years",
	},
	{
		ID:         "vesting",
		Gate:       ".vesting.type",
		Projection: `"\(.vesting.type) - \(.vesting.schedule // "N/A")"`,
		Query:      "401k vesting schedule requirements cliff graded maximum years ERISA",
	},
	{
		ID:         "employer_match",
		Gate:       ".contributions.employer_match_formula",
		Projection: ".contributions.employer_match_formula | tostring",
		Query:      "401k employer matching contribution requirements safe harbor",
	},
	{
		ID:         "auto_enrollment",
		Gate:       ".auto_enrollment.enabled",
		Projection: `"Enabled: \(.auto_enrollment.enabled), Rate: \(.auto_enrollment.default_rate)%"`,
		Query:      "401k automatic enrollment requirements SECURE 2.0 2025",
	},
	{
		ID:         "catch_up",
		Gate:       ".contributions.catch_up_allowed",
		Projection: ".contributions.catch_up_allowed | tostring",
		Query:      "401k catch-up contribution limits age 50 SECURE 2.0",
	},
}

// recencyQualifier is appended to the KB query when escalating to
// official-source web search.
const recencyQualifier = " 2024 2025"

// FeatureRegistry evaluates gates and projections of the feature catalog
// against an extracted plan document. Safe for concurrent use.
type FeatureRegistry struct {
	jq *expressions.GoJQEngine
}

// NewFeatureRegistry creates a registry backed by a fresh gojq engine.
func NewFeatureRegistry() *FeatureRegistry {
	return &FeatureRegistry{jq: expressions.NewGoJQEngine()}
}

// CheckableFeatures returns the feature IDs whose gate attribute is present
// (non-null) in the extracted document, in canonical order.
func (r *FeatureRegistry) CheckableFeatures(ctx context.Context, extracted map[string]any) ([]string, error) {
	var ids []string
	for _, spec := range checkableFeatures {
		val, err := r.jq.Evaluate(ctx, spec.Gate, extracted)
		if err != nil {
			return nil, err
		}
		if val != nil {
			ids = append(ids, spec.ID)
		}
	}
	return ids, nil
}

// PlanValue renders the human-readable plan value for a feature. Missing
// subfields surface as jq's null rendering or the registered placeholder.
func (r *FeatureRegistry) PlanValue(ctx context.Context, featureID string, extracted map[string]any) (string, error) {
	spec, ok := r.lookup(featureID)
	if !ok {
		return "", fmt.Errorf("unknown feature %q", featureID)
	}
	val, err := r.jq.Evaluate(ctx, spec.Projection, extracted)
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	if s, ok := val.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", val), nil
}

// Query returns the canonical knowledge-base query for a feature. Unknown
// features fall back to the raw feature ID, mirroring a lookup miss.
func (r *FeatureRegistry) Query(featureID string) string {
	if spec, ok := r.lookup(featureID); ok {
		return spec.Query
	}
	return featureID
}

// WebQuery returns the official-source search query: the canonical query
// plus a fixed recency qualifier.
func (r *FeatureRegistry) WebQuery(featureID string) string {
	return r.Query(featureID) + recencyQualifier
}

func (r *FeatureRegistry) lookup(featureID string) (FeatureSpec, bool) {
	for _, spec := range checkableFeatures {
		if spec.ID == featureID {
			return spec, true
		}
	}
	return FeatureSpec{}, false
}
