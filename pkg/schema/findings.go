// Package schema defines the shared value types of the plandrift audit
// engine: structured errors, finding and verdict records, run lifecycle
// statuses, and strict validation of collaborator output.
package schema

// FindingStatus is the compliance verdict for a single plan feature.
type FindingStatus string

const (
	StatusCompliant   FindingStatus = "compliant"
	StatusGap         FindingStatus = "gap"
	StatusNeedsReview FindingStatus = "needs_review"
)

// RiskLevel is the aggregate severity computed from finding statuses.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Link is one external reference gathered during official-source search.
type Link struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Finding is the immutable verdict record produced for one feature.
// Exactly one Finding is appended per feature processed.
type Finding struct {
	Feature    string        `json:"feature"`
	PlanValue  string        `json:"plan_value"`
	Regulation string        `json:"regulation"`
	Source     string        `json:"source"`
	Status     FindingStatus `json:"status"`
	Notes      string        `json:"notes"`
	Links      []Link        `json:"links,omitempty"`
}

// Verdict is the structured output of the adjudicator for one feature.
type Verdict struct {
	Status     FindingStatus `json:"status"`
	Regulation string        `json:"regulation"`
	Notes      string        `json:"notes"`
}

// ComputeRiskLevel derives the aggregate risk from accumulated findings.
// The rule is deterministic and engine-side, never delegated to a model:
// two or more gaps mean High; one gap, or two or more needs_review, mean
// Medium; anything else is Low. A pure function of its input.
func ComputeRiskLevel(findings []Finding) RiskLevel {
	var gaps, reviews int
	for _, f := range findings {
		switch f.Status {
		case StatusGap:
			gaps++
		case StatusNeedsReview:
			reviews++
		}
	}
	switch {
	case gaps >= 2:
		return RiskHigh
	case gaps == 1 || reviews >= 2:
		return RiskMedium
	default:
		return RiskLow
	}
}
