// Package graph implements the compliance audit state machine: a shared
// state record threaded through seven stages, two router predicates, and
// an engine that drives execution from extraction to report.
package graph

import "github.com/verityops/plandrift/pkg/schema"

// AuditState is the single mutable record for one audit run. It is owned
// exclusively by the Engine; stages receive a value copy and return a
// partial Update which the engine merges back.
type AuditState struct {
	// Input, immutable after run start.
	DocumentText string

	// Written once by extract_features, read-only thereafter.
	Extracted map[string]any

	// Work list, popped from the front by select_next_feature.
	// Insertion order is discovery order; never contains duplicates.
	Queue []string

	// Feature under evaluation. Empty string is the loop-termination
	// sentinel set when the queue runs dry.
	CurrentFeature string
	CurrentValue   string

	// Overwritten every iteration.
	KBResults    string
	KBSufficient bool
	WebResults   string
	WebLinks     []schema.Link

	// Append-only accumulator across iterations.
	Findings []schema.Finding

	// Written once by generate_report.
	Report    string
	RiskLevel schema.RiskLevel
}

// Update is the typed partial update returned by a stage. Nil pointer
// fields are untouched by the merge; Findings is concatenated, never
// replaced. Field-specific merge rules instead of a generic map merge keep
// the accumulation semantics explicit and testable in isolation.
type Update struct {
	Extracted      map[string]any  `json:"extracted,omitempty"`
	Queue          *[]string       `json:"queue,omitempty"`
	CurrentFeature *string         `json:"current_feature,omitempty"`
	CurrentValue   *string         `json:"current_value,omitempty"`
	KBResults      *string         `json:"kb_results,omitempty"`
	KBSufficient   *bool           `json:"kb_sufficient,omitempty"`
	WebResults     *string         `json:"web_results,omitempty"`
	WebLinks       *[]schema.Link  `json:"web_links,omitempty"`
	Findings       []schema.Finding `json:"findings,omitempty"`
	ResetFindings  bool            `json:"reset_findings,omitempty"`
	Report         *string          `json:"report,omitempty"`
	RiskLevel      *schema.RiskLevel `json:"risk_level,omitempty"`
}

// Apply merges a partial update into the state. Every field overwrites,
// except Findings which appends (ResetFindings clears the accumulator
// first — used only by extract_features at run start).
func (s *AuditState) Apply(u Update) {
	if u.Extracted != nil {
		s.Extracted = u.Extracted
	}
	if u.Queue != nil {
		s.Queue = *u.Queue
	}
	if u.CurrentFeature != nil {
		s.CurrentFeature = *u.CurrentFeature
	}
	if u.CurrentValue != nil {
		s.CurrentValue = *u.CurrentValue
	}
	if u.KBResults != nil {
		s.KBResults = *u.KBResults
	}
	if u.KBSufficient != nil {
		s.KBSufficient = *u.KBSufficient
	}
	if u.WebResults != nil {
		s.WebResults = *u.WebResults
	}
	if u.WebLinks != nil {
		s.WebLinks = *u.WebLinks
	}
	if u.ResetFindings {
		s.Findings = nil
	}
	s.Findings = append(s.Findings, u.Findings...)
	if u.Report != nil {
		s.Report = *u.Report
	}
	if u.RiskLevel != nil {
		s.RiskLevel = *u.RiskLevel
	}
}

func ptr[T any](v T) *T { return &v }
