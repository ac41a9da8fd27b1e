package graph

import (
	"context"

	"github.com/verityops/plandrift/pkg/schema"
)

// Collaborator contracts consumed by the engine. The engine treats all of
// them as opaque: evidence is text, links are structured records, verdicts
// are validated elsewhere. Implementations live outside this package and
// must be safe for concurrent use across runs.

// FeatureExtractor converts raw document text into the structured plan
// feature mapping. Must fail with an EXTRACTION_ERROR AuditError when the
// document is empty or the output cannot be parsed as the expected structure.
type FeatureExtractor interface {
	ExtractFeatures(ctx context.Context, documentText string) (map[string]any, error)
}

// KnowledgeSearcher returns ranked regulation text for a query.
// Returns an empty string on no match; never errors for "no results".
type KnowledgeSearcher interface {
	LookupKnowledge(ctx context.Context, query string, topK int) (string, error)
}

// OfficialSearcher queries authoritative government sources, restricted to
// an allow-listed domain set. Provider failures surface as errors; the
// search stage decides the degradation policy.
type OfficialSearcher interface {
	SearchOfficialSources(ctx context.Context, query string, maxResults int) ([]schema.Link, error)
}

// Reasoner is the adjudication/synthesis engine behind the three reasoning
// stages. The specific reasoning technology is opaque to the graph.
type Reasoner interface {
	// ClassifySufficiency judges whether the retrieved evidence alone is
	// enough to adjudicate the feature. Implementations normalize model
	// output; the evaluate stage treats any error as "insufficient".
	ClassifySufficiency(ctx context.Context, feature, planValue, evidence string) (bool, error)

	// Adjudicate produces a structured verdict for one feature. A response
	// that fails verdict validation must surface ADJUDICATION_PARSE_ERROR.
	Adjudicate(ctx context.Context, feature, planValue, regulationText string) (*schema.Verdict, error)

	// SynthesizeReport writes the final report prose from accumulated findings.
	SynthesizeReport(ctx context.Context, planName string, findings []schema.Finding) (string, error)
}

// Collaborators bundles the four external dependencies of an Engine.
type Collaborators struct {
	Extractor FeatureExtractor
	Knowledge KnowledgeSearcher
	Search    OfficialSearcher
	Reasoner  Reasoner
}
