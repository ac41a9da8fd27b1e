// Package reasoning holds the model-backed judgment calls of the audit:
// evidence sufficiency, per-feature adjudication, and report synthesis.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/verityops/plandrift/internal/extract"
	"github.com/verityops/plandrift/internal/llm"
	"github.com/verityops/plandrift/pkg/schema"
)

const sufficiencyPrompt = `You are a compliance expert evaluating if knowledge base results answer the question.

Feature being checked: %s
Plan value: %s

Knowledge base results:
%s

Question: Do these results provide enough information to determine if the plan value is compliant?

Respond with ONLY "sufficient" or "insufficient".`

const adjudicationPrompt = `You are a 401(k) compliance expert. Determine if the plan feature is compliant.

Feature: %s
Plan Value: %s

Regulations Found:
%s

Based on the regulations, is this plan feature compliant?

Respond in this exact JSON format:
{
  "status": "compliant" or "gap" or "needs_review",
  "regulation": "the specific rule that applies",
  "notes": "brief explanation"
}`

const reportPrompt = `You are a compliance report writer. Generate a clear, professional compliance report.

Plan Name: %s

Findings:
%s

Generate a compliance report with:
1. Executive Summary (2-3 sentences)
2. Compliant Items (list with ✓)
3. Gaps Found (list with ✗)
4. Items Needing Review (list with ⚠)
5. Overall Risk Level (Low/Medium/High)
6. Recommended Actions

Be concise but thorough.`

// Reasoner implements the three judgment operations on top of a chat model.
type Reasoner struct {
	client llm.Client
	logger *slog.Logger
}

// New creates a Reasoner backed by the given model client.
func New(client llm.Client, logger *slog.Logger) *Reasoner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reasoner{client: client, logger: logger}
}

// ClassifySufficiency asks whether internal evidence alone supports a
// verdict. Only an answer that trims and case-folds to exactly
// "sufficient" counts; anything else reads as insufficient.
func (r *Reasoner) ClassifySufficiency(ctx context.Context, feature, planValue, kbResults string) (bool, error) {
	prompt := fmt.Sprintf(sufficiencyPrompt, feature, planValue, kbResults)

	raw, err := r.client.Complete(ctx, "", prompt)
	if err != nil {
		return false, err
	}

	answer := strings.ToLower(strings.TrimSpace(raw))
	return answer == "sufficient", nil
}

// Adjudicate produces the structured verdict for one feature. A response
// that does not validate as a verdict is a fatal error by contract: a
// half-parsed verdict must never become a finding.
func (r *Reasoner) Adjudicate(ctx context.Context, feature, planValue, regulations string) (*schema.Verdict, error) {
	prompt := fmt.Sprintf(adjudicationPrompt, feature, planValue, regulations)

	raw, err := r.client.Complete(ctx, "", prompt)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAdjudicationParse, "adjudication call failed: %s", err.Error()).
			WithCause(err).
			WithFeature(feature)
	}

	verdict, err := schema.ValidateVerdict([]byte(extract.StripFences(raw)))
	if err != nil {
		var auditErr *schema.AuditError
		if errors.As(err, &auditErr) && auditErr.Feature == "" {
			auditErr.Feature = feature
		}
		return nil, err
	}
	return verdict, nil
}

// SynthesizeReport renders the final report prose from the accumulated
// findings. Risk scoring is not delegated to the model; callers compute it
// from the findings themselves.
func (r *Reasoner) SynthesizeReport(ctx context.Context, planName string, findings []schema.Finding) (string, error) {
	var b strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&b, "\nFeature: %s\nPlan Value: %s\nStatus: %s\nRegulation: %s\nSource: %s\nNotes: %s\n---\n",
			f.Feature, f.PlanValue, f.Status, f.Regulation, f.Source, f.Notes)
	}

	prompt := fmt.Sprintf(reportPrompt, planName, b.String())

	report, err := r.client.Complete(ctx, "", prompt)
	if err != nil {
		return "", err
	}

	r.logger.DebugContext(ctx, "report synthesized", "findings", len(findings))
	return report, nil
}
