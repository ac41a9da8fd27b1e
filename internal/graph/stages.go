package graph

import (
	"context"
	"strings"

	"github.com/verityops/plandrift/pkg/schema"
)

// Per-stage result budgets. Fixed by contract: lookups request the top 3
// ranked passages, official-source search is capped at 3 links.
const (
	kbTopK        = 3
	webMaxResults = 3
)

// extractFeatures converts the raw document into the structured feature
// mapping and derives the work queue from the feature catalog gates. The
// findings accumulator is reset here so a reused engine never leaks
// findings between runs.
func (e *Engine) extractFeatures(ctx context.Context, s AuditState) (Update, error) {
	extracted, err := e.collab.Extractor.ExtractFeatures(ctx, s.DocumentText)
	if err != nil {
		return Update{}, err
	}

	queue, err := e.registry.CheckableFeatures(ctx, extracted)
	if err != nil {
		return Update{}, err
	}

	e.logger.InfoContext(ctx, "features extracted",
		"checkable", len(queue),
		"queue", queue,
	)

	return Update{
		Extracted:     extracted,
		Queue:         &queue,
		ResetFindings: true,
	}, nil
}

// selectNextFeature pops the head of the queue and projects its plan value.
// An empty queue sets the empty-feature sentinel that routes the machine to
// report generation. Per-iteration evidence fields are cleared here so a
// skipped search stage can never leak the previous feature's links into the
// next finding.
func (e *Engine) selectNextFeature(ctx context.Context, s AuditState) (Update, error) {
	cleared := Update{
		KBResults:    ptr(""),
		KBSufficient: ptr(false),
		WebResults:   ptr(""),
		WebLinks:     ptr([]schema.Link(nil)),
	}

	if len(s.Queue) == 0 {
		cleared.CurrentFeature = ptr("")
		cleared.CurrentValue = ptr("")
		cleared.Queue = ptr([]string(nil))
		return cleared, nil
	}

	feature := s.Queue[0]
	remaining := append([]string(nil), s.Queue[1:]...)

	value, err := e.registry.PlanValue(ctx, feature, s.Extracted)
	if err != nil {
		return Update{}, err
	}

	cleared.CurrentFeature = &feature
	cleared.CurrentValue = &value
	cleared.Queue = &remaining
	return cleared, nil
}

// searchKB retrieves ranked regulation text for the current feature using
// its canonical query. The result is stored verbatim; an empty result is a
// valid outcome, not an error.
func (e *Engine) searchKB(ctx context.Context, s AuditState) (Update, error) {
	query := e.registry.Query(s.CurrentFeature)

	results, err := e.collab.Knowledge.LookupKnowledge(ctx, query, kbTopK)
	if err != nil {
		return Update{}, err
	}

	return Update{KBResults: &results}, nil
}

// evaluateKB asks the reasoner whether internal evidence alone suffices.
// Classification failures never fail the run: the conservative reading of
// an unusable answer is "insufficient", which escalates to web search.
func (e *Engine) evaluateKB(ctx context.Context, s AuditState) (Update, error) {
	sufficient, err := e.collab.Reasoner.ClassifySufficiency(ctx, s.CurrentFeature, s.CurrentValue, s.KBResults)
	if err != nil {
		e.logger.WarnContext(ctx, "sufficiency classification failed, defaulting to insufficient",
			"error", err.Error(),
		)
		sufficient = false
	}

	return Update{KBSufficient: &sufficient}, nil
}

// searchWeb queries allow-listed official sources with the recency-qualified
// feature query. A collaborator failure degrades the iteration instead of
// aborting the run: the finding gets a single synthetic marker link and
// adjudication proceeds on internal evidence alone.
func (e *Engine) searchWeb(ctx context.Context, s AuditState) (Update, error) {
	query := e.registry.WebQuery(s.CurrentFeature)

	links, err := e.collab.Search.SearchOfficialSources(ctx, query, webMaxResults)
	if err != nil {
		e.logger.WarnContext(ctx, "official-source search failed, continuing degraded",
			"error", err.Error(),
		)
		e.publish(ctx, schema.EventSearchDegraded, s.CurrentFeature, map[string]any{"error": err.Error()})
		degraded := []schema.Link{{
			Title:   "Official-source search unavailable",
			Snippet: err.Error(),
		}}
		return Update{
			WebLinks:   &degraded,
			WebResults: ptr(""),
		}, nil
	}

	webText := formatLinks(links)
	return Update{
		WebLinks:   &links,
		WebResults: &webText,
	}, nil
}

// determineCompliance combines internal and web evidence into one blob and
// asks the reasoner for a structured verdict. Malformed verdicts are fatal
// by contract; exactly one finding is appended on success, carrying the
// links gathered this iteration (empty when search was skipped).
func (e *Engine) determineCompliance(ctx context.Context, s AuditState) (Update, error) {
	regulations := s.KBResults
	if s.WebResults != "" {
		regulations += "\n\n" + s.WebResults
	}

	verdict, err := e.collab.Reasoner.Adjudicate(ctx, s.CurrentFeature, s.CurrentValue, regulations)
	if err != nil {
		return Update{}, err
	}

	source := "Knowledge Base"
	if s.WebResults != "" || len(s.WebLinks) > 0 {
		source = "Web Search"
	}

	finding := schema.Finding{
		Feature:    s.CurrentFeature,
		PlanValue:  s.CurrentValue,
		Regulation: verdict.Regulation,
		Source:     source,
		Status:     verdict.Status,
		Notes:      verdict.Notes,
		Links:      s.WebLinks,
	}

	e.publish(ctx, schema.EventFindingAdded, s.CurrentFeature, finding)

	return Update{Findings: []schema.Finding{finding}}, nil
}

// generateReport runs exactly once, after the queue is exhausted. Report
// prose comes from the reasoner; the risk level is computed here, never by
// the model, because it is the one machine-checkable output of the run.
func (e *Engine) generateReport(ctx context.Context, s AuditState) (Update, error) {
	planName := "Unknown Plan"
	if v, ok := s.Extracted["plan_name"].(string); ok && v != "" {
		planName = v
	}

	report, err := e.collab.Reasoner.SynthesizeReport(ctx, planName, s.Findings)
	if err != nil {
		return Update{}, err
	}

	risk := schema.ComputeRiskLevel(s.Findings)

	e.logger.InfoContext(ctx, "report generated",
		"findings", len(s.Findings),
		"risk_level", string(risk),
	)

	return Update{Report: &report, RiskLevel: &risk}, nil
}

// formatLinks renders links as a compact text block for the adjudication
// prompt, keeping the structured records separate for the finding.
func formatLinks(links []schema.Link) string {
	var b strings.Builder
	for _, l := range links {
		if l.URL == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- " + l.Title + ": " + l.URL)
	}
	return b.String()
}
