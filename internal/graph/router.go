package graph

// Stage names the nodes of the audit state machine. The identifiers are
// stable: they appear in the persisted trace and the progress feed.
type Stage string

const (
	StageExtractFeatures   Stage = "extract_features"
	StageSelectNextFeature Stage = "select_next_feature"
	StageSearchKB          Stage = "search_kb"
	StageEvaluateKB        Stage = "evaluate_kb"
	StageSearchWeb         Stage = "search_web"
	StageDetermine         Stage = "determine_compliance"
	StageGenerateReport    Stage = "generate_report"

	// StageDone is the terminal marker; it has no stage function.
	StageDone Stage = "done"
)

// hasMoreFeatures is the loop-continuation predicate, evaluated after
// select_next_feature: a selected feature routes to knowledge lookup, the
// empty sentinel routes to report generation.
func hasMoreFeatures(s AuditState) Stage {
	if s.CurrentFeature == "" {
		return StageGenerateReport
	}
	return StageSearchKB
}

// needsWebSearch is the escalation predicate, evaluated after evaluate_kb:
// sufficient internal evidence skips the web entirely.
func needsWebSearch(s AuditState) Stage {
	if s.KBSufficient {
		return StageDetermine
	}
	return StageSearchWeb
}

// transition is one outgoing edge of a stage: either a static next stage or
// a router predicate over the merged state.
type transition struct {
	next  Stage
	route func(AuditState) Stage
}

// transitions is the enumerated transition table of the state machine.
// Keeping it as a fixed table (rather than a dynamic routing map keyed by
// strings) makes the graph shape reviewable in one screen and lets tests
// assert exhaustiveness.
var transitions = map[Stage]transition{
	StageExtractFeatures:   {next: StageSelectNextFeature},
	StageSelectNextFeature: {route: hasMoreFeatures},
	StageSearchKB:          {next: StageEvaluateKB},
	StageEvaluateKB:        {route: needsWebSearch},
	StageSearchWeb:         {next: StageDetermine},
	StageDetermine:         {next: StageSelectNextFeature},
	StageGenerateReport:    {next: StageDone},
}

// nextStage resolves the stage that follows the given stage under the
// current merged state.
func nextStage(from Stage, s AuditState) Stage {
	t, ok := transitions[from]
	if !ok {
		return StageDone
	}
	if t.route != nil {
		return t.route(s)
	}
	return t.next
}
