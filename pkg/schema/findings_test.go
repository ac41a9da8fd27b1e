package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeRiskLevel(t *testing.T) {
	f := func(statuses ...FindingStatus) []Finding {
		findings := make([]Finding, len(statuses))
		for i, s := range statuses {
			findings[i] = Finding{Status: s}
		}
		return findings
	}

	tests := []struct {
		name     string
		findings []Finding
		want     RiskLevel
	}{
		{"no findings", nil, RiskLow},
		{"all compliant", f(StatusCompliant, StatusCompliant), RiskLow},
		{"one review", f(StatusCompliant, StatusNeedsReview), RiskLow},
		{"one gap", f(StatusGap, StatusCompliant), RiskMedium},
		{"two reviews", f(StatusNeedsReview, StatusNeedsReview), RiskMedium},
		{"one gap one review", f(StatusGap, StatusNeedsReview), RiskMedium},
		{"two gaps", f(StatusGap, StatusGap), RiskHigh},
		{"gaps dominate reviews", f(StatusGap, StatusGap, StatusNeedsReview, StatusNeedsReview), RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeRiskLevel(tt.findings))
		})
	}
}

func TestAuditError_Error(t *testing.T) {
	plain := NewError(ErrCodeStore, "disk full")
	assert.Equal(t, "[STORE_ERROR] disk full", plain.Error())

	staged := NewError(ErrCodeSearch, "provider down").WithStage("search_web")
	assert.Equal(t, "[SEARCH_ERROR] stage search_web: provider down", staged.Error())

	full := NewError(ErrCodeAdjudicationParse, "bad json").
		WithStage("determine_compliance").
		WithFeature("vesting")
	assert.Equal(t,
		"[ADJUDICATION_PARSE_ERROR] stage determine_compliance, feature vesting: bad json",
		full.Error())
}

func TestRunEventType(t *testing.T) {
	assert.Equal(t, EventRunStarted, RunEventType(RunStatusActive))
	assert.Equal(t, EventRunCompleted, RunEventType(RunStatusCompleted))
	assert.Equal(t, EventRunFailed, RunEventType(RunStatusFailed))
	assert.Equal(t, EventRunCancelled, RunEventType(RunStatusCancelled))
	assert.Empty(t, RunEventType(RunStatusPending))
}
