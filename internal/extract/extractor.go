// Package extract converts raw plan document text into the structured
// feature mapping the audit pipeline works on.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/verityops/plandrift/internal/llm"
	"github.com/verityops/plandrift/pkg/schema"
)

// maxDocumentChars caps the document text sent to the model. Longer
// documents are truncated, not rejected.
const maxDocumentChars = 50000

const extractionPrompt = `You are an expert at extracting structured data from 401(k) plan documents.

Extract the following features from this plan document. Return ONLY valid JSON.

{
  "plan_name": "string or null",
  "effective_date": "string or null",

  "eligibility": {
    "age_requirement": "number or null",
    "service_requirement": "string or null",
    "entry_dates": "string or null"
  },

  "contributions": {
    "employer_match_formula": "string or null",
    "match_cap": "string or null",
    "catch_up_allowed": "boolean or null"
  },

  "vesting": {
    "type": "string or null (immediate, cliff, graded)",
    "schedule": "string or null",
    "years_to_full": "number or null"
  },

  "auto_enrollment": {
    "enabled": "boolean or null",
    "default_rate": "number or null",
    "auto_escalation": "boolean or null"
  },

  "distributions": {
    "hardship_allowed": "boolean or null",
    "loans_allowed": "boolean or null"
  }
}

PLAN DOCUMENT:
%s`

// Extractor pulls the structured feature set out of a document using a
// chat model and validates the result against the feature-set schema.
type Extractor struct {
	client llm.Client
	logger *slog.Logger
}

// New creates an Extractor backed by the given model client.
func New(client llm.Client, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, logger: logger}
}

// ExtractFeatures asks the model for the structured feature mapping.
// Any failure here is fatal for the run: without the feature set there is
// nothing to audit.
func (e *Extractor) ExtractFeatures(ctx context.Context, documentText string) (map[string]any, error) {
	if strings.TrimSpace(documentText) == "" {
		return nil, schema.NewError(schema.ErrCodeExtraction, "document text is empty")
	}
	if len(documentText) > maxDocumentChars {
		documentText = documentText[:maxDocumentChars]
	}

	prompt := fmt.Sprintf(extractionPrompt, documentText)

	raw, err := e.client.Complete(ctx, "", prompt)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExtraction, "feature extraction failed: %s", err.Error()).WithCause(err)
	}

	cleaned := StripFences(raw)
	features, err := schema.ValidateFeatureSet([]byte(cleaned))
	if err != nil {
		return nil, err
	}

	e.logger.DebugContext(ctx, "document features extracted", "bytes", len(cleaned))
	return features, nil
}

// StripFences removes a surrounding markdown code fence from model output.
// Models routinely wrap JSON answers in fences despite instructions.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
