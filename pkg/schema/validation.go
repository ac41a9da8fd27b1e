package schema

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// verdictSchema is the contract for adjudicator output. A response that does
// not satisfy it is rejected, never coerced: a silently defaulted verdict
// would corrupt the audit trail.
const verdictSchema = `{
  "type": "object",
  "properties": {
    "status": {"type": "string", "enum": ["compliant", "gap", "needs_review"]},
    "regulation": {"type": "string"},
    "notes": {"type": "string"}
  },
  "required": ["status"]
}`

// featureSetSchema is the expected shape of extractor output. Every attribute
// is nullable; gating on presence happens downstream in the feature registry.
const featureSetSchema = `{
  "type": "object",
  "properties": {
    "plan_name": {"type": ["string", "null"]},
    "effective_date": {"type": ["string", "null"]},
    "eligibility": {
      "type": ["object", "null"],
      "properties": {
        "age_requirement": {"type": ["number", "null"]},
        "service_requirement": {"type": ["string", "null"]},
        "entry_dates": {"type": ["string", "null"]}
      }
    },
    "contributions": {
      "type": ["object", "null"],
      "properties": {
        "employer_match_formula": {"type": ["string", "null"]},
        "match_cap": {"type": ["string", "null"]},
        "catch_up_allowed": {"type": ["boolean", "null"]}
      }
    },
    "vesting": {
      "type": ["object", "null"],
      "properties": {
        "type": {"type": ["string", "null"]},
        "schedule": {"type": ["string", "null"]},
        "years_to_full": {"type": ["number", "null"]}
      }
    },
    "auto_enrollment": {
      "type": ["object", "null"],
      "properties": {
        "enabled": {"type": ["boolean", "null"]},
        "default_rate": {"type": ["number", "null"]},
        "auto_escalation": {"type": ["boolean", "null"]}
      }
    },
    "distributions": {
      "type": ["object", "null"],
      "properties": {
        "hardship_allowed": {"type": ["boolean", "null"]},
        "loans_allowed": {"type": ["boolean", "null"]}
      }
    }
  }
}`

var (
	compiledVerdict    *jsonschema.Schema
	compiledFeatureSet *jsonschema.Schema
)

func init() {
	compiledVerdict = mustCompile("verdict.json", verdictSchema)
	compiledFeatureSet = mustCompile("feature_set.json", featureSetSchema)
}

func mustCompile(name, raw string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
	if err != nil {
		panic(fmt.Sprintf("parse embedded schema %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add embedded schema %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile embedded schema %s: %v", name, err))
	}
	return sch
}

// ValidateVerdict checks raw adjudicator JSON against the verdict contract
// and returns the typed Verdict. Any violation yields ADJUDICATION_PARSE_ERROR.
func ValidateVerdict(raw []byte) (*Verdict, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, NewErrorf(ErrCodeAdjudicationParse,
			"adjudicator response is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := compiledVerdict.Validate(inst); err != nil {
		return nil, NewErrorf(ErrCodeAdjudicationParse,
			"adjudicator response violates verdict schema: %s", err.Error()).WithCause(err)
	}

	obj := inst.(map[string]any)
	v := &Verdict{Status: FindingStatus(stringOr(obj, "status", ""))}
	v.Regulation = stringOr(obj, "regulation", "")
	v.Notes = stringOr(obj, "notes", "")
	return v, nil
}

// ValidateFeatureSet checks raw extractor JSON against the expected plan
// structure and returns the decoded mapping. Violations yield EXTRACTION_ERROR.
func ValidateFeatureSet(raw []byte) (map[string]any, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, NewErrorf(ErrCodeExtraction,
			"extractor response is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := compiledFeatureSet.Validate(inst); err != nil {
		return nil, NewErrorf(ErrCodeExtraction,
			"extractor response violates feature schema: %s", err.Error()).WithCause(err)
	}
	obj, ok := inst.(map[string]any)
	if !ok {
		return nil, NewError(ErrCodeExtraction, "extractor response is not a JSON object")
	}
	return obj, nil
}

func stringOr(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}
