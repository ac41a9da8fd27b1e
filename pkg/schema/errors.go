package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeExtraction        = "EXTRACTION_ERROR"
	ErrCodeAdjudicationParse = "ADJUDICATION_PARSE_ERROR"
	ErrCodeIterationLimit    = "ITERATION_LIMIT"
	ErrCodeSearch            = "SEARCH_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
)

// AuditError is the structured error type for all plandrift operations.
// Stage and Feature identify what the run was doing when it failed, which is
// what makes a fatal run auditable after the fact.
type AuditError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Stage   string         `json:"stage,omitempty"`
	Feature string         `json:"feature,omitempty"`
	Cause   error          `json:"-"`
}

func (e *AuditError) Error() string {
	switch {
	case e.Stage != "" && e.Feature != "":
		return fmt.Sprintf("[%s] stage %s, feature %s: %s", e.Code, e.Stage, e.Feature, e.Message)
	case e.Stage != "":
		return fmt.Sprintf("[%s] stage %s: %s", e.Code, e.Stage, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

func (e *AuditError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AuditError.
func NewError(code, message string) *AuditError {
	return &AuditError{Code: code, Message: message}
}

// NewErrorf creates a new AuditError with a formatted message.
func NewErrorf(code, format string, args ...any) *AuditError {
	return &AuditError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStage attaches the stage that was executing when the error occurred.
func (e *AuditError) WithStage(stage string) *AuditError {
	e.Stage = stage
	return e
}

// WithFeature attaches the feature under evaluation when the error occurred.
func (e *AuditError) WithFeature(feature string) *AuditError {
	e.Feature = feature
	return e
}

// WithCause attaches an underlying cause.
func (e *AuditError) WithCause(err error) *AuditError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AuditError) WithDetails(details map[string]any) *AuditError {
	e.Details = details
	return e
}
