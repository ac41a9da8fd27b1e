package store

import (
	"encoding/json"
	"time"

	"github.com/verityops/plandrift/pkg/schema"
)

// Document is a stored plan document submitted for auditing.
type Document struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	SHA256    string    `json:"sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is the persisted representation of one audit execution.
type Run struct {
	ID          string           `json:"id"`
	DocumentID  string           `json:"document_id,omitempty"`
	Status      schema.RunStatus `json:"status"`
	Extracted   json.RawMessage  `json:"extracted,omitempty"`
	Report      string           `json:"report,omitempty"`
	RiskLevel   string           `json:"risk_level,omitempty"`
	Error       json.RawMessage  `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// StoredFinding is one persisted per-feature verdict of a run. Position
// preserves the canonical feature evaluation order.
type StoredFinding struct {
	RunID      string          `json:"run_id"`
	Position   int             `json:"position"`
	Feature    string          `json:"feature"`
	PlanValue  string          `json:"plan_value"`
	Regulation string          `json:"regulation"`
	Source     string          `json:"source"`
	Status     string          `json:"status"`
	Notes      string          `json:"notes,omitempty"`
	Links      json.RawMessage `json:"links,omitempty"`
}

// Event is an immutable entry in the event sourcing log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Stage     string          `json:"stage,omitempty"`
	Feature   string          `json:"feature,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// Regulation is one entry of the internal regulation corpus queried during
// the knowledge-base lookup stage.
type Regulation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Citation  string    `json:"citation,omitempty"`
	Body      string    `json:"body"`
	Keywords  string    `json:"keywords,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ScheduledAudit is a cron-triggered re-audit of a stored document.
type ScheduledAudit struct {
	ID             string     `json:"id"`
	DocumentID     string     `json:"document_id"`
	CronExpression string     `json:"cron_expression"`
	Condition      string     `json:"condition,omitempty"` // CEL over the last run summary
	Enabled        bool       `json:"enabled"`
	LastRunID      string     `json:"last_run_id,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// --- Filter and update types ---

// DocumentFilter specifies criteria for listing documents.
type DocumentFilter struct {
	Name   string     `json:"name,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status     *schema.RunStatus `json:"status,omitempty"`
	DocumentID string            `json:"document_id,omitempty"`
	Since      *time.Time        `json:"since,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	Offset     int               `json:"offset,omitempty"`
}

// RunUpdate specifies mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	Extracted   json.RawMessage   `json:"extracted,omitempty"`
	Report      *string           `json:"report,omitempty"`
	RiskLevel   *string           `json:"risk_level,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID   string     `json:"run_id,omitempty"`
	Feature string     `json:"feature,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// ScheduledAuditUpdate specifies mutable fields of a scheduled audit.
type ScheduledAuditUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunID     string     `json:"last_run_id,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledAuditFilter specifies criteria for listing scheduled audits.
type ScheduledAuditFilter struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
