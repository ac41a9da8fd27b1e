package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// Audit runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Findings (written once per completed run)
	ReplaceFindings(ctx context.Context, runID string, findings []*StoredFinding) error
	ListFindings(ctx context.Context, runID string) ([]*StoredFinding, error)

	// Event sourcing (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Regulation corpus
	UpsertRegulation(ctx context.Context, reg *Regulation) error
	GetRegulation(ctx context.Context, id string) (*Regulation, error)
	ListRegulations(ctx context.Context) ([]*Regulation, error)
	DeleteRegulation(ctx context.Context, id string) error

	// Scheduled audits
	CreateScheduledAudit(ctx context.Context, job *ScheduledAudit) error
	GetScheduledAudit(ctx context.Context, id string) (*ScheduledAudit, error)
	UpdateScheduledAudit(ctx context.Context, id string, update ScheduledAuditUpdate) error
	ListScheduledAudits(ctx context.Context, filter ScheduledAuditFilter) ([]*ScheduledAudit, error)
	DeleteScheduledAudit(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
