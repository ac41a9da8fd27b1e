package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/verityops/plandrift/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Documents ---

func (s *LibSQLStore) CreateDocument(ctx context.Context, doc *Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, text, sha256, created_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.Text, doc.SHA256, timeOrNow(doc.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	d := &Document{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, text, sha256, created_at FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.Text, &d.SHA256, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("document", id)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *LibSQLStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, name, text, sha256, created_at FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d := &Document{}
		if err := rows.Scan(&d.ID, &d.Name, &d.Text, &d.SHA256, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *LibSQLStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "document", id)
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, document_id, status, extracted, report, risk_level, error, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullStr(run.DocumentID), string(run.Status),
		nullRaw(run.Extracted), nullStr(run.Report), nullStr(run.RiskLevel), nullRaw(run.Error),
		timeOrNow(run.CreatedAt), nullTime(run.StartedAt), nullTime(run.CompletedAt), timeOrNow(run.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT id, document_id, status, extracted, report, risk_level, error, created_at, started_at, completed_at, updated_at
		 FROM runs WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	return run, err
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Extracted != nil {
		sets = append(sets, "extracted = ?")
		args = append(args, string(update.Extracted))
	}
	if update.Report != nil {
		sets = append(sets, "report = ?")
		args = append(args, *update.Report)
	}
	if update.RiskLevel != nil {
		sets = append(sets, "risk_level = ?")
		args = append(args, *update.RiskLevel)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, string(update.Error))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.DocumentID != "" {
		where = append(where, "document_id = ?")
		args = append(args, filter.DocumentID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, document_id, status, extracted, report, risk_level, error, created_at, started_at, completed_at, updated_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		docID, report, risk   sql.NullString
		extracted, errJSON    sql.NullString
		startedAt, completedAt sql.NullTime
		status                string
	)
	if err := row.Scan(&run.ID, &docID, &status, &extracted, &report, &risk, &errJSON,
		&run.CreatedAt, &startedAt, &completedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.DocumentID = docID.String
	run.Status = schema.RunStatus(status)
	run.Extracted = rawOrNil(extracted)
	run.Report = report.String
	run.RiskLevel = risk.String
	run.Error = rawOrNil(errJSON)
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// --- Findings ---

func (s *LibSQLStore) ReplaceFindings(ctx context.Context, runID string, findings []*StoredFinding) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear findings: %w", err)
	}
	for _, f := range findings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO findings (run_id, position, feature, plan_value, regulation, source, status, notes, links)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, f.Position, f.Feature, f.PlanValue, f.Regulation, f.Source, f.Status,
			nullStr(f.Notes), nullRaw(f.Links),
		)
		if err != nil {
			return fmt.Errorf("insert finding %d: %w", f.Position, err)
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListFindings(ctx context.Context, runID string) ([]*StoredFinding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, position, feature, plan_value, regulation, source, status, notes, links
		 FROM findings WHERE run_id = ? ORDER BY position ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var findings []*StoredFinding
	for rows.Next() {
		f := &StoredFinding{}
		var notes, links sql.NullString
		if err := rows.Scan(&f.RunID, &f.Position, &f.Feature, &f.PlanValue, &f.Regulation,
			&f.Source, &f.Status, &notes, &links); err != nil {
			return nil, err
		}
		f.Notes = notes.String
		f.Links = rawOrNil(links)
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Next sequence number for this run.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	payload := nullRaw(event.Payload)
	ts := timeOrNow(event.Timestamp)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, stage, feature, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.Stage), nullStr(event.Feature), event.Type, payload, ts, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, feature, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	var where []string
	var args []any

	where = append(where, "event_type = ?")
	args = append(args, eventType)

	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Feature != "" {
		where = append(where, "feature = ?")
		args = append(args, filter.Feature)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, run_id, stage, feature, event_type, payload, timestamp, sequence FROM events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var stage, feature, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &stage, &feature, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Stage = stage.String
		e.Feature = feature.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Regulations ---

func (s *LibSQLStore) UpsertRegulation(ctx context.Context, reg *Regulation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO regulations (id, title, citation, body, keywords, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   title=excluded.title, citation=excluded.citation, body=excluded.body,
		   keywords=excluded.keywords, updated_at=CURRENT_TIMESTAMP`,
		reg.ID, reg.Title, nullStr(reg.Citation), reg.Body, nullStr(reg.Keywords),
		timeOrNow(reg.CreatedAt), timeOrNow(reg.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetRegulation(ctx context.Context, id string) (*Regulation, error) {
	r := &Regulation{}
	var citation, keywords sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, citation, body, keywords, created_at, updated_at FROM regulations WHERE id = ?`, id,
	).Scan(&r.ID, &r.Title, &citation, &r.Body, &keywords, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("regulation", id)
	}
	if err != nil {
		return nil, err
	}
	r.Citation = citation.String
	r.Keywords = keywords.String
	return r, nil
}

func (s *LibSQLStore) ListRegulations(ctx context.Context) ([]*Regulation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, citation, body, keywords, created_at, updated_at FROM regulations ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []*Regulation
	for rows.Next() {
		r := &Regulation{}
		var citation, keywords sql.NullString
		if err := rows.Scan(&r.ID, &r.Title, &citation, &r.Body, &keywords, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Citation = citation.String
		r.Keywords = keywords.String
		regs = append(regs, r)
	}
	return regs, rows.Err()
}

func (s *LibSQLStore) DeleteRegulation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM regulations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "regulation", id)
}

// --- Scheduled Audits ---

func (s *LibSQLStore) CreateScheduledAudit(ctx context.Context, job *ScheduledAudit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_audits (id, document_id, cron_expression, condition, enabled, last_run_id, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, job.CronExpression, nullStr(job.Condition), boolInt(job.Enabled),
		nullStr(job.LastRunID), nullTime(job.LastRunAt), nullTime(job.NextRunAt),
		nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetScheduledAudit(ctx context.Context, id string) (*ScheduledAudit, error) {
	job, err := scanScheduledAudit(s.db.QueryRowContext(ctx,
		`SELECT id, document_id, cron_expression, condition, enabled, last_run_id, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_audits WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled_audit", id)
	}
	return job, err
}

func (s *LibSQLStore) UpdateScheduledAudit(ctx context.Context, id string, update ScheduledAuditUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunID != "" {
		sets = append(sets, "last_run_id = ?")
		args = append(args, update.LastRunID)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_audits SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_audit", id)
}

func (s *LibSQLStore) ListScheduledAudits(ctx context.Context, filter ScheduledAuditFilter) ([]*ScheduledAudit, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.DocumentID != "" {
		where = append(where, "document_id = ?")
		args = append(args, filter.DocumentID)
	}

	query := `SELECT id, document_id, cron_expression, condition, enabled, last_run_id, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_audits`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledAudit
	for rows.Next() {
		job, err := scanScheduledAudit(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledAudit(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_audits WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_audit", id)
}

func scanScheduledAudit(row rowScanner) (*ScheduledAudit, error) {
	job := &ScheduledAudit{}
	var condition, lastRunID, lastRunStatus sql.NullString
	var enabled int
	var lastRunAt, nextRunAt sql.NullTime
	if err := row.Scan(&job.ID, &job.DocumentID, &job.CronExpression, &condition, &enabled,
		&lastRunID, &lastRunAt, &nextRunAt, &lastRunStatus, &job.CreatedAt); err != nil {
		return nil, err
	}
	job.Condition = condition.String
	job.Enabled = enabled != 0
	job.LastRunID = lastRunID.String
	job.LastRunStatus = lastRunStatus.String
	if lastRunAt.Valid {
		job.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		job.NextRunAt = &nextRunAt.Time
	}
	return job, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.AuditError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
