package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/verityops/plandrift/internal/store"
	"github.com/verityops/plandrift/pkg/schema"
)

// handleRun audits a document: fresh text or a stored document by ID.
func (s *AuditServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentText := req.GetString("document_text", "")
	documentID := req.GetString("document_id", "")

	if documentText == "" && documentID == "" {
		return mcp.NewToolResultError("either document_text or document_id is required"), nil
	}
	if documentText != "" && documentID != "" {
		return mcp.NewToolResultError("document_text and document_id are mutually exclusive"), nil
	}

	if documentID != "" {
		result, runErr := s.service.AuditStored(ctx, documentID)
		if runErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("audit failed: %v", runErr)), nil
		}
		return marshalResult(result)
	}

	name := req.GetString("name", "")
	if name == "" {
		return mcp.NewToolResultError("name is required with document_text"), nil
	}

	result, runErr := s.service.RunDocument(ctx, name, documentText)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("audit failed: %v", runErr)), nil
	}
	return marshalResult(result)
}

// handleStatus returns the lifecycle state and replayed progress of a run.
func (s *AuditServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	status, statusErr := s.service.Status(ctx, runID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(status)
}

// handleReport returns the stored report and findings of a completed run.
func (s *AuditServer) handleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	report, repErr := s.service.Report(ctx, runID)
	if repErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("report query failed: %v", repErr)), nil
	}
	return marshalResult(report)
}

// handleQuery lists documents, runs, or events based on filters.
func (s *AuditServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "documents":
		return s.queryDocuments(ctx, filter)
	case "runs":
		return s.queryRuns(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleSchedule creates, lists, or deletes scheduled re-audits.
func (s *AuditServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}

	switch action {
	case "create":
		return s.createSchedule(ctx, req)
	case "list":
		jobs, listErr := s.store.ListScheduledAudits(ctx, store.ScheduledAuditFilter{})
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"schedules": jobs})
	case "delete":
		scheduleID := req.GetString("schedule_id", "")
		if scheduleID == "" {
			return mcp.NewToolResultError("schedule_id is required for delete"), nil
		}
		if delErr := s.store.DeleteScheduledAudit(ctx, scheduleID); delErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "schedule_id": scheduleID})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action: %s", action)), nil
	}
}

func (s *AuditServer) createSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID := req.GetString("document_id", "")
	cronExpr := req.GetString("cron", "")
	if documentID == "" || cronExpr == "" {
		return mcp.NewToolResultError("document_id and cron are required for create"), nil
	}

	// Validate the document exists and the expression parses before storing.
	if _, docErr := s.store.GetDocument(ctx, documentID); docErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("document lookup failed: %v", docErr)), nil
	}
	now := time.Now().UTC()
	nextRun, cronErr := s.scheduler.CalculateNextRun(cronExpr, now)
	if cronErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", cronErr)), nil
	}

	job := &store.ScheduledAudit{
		ID:             uuid.NewString(),
		DocumentID:     documentID,
		CronExpression: cronExpr,
		Condition:      req.GetString("condition", ""),
		Enabled:        true,
		NextRunAt:      &nextRun,
		CreatedAt:      now,
	}
	if createErr := s.store.CreateScheduledAudit(ctx, job); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", createErr)), nil
	}

	return marshalResult(map[string]any{
		"schedule_id": job.ID,
		"next_run_at": nextRun.Format(time.RFC3339),
	})
}

// --- Query helpers ---

func (s *AuditServer) queryDocuments(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	df := store.DocumentFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if name, ok := filter["name"].(string); ok {
		df.Name = name
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			df.Since = &t
		}
	}

	docs, err := s.store.ListDocuments(ctx, df)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	// Strip document bodies from the listing; they can be large.
	type docSummary struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		SHA256    string    `json:"sha256"`
		CreatedAt time.Time `json:"created_at"`
	}
	summaries := make([]docSummary, 0, len(docs))
	for _, d := range docs {
		summaries = append(summaries, docSummary{ID: d.ID, Name: d.Name, SHA256: d.SHA256, CreatedAt: d.CreatedAt})
	}
	return marshalResult(map[string]any{"documents": summaries})
}

func (s *AuditServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if docID, ok := filter["document_id"].(string); ok {
		rf.DocumentID = docID
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

func (s *AuditServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if runID, ok := filter["run_id"].(string); ok {
		ef.RunID = runID
	}
	if feature, ok := filter["feature"].(string); ok {
		ef.Feature = feature
	}
	eventType := ""
	if et, ok := filter["event_type"].(string); ok {
		eventType = et
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	if eventType != "" {
		events, err := s.store.GetEventsByType(ctx, eventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	if ef.RunID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, ef.RunID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// --- Internal helpers ---

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
