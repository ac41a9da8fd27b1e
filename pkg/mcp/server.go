// Package mcp exposes the audit service to agents over the Model Context
// Protocol: run an audit, poll its status, fetch the report, query stored
// resources, and manage scheduled re-audits.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/verityops/plandrift/internal/audit"
	"github.com/verityops/plandrift/internal/scheduler"
	"github.com/verityops/plandrift/internal/store"
)

// AuditServerDeps holds the dependencies for creating an AuditServer.
type AuditServerDeps struct {
	Service   *audit.Service
	Store     store.Store
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// AuditServer wraps an MCP server with audit-specific tool handlers.
type AuditServer struct {
	service   *audit.Service
	store     store.Store
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewAuditServer creates a new AuditServer with all 5 tools registered.
func NewAuditServer(deps AuditServerDeps) *AuditServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &AuditServer{
		service:   deps.Service,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"plandrift",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Plandrift audits 401(k) plan documents against regulatory rules. Use audit.run to audit a document, audit.status to check progress, audit.report to fetch a completed report, audit.query to list documents/runs/events, and audit.schedule to manage recurring re-audits."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *AuditServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AuditServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *AuditServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: reportTool(), Handler: s.handleReport},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("audit.run",
		mcp.WithDescription("Audit a plan document. Provide either document_text (with a name) to store and audit new text, or document_id to re-audit a stored document"),
		mcp.WithString("document_text", mcp.Description("Raw plan document text to audit")),
		mcp.WithString("name", mcp.Description("Document name (required with document_text)")),
		mcp.WithString("document_id", mcp.Description("ID of a stored document to re-audit")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("audit.status",
		mcp.WithDescription("Get audit run status and stage-by-stage progress"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func reportTool() mcp.Tool {
	return mcp.NewTool("audit.report",
		mcp.WithDescription("Fetch the report and findings of a completed audit run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the completed run")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("audit.query",
		mcp.WithDescription("Query documents, runs, or events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("documents", "runs", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, document_id, since, limit, event_type, run_id, name)")),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("audit.schedule",
		mcp.WithDescription("Manage recurring re-audits of a stored document"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("create", "list", "delete"),
			mcp.Description("Operation to perform"),
		),
		mcp.WithString("document_id", mcp.Description("Stored document to re-audit (required for create)")),
		mcp.WithString("cron", mcp.Description("Cron expression, 5-field (required for create)")),
		mcp.WithString("condition", mcp.Description("Optional CEL condition over the last run, e.g. last.risk_level != 'Low'")),
		mcp.WithString("schedule_id", mcp.Description("Schedule ID (required for delete)")),
	)
}
