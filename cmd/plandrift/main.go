// Command plandrift audits 401(k) plan documents against regulatory rules.
//
// Usage:
//
//	plandrift audit <file>   audit a single document and print the report
//	plandrift serve          run the MCP stdio server with the scheduler
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/verityops/plandrift/internal/audit"
	"github.com/verityops/plandrift/internal/extract"
	"github.com/verityops/plandrift/internal/graph"
	"github.com/verityops/plandrift/internal/knowledge"
	"github.com/verityops/plandrift/internal/llm"
	"github.com/verityops/plandrift/internal/logging"
	"github.com/verityops/plandrift/internal/reasoning"
	"github.com/verityops/plandrift/internal/scheduler"
	"github.com/verityops/plandrift/internal/store"
	"github.com/verityops/plandrift/internal/streaming"
	"github.com/verityops/plandrift/internal/websearch"
	"github.com/verityops/plandrift/pkg/mcp"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "audit":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: plandrift audit <file>")
			os.Exit(2)
		}
		runAudit(os.Args[2])
	case "serve":
		runServe()
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: plandrift <audit|serve> [args]")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// wiring holds everything a subcommand needs, built from config.
type wiring struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	eventLog  *store.EventLog
	hub       *streaming.MemoryHub
	service   *audit.Service
	scheduler *scheduler.Scheduler
}

func buildWiring(ctx context.Context) (*wiring, error) {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	eventLog := store.NewEventLog(st)
	hub := streaming.NewMemoryHub()

	client := llm.NewHTTPClient(llm.Config{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.Temperature,
	})

	engine := graph.NewEngine(graph.Collaborators{
		Extractor: extract.New(client, logger),
		Knowledge: knowledge.New(st, logger),
		Search:    websearch.New(websearch.Config{BaseURL: cfg.SearchURL, APIKey: cfg.SearchKey}, logger),
		Reasoner:  reasoning.New(client, logger),
	}, graph.Options{
		MaxSteps: cfg.MaxSteps,
		Hub:      hub,
		Trace:    audit.TraceAppender(eventLog),
		Logger:   logger,
	})

	service := audit.NewService(st, eventLog, engine, logger)

	sched, err := scheduler.NewScheduler(st, service, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &wiring{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		eventLog:  eventLog,
		hub:       hub,
		service:   service,
		scheduler: sched,
	}, nil
}

func runAudit(path string) {
	ctx := context.Background()

	w, err := buildWiring(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer w.store.Close()

	text, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot read %s: %v\n", path, err)
		os.Exit(1)
	}

	result, err := w.service.RunDocument(ctx, filepath.Base(path), string(text))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: audit failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(result.Report)
	fmt.Printf("\nRun ID: %s\nRisk Level: %s\nFindings: %d\n",
		result.RunID, result.RiskLevel, len(result.Findings))
}

func runServe() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := buildWiring(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer w.store.Close()

	if err := w.scheduler.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer w.scheduler.Stop()

	if err := w.scheduler.RecoverMissed(ctx); err != nil {
		w.logger.Warn("recover missed audits", "error", err.Error())
	}

	srv := mcp.NewAuditServer(mcp.AuditServerDeps{
		Service:   w.service,
		Store:     w.store,
		Scheduler: w.scheduler,
		Logger:    w.logger,
	})

	w.logger.Info("serving MCP over stdio", "db", w.cfg.DBPath)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Give in-flight scheduled audits a moment to record their status.
	time.Sleep(100 * time.Millisecond)
}
