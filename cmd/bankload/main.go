package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rumor-ml/commons.systems/bankload/internal/classify"
	"github.com/rumor-ml/commons.systems/bankload/internal/config"
	"github.com/rumor-ml/commons.systems/bankload/internal/cutoff"
	"github.com/rumor-ml/commons.systems/bankload/internal/docstore"
	"github.com/rumor-ml/commons.systems/bankload/internal/merge"
	"github.com/rumor-ml/commons.systems/bankload/internal/mirror"
	"github.com/rumor-ml/commons.systems/bankload/internal/registry"
	"github.com/rumor-ml/commons.systems/bankload/internal/rules"
	"github.com/rumor-ml/commons.systems/bankload/internal/scanner"
	"github.com/rumor-ml/commons.systems/bankload/internal/server"
	"github.com/rumor-ml/commons.systems/bankload/internal/store"
	"github.com/rumor-ml/commons.systems/bankload/internal/ui"
	"github.com/rumor-ml/commons.systems/bankload/internal/workflow"
)

const (
	version = "0.1.0"
)

var (
	versionFlag = flag.Bool("version", false, "Show version")

	configPath = flag.String("config", "", "Path to the YAML configuration file (required)")
	stage      = flag.String("stage", "all", "Stage to run: resolve, ingest, mirror, sessions, serve, or all")
	rulesFile  = flag.String("rules", "", "Categorization rules file (default: embedded rules)")
	sessionID  = flag.String("session", "", "Load session ID to inspect (sessions stage)")
	dryRun     = flag.Bool("dry-run", false, "Resolve and parse without writing anything")
	verbose    = flag.Bool("verbose", false, "Show detailed logs")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `bankload - Guided bank statement ingestion and reconciliation

Usage:
  bankload -config <file> [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Show which statement files are missing
  bankload -config bankload.yaml -stage resolve

  # Run a full guided session: resolve, download, merge, mirror
  bankload -config bankload.yaml

  # Serve the categorization API
  bankload -config bankload.yaml -stage serve

  # Inspect recent load sessions
  bankload -config bankload.yaml -stage sessions

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("bankload version %s\n", version)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -config flag is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.Database, err)
	}
	defer st.Close()

	classifier, err := classify.New(cfg.HeaderSets(), cfg.Accounts)
	if err != nil {
		return fmt.Errorf("failed to build classifier: %w", err)
	}

	var docClient *docstore.Client
	if cfg.FirestoreProject != "" {
		docClient, err = docstore.NewClient(ctx, cfg.FirestoreProject, "")
		if err != nil {
			// The document store is an off-machine backup; the local run
			// still works without it.
			ui.Warning(fmt.Sprintf("Document store unavailable: %v", err))
			docClient = nil
		} else {
			defer docClient.Close()
		}
	}

	if *stage == "serve" {
		return serve(cfg, st, docClient)
	}
	if *stage == "sessions" {
		if docClient == nil {
			return fmt.Errorf("sessions stage needs firestore_project in the config")
		}
		return printSessions(ctx, docClient)
	}

	ruleEngine, err := loadRules()
	if err != nil {
		return err
	}

	var datasetMirror workflow.DatasetMirror
	if cfg.SpreadsheetID != "" && (*stage == "mirror" || *stage == "all") && !*dryRun {
		m, err := mirror.New(ctx, cfg.SpreadsheetID)
		if err != nil {
			ui.Warning(fmt.Sprintf("Sheets mirror unavailable: %v", err))
		} else {
			datasetMirror = m
		}
	}

	var archiver workflow.Archiver
	if docClient != nil {
		archiver = docClient
	}

	opts := workflow.Options{
		Store:      st,
		Engine:     merge.New(st),
		Resolver:   cutoff.New(),
		Classifier: classifier,
		Registry:   registry.New(classifier),
		Driver:     workflow.NewTerminalDriver(cfg.StagingDir(), nil),
		Rules:      ruleEngine,
		Mirror:     datasetMirror,
		Archiver:   archiver,
		Scanner:    scanner.New(cfg.ScanLayout()),
		DryRun:     *dryRun,
	}
	w, err := workflow.New(opts)
	if err != nil {
		return err
	}

	switch *stage {
	case "resolve":
		return printRequests(ctx, w)
	case "mirror":
		if datasetMirror == nil {
			return fmt.Errorf("mirror stage needs spreadsheet_id in the config")
		}
		summary := w.SyncMirror(ctx)
		ui.Success(fmt.Sprintf("Mirrored %d datasets", summary.Mirrored))
		return nil
	case "ingest", "all":
		return runSession(ctx, w)
	default:
		return fmt.Errorf("unknown stage %q (expected resolve, ingest, mirror, serve, or all)", *stage)
	}
}

func loadRules() (*rules.Engine, error) {
	if *rulesFile != "" {
		return rules.LoadFromFile(*rulesFile)
	}
	return rules.LoadEmbedded()
}

// printRequests runs resolution only and lists what a session would fetch.
func printRequests(ctx context.Context, w *workflow.Workflow) error {
	requests, err := w.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve missing statements: %w", err)
	}

	if len(requests) == 0 {
		ui.Success("All statements are up to date")
		return nil
	}

	ui.Header("Missing statements")
	for _, req := range requests {
		fmt.Printf("  %-6s  %-7s  account %-12s  period %s\n",
			req.Type, req.Status, req.Account, req.Period)
	}
	return nil
}

func runSession(ctx context.Context, w *workflow.Workflow) error {
	summary, err := w.Run(ctx)
	if err != nil {
		return err
	}

	ui.Header("Session summary")
	ui.Info(fmt.Sprintf("Requests: %d, files: %d", summary.Requests, summary.Files))
	if summary.DuplicateContent > 0 {
		ui.Info(fmt.Sprintf("Duplicate content skipped: %d", summary.DuplicateContent))
	}
	if summary.Unrecognized > 0 {
		ui.Warning(fmt.Sprintf("Unrecognized files skipped: %d", summary.Unrecognized))
	}
	if summary.ParseFailures > 0 {
		ui.Warning(fmt.Sprintf("Files failed to parse: %d", summary.ParseFailures))
	}
	for _, load := range summary.Loads {
		if *verbose {
			ui.Info(fmt.Sprintf("  %s: %d rows (%d deduped)", load.Table, load.Rows, load.Deduped))
		}
	}
	ui.Success(fmt.Sprintf("Rows loaded: %d (%d deduped), cutoffs recorded: %d",
		summary.RowsLoaded, summary.RowsDeduped, summary.CutoffsRecorded))
	if summary.LoadFailures > 0 {
		ui.Error(fmt.Sprintf("Tables failed to load: %d", summary.LoadFailures))
	}
	if summary.Mirrored > 0 {
		ui.Success(fmt.Sprintf("Mirrored %d datasets", summary.Mirrored))
	}
	if summary.Archived > 0 {
		ui.Success(fmt.Sprintf("Archived %d raw files", summary.Archived))
	}
	if summary.Relocated > 0 {
		ui.Success(fmt.Sprintf("Filed %d statements into the folder layout", summary.Relocated))
	}
	return nil
}

// printSessions shows the load-session audit trail: one session in full when
// -session is given, otherwise the most recent ones.
func printSessions(ctx context.Context, docClient *docstore.Client) error {
	if *sessionID != "" {
		session, err := docClient.GetLoadSession(ctx, *sessionID)
		if err != nil {
			return fmt.Errorf("failed to fetch load session %s: %w", *sessionID, err)
		}
		fmt.Printf("%s  %s  files=%d  created=%s\n",
			session.ID, session.Status, session.FileCount,
			session.CreatedAt.Format(time.RFC3339))
		for stat, n := range session.Stats {
			fmt.Printf("  %-18s %d\n", stat, n)
		}
		if session.Error != "" {
			fmt.Printf("  error: %s\n", session.Error)
		}
		return nil
	}

	sessions, err := docClient.ListLoadSessions(ctx, 20)
	if err != nil {
		return fmt.Errorf("failed to list load sessions: %w", err)
	}
	if len(sessions) == 0 {
		ui.Info("No load sessions recorded yet")
		return nil
	}
	for _, s := range sessions {
		fmt.Printf("%s  %-10s  files=%-3d  created=%s\n",
			s.ID, s.Status, s.FileCount, s.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// serve runs the categorization API until interrupted.
func serve(cfg *config.Config, st *store.Store, docClient *docstore.Client) error {
	var srv *server.Server
	if docClient != nil {
		srv = server.New(st, docClient.Auth)
	} else {
		srv = server.New(st, nil)
	}

	ui.Header("Categorization API")
	ui.Info(fmt.Sprintf("Listening on %s", cfg.ListenAddr))
	return http.ListenAndServe(cfg.ListenAddr, srv.Handler())
}
