package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"podscript/pkg/config"
	"podscript/pkg/core"
	"podscript/pkg/db"
	"podscript/pkg/db/maintenance"
	"podscript/pkg/generator"
	"podscript/pkg/ingest"
	"podscript/pkg/logging"
	"podscript/pkg/model"
	"podscript/pkg/probe"
	"podscript/pkg/prompt"
	"podscript/pkg/request"
	"podscript/pkg/store"
	"podscript/pkg/tracker"
	"podscript/pkg/version"
)

var (
	initConfig   = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath   = flag.String("config", "configs/podscript.yaml", "Path to config file")
	format       = flag.String("format", "", "Input format: text, html (default: from file extension)")
	template     = flag.String("template", "", "Script template: podcast, monologue, lecture")
	segments     = flag.Int("segments", 0, "Force segment count for batched generation (0 = automatic)")
	instructions = flag.String("instructions", "", "Extra generation instructions")
	summaryKind  = flag.String("summary", "", "Also produce a summary: blog, minimal")
	research     = flag.String("research", "", "Blend web research on this query into the script (requires a perplexity provider)")
	outPath      = flag.String("out", "", "Write the script to this file instead of stdout")
	noArchive    = flag.Bool("no-archive", false, "Skip writing the script to the archive database")
	showStats    = flag.Bool("stats", false, "Print gateway statistics after the run")
	listRecent   = flag.Int("list", 0, "List the N most recent archived scripts and exit")
	showID       = flag.String("show", "", "Print an archived script by id and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	archiveQuery := *listRecent > 0 || *showID != ""
	if !archiveQuery && flag.NArg() != 1 {
		return fmt.Errorf("usage: podscript [flags] <input-file | ->")
	}
	input := flag.Arg(0)

	// Keys may live in a .env file next to the binary.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log, &cfg.History)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("podscript started", "version", version.Version)

	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	st := store.NewSQLiteStore(dbConn)
	defer st.Close()

	if err := maintenance.Run(ctx, st, dbConn); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	// Archive queries need no LLM provider or input document.
	if archiveQuery {
		if *showID != "" {
			return showScript(ctx, st, os.Stdout, *showID)
		}
		return listScripts(ctx, st, os.Stdout, *listRecent)
	}

	tr := tracker.New()
	reqClient := request.New(st, tr, request.Options{
		Retries:   cfg.Request.Retries,
		Timeout:   time.Duration(cfg.Request.Timeout),
		BaseDelay: time.Duration(cfg.Request.Backoff.BaseDelay),
		MaxDelay:  time.Duration(cfg.Request.Backoff.MaxDelay),
	})

	provider, err := core.NewLLMProvider(cfg.LLM, cfg.History.LLM, reqClient, tr)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM provider: %w", err)
	}

	promptMgr, err := prompt.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize prompt manager: %w", err)
	}

	checks := []probe.Check{
		{Name: "LLM providers", Critical: true, Fn: provider.HealthCheck},
		{Name: "Archive DB", Fn: func(context.Context) error { return dbConn.Ping() }},
	}
	if err := probe.Verify(ctx, checks); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	gen := generator.New(provider, promptMgr, cfg.Generator, cfg.Summary)

	var archive core.Archiver
	if !*noArchive {
		archive = st
	}
	svc := core.New(gen, cfg.Quality, archive)

	doc, err := readDocument(input)
	if err != nil {
		return err
	}

	genCfg := model.GenerationConfig{
		Template:     *template,
		SegmentCount: *segments,
		Instructions: *instructions,
	}

	if *research != "" {
		genCfg.Instructions, err = attachResearch(ctx, cfg.LLM, reqClient, tr, *research, genCfg.Instructions)
		if err != nil {
			return err
		}
	}

	out, err := svc.GenerateScript(ctx, doc, genCfg)
	if err != nil {
		return err
	}

	if err := writeScript(out.Script); err != nil {
		return err
	}

	verdict := "FAILED"
	if out.Report.Passed {
		verdict = "passed"
	}
	slog.Info("Quality verdict", "score", out.Report.Score, "verdict", verdict, "defects", len(out.Report.Defects))
	for _, d := range out.Report.Defects {
		slog.Warn("Quality defect", "category", d.Category, "detail", d.Detail)
	}

	if *summaryKind != "" {
		summary, err := svc.GenerateSummary(ctx, out.Script, out.ArchiveID, model.SummaryKind(*summaryKind), *instructions)
		if err != nil {
			return fmt.Errorf("summary generation failed: %w", err)
		}
		fmt.Println()
		fmt.Println("--- summary ---")
		fmt.Println(summary)
	}

	if *showStats {
		printStats(tr)
	}
	return nil
}

func readDocument(input string) (model.Document, error) {
	var r io.Reader
	if input == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(input)
		if err != nil {
			return model.Document{}, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	return ingest.Extract(r, detectFormat(input, *format))
}

// detectFormat resolves the input format, preferring an explicit flag
// over the file extension.
func detectFormat(path, override string) model.SourceFormat {
	if override != "" {
		return model.SourceFormat(override)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return model.FormatHTML
	case ".pdf":
		return model.FormatPDF
	case ".epub":
		return model.FormatEPUB
	default:
		return model.FormatText
	}
}

func writeScript(script *model.Script) error {
	text := script.Text() + "\n"
	if *outPath != "" {
		if err := os.WriteFile(*outPath, []byte(text), 0o644); err != nil {
			return fmt.Errorf("failed to write script: %w", err)
		}
		slog.Info("Script written", "path", *outPath, "lines", script.LineCount())
		return nil
	}
	fmt.Print(text)
	return nil
}

// attachResearch runs a web-grounded query and appends the findings to
// the generation instructions.
func attachResearch(ctx context.Context, cfg config.LLMConfig, rc *request.Client, tr *tracker.Tracker, query, instructions string) (string, error) {
	researcher, err := core.NewResearcher(cfg, rc, tr)
	if err != nil {
		return "", fmt.Errorf("failed to initialize research provider: %w", err)
	}
	if researcher == nil {
		return "", fmt.Errorf("research requires a perplexity provider in the configuration")
	}

	res, err := researcher.Search(ctx, "script", query)
	if err != nil {
		return "", fmt.Errorf("research query failed: %w", err)
	}
	slog.Info("Research attached", "query", query, "citations", len(res.Citations))
	for _, u := range res.Citations {
		slog.Debug("Research citation", "url", u)
	}

	block := "Background research to weave in where relevant:\n" + res.Content
	if instructions == "" {
		return block, nil
	}
	return instructions + "\n\n" + block, nil
}

func listScripts(ctx context.Context, st *store.SQLiteStore, w io.Writer, limit int) error {
	recs, err := st.ListScripts(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list archive: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprintln(w, "archive is empty")
		return nil
	}
	for _, rec := range recs {
		verdict := "FAILED"
		if rec.Passed {
			verdict = "passed"
		}
		fmt.Fprintf(w, "%s  %s  %-9s  %3d lines  score %3d %s  %s\n",
			rec.UUID, rec.CreatedAt.Format("2006-01-02 15:04"), rec.Template,
			rec.LineCount, rec.Score, verdict, rec.Title)
	}
	return nil
}

func showScript(ctx context.Context, st *store.SQLiteStore, w io.Writer, id string) error {
	rec, err := st.GetScript(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("no archived script with id %s", id)
	}
	fmt.Fprintln(w, rec.Text)
	return nil
}

func printStats(tr *tracker.Tracker) {
	for provider, stats := range tr.Snapshot() {
		fmt.Fprintf(os.Stderr, "%s: %d ok, %d failed, %d truncated, cache %d/%d\n",
			provider, stats.APISuccess, stats.APIFailures, stats.Truncations,
			stats.CacheHits, stats.CacheHits+stats.CacheMisses)
	}
}
