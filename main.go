package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/diff"
	"github.com/mickamy/pgdiag/internal/engine"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/parser"
	"github.com/mickamy/pgdiag/internal/render/html"
	"github.com/mickamy/pgdiag/internal/render/tui"
	"github.com/mickamy/pgdiag/internal/report"
	"github.com/mickamy/pgdiag/internal/rule"
	"github.com/mickamy/pgdiag/internal/runner"
	"github.com/mickamy/pgdiag/internal/scoring"
	"github.com/mickamy/pgdiag/internal/server"
	"github.com/mickamy/pgdiag/internal/store"
	"github.com/mickamy/pgdiag/internal/telemetry"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runCommand(args)
	case "analyze":
		err = analyzeCommand(args)
	case "report":
		err = reportCommand(args)
	case "lint":
		err = lintCommand(args)
	case "stats":
		err = statsCommand(args)
	case "diff":
		err = diffCommand(args)
	case "serve":
		err = serveCommand(args)
	case "version":
		err = versionCommand(args)
	case "help", "-h", "--help":
		usage()
		return
	default:
		_, _ = fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`pgdiag - PostgreSQL plan and statement diagnostics

Usage:
  pgdiag <command> [options]

Commands:
  run      Execute EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) for a query
  analyze  Run EXPLAIN and diagnose the plan in one step
  report   Diagnose a saved EXPLAIN JSON document (TUI, HTML or JSON)
  lint     Check a SQL statement for anti-patterns without a database
  stats    Rank pg_stat_statements entries and diagnose the worst offenders
  diff     Compare the diagnoses of two plans
  serve    Start the HTTP API
  version  Show CLI version information

Use "pgdiag <command> -h" for command-specific help.`)
}

// app carries what every command needs after the environment has been read.
type app struct {
	settings config.Settings
	logger   *slog.Logger
	builder  *report.Builder
	shutdown telemetry.Shutdown
}

func setup(configPath string) (*app, error) {
	_ = godotenv.Load()

	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	level, _ := config.ParseLogLevel(settings.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	path := strings.TrimSpace(configPath)
	if path == "" {
		path = strings.TrimSpace(settings.ConfigPath)
	}
	if err := config.Apply(path); err != nil {
		return nil, err
	}

	v, _ := resolveVersion()
	shutdown, err := telemetry.Init(context.Background(), settings.OTELEndpoint, settings.ServiceName, v, settings.OTELInsecure)
	if err != nil {
		return nil, err
	}

	cfg := config.Active()
	e := engine.New(engine.DefaultRules(cfg.Rules),
		engine.WithParallelism(settings.Parallelism),
		engine.WithLogger(logger),
	)
	return &app{
		settings: settings,
		logger:   logger,
		builder:  report.NewBuilder(e, scoring.New(cfg.Scoring)),
		shutdown: shutdown,
	}, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown", "error", err)
	}
}

func (a *app) openStore(path string) (*store.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = a.settings.StorePath
	}
	if path == "" {
		return nil, nil
	}
	return store.Open(path)
}

func parseFlags(fs *flag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fs.SetOutput(os.Stdout)
			fs.Usage()
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func newFlagSet(name, usageLine string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(os.Stdout, "Usage: %s\n\nOptions:\n", usageLine)
		fs.PrintDefaults()
	}
	return fs
}

// readSQL returns the statement from --sql or --query. Exactly one must be set.
func readSQL(path, inline string) (string, error) {
	if path != "" && inline != "" {
		return "", fmt.Errorf("specify only one of --sql or --query")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read sql file: %w", err)
		}
		return string(data), nil
	}
	if inline != "" {
		return inline, nil
	}
	return "", fmt.Errorf("--sql or --query is required")
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

func runCommand(args []string) error {
	fs := newFlagSet("run", "pgdiag run --url <url> (--sql file.sql | --query \"SELECT ...\") [--out plan.json]")

	var (
		urlFlag    = fs.String("url", "", "PostgreSQL connection string; defaults to $DATABASE_URL")
		sqlPath    = fs.String("sql", "", "Path to the SQL file to EXPLAIN")
		inlineSQL  = fs.String("query", "", "Inline SQL string to EXPLAIN")
		outPath    = fs.String("out", "", "Path to write the resulting JSON (defaults to stdout)")
		timeout    = fs.Duration("timeout", 0, "Execution timeout, e.g. 45s (defaults to $PGDIAG_STATEMENT_TIMEOUT)")
		noAnalyze  = fs.Bool("no-analyze", false, "Plan only; do not execute the statement")
		configPath = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PGDIAG_CONFIG")
	)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.explain(*urlFlag, *sqlPath, *inlineSQL, runner.Options{Timeout: *timeout, NoAnalyze: *noAnalyze})
	if err != nil {
		return err
	}

	pretty, err := indentJSON(result)
	if err != nil {
		return err
	}
	if *outPath == "" {
		_, err = os.Stdout.Write(pretty)
		return err
	}
	return os.WriteFile(*outPath, pretty, 0o644)
}

func (a *app) explain(url, sqlPath, inlineSQL string, opts runner.Options) ([]byte, error) {
	connection := strings.TrimSpace(url)
	if connection == "" {
		connection = a.settings.DatabaseURL
	}
	if connection == "" {
		return nil, fmt.Errorf("--url is required or set $DATABASE_URL")
	}
	sqlText, err := readSQL(sqlPath, inlineSQL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout == 0 {
		opts.Timeout = a.settings.StatementTimeout
	}
	return runner.Run(context.Background(), connection, sqlText, opts)
}

type renderFlags struct {
	mode       *string
	title      *string
	color      *bool
	maxDepth   *int
	maxFinding *int
	includeCSS *bool
	storePath  *string
}

func addRenderFlags(fs *flag.FlagSet) renderFlags {
	return renderFlags{
		mode:       fs.String("mode", "tui", "Output mode: tui, html or json"),
		title:      fs.String("title", "pgdiag report", "Report title (HTML)"),
		color:      fs.Bool("color", true, "Enable ANSI colors for TUI output"),
		maxDepth:   fs.Int("max-depth", 0, "Limit tree depth (TUI)"),
		maxFinding: fs.Int("max-findings", 0, "Limit the findings list (TUI)"),
		includeCSS: fs.Bool("css", true, "Include inline styles (HTML)"),
		storePath:  fs.String("store", "", "SQLite file to persist the report in (defaults to $PGDIAG_STORE_PATH)"),
	}
}

// diagnosePlan evaluates the plan, optionally stores the report and renders it.
func (a *app) diagnosePlan(r io.Reader, outPath string, rf renderFlags) error {
	plan, err := parser.ParseJSON(r)
	if err != nil {
		return err
	}
	ctx := context.Background()
	pr, err := a.builder.AnalyzePlan(ctx, plan)
	if err != nil {
		return err
	}

	st, err := a.openStore(*rf.storePath)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() { _ = st.Close() }()
		if err := st.SavePlanReport(ctx, pr); err != nil {
			return err
		}
		a.logger.Info("report stored", "id", pr.ID, "severity", pr.Severity)
	}

	target, closeOut, err := openOutput(outPath)
	if err != nil {
		return err
	}
	defer closeOut()

	switch *rf.mode {
	case "tui":
		return tui.Render(target, pr, tui.Options{
			EnableColor: *rf.color,
			MaxDepth:    *rf.maxDepth,
			MaxFindings: *rf.maxFinding,
		})
	case "html":
		return html.Render(target, pr, html.Options{
			Title:         *rf.title,
			IncludeStyles: *rf.includeCSS,
		})
	case "json":
		return writeJSONTo(target, pr)
	default:
		return fmt.Errorf("unknown mode %q (expected tui, html or json)", *rf.mode)
	}
}

func analyzeCommand(args []string) error {
	fs := newFlagSet("analyze", "pgdiag analyze --url <url> (--sql file.sql | --query \"SELECT ...\") [--mode tui|html|json]")

	var (
		urlFlag    = fs.String("url", "", "PostgreSQL connection string; defaults to $DATABASE_URL")
		sqlPath    = fs.String("sql", "", "Path to the SQL file to EXPLAIN")
		inlineSQL  = fs.String("query", "", "Inline SQL string to EXPLAIN")
		outPath    = fs.String("out", "", "Output path (stdout if omitted)")
		timeout    = fs.Duration("timeout", 0, "Execution timeout, e.g. 45s (defaults to $PGDIAG_STATEMENT_TIMEOUT)")
		noAnalyze  = fs.Bool("no-analyze", false, "Plan only; do not execute the statement")
		configPath = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PGDIAG_CONFIG")
		rf         = addRenderFlags(fs)
	)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.explain(*urlFlag, *sqlPath, *inlineSQL, runner.Options{Timeout: *timeout, NoAnalyze: *noAnalyze})
	if err != nil {
		return err
	}
	return a.diagnosePlan(bytes.NewReader(result), *outPath, rf)
}

func reportCommand(args []string) error {
	fs := newFlagSet("report", "pgdiag report --input plan.json [--mode tui|html|json] [--out file]")

	var (
		input      = fs.String("input", "", "Path to EXPLAIN JSON input")
		output     = fs.String("out", "", "Output path (stdout if omitted)")
		configPath = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PGDIAG_CONFIG")
		rf         = addRenderFlags(fs)
	)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("--input is required")
	}

	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	file, err := os.Open(*input)
	if err != nil {
		return fmt.Errorf("open %s: %w", *input, err)
	}
	defer func() {
		_ = file.Close()
	}()
	return a.diagnosePlan(file, *output, rf)
}

func lintCommand(args []string) error {
	return lint(os.Stdout, args)
}

func lint(w io.Writer, args []string) error {
	fs := newFlagSet("lint", "pgdiag lint (--sql file.sql | --query \"SELECT ...\") [--format text|json]")

	var (
		sqlPath    = fs.String("sql", "", "Path to the SQL file to check")
		inlineSQL  = fs.String("query", "", "Inline SQL string to check")
		format     = fs.String("format", "text", "Output format: text or json")
		color      = fs.Bool("color", true, "Enable ANSI colors for text output")
		failOn     = fs.String("fail-on", "", "Exit non-zero when a finding reaches this severity (low, medium, high, critical)")
		configPath = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PGDIAG_CONFIG")
	)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	sqlText, err := readSQL(*sqlPath, *inlineSQL)
	if err != nil {
		return err
	}
	var threshold rule.Severity
	if *failOn != "" {
		if threshold, err = rule.ParseSeverity(*failOn); err != nil {
			return err
		}
		if threshold == rule.SeverityInfo {
			return fmt.Errorf("--fail-on must be low or above")
		}
	}

	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	stmt := model.SqlStatement{Text: sqlText}
	res, err := a.builder.LintStatement(context.Background(), stmt)
	if err != nil {
		return err
	}

	switch *format {
	case "text":
		err = tui.RenderLint(w, stmt, res.Findings, res.Suggestions, tui.Options{EnableColor: *color})
	case "json":
		err = writeJSONTo(w, res)
	default:
		return fmt.Errorf("unsupported format %q", *format)
	}
	if err != nil {
		return err
	}
	if *failOn != "" && rule.Highest(res.Findings) >= threshold {
		return fmt.Errorf("lint: findings at or above %s", threshold)
	}
	return nil
}

func statsCommand(args []string) error {
	fs := newFlagSet("stats", "pgdiag stats --url <url> [--limit 20] [--explain] [--format text|json]")

	var (
		urlFlag    = fs.String("url", "", "PostgreSQL connection string; defaults to $DATABASE_URL")
		limit      = fs.Int("limit", 20, "Number of statements to report (0 reports all)")
		minCalls   = fs.Int64("min-calls", 1, "Ignore statements called fewer times")
		explain    = fs.Bool("explain", false, "Capture and diagnose a plan for each reported statement without parameters")
		analyze    = fs.Bool("analyze", false, "With --explain, execute statements (EXPLAIN ANALYZE) instead of planning only")
		format     = fs.String("format", "text", "Output format: text or json")
		color      = fs.Bool("color", true, "Enable ANSI colors for text output")
		storePath  = fs.String("store", "", "SQLite file to persist the report in (defaults to $PGDIAG_STORE_PATH)")
		timeout    = fs.Duration("timeout", 0, "Per-query timeout (defaults to $PGDIAG_STATEMENT_TIMEOUT)")
		configPath = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PGDIAG_CONFIG")
	)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if *limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	connection := strings.TrimSpace(*urlFlag)
	if connection == "" {
		connection = a.settings.DatabaseURL
	}
	if connection == "" {
		return fmt.Errorf("--url is required or set $DATABASE_URL")
	}
	if *timeout == 0 {
		*timeout = a.settings.StatementTimeout
	}

	ctx := context.Background()
	status, err := runner.CheckExtension(ctx, connection)
	if err != nil {
		return err
	}
	if !status.Ready() {
		return fmt.Errorf("pg_stat_statements is not available (preloaded=%t, installed=%t)", status.Preloaded, status.Installed)
	}

	stmts, err := runner.CollectStatements(ctx, connection, runner.CollectOptions{Timeout: *timeout, MinCalls: *minCalls})
	if err != nil {
		return err
	}
	a.logger.Debug("statements collected", "count", len(stmts))

	rep, err := a.builder.AnalyzeStatements(ctx, stmts, report.Options{Limit: *limit})
	if err != nil {
		return err
	}
	if *explain {
		a.attachPlans(ctx, connection, rep, runner.Options{Timeout: *timeout, NoAnalyze: !*analyze})
	}

	st, err := a.openStore(*storePath)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() { _ = st.Close() }()
		if err := st.SaveStatementReport(ctx, rep); err != nil {
			return err
		}
		a.logger.Info("report stored", "id", rep.ID, "severity", rep.Severity())
	}

	switch *format {
	case "text":
		return tui.RenderStatements(os.Stdout, rep, tui.Options{EnableColor: *color})
	case "json":
		return writeJSONTo(os.Stdout, rep)
	default:
		return fmt.Errorf("unsupported format %q", *format)
	}
}

// attachPlans explains each reported statement and links the plan diagnosis to its result.
// Normalized statements with $n placeholders cannot be explained and are skipped.
func (a *app) attachPlans(ctx context.Context, dsn string, rep *report.AnalysisReport, opts runner.Options) {
	for i := range rep.Results {
		res := &rep.Results[i]
		if runner.HasParameters(res.Statement.Text) {
			a.logger.Debug("explain skipped: statement has parameters", "query_id", res.Statement.QueryID)
			continue
		}
		raw, err := runner.Run(ctx, dsn, res.Statement.Text, opts)
		if err != nil {
			a.logger.Warn("explain failed", "query_id", res.Statement.QueryID, "error", err)
			continue
		}
		plan, err := parser.Parse(raw)
		if err != nil {
			a.logger.Warn("plan not parsed", "query_id", res.Statement.QueryID, "error", err)
			continue
		}
		pr, err := a.builder.AnalyzePlan(ctx, plan)
		if err != nil {
			a.logger.Warn("plan not analyzed", "query_id", res.Statement.QueryID, "error", err)
			continue
		}
		report.AttachPlan(res, pr)
	}
}

func diffCommand(args []string) error {
	fs := newFlagSet("diff", "pgdiag diff --base base.json --target target.json [--format md|json]")

	var (
		basePath   = fs.String("base", "", "Path to baseline EXPLAIN JSON")
		targetPath = fs.String("target", "", "Path to target EXPLAIN JSON")
		format     = fs.String("format", "md", "Output format (md or json)")
		output     = fs.String("out", "", "Output path (stdout if omitted)")
		minDelta   = fs.Float64("min-delta", 0, "Minimum self-time delta in ms to report (default from config)")
		minPct     = fs.Float64("min-percent", 0, "Minimum percent change to report (default from config)")
		maxItems   = fs.Int("limit", 0, "Maximum rows per section (default from config)")
		configPath = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PGDIAG_CONFIG")
	)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if *basePath == "" || *targetPath == "" {
		return fmt.Errorf("--base and --target are required")
	}

	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	base, err := a.loadPlanReport(*basePath)
	if err != nil {
		return fmt.Errorf("load base: %w", err)
	}
	target, err := a.loadPlanReport(*targetPath)
	if err != nil {
		return fmt.Errorf("load target: %w", err)
	}

	rep, err := diff.Compare(base, target, diff.Options{
		MinSelfTimeDeltaMs: *minDelta,
		MinPercentChange:   *minPct,
		MaxItems:           *maxItems,
	})
	if err != nil {
		return err
	}

	switch *format {
	case "md", "markdown":
		content := rep.Markdown()
		if *output == "" {
			fmt.Print(content)
			return nil
		}
		return os.WriteFile(*output, []byte(content), 0o644)
	case "json":
		payload, err := rep.JSON()
		if err != nil {
			return err
		}
		if *output == "" {
			_, _ = os.Stdout.Write(payload)
			_, _ = os.Stdout.WriteString("\n")
			return nil
		}
		return os.WriteFile(*output, payload, 0o644)
	default:
		return fmt.Errorf("unsupported format %q", *format)
	}
}

func (a *app) loadPlanReport(path string) (*report.PlanReport, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	plan, err := parser.ParseJSON(file)
	if err != nil {
		return nil, err
	}
	return a.builder.AnalyzePlan(context.Background(), plan)
}

func serveCommand(args []string) error {
	fs := newFlagSet("serve", "pgdiag serve [--addr :8080] [--store reports.db]")

	var (
		addr       = fs.String("addr", "", "Listen address (defaults to $PGDIAG_LISTEN_ADDR)")
		storePath  = fs.String("store", "", "SQLite file for stored reports (defaults to $PGDIAG_STORE_PATH)")
		configPath = fs.String("config", "", "Path to configuration file (JSON). Falls back to $PGDIAG_CONFIG")
	)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	a, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := a.openStore(*storePath)
	if err != nil {
		return err
	}
	if st != nil {
		defer func() { _ = st.Close() }()
	} else {
		a.logger.Warn("no report store configured; reports endpoints disabled")
	}

	listen := strings.TrimSpace(*addr)
	if listen == "" {
		listen = a.settings.ListenAddr
	}
	v, _ := resolveVersion()
	srv := server.New(server.Config{
		Builder:      a.builder,
		Store:        st,
		Logger:       a.logger,
		Addr:         listen,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Version:      v,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func versionCommand(args []string) error {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	short := fs.Bool("short", false, "Print only the version number")

	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}

	v, meta := resolveVersion()
	if *short {
		fmt.Println(v)
		return nil
	}
	if meta != "" {
		fmt.Printf("pgdiag %s (%s)\n", v, meta)
	} else {
		fmt.Printf("pgdiag %s\n", v)
	}
	return nil
}

func resolveVersion() (string, string) {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}

	var commit, buildTime string
	var dirty bool
	if info, ok := debug.ReadBuildInfo(); ok {
		if (v == "dev" || v == "(devel)") &&
			info.Main.Version != "" &&
			info.Main.Version != "(devel)" &&
			!strings.HasPrefix(info.Main.Version, "v0.0.0-") {
			v = info.Main.Version
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				commit = setting.Value
			case "vcs.time":
				buildTime = setting.Value
			case "vcs.modified":
				dirty = setting.Value == "true"
			}
		}
	}

	var details []string
	if commit != "" {
		short := commit
		if len(short) > 12 {
			short = short[:12]
		}
		if dirty {
			short += "*"
			dirty = false
		}
		details = append(details, fmt.Sprintf("commit %s", short))
	}
	if buildTime != "" {
		details = append(details, fmt.Sprintf("built %s", buildTime))
	}
	if dirty {
		details = append(details, "modified workspace")
	}

	return v, strings.Join(details, ", ")
}

func indentJSON(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return nil, fmt.Errorf("indent json: %w", err)
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
