// Package dataagent implements the dataagent command line. Tool output is
// JSON on stdout; logs go to stderr.
package dataagent

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/api"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/app"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/audit"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/config"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/migrations"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2

	defaultQueryMaxRows = 50
)

type Options struct {
	ServiceName string
	Lookup      config.LookupFunc
	Stdout      io.Writer
	Stderr      io.Writer
	// Open and OpenAuditDB default to app.Build and app.OpenAuditDB.
	Open        func(ctx context.Context, cfg config.Config, logger *slog.Logger, source string) (*app.App, error)
	OpenAuditDB func(ctx context.Context, cfg config.Config) (*sql.DB, error)
	// Serve defaults to api.Serve.
	Serve func(ctx context.Context, cfg config.Config, handler http.Handler, logger *slog.Logger) error
}

// usageError marks failures that should exit with exitUsage.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func Run(ctx context.Context, args []string, defaults Options) int {
	opts := withDefaults(defaults)
	root := newRootCmd(ctx, &opts)
	root.SetArgs(args)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "error: %v\n", err)
		var usage usageError
		if errors.As(err, &usage) || isFlagError(err) {
			return exitUsage
		}
		return exitError
	}
	return exitOK
}

func withDefaults(opts Options) Options {
	if opts.ServiceName == "" {
		opts.ServiceName = "dataagent"
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	if opts.Open == nil {
		opts.Open = app.Build
	}
	if opts.OpenAuditDB == nil {
		opts.OpenAuditDB = app.OpenAuditDB
	}
	if opts.Serve == nil {
		opts.Serve = api.Serve
	}
	return opts
}

func isFlagError(err error) bool {
	message := err.Error()
	return strings.HasPrefix(message, "unknown command") ||
		strings.HasPrefix(message, "unknown flag") ||
		strings.HasPrefix(message, "unknown shorthand flag") ||
		strings.Contains(message, "flag needs an argument") ||
		strings.HasPrefix(message, "invalid argument") ||
		strings.HasPrefix(message, "accepts ") ||
		strings.HasPrefix(message, "requires at least")
}

// session is the per-invocation state shared by subcommands.
type session struct {
	opts   *Options
	cfg    config.Config
	logger *slog.Logger
}

func (s *session) load() error {
	cfg, err := config.Load(s.opts.ServiceName, s.opts.Lookup)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	s.cfg = cfg
	s.logger = observability.NewLogger(cfg, s.opts.Stderr)
	return nil
}

func (s *session) withApp(ctx context.Context, fn func(*app.App) error) error {
	if err := s.load(); err != nil {
		return err
	}
	application, err := s.opts.Open(ctx, s.cfg, s.logger, audit.SourceCLI)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			s.logger.Warn("close failed", slog.Any("error", err))
		}
	}()
	return fn(application)
}

func (s *session) print(value any) error {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(s.opts.Stdout, string(encoded))
	return err
}

// printResult exports successful results when asked, then prints them.
// Export failures are logged and leave export_path empty.
func (s *session) printResult(ctx context.Context, application *app.App, result query.Result, exportResult bool) error {
	if exportResult && result.OK() && !result.DryRun {
		if application.Exporter == nil {
			return usageError{errors.New("--export requires DATA_AGENT_EXPORT_ENABLED=true")}
		}
		key, err := application.Exporter.Export(ctx, result)
		if err != nil {
			s.logger.Warn("result export failed", slog.Any("error", err))
		} else {
			result.ExportPath = key
		}
	}
	return s.print(result)
}

func newRootCmd(ctx context.Context, opts *Options) *cobra.Command {
	s := &session{opts: opts}
	root := &cobra.Command{
		Use:           "dataagent",
		Short:         "Ask questions about a warehouse dataset",
		Long:          "Natural-language and direct SQL access to a single warehouse dataset, with Starlark analysis of sampled rows.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newNL2SQLCmd(ctx, s),
		newNL2PyCmd(ctx, s),
		newQueryCmd(ctx, s),
		newTablesCmd(ctx, s, "tables", "List tables in the dataset", api.Catalog.ListTables),
		newTablesCmd(ctx, s, "tables-count", "Count tables in the dataset", api.Catalog.CountTables),
		newTablesCmd(ctx, s, "table-rows", "Estimate row counts per table", api.Catalog.RowCounts),
		newServeCmd(ctx, s),
		newMigrateCmd(ctx, s),
		newRemoteCmd(ctx, s),
	)
	return root
}

func questionArg(args []string) (string, error) {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return "", usageError{errors.New("a question is required")}
	}
	return question, nil
}

func newNL2SQLCmd(ctx context.Context, s *session) *cobra.Command {
	var (
		maxRows      int
		exportResult bool
	)
	cmd := &cobra.Command{
		Use:   "nl2sql <question>",
		Short: "Answer a question with generated SQL",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			question, err := questionArg(args)
			if err != nil {
				return err
			}
			return s.withApp(ctx, func(application *app.App) error {
				result := application.Assistant.Answer(ctx, question, maxRows)
				return s.printResult(ctx, application, result, exportResult)
			})
		},
	}
	cmd.Flags().IntVar(&maxRows, "max_rows", 100, "maximum rows returned")
	cmd.Flags().BoolVar(&exportResult, "export", false, "upload the result rows as parquet")
	return cmd
}

func newNL2PyCmd(ctx context.Context, s *session) *cobra.Command {
	var (
		limit int
		table string
	)
	cmd := &cobra.Command{
		Use:   "nl2py <question>",
		Short: "Analyze sampled rows with generated Starlark",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			question, err := questionArg(args)
			if err != nil {
				return err
			}
			return s.withApp(ctx, func(application *app.App) error {
				return s.print(application.Assistant.Analyze(ctx, question, table, limit))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "rows sampled from the table")
	cmd.Flags().StringVar(&table, "table", "", "table to sample; defaults to the first table")
	return cmd
}

func newQueryCmd(ctx context.Context, s *session) *cobra.Command {
	var (
		sqlText      string
		rawParams    string
		dryRun       bool
		maxRows      int
		exportResult bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a read-only SQL query against the dataset",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if strings.TrimSpace(sqlText) == "" {
				return usageError{errors.New("--sql is required")}
			}
			params, err := query.ParseParams(rawParams)
			if err != nil {
				return usageError{err}
			}
			return s.withApp(ctx, func(application *app.App) error {
				result := application.Runner.Execute(ctx, query.Request{
					SQL:     sqlText,
					Params:  params,
					MaxRows: maxRows,
					DryRun:  dryRun,
				})
				return s.printResult(ctx, application, result, exportResult)
			})
		},
	}
	cmd.Flags().StringVar(&sqlText, "sql", "", "SELECT statement referencing the dataset")
	cmd.Flags().StringVar(&rawParams, "params", "", `JSON object of named parameters, e.g. {"id": 7}`)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and estimate bytes without running")
	cmd.Flags().IntVar(&maxRows, "max_rows", defaultQueryMaxRows, "maximum rows returned")
	cmd.Flags().BoolVar(&exportResult, "export", false, "upload the result rows as parquet")
	return cmd
}

func newTablesCmd(ctx context.Context, s *session, use, short string, run func(api.Catalog, context.Context) query.Result) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return s.withApp(ctx, func(application *app.App) error {
				return s.print(run(application.Catalog, ctx))
			})
		},
	}
}

func newServeCmd(ctx context.Context, s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tools over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := s.load(); err != nil {
				return err
			}
			application, err := s.opts.Open(ctx, s.cfg, s.logger, audit.SourceAPI)
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()
			deps, err := application.APIDependencies()
			if err != nil {
				return err
			}
			return s.opts.Serve(ctx, s.cfg, api.NewHandler(s.cfg, deps), s.logger)
		},
	}
}

func newMigrateCmd(ctx context.Context, s *session) *cobra.Command {
	var (
		direction string
		steps     int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back audit log migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			switch direction {
			case "up", "down", "status":
			default:
				return usageError{fmt.Errorf("invalid direction: %s", direction)}
			}
			if err := s.load(); err != nil {
				return err
			}
			db, err := s.opts.OpenAuditDB(ctx, s.cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			return runMigration(ctx, s, db, direction, steps)
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	return cmd
}

func runMigration(ctx context.Context, s *session, db *sql.DB, direction string, steps int) error {
	runner := migrations.NewRunner()
	switch direction {
	case "up":
		applied, err := runner.Up(ctx, db, steps)
		if err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		return s.print(map[string]any{"direction": direction, "applied": applied})
	case "down":
		rolledBack, err := runner.Down(ctx, db, steps)
		if err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		return s.print(map[string]any{"direction": direction, "rolled_back": rolledBack})
	default:
		states, err := runner.Status(ctx, db)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		return s.print(map[string]any{"direction": direction, "migrations": states})
	}
}
