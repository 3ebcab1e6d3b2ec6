// Package agent answers natural-language questions about the scoped
// dataset, either through metadata shortcuts or generated SQL, and runs
// generated analysis code over table samples.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/metadata"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/nl2sql"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/sandbox"
)

const (
	DefaultMaxRows     = 100
	DefaultSampleLimit = 200
	schemaPreviewLines = 25
)

var ErrEmptyQuestion = errors.New("question must be a non-empty string")

type Dependencies struct {
	Runner metadata.Runner
	// Generator is optional; without one, placeholders are used.
	Generator nl2sql.Generator
	Sandbox   *sandbox.Sandbox
	Scope     query.Scope
	Logger    *slog.Logger
}

type Agent struct {
	runner    metadata.Runner
	metadata  *metadata.Service
	generator nl2sql.Generator
	sandbox   *sandbox.Sandbox
	scope     query.Scope
	logger    *slog.Logger
}

func New(deps Dependencies) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	box := deps.Sandbox
	if box == nil {
		box = sandbox.New(sandbox.Config{}, logger)
	}
	return &Agent{
		runner:    deps.Runner,
		metadata:  metadata.NewService(deps.Runner, deps.Scope, logger),
		generator: deps.Generator,
		sandbox:   box,
		scope:     deps.Scope,
		logger:    logger,
	}
}

func (a *Agent) Metadata() *metadata.Service {
	return a.metadata
}

// Answer routes a question to a metadata shortcut or to the generated SQL
// flow: generate, sanitize, dry run, execute. maxRows <= 0 uses
// DefaultMaxRows.
func (a *Agent) Answer(ctx context.Context, question string, maxRows int) query.Result {
	if strings.TrimSpace(question) == "" {
		return query.Failure("", ErrEmptyQuestion)
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	if intent, ok := DetectIntent(question); ok {
		observability.ObserveIntent(string(intent))
		a.logger.InfoContext(ctx, "intent matched", slog.String("intent", string(intent)))
		var result query.Result
		switch intent {
		case IntentCountTables:
			result = a.metadata.CountTables(ctx)
		case IntentListTables:
			result = a.metadata.ListTables(ctx)
		default:
			result = a.metadata.RowCounts(ctx)
		}
		if result.Debug == nil {
			result.Debug = &query.Debug{}
		}
		result.Debug.Intent = string(intent)
		return result
	}

	observability.ObserveIntent(string(IntentNL2SQL))
	return a.adHoc(ctx, question, maxRows)
}

func (a *Agent) adHoc(ctx context.Context, question string, maxRows int) query.Result {
	schema := a.schemaContext(ctx)
	debug := &query.Debug{
		Intent:        string(IntentNL2SQL),
		SchemaPreview: firstLines(schema, schemaPreviewLines),
	}

	generated := a.generateSQL(ctx, question, schema)
	debug.GeneratedSQL = generated

	sanitized, err := query.Sanitize(generated, a.scope)
	if err != nil {
		a.logger.InfoContext(ctx, "generated sql rejected", slog.String("sql", generated), slog.Any("error", err))
		failure := query.Failure(generated, err)
		failure.Debug = debug
		return failure
	}
	debug.SanitizedSQL = sanitized
	inspection := query.Inspect(sanitized)
	debug.Inspection = &inspection

	dry := a.runner.Execute(ctx, query.Request{SQL: sanitized, DryRun: true})
	if !dry.OK() {
		failure := query.Failure(sanitized, errors.New(dry.Error))
		failure.Debug = debug
		return failure
	}
	bytes := dry.BytesProcessed
	debug.DryRunBytes = &bytes

	result := a.runner.Execute(ctx, query.Request{SQL: sanitized, MaxRows: maxRows})
	result.Debug = debug
	return result
}

func (a *Agent) schemaContext(ctx context.Context) string {
	catalog, err := a.metadata.TablesAndColumns(ctx, 0, 0)
	if err != nil {
		a.logger.InfoContext(ctx, "column catalog unavailable, using schema summary", slog.Any("error", err))
		return a.metadata.SchemaSummary(ctx, 0, 0)
	}
	return catalog.String()
}

func (a *Agent) generateSQL(ctx context.Context, question, schema string) string {
	if a.generator == nil {
		return nl2sql.PlaceholderSQL(a.scope)
	}
	text, err := a.generator.Generate(ctx, nl2sql.SQLPrompt(a.scope, schema, question))
	if err != nil {
		a.logger.WarnContext(ctx, "sql generation failed, using placeholder", slog.Any("error", err))
		return nl2sql.PlaceholderSQL(a.scope)
	}
	return nl2sql.ExtractFenced(text, "select")
}

func firstLines(text string, n int) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
