package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/nl2sql"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/sandbox"
)

const noTableMessage = "Cannot determine a table to sample."

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

type AnalysisOutcome struct {
	sandbox.Outcome
	Table string `json:"table,omitempty"`
	SQL   string `json:"sql,omitempty"`
	Code  string `json:"code,omitempty"`
}

func analysisFailure(message string) AnalysisOutcome {
	return AnalysisOutcome{Outcome: sandbox.Outcome{Status: query.StatusError, Error: message}}
}

// Analyze samples table (the first table when empty), asks the generator
// for analysis code and runs it in the sandbox. limit <= 0 uses
// DefaultSampleLimit.
func (a *Agent) Analyze(ctx context.Context, question, table string, limit int) AnalysisOutcome {
	if strings.TrimSpace(question) == "" {
		return analysisFailure(ErrEmptyQuestion.Error())
	}
	if limit <= 0 {
		limit = DefaultSampleLimit
	}
	observability.ObserveIntent(string(IntentNL2Py))

	table = strings.TrimSpace(table)
	if table == "" {
		first, err := a.metadata.FirstTable(ctx)
		if err != nil || first == "" {
			a.logger.InfoContext(ctx, "no table to sample", slog.Any("error", err))
			return analysisFailure(noTableMessage)
		}
		table = first
	}
	if !tableName.MatchString(table) {
		return analysisFailure(fmt.Sprintf("invalid table name %q", table))
	}

	sampleSQL := fmt.Sprintf("SELECT * FROM %s LIMIT %d", a.scope.Table(table), limit)
	sample := a.runner.Execute(ctx, query.Request{SQL: sampleSQL})
	if !sample.OK() {
		outcome := analysisFailure(sample.Error)
		outcome.Table = table
		outcome.SQL = sampleSQL
		return outcome
	}

	code := a.generateAnalysis(ctx, question, sample.Schema)
	outcome := AnalysisOutcome{
		Outcome: a.sandbox.Run(ctx, code, sample.Rows),
		Table:   table,
		SQL:     sampleSQL,
		Code:    code,
	}
	return outcome
}

func (a *Agent) generateAnalysis(ctx context.Context, question string, schema []query.Column) string {
	if a.generator == nil {
		return nl2sql.DefaultAnalysis
	}
	text, err := a.generator.Generate(ctx, nl2sql.AnalysisPrompt(question, schema))
	if err != nil {
		a.logger.WarnContext(ctx, "analysis generation failed, using default analysis", slog.Any("error", err))
		return nl2sql.DefaultAnalysis
	}
	return nl2sql.ExtractFenced(text, "result", "df", "import")
}
