package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/nl2sql"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

var testScope = query.Scope{Project: "p", Dataset: "d"}

type scriptedWarehouse struct {
	responses []warehouseResponse
	jobs      []query.Job
}

type warehouseResponse struct {
	contains string
	dryRun   bool
	result   query.JobResult
	err      error
}

func (w *scriptedWarehouse) on(fragment string, result query.JobResult) *scriptedWarehouse {
	w.responses = append(w.responses, warehouseResponse{contains: fragment, result: result})
	return w
}

func (w *scriptedWarehouse) onDryRun(fragment string, result query.JobResult, err error) *scriptedWarehouse {
	w.responses = append(w.responses, warehouseResponse{contains: fragment, dryRun: true, result: result, err: err})
	return w
}

func (w *scriptedWarehouse) fail(fragment string, err error) *scriptedWarehouse {
	w.responses = append(w.responses, warehouseResponse{contains: fragment, err: err})
	return w
}

func (w *scriptedWarehouse) Run(_ context.Context, job query.Job) (query.JobResult, error) {
	w.jobs = append(w.jobs, job)
	for _, response := range w.responses {
		if response.dryRun != job.DryRun || !strings.Contains(job.SQL, response.contains) {
			continue
		}
		return response.result, response.err
	}
	if job.DryRun {
		return query.JobResult{JobID: "dry"}, nil
	}
	return query.JobResult{}, errors.New("unexpected job: " + job.SQL)
}

func rows(keys []string, values ...[]any) []query.Row {
	out := make([]query.Row, 0, len(values))
	for _, v := range values {
		out = append(out, query.NewRow(keys, v))
	}
	return out
}

type fakeGenerator struct {
	text    string
	err     error
	prompts []nl2sql.Prompt
}

func (g *fakeGenerator) Generate(_ context.Context, prompt nl2sql.Prompt) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.text, g.err
}

func newAgent(warehouse *scriptedWarehouse, generator nl2sql.Generator) *Agent {
	executor := query.NewExecutor(warehouse, testScope, "US", nil)
	deps := Dependencies{Runner: executor, Scope: testScope}
	if generator != nil {
		deps.Generator = generator
	}
	return New(deps)
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	result := newAgent(&scriptedWarehouse{}, nil).Answer(context.Background(), "   ", 0)
	if result.OK() || result.Error != "question must be a non-empty string" {
		t.Fatalf("Answer() = %#v", result)
	}
}

func TestAnswerCountTablesIntent(t *testing.T) {
	warehouse := (&scriptedWarehouse{}).on("COUNT(*) AS table_count", query.JobResult{
		Rows: rows([]string{"table_count"}, []any{int64(7)}),
	})
	result := newAgent(warehouse, nil).Answer(context.Background(), "How many tables are there?", 0)
	if !result.OK() {
		t.Fatalf("Answer() error = %s", result.Error)
	}
	if result.Debug == nil || result.Debug.Intent != "count_tables" {
		t.Fatalf("Debug = %#v", result.Debug)
	}
	if len(warehouse.jobs) != 1 || !strings.Contains(warehouse.jobs[0].SQL, "`p.d`.INFORMATION_SCHEMA.TABLES") {
		t.Fatalf("jobs = %#v", warehouse.jobs)
	}
	if value, _ := result.Rows[0].Get("table_count"); value != int64(7) {
		t.Fatalf("table_count = %v", value)
	}
}

func TestAnswerListTablesIntent(t *testing.T) {
	warehouse := (&scriptedWarehouse{}).on("ORDER BY table_name", query.JobResult{
		Rows: rows([]string{"table_name"}, []any{"alerts"}, []any{"sites"}),
	})
	result := newAgent(warehouse, nil).Answer(context.Background(), "列出表", 0)
	if !result.OK() || result.Debug.Intent != "list_tables" {
		t.Fatalf("Answer() = %#v", result)
	}
	if !strings.HasSuffix(warehouse.jobs[0].SQL, "ORDER BY table_name") {
		t.Fatalf("sql = %q", warehouse.jobs[0].SQL)
	}
}

func TestAnswerRowCountIntentKeepsAttempts(t *testing.T) {
	warehouse := (&scriptedWarehouse{}).on("TABLE_STORAGE", query.JobResult{
		Rows: rows([]string{"table_name", "row_count"}, []any{"alerts", int64(10)}),
	})
	result := newAgent(warehouse, nil).Answer(context.Background(), "rows per table", 0)
	if !result.OK() {
		t.Fatalf("Answer() error = %s", result.Error)
	}
	if result.Debug.Intent != "table_row_counts" || len(result.Debug.Attempts) != 1 {
		t.Fatalf("Debug = %#v", result.Debug)
	}
}

func TestDetectIntentOrder(t *testing.T) {
	tests := map[string]Intent{
		"count tables and list tables": IntentCountTables,
		"show me the tables list":      IntentListTables,
		"每张表有多少行":                      IntentTableRowCounts,
		"有多少表":                         IntentCountTables,
	}
	for question, want := range tests {
		got, ok := DetectIntent(question)
		if !ok || got != want {
			t.Fatalf("DetectIntent(%q) = %q, %v; want %q", question, got, ok, want)
		}
	}
	if _, ok := DetectIntent("top alerting sites"); ok {
		t.Fatalf("DetectIntent() matched an ad-hoc question")
	}
}

func columnsResult() query.JobResult {
	return query.JobResult{Rows: rows(
		[]string{"table_name", "column_name", "data_type", "ordinal_position"},
		[]any{"orders", "id", "INT64", int64(1)},
		[]any{"orders", "amount", "FLOAT64", int64(2)},
	)}
}

func TestAnswerSanitizesGeneratedSQLAndExecutes(t *testing.T) {
	warehouse := (&scriptedWarehouse{}).
		on("INFORMATION_SCHEMA.COLUMNS", columnsResult()).
		onDryRun("`p.d.orders`", query.JobResult{JobID: "dry", BytesProcessed: 0}, nil).
		on("`p.d.orders`", query.JobResult{
			JobID: "job-1",
			Rows:  rows([]string{"id"}, []any{int64(1)}, []any{int64(2)}, []any{int64(3)}),
		})
	generator := &fakeGenerator{text: "Sure:\n```sql\nSELECT * FROM orders LIMIT 10\n```"}

	result := newAgent(warehouse, generator).Answer(context.Background(), "show orders", 2)
	if !result.OK() {
		t.Fatalf("Answer() error = %s", result.Error)
	}
	if result.SQL != "SELECT * FROM `p.d.orders` LIMIT 10" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if result.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", result.RowCount)
	}
	debug := result.Debug
	if debug.Intent != "nl2sql" || debug.GeneratedSQL != "SELECT * FROM orders LIMIT 10" || debug.SanitizedSQL != result.SQL {
		t.Fatalf("Debug = %#v", debug)
	}
	if debug.DryRunBytes == nil || *debug.DryRunBytes != 0 {
		t.Fatalf("DryRunBytes = %v", debug.DryRunBytes)
	}
	if debug.SchemaPreview != "orders -> id:INT64, amount:FLOAT64" {
		t.Fatalf("SchemaPreview = %q", debug.SchemaPreview)
	}
	if debug.Inspection == nil || debug.Inspection.Guard != query.ReadOnlyGuard {
		t.Fatalf("Inspection = %#v", debug.Inspection)
	}
	if len(generator.prompts) != 1 || !strings.Contains(generator.prompts[0].User, "orders -> id:INT64") {
		t.Fatalf("prompts = %#v", generator.prompts)
	}
	last := warehouse.jobs[len(warehouse.jobs)-1]
	if last.DryRun {
		t.Fatalf("last job was a dry run")
	}
}

func TestAnswerFallsBackToPlaceholderWhenGenerationFails(t *testing.T) {
	warehouse := (&scriptedWarehouse{}).
		on("INFORMATION_SCHEMA.COLUMNS", columnsResult()).
		onDryRun("YOUR_TABLE", query.JobResult{}, errors.New("Not found: Table p:d.YOUR_TABLE"))
	generator := &fakeGenerator{err: nl2sql.ErrGenerationUnavailable}

	result := newAgent(warehouse, generator).Answer(context.Background(), "show orders", 0)
	if result.OK() {
		t.Fatalf("Answer() succeeded on placeholder")
	}
	if result.SQL != "SELECT * FROM `p.d.YOUR_TABLE` LIMIT 50" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	if !strings.Contains(result.Error, "Not found") {
		t.Fatalf("Error = %q", result.Error)
	}
	if result.Debug == nil || result.Debug.SchemaPreview == "" || result.Debug.DryRunBytes != nil {
		t.Fatalf("Debug = %#v", result.Debug)
	}
}

func TestAnswerReportsSanitizeFailure(t *testing.T) {
	warehouse := (&scriptedWarehouse{}).on("INFORMATION_SCHEMA.COLUMNS", columnsResult())
	generator := &fakeGenerator{text: "DELETE FROM orders"}

	result := newAgent(warehouse, generator).Answer(context.Background(), "drop stuff", 0)
	if result.OK() {
		t.Fatalf("Answer() succeeded")
	}
	if !strings.HasPrefix(result.Error, "SQL sanitize failed: ") {
		t.Fatalf("Error = %q", result.Error)
	}
	if result.SQL != "DELETE FROM orders" {
		t.Fatalf("SQL = %q", result.SQL)
	}
	for _, job := range warehouse.jobs {
		if strings.Contains(job.SQL, "DELETE") {
			t.Fatalf("generated statement reached the warehouse: %q", job.SQL)
		}
	}
}

func TestAnswerUsesSchemaSummaryWhenCatalogFails(t *testing.T) {
	warehouse := &scriptedWarehouse{}
	warehouse.fail("ordinal_position FROM", errors.New("denied"))
	warehouse.on("data_type FROM", columnsResult())
	generator := &fakeGenerator{err: errors.New("offline")}

	result := newAgent(warehouse, generator).Answer(context.Background(), "anything", 0)
	if result.Debug == nil || !strings.HasPrefix(result.Debug.SchemaPreview, "orders -> ") {
		t.Fatalf("Debug = %#v", result.Debug)
	}
}
