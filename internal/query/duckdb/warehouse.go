package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/storage"
)

// Warehouse serves a dataset from parquet files in object storage. Each
// folder <Prefix>/<table>/ becomes a view in a schema named after the
// dataset; BigQuery-style references to the scope are rewritten on the way
// in. Only the TABLES and COLUMNS metadata views are available.
type Warehouse struct {
	Store  storage.Reader
	Scope  query.Scope
	Prefix string
	Logger *slog.Logger
}

func New(store storage.Reader, scope query.Scope, prefix string, logger *slog.Logger) *Warehouse {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Warehouse{Store: store, Scope: scope, Prefix: prefix, Logger: logger}
}

type tableFiles struct {
	name  string
	keys  []string
	bytes int64
}

func (w *Warehouse) Run(ctx context.Context, job query.Job) (query.JobResult, error) {
	if w.Store == nil {
		return query.JobResult{}, fmt.Errorf("object store is required")
	}
	translated, err := w.translate(job.SQL)
	if err != nil {
		return query.JobResult{}, err
	}

	tables, err := w.discoverTables(ctx)
	if err != nil {
		return query.JobResult{}, err
	}

	workDir, err := os.MkdirTemp("", "dataagent-duckdb-")
	if err != nil {
		return query.JobResult{}, fmt.Errorf("create query temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return query.JobResult{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(w.Scope.Dataset))); err != nil {
		return query.JobResult{}, fmt.Errorf("create schema: %w", err)
	}
	var bytesProcessed int64
	for _, table := range tables {
		localPaths, err := w.download(ctx, workDir, table)
		if err != nil {
			return query.JobResult{}, err
		}
		viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s.%s AS SELECT * FROM read_parquet(%s)`,
			quoteIdent(w.Scope.Dataset), quoteIdent(table.name), quoteStringArray(localPaths))
		if _, err := db.ExecContext(ctx, viewSQL); err != nil {
			return query.JobResult{}, fmt.Errorf("create view for table %q: %w", table.name, err)
		}
		if strings.Contains(translated, quoteIdent(w.Scope.Dataset)+"."+quoteIdent(table.name)) {
			bytesProcessed += table.bytes
		}
	}

	args := namedArgs(job.Params)
	if len(args) > 0 {
		translated = rewriteParamRefs(translated, job.Params)
	}
	jobID := "duckdb_" + uuid.NewString()
	w.Logger.DebugContext(ctx, "running local query", slog.String("job_id", jobID), slog.String("sql", translated))

	if job.DryRun {
		rows, err := db.QueryContext(ctx, "EXPLAIN "+translated, args...)
		if err != nil {
			return query.JobResult{}, fmt.Errorf("dry run: %w", err)
		}
		for rows.Next() {
			// plan rows are not reported
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return query.JobResult{}, fmt.Errorf("dry run: %w", err)
		}
		if closeErr != nil {
			return query.JobResult{}, fmt.Errorf("dry run: %w", closeErr)
		}
		return query.JobResult{JobID: jobID, BytesProcessed: bytesProcessed}, nil
	}

	rows, err := db.QueryContext(ctx, translated, args...)
	if err != nil {
		return query.JobResult{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.JobResult{}, fmt.Errorf("query columns: %w", err)
	}
	schema := make([]query.Column, 0, len(columns))
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return query.JobResult{}, fmt.Errorf("query column types: %w", err)
	}
	for i, column := range columns {
		schema = append(schema, query.Column{Name: column, Type: warehouseType(columnTypes[i].DatabaseTypeName()), Mode: "NULLABLE"})
	}

	resultRows := make([]query.Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.JobResult{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, query.NewRow(columns, normalizeValues(values)))
	}
	if err := rows.Err(); err != nil {
		return query.JobResult{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.JobResult{
		JobID:          jobID,
		Schema:         schema,
		Rows:           resultRows,
		BytesProcessed: bytesProcessed,
	}, nil
}

func (w *Warehouse) discoverTables(ctx context.Context) ([]tableFiles, error) {
	objects, err := w.Store.List(ctx, w.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list warehouse objects: %w", err)
	}
	byName := map[string]*tableFiles{}
	for _, object := range objects {
		name, ok := storage.TableFromKey(w.Prefix, object.Key)
		if !ok {
			continue
		}
		table, ok := byName[name]
		if !ok {
			table = &tableFiles{name: name}
			byName[name] = table
		}
		table.keys = append(table.keys, object.Key)
		table.bytes += object.Size
	}
	tables := make([]tableFiles, 0, len(byName))
	for _, table := range byName {
		tables = append(tables, *table)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].name < tables[j].name })
	return tables, nil
}

func (w *Warehouse) download(ctx context.Context, workDir string, table tableFiles) ([]string, error) {
	paths := make([]string, 0, len(table.keys))
	for index, key := range table.keys {
		reader, err := w.Store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("get object %q: %w", key, err)
		}
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(table.name), index))
		copyErr := copyToFile(localPath, reader)
		closeErr := reader.Close()
		if copyErr != nil {
			return nil, fmt.Errorf("write snapshot %q for table %s: %w", localPath, table.name, copyErr)
		}
		if closeErr != nil {
			return nil, fmt.Errorf("close object %q: %w", key, closeErr)
		}
		paths = append(paths, localPath)
	}
	return paths, nil
}

func copyToFile(path string, reader io.Reader) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

var paramRef = regexp.MustCompile(`@([A-Za-z_][A-Za-z0-9_]*)`)

// rewriteParamRefs turns @name into DuckDB's $name for bound parameters only.
// Quoted spans ('...', "...", `...`) are left alone.
func rewriteParamRefs(sqlText string, params []query.Param) string {
	bound := make(map[string]bool, len(params))
	for _, param := range params {
		bound[param.Name] = true
	}
	rewrite := func(segment string) string {
		return paramRef.ReplaceAllStringFunc(segment, func(match string) string {
			if bound[match[1:]] {
				return "$" + match[1:]
			}
			return match
		})
	}

	var out strings.Builder
	start := 0
	var quote byte
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		switch {
		case quote == 0 && (c == '\'' || c == '"' || c == '`'):
			out.WriteString(rewrite(sqlText[start:i]))
			start = i
			quote = c
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			out.WriteString(sqlText[start : i+1])
			start = i + 1
			quote = 0
		}
	}
	if quote != 0 {
		out.WriteString(sqlText[start:])
	} else {
		out.WriteString(rewrite(sqlText[start:]))
	}
	return out.String()
}

// translate rewrites scoped BigQuery references into local identifiers.
func (w *Warehouse) translate(sqlText string) (string, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return "", fmt.Errorf("sql is required")
	}
	qualified := regexp.QuoteMeta(w.Scope.Qualified())
	schema := quoteIdent(w.Scope.Dataset)

	infoSchema := regexp.MustCompile("(?i)`" + qualified + "`\\.INFORMATION_SCHEMA\\.([A-Za-z_]+)")
	var unsupported string
	sqlText = infoSchema.ReplaceAllStringFunc(sqlText, func(match string) string {
		view := strings.ToUpper(infoSchema.FindStringSubmatch(match)[1])
		switch view {
		case "TABLES":
			return fmt.Sprintf("(SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = %s)", quoteString(w.Scope.Dataset))
		case "COLUMNS":
			return fmt.Sprintf("(SELECT table_name, column_name, data_type, ordinal_position, is_nullable FROM information_schema.columns WHERE table_schema = %s)", quoteString(w.Scope.Dataset))
		default:
			if unsupported == "" {
				unsupported = view
			}
			return match
		}
	})
	if unsupported != "" {
		return "", fmt.Errorf("INFORMATION_SCHEMA.%s is not available in the local warehouse", unsupported)
	}

	fullTable := regexp.MustCompile("`" + qualified + `\.([A-Za-z0-9_\-]+)` + "`")
	sqlText = fullTable.ReplaceAllStringFunc(sqlText, func(match string) string {
		return schema + "." + quoteIdent(fullTable.FindStringSubmatch(match)[1])
	})
	datasetTable := regexp.MustCompile("`" + qualified + "`" + `\.([A-Za-z0-9_]+)`)
	sqlText = datasetTable.ReplaceAllStringFunc(sqlText, func(match string) string {
		return schema + "." + quoteIdent(datasetTable.FindStringSubmatch(match)[1])
	})
	if strings.Contains(sqlText, "`") {
		return "", fmt.Errorf("only references inside `%s` are available in the local warehouse", w.Scope.Qualified())
	}
	return sqlText, nil
}

func namedArgs(params []query.Param) []any {
	args := make([]any, 0, len(params))
	for _, param := range params {
		args = append(args, sql.Named(param.Name, param.Value()))
	}
	return args
}

func warehouseType(duckType string) string {
	upper := strings.ToUpper(duckType)
	switch {
	case upper == "BIGINT" || upper == "INTEGER" || upper == "SMALLINT" || upper == "TINYINT" ||
		upper == "HUGEINT" || upper == "UBIGINT" || upper == "UINTEGER" || upper == "USMALLINT" || upper == "UTINYINT":
		return "INTEGER"
	case upper == "DOUBLE" || upper == "FLOAT" || upper == "REAL":
		return "FLOAT"
	case strings.HasPrefix(upper, "DECIMAL"):
		return "NUMERIC"
	case upper == "VARCHAR":
		return "STRING"
	case upper == "BLOB":
		return "BYTES"
	case upper == "":
		return "STRING"
	default:
		return upper
	}
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case interface{ Float64() float64 }:
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, quoteString(value))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
