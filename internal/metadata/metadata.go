// Package metadata introspects the scoped dataset through the query
// executor: table listings, column summaries and row-count estimates.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

const (
	DefaultSummaryTables  = 25
	DefaultSummaryColumns = 30
	DefaultCatalogTables  = 200
	DefaultCatalogColumns = 60
)

const (
	StrategyTableStorage = "table_storage"
	StrategyPartitions   = "partitions"
	StrategyListTables   = "list_tables"
	StrategyCountStar    = "count_star"
)

var ErrListTables = errors.New("failed to list tables")

// Runner executes a single query request.
type Runner interface {
	Execute(ctx context.Context, request query.Request) query.Result
}

type Service struct {
	runner Runner
	scope  query.Scope
	logger *slog.Logger
}

func NewService(runner Runner, scope query.Scope, logger *slog.Logger) *Service {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Service{runner: runner, scope: scope, logger: logger}
}

func (s *Service) Scope() query.Scope {
	return s.scope
}

// ListTables returns table names in ascending order.
func (s *Service) ListTables(ctx context.Context) query.Result {
	sqlText := fmt.Sprintf("SELECT table_name FROM %s ORDER BY table_name", s.scope.InformationSchema("TABLES"))
	return s.runner.Execute(ctx, query.Request{SQL: sqlText})
}

func (s *Service) CountTables(ctx context.Context) query.Result {
	sqlText := fmt.Sprintf("SELECT COUNT(*) AS table_count FROM %s", s.scope.InformationSchema("TABLES"))
	return s.runner.Execute(ctx, query.Request{SQL: sqlText})
}

// FirstTable returns the alphabetically first table, or "" when the
// dataset is empty or cannot be listed.
func (s *Service) FirstTable(ctx context.Context) (string, error) {
	sqlText := fmt.Sprintf("SELECT table_name FROM %s ORDER BY table_name LIMIT 1", s.scope.InformationSchema("TABLES"))
	result := s.runner.Execute(ctx, query.Request{SQL: sqlText})
	if !result.OK() {
		return "", fmt.Errorf("%w: %s", ErrListTables, result.Error)
	}
	if len(result.Rows) == 0 {
		return "", nil
	}
	name, _ := result.Rows[0].Get("table_name")
	return fmt.Sprint(name), nil
}

type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type TableColumns struct {
	Table   string       `json:"table"`
	Columns []ColumnInfo `json:"columns"`
	// Truncated is set when columns beyond the cap were dropped.
	Truncated bool `json:"truncated,omitempty"`
}

// Catalog is the grouped column listing; Truncated is set when tables
// beyond the cap were dropped.
type Catalog struct {
	Tables    []TableColumns `json:"tables"`
	Truncated bool           `json:"truncated,omitempty"`
}

// TablesAndColumns groups INFORMATION_SCHEMA.COLUMNS by table, in result
// order, keeping at most maxTables tables and maxColumns columns each.
func (s *Service) TablesAndColumns(ctx context.Context, maxTables, maxColumns int) (Catalog, error) {
	if maxTables <= 0 {
		maxTables = DefaultCatalogTables
	}
	if maxColumns <= 0 {
		maxColumns = DefaultCatalogColumns
	}
	sqlText := fmt.Sprintf(
		"SELECT table_name, column_name, data_type, ordinal_position FROM %s ORDER BY table_name, ordinal_position",
		s.scope.InformationSchema("COLUMNS"),
	)
	return s.columns(ctx, sqlText, maxTables, maxColumns)
}

func (s *Service) columns(ctx context.Context, sqlText string, maxTables, maxColumns int) (Catalog, error) {
	result := s.runner.Execute(ctx, query.Request{SQL: sqlText})
	if !result.OK() {
		return Catalog{}, fmt.Errorf("list columns: %s", result.Error)
	}
	return groupColumns(result.Rows, maxTables, maxColumns), nil
}

func groupColumns(rows []query.Row, maxTables, maxColumns int) Catalog {
	var catalog Catalog
	index := map[string]int{}
	for _, row := range rows {
		table := stringValue(row, "table_name")
		position, ok := index[table]
		if !ok {
			if len(catalog.Tables) >= maxTables {
				catalog.Truncated = true
				continue
			}
			position = len(catalog.Tables)
			index[table] = position
			catalog.Tables = append(catalog.Tables, TableColumns{Table: table})
		}
		entry := &catalog.Tables[position]
		if len(entry.Columns) >= maxColumns {
			entry.Truncated = true
			continue
		}
		entry.Columns = append(entry.Columns, ColumnInfo{
			Name: stringValue(row, "column_name"),
			Type: stringValue(row, "data_type"),
		})
	}
	return catalog
}

// String renders one line per table: "table -> col:type, col:type".
func (c Catalog) String() string {
	lines := make([]string, 0, len(c.Tables)+1)
	for _, table := range c.Tables {
		parts := make([]string, 0, len(table.Columns)+1)
		for _, column := range table.Columns {
			parts = append(parts, column.Name+":"+column.Type)
		}
		if table.Truncated {
			parts = append(parts, "...")
		}
		lines = append(lines, table.Table+" -> "+strings.Join(parts, ", "))
	}
	if c.Truncated {
		lines = append(lines, "...")
	}
	return strings.Join(lines, "\n")
}

// SchemaSummary renders a compact "table -> col:type" listing. It returns
// "" when the columns view cannot be read.
func (s *Service) SchemaSummary(ctx context.Context, maxTables, maxColumns int) string {
	if maxTables <= 0 {
		maxTables = DefaultSummaryTables
	}
	if maxColumns <= 0 {
		maxColumns = DefaultSummaryColumns
	}
	sqlText := fmt.Sprintf(
		"SELECT table_name, column_name, data_type FROM %s ORDER BY table_name, ordinal_position",
		s.scope.InformationSchema("COLUMNS"),
	)
	catalog, err := s.columns(ctx, sqlText, maxTables, maxColumns)
	if err != nil {
		s.logger.WarnContext(ctx, "schema summary unavailable", slog.Any("error", err))
		return ""
	}
	return catalog.String()
}

func stringValue(row query.Row, key string) string {
	value, ok := row.Get(key)
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprint(value)
}
