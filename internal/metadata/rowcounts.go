package metadata

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

// RowCounts estimates per-table row counts. Strategies run in order and the
// first success with at least one row wins:
//
//  1. INFORMATION_SCHEMA.TABLE_STORAGE
//  2. INFORMATION_SCHEMA.PARTITIONS summed per table
//  3. list tables, then COUNT(*) each one sequentially
//
// Every attempt is reported in Debug.Attempts. When strategy 3 cannot list
// tables the result carries the listing error.
func (s *Service) RowCounts(ctx context.Context) query.Result {
	var attempts []query.Attempt
	record := func(strategy string, result query.Result) {
		attempts = append(attempts, query.Attempt{
			Strategy: strategy,
			SQL:      result.SQL,
			Status:   result.Status,
			Error:    result.Error,
		})
		observability.ObserveRowCountAttempt(strategy, string(result.Status))
	}

	strategies := []struct {
		name string
		sql  string
	}{
		{
			name: StrategyTableStorage,
			sql: fmt.Sprintf("SELECT table_name, row_count FROM %s ORDER BY table_name",
				s.scope.InformationSchema("TABLE_STORAGE")),
		},
		{
			name: StrategyPartitions,
			sql: fmt.Sprintf("SELECT table_name, SUM(row_count) AS row_count FROM %s GROUP BY table_name ORDER BY table_name",
				s.scope.InformationSchema("PARTITIONS")),
		},
	}
	for i, strategy := range strategies {
		s.logger.InfoContext(ctx, "row counts attempt", slog.Int("attempt", i+1), slog.String("strategy", strategy.name))
		result := s.runner.Execute(ctx, query.Request{SQL: strategy.sql})
		record(strategy.name, result)
		if result.OK() && len(result.Rows) > 0 {
			return withAttempts(result, attempts)
		}
	}

	s.logger.InfoContext(ctx, "row counts attempt", slog.Int("attempt", len(strategies)+1), slog.String("strategy", StrategyCountStar))
	listed := s.ListTables(ctx)
	record(StrategyListTables, listed)
	if !listed.OK() || len(listed.Rows) == 0 {
		message := listed.Error
		if message == "" {
			message = "Failed to list tables"
		}
		failed := query.Result{Status: query.StatusError, Error: message}
		return withAttempts(failed, attempts)
	}

	keys := []string{"table_name", "row_count"}
	rows := make([]query.Row, 0, len(listed.Rows))
	for _, row := range listed.Rows {
		table := stringValue(row, "table_name")
		if table == "" {
			continue
		}
		counted := s.runner.Execute(ctx, query.Request{
			SQL: fmt.Sprintf("SELECT COUNT(*) AS row_count FROM %s", s.scope.Table(table)),
		})
		record(StrategyCountStar, counted)
		if !counted.OK() || len(counted.Rows) == 0 {
			continue
		}
		count, _ := counted.Rows[0].Get("row_count")
		rows = append(rows, query.NewRow(keys, []any{table, count}))
	}

	result := query.Result{
		Status:   query.StatusSuccess,
		Rows:     rows,
		Schema:   []query.Column{{Name: "table_name", Type: "STRING"}, {Name: "row_count", Type: "INTEGER"}},
		RowCount: len(rows),
	}
	return withAttempts(result, attempts)
}

func withAttempts(result query.Result, attempts []query.Attempt) query.Result {
	if result.Debug == nil {
		result.Debug = &query.Debug{}
	}
	result.Debug.Attempts = attempts
	return result
}
