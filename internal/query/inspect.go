package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/blastrain/vitess-sqlparser/sqlparser"
)

// Inspection is an advisory parse of a statement. It is reported alongside
// results and never used to accept or reject a query; ReadOnlyGuard stays
// the only gate.
type Inspection struct {
	Guard         string   `json:"guard"`
	StatementKind string   `json:"statement_kind,omitempty"`
	Tables        []string `json:"tables,omitempty"`
	ParseError    string   `json:"parse_error,omitempty"`
}

// Inspect parses sqlText with a MySQL-dialect parser. BigQuery-only syntax
// often fails to parse; that is reported in ParseError.
func Inspect(sqlText string) Inspection {
	inspection := Inspection{Guard: ReadOnlyGuard}
	stmt, err := sqlparser.Parse(stripTrailingSemicolons(sqlText))
	if err != nil {
		inspection.ParseError = err.Error()
		return inspection
	}
	inspection.StatementKind = statementKind(stmt)

	seen := map[string]struct{}{}
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if name, ok := node.(sqlparser.TableName); ok && !name.IsEmpty() {
			full := name.Name.String()
			if !name.Qualifier.IsEmpty() {
				full = name.Qualifier.String() + "." + full
			}
			seen[full] = struct{}{}
		}
		return true, nil
	}, stmt)
	for table := range seen {
		inspection.Tables = append(inspection.Tables, table)
	}
	sort.Strings(inspection.Tables)
	return inspection
}

func statementKind(stmt sqlparser.Statement) string {
	switch stmt.(type) {
	case *sqlparser.Select, *sqlparser.Union:
		return "select"
	case *sqlparser.Insert:
		return "insert"
	case *sqlparser.Update:
		return "update"
	case *sqlparser.Delete:
		return "delete"
	default:
		return strings.ToLower(strings.TrimPrefix(fmt.Sprintf("%T", stmt), "*sqlparser."))
	}
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
