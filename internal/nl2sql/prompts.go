package nl2sql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

// DefaultAnalysis runs when no analysis code could be generated.
const DefaultAnalysis = "# Default analysis: basic column overview\n" +
	`result = {"num_rows": len(df), "columns": df.columns}` + "\n"

// PlaceholderSQL is the query used when no SQL could be generated. It fails
// the dry run unless a table named YOUR_TABLE exists.
func PlaceholderSQL(scope query.Scope) string {
	return "SELECT * FROM " + scope.Table("YOUR_TABLE") + " LIMIT 50"
}

func SQLPrompt(scope query.Scope, schema string, question string) Prompt {
	return Prompt{
		System: fmt.Sprintf(
			"You translate natural language to BigQuery Standard SQL strictly for the dataset `%s`. "+
				"Use fully-qualified table names with backticks. "+
				"Never write DML/DDL. Always include a LIMIT unless explicitly asked for full results.",
			scope.Qualified(),
		),
		User: fmt.Sprintf(
			"Schema (tables -> columns):\n%s\n\nUser question: %s\n\nReturn only the SQL query in a code block.",
			schema,
			strings.TrimSpace(question),
		),
	}
}

const analysisSystem = "You are a data analyst writing Starlark (a small Python dialect). " +
	"A frame `df` holds the sample: len(df), df.columns, df.rows, iteration yields row dicts, and " +
	"df.column(name), df.head(n), df.filter(fn), df.sort_by(col, reverse=False), df.value_counts(col), " +
	"df.sum(col), df.mean(col), df.min(col), df.max(col) are available, plus tbl.mean, tbl.median and tbl.round. " +
	"There are no imports, classes, exceptions or printing. " +
	"Put the final answer in a variable named `result`. If you produce a figure, set `figure_path` to its path."

func AnalysisPrompt(question string, schema []query.Column) Prompt {
	encoded, err := json.Marshal(schema)
	if err != nil {
		encoded = []byte("[]")
	}
	return Prompt{
		System: analysisSystem,
		User: fmt.Sprintf(
			"Question: %s\nSchema: %s\n\nReturn only the code in a code block.",
			strings.TrimSpace(question),
			string(encoded),
		),
	}
}
