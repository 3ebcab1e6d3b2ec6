package agent

import "strings"

type Intent string

const (
	IntentCountTables    Intent = "count_tables"
	IntentListTables     Intent = "list_tables"
	IntentTableRowCounts Intent = "table_row_counts"
	IntentNL2SQL         Intent = "nl2sql"
	IntentNL2Py          Intent = "nl2py"
)

var intentKeywords = []struct {
	intent   Intent
	keywords []string
}{
	{IntentCountTables, []string{"how many tables", "count tables", "多少表", "有多少表"}},
	{IntentListTables, []string{"list tables", "tables list", "有哪些表", "列出表"}},
	{IntentTableRowCounts, []string{"each table", "per table", "每张表", "每个表"}},
}

// DetectIntent matches metadata shortcuts by substring, first match wins.
func DetectIntent(question string) (Intent, bool) {
	normalized := strings.ToLower(strings.TrimSpace(question))
	for _, candidate := range intentKeywords {
		for _, keyword := range candidate.keywords {
			if strings.Contains(normalized, keyword) {
				return candidate.intent, true
			}
		}
	}
	return "", false
}
