package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrInvalidQueryShape = errors.New("only read-only SELECT queries are allowed")
	ErrOutOfScope        = errors.New("query out of dataset scope")
	ErrSanitize          = errors.New("SQL sanitize failed")
	ErrRemoteExecution   = errors.New("warehouse execution failed")
)

// ReadOnlyGuard names how read-only access is enforced: a case-insensitive
// "select" prefix test on the trimmed text. It is not a parser. Comments,
// multi-statement text and write-capable CTEs are not detected.
const ReadOnlyGuard = "select-prefix"

// Validate checks the read-only prefix and, unless the scope allows
// cross-dataset access, that sqlText references the scoped dataset.
func Validate(sqlText string, scope Scope) error {
	if !hasSelectPrefix(sqlText) {
		return ErrInvalidQueryShape
	}
	if scope.AllowCrossDataset {
		return nil
	}
	if referencesScope(sqlText, scope) {
		return nil
	}
	return fmt.Errorf("%w: query must reference dataset `%s`", ErrOutOfScope, scope.Qualified())
}

func hasSelectPrefix(sqlText string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(sqlText)), "select")
}

func referencesScope(sqlText string, scope Scope) bool {
	qualified := scope.Qualified()
	if strings.Contains(sqlText, "`"+qualified+".") {
		return true
	}
	if strings.Contains(strings.ToLower(sqlText), "`"+strings.ToLower(qualified)+"`.information_schema") {
		return true
	}
	return strings.Contains(sqlText, "`"+qualified+"`.")
}

var bareTableRef = regexp.MustCompile(`(?i)(\s)(from|join)(\s+)([A-Za-z_][A-Za-z0-9_\-]*(?:\.[A-Za-z_][A-Za-z0-9_\-]*)*)`)

// Sanitize auto-qualifies bare FROM/JOIN table references into the scope.
// Text that already references the scoped dataset is returned unchanged,
// surrounding whitespace included. Rewritten text is trimmed.
func Sanitize(original string, scope Scope) (string, error) {
	sqlText := strings.TrimSpace(original)
	if !hasSelectPrefix(sqlText) {
		return "", fmt.Errorf("%w: generated SQL must be a SELECT query", ErrSanitize)
	}
	marker := "`" + scope.Qualified() + "."
	if strings.Contains(sqlText, marker) {
		return original, nil
	}

	rewritten := bareTableRef.ReplaceAllStringFunc(sqlText, func(match string) string {
		parts := bareTableRef.FindStringSubmatch(match)
		keyword := strings.ToUpper(parts[2])
		return parts[1] + keyword + parts[3] + scope.Table(parts[4])
	})
	if !strings.Contains(rewritten, marker) {
		return "", fmt.Errorf("%w: SQL must reference `%s` with fully-qualified table names", ErrSanitize, scope.Qualified())
	}
	return rewritten, nil
}
