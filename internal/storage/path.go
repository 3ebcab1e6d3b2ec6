package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath returns <prefix>/<yyyy-mm-dd>/<jobID>.parquet.
func BuildExportPath(prefix, jobID string, at time.Time) (string, error) {
	if err := validatePathComponent(jobID, "job id"); err != nil {
		return "", err
	}
	ts := at.UTC()
	return path.Join(
		cleanComponentPrefix(prefix),
		fmt.Sprintf("%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		jobID+".parquet",
	), nil
}

// TableFromKey extracts the table name from a key under prefix. It reports
// false for keys that are not parquet files directly inside a table folder.
func TableFromKey(prefix, key string) (string, bool) {
	rel := strings.TrimPrefix(key, cleanComponentPrefix(prefix))
	rel = strings.TrimPrefix(rel, "/")
	parts := strings.Split(rel, "/")
	if len(parts) != 2 || !strings.HasSuffix(parts[1], ".parquet") {
		return "", false
	}
	if validatePathComponent(parts[0], "table name") != nil {
		return "", false
	}
	return parts[0], true
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}

func cleanComponentPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	return path.Clean(prefix)
}
