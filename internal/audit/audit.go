// Package audit defines the query audit log read by operators.
package audit

import (
	"context"
	"time"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

const (
	SourceCLI = "cli"
	SourceAPI = "api"
)

type Entry struct {
	ID             int64     `json:"id"`
	JobID          string    `json:"job_id,omitempty"`
	SQL            string    `json:"sql"`
	DryRun         bool      `json:"dry_run"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	BytesProcessed int64     `json:"bytes_processed"`
	RowCount       int       `json:"row_count"`
	DurationMS     int64     `json:"duration_ms"`
	Source         string    `json:"source"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// Log records executions and lists the most recent ones first.
type Log interface {
	query.Recorder
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
}

// ClampLimit maps non-positive limits to DefaultListLimit and caps the rest
// at MaxListLimit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
