package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Scope is the (project, dataset) pair every query must reference unless
// cross-dataset access is allowed. It is loaded once and passed by value.
type Scope struct {
	Project           string
	Dataset           string
	AllowCrossDataset bool
}

// Qualified returns "project.dataset".
func (s Scope) Qualified() string {
	return s.Project + "." + s.Dataset
}

// Table returns the backtick-quoted, fully-qualified reference to a table.
func (s Scope) Table(name string) string {
	return "`" + s.Qualified() + "." + name + "`"
}

// InformationSchema returns the reference to a dataset-level metadata view.
func (s Scope) InformationSchema(view string) string {
	return "`" + s.Qualified() + "`.INFORMATION_SCHEMA." + view
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

type Request struct {
	SQL    string
	Params []Param
	// MaxRows caps returned rows; zero or negative means unbounded.
	MaxRows  int
	DryRun   bool
	Location string
}

type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Mode string `json:"mode,omitempty"`
}

// Row is an ordered column -> value mapping. JSON encoding keeps column order.
type Row struct {
	keys   []string
	values []any
}

func NewRow(keys []string, values []any) Row {
	return Row{keys: keys, values: values}
}

func (r Row) Keys() []string { return r.keys }

func (r Row) Values() []any { return r.values }

func (r Row) Get(key string) (any, bool) {
	for i, name := range r.keys {
		if name == key {
			return r.values[i], true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		encodedValue, err := json.Marshal(jsonSafe(r.values[i]))
		if err != nil {
			return nil, fmt.Errorf("encode column %q: %w", key, err)
		}
		buf.Write(encodedValue)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Row) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row must be a JSON object")
	}
	r.keys = nil
	r.values = nil
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return err
		}
		key, ok := keyToken.(string)
		if !ok {
			return fmt.Errorf("row key must be a string")
		}
		var value any
		if err := decoder.Decode(&value); err != nil {
			return fmt.Errorf("decode column %q: %w", key, err)
		}
		r.keys = append(r.keys, key)
		r.values = append(r.values, value)
	}
	_, err = decoder.Token()
	return err
}

func jsonSafe(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	default:
		return typed
	}
}

// Attempt records one strategy tried while estimating row counts.
type Attempt struct {
	Strategy string `json:"strategy"`
	SQL      string `json:"sql,omitempty"`
	Status   Status `json:"status"`
	Error    string `json:"error,omitempty"`
}

// Debug is the trace attached to orchestrated results.
type Debug struct {
	Intent        string      `json:"intent,omitempty"`
	SchemaPreview string      `json:"schema_preview,omitempty"`
	GeneratedSQL  string      `json:"generated_sql,omitempty"`
	SanitizedSQL  string      `json:"sanitized_sql,omitempty"`
	DryRunBytes   *int64      `json:"dry_run_bytes,omitempty"`
	Inspection    *Inspection `json:"inspection,omitempty"`
	Attempts      []Attempt   `json:"attempts,omitempty"`
}

type Result struct {
	Status         Status   `json:"status"`
	Rows           []Row    `json:"rows,omitempty"`
	Schema         []Column `json:"schema,omitempty"`
	RowCount       int      `json:"row_count"`
	JobID          string   `json:"job_id,omitempty"`
	SQL            string   `json:"sql,omitempty"`
	DryRun         bool     `json:"dry_run,omitempty"`
	BytesProcessed int64    `json:"bytes_processed"`
	Error          string   `json:"error,omitempty"`
	ExportPath     string   `json:"export_path,omitempty"`
	Debug          *Debug   `json:"debug,omitempty"`
}

func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Failure builds an error result echoing the submitted SQL.
func Failure(sqlText string, err error) Result {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	return Result{Status: StatusError, SQL: sqlText, Error: message}
}

// Column values of a single named column, in row order.
func (r Result) Column(name string) []any {
	values := make([]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		value, _ := row.Get(name)
		values = append(values, value)
	}
	return values
}

// Job is what the executor submits to a Warehouse.
type Job struct {
	SQL               string
	Params            []Param
	DryRun            bool
	DisableQueryCache bool
	Location          string
}

type JobResult struct {
	JobID          string
	Schema         []Column
	Rows           []Row
	BytesProcessed int64
}

// Warehouse runs a single job. Implementations return an error for any
// rejection or failure; the executor converts it into a failed Result.
type Warehouse interface {
	Run(ctx context.Context, job Job) (JobResult, error)
}

