package bigquery

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

type Config struct {
	Project         string
	CredentialsFile string
}

// Warehouse runs jobs on BigQuery.
type Warehouse struct {
	client *bigquery.Client
}

func New(ctx context.Context, cfg Config) (*Warehouse, error) {
	if cfg.Project == "" {
		return nil, fmt.Errorf("bigquery project is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	client, err := bigquery.NewClient(ctx, cfg.Project, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bigquery client: %w", err)
	}
	return &Warehouse{client: client}, nil
}

func (w *Warehouse) Close() error {
	if w == nil || w.client == nil {
		return nil
	}
	return w.client.Close()
}

func (w *Warehouse) Run(ctx context.Context, job query.Job) (query.JobResult, error) {
	q := w.client.Query(job.SQL)
	q.DryRun = job.DryRun
	q.DisableQueryCache = job.DisableQueryCache
	q.Location = job.Location
	q.Parameters = queryParameters(job.Params)

	running, err := q.Run(ctx)
	if err != nil {
		return query.JobResult{}, err
	}

	if job.DryRun {
		status := running.LastStatus()
		if status == nil {
			return query.JobResult{}, errors.New("dry run returned no job status")
		}
		if err := status.Err(); err != nil {
			return query.JobResult{}, err
		}
		var bytesProcessed int64
		if status.Statistics != nil {
			bytesProcessed = status.Statistics.TotalBytesProcessed
		}
		return query.JobResult{JobID: running.ID(), BytesProcessed: bytesProcessed}, nil
	}

	it, err := running.Read(ctx)
	if err != nil {
		return query.JobResult{}, err
	}

	var rows []query.Row
	var keys []string
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return query.JobResult{}, err
		}
		if keys == nil {
			keys = fieldNames(it.Schema)
		}
		rows = append(rows, query.NewRow(keys, normalizeValues(values)))
	}

	result := query.JobResult{
		JobID:  running.ID(),
		Schema: convertSchema(it.Schema),
		Rows:   rows,
	}
	if status := running.LastStatus(); status != nil && status.Statistics != nil {
		result.BytesProcessed = status.Statistics.TotalBytesProcessed
	}
	return result, nil
}

func queryParameters(params []query.Param) []bigquery.QueryParameter {
	if len(params) == 0 {
		return nil
	}
	out := make([]bigquery.QueryParameter, 0, len(params))
	for _, param := range params {
		out = append(out, bigquery.QueryParameter{
			Name: param.Name,
			Value: &bigquery.QueryParameterValue{
				Type:  bigquery.StandardSQLDataType{TypeKind: string(param.Type)},
				Value: param.Value(),
			},
		})
	}
	return out
}

func fieldNames(schema bigquery.Schema) []string {
	names := make([]string, 0, len(schema))
	for _, field := range schema {
		names = append(names, field.Name)
	}
	return names
}

func convertSchema(schema bigquery.Schema) []query.Column {
	columns := make([]query.Column, 0, len(schema))
	for _, field := range schema {
		columns = append(columns, query.Column{
			Name: field.Name,
			Type: string(field.Type),
			Mode: fieldMode(field),
		})
	}
	return columns
}

func fieldMode(field *bigquery.FieldSchema) string {
	switch {
	case field.Repeated:
		return "REPEATED"
	case field.Required:
		return "REQUIRED"
	default:
		return "NULLABLE"
	}
}

func normalizeValues(values []bigquery.Value) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		normalized[i] = normalizeValue(value)
	}
	return normalized
}

func normalizeValue(value bigquery.Value) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case []bigquery.Value:
		return normalizeValues(typed)
	case []byte:
		return string(typed)
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	case *big.Rat:
		f, _ := typed.Float64()
		return f
	case bool, int64, float64, string:
		return typed
	case fmt.Stringer:
		return typed.String()
	default:
		return typed
	}
}
