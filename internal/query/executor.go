package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
)

// Execution is the audit view of a single Execute call.
type Execution struct {
	JobID          string
	SQL            string
	DryRun         bool
	Status         Status
	Error          string
	BytesProcessed int64
	RowCount       int
	Duration       time.Duration
	ExecutedAt     time.Time
}

type Recorder interface {
	Record(ctx context.Context, execution Execution) error
}

// Executor validates, submits and shapes queries. Every call is a single
// attempt; warehouse errors come back as failed Results.
type Executor struct {
	Warehouse Warehouse
	Scope     Scope
	Location  string
	Logger    *slog.Logger
	Recorder  Recorder
	Now       func() time.Time
}

func NewExecutor(warehouse Warehouse, scope Scope, location string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Executor{
		Warehouse: warehouse,
		Scope:     scope,
		Location:  location,
		Logger:    logger,
		Now:       time.Now,
	}
}

func (e *Executor) Execute(ctx context.Context, request Request) Result {
	start := e.now()
	result := e.execute(ctx, request)
	elapsed := e.now().Sub(start)

	observability.ObserveQueryExecution(string(result.Status), request.DryRun, result.BytesProcessed, elapsed)
	if e.Recorder != nil {
		execution := Execution{
			JobID:          result.JobID,
			SQL:            request.SQL,
			DryRun:         request.DryRun,
			Status:         result.Status,
			Error:          result.Error,
			BytesProcessed: result.BytesProcessed,
			RowCount:       result.RowCount,
			Duration:       elapsed,
			ExecutedAt:     start.UTC(),
		}
		if err := e.Recorder.Record(ctx, execution); err != nil {
			e.logger().WarnContext(ctx, "record query execution failed", slog.Any("error", err))
		}
	}
	return result
}

func (e *Executor) execute(ctx context.Context, request Request) Result {
	logger := e.logger()
	if err := Validate(request.SQL, e.Scope); err != nil {
		logger.InfoContext(ctx, "query rejected", slog.String("sql", request.SQL), slog.Any("error", err))
		return Failure(request.SQL, err)
	}
	if e.Warehouse == nil {
		return Failure(request.SQL, fmt.Errorf("%w: warehouse is not configured", ErrRemoteExecution))
	}

	location := e.Location
	if request.Location != "" {
		location = request.Location
	}
	job := Job{
		SQL:               request.SQL,
		Params:            request.Params,
		DryRun:            request.DryRun,
		DisableQueryCache: request.DryRun,
		Location:          location,
	}
	logger.DebugContext(ctx, "submitting query job",
		slog.Bool("dry_run", request.DryRun),
		slog.Int("params", len(request.Params)),
		slog.String("location", location),
		slog.String("sql", request.SQL),
	)

	jobResult, err := e.Warehouse.Run(ctx, job)
	if err != nil {
		logger.WarnContext(ctx, "query job failed", slog.Bool("dry_run", request.DryRun), slog.Any("error", err))
		return Failure(request.SQL, fmt.Errorf("%w: %v", ErrRemoteExecution, err))
	}

	if request.DryRun {
		logger.InfoContext(ctx, "dry run complete", slog.Int64("bytes_processed", jobResult.BytesProcessed))
		return Result{
			Status:         StatusSuccess,
			JobID:          jobResult.JobID,
			SQL:            request.SQL,
			DryRun:         true,
			BytesProcessed: jobResult.BytesProcessed,
		}
	}

	rows := jobResult.Rows
	if request.MaxRows > 0 && len(rows) > request.MaxRows {
		rows = rows[:request.MaxRows]
	}
	logger.InfoContext(ctx, "query complete",
		slog.String("job_id", jobResult.JobID),
		slog.Int("rows", len(rows)),
		slog.Int("rows_fetched", len(jobResult.Rows)),
	)
	return Result{
		Status:         StatusSuccess,
		Rows:           rows,
		Schema:         jobResult.Schema,
		RowCount:       len(rows),
		JobID:          jobResult.JobID,
		SQL:            request.SQL,
		BytesProcessed: jobResult.BytesProcessed,
	}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return observability.Discard()
	}
	return e.Logger
}

func (e *Executor) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}
