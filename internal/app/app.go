// Package app assembles the data agent from configuration. The CLI and the
// API server share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/agent"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/api"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/audit"
	auditpostgres "github.com/testfairysdc-cpu/alert-agent-sdc/internal/audit/postgres"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/auth"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/config"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/export"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/nl2sql"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
	bigquerywarehouse "github.com/testfairysdc-cpu/alert-agent-sdc/internal/query/bigquery"
	duckdbwarehouse "github.com/testfairysdc-cpu/alert-agent-sdc/internal/query/duckdb"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/sandbox"
	s3store "github.com/testfairysdc-cpu/alert-agent-sdc/internal/storage/s3"
)

// App holds the wired tools. Exporter and Audit are nil when disabled.
type App struct {
	Config    config.Config
	Logger    *slog.Logger
	Scope     query.Scope
	Runner    api.Runner
	Assistant api.Assistant
	Catalog   api.Catalog
	Exporter  api.Exporter
	Audit     audit.Log
	Readiness api.ReadinessCheck

	closers []func() error
}

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Build connects the configured warehouse, generator, audit log and
// exporter. source tags audit entries with the calling surface.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, source string) (*App, error) {
	if logger == nil {
		logger = observability.Discard()
	}
	scope := query.Scope{
		Project:           cfg.Warehouse.Project,
		Dataset:           cfg.Warehouse.Dataset,
		AllowCrossDataset: cfg.Warehouse.AllowCrossDataset,
	}
	application := &App{Config: cfg, Logger: logger, Scope: scope}
	checks := []api.ReadinessCheck{api.CheckWarehouseConfig(cfg)}

	var store *s3store.Store
	if cfg.Warehouse.Backend == config.WarehouseDuckDB || cfg.Export.Enabled {
		objectStore, err := s3store.New(ctx, s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize object store: %w", err)
		}
		store = objectStore
		checks = append(checks, api.CheckObjectStoreConfig(cfg), store.HealthCheck)
	}

	var warehouse query.Warehouse
	switch cfg.Warehouse.Backend {
	case config.WarehouseDuckDB:
		warehouse = duckdbwarehouse.New(store, scope, cfg.Warehouse.DuckDBPrefix, logger)
	default:
		bq, err := bigquerywarehouse.New(ctx, bigquerywarehouse.Config{
			Project:         cfg.Warehouse.Project,
			CredentialsFile: cfg.Warehouse.CredentialsFile,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize bigquery warehouse: %w", err)
		}
		application.closers = append(application.closers, bq.Close)
		warehouse = bq
	}

	executor := query.NewExecutor(warehouse, scope, cfg.Warehouse.Location, logger)
	if strings.TrimSpace(cfg.Audit.DSN) != "" {
		db, err := auditpostgres.Open(ctx, auditpostgres.DBConfig{
			DSN:             cfg.Audit.DSN,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		})
		if err != nil {
			_ = application.Close()
			return nil, err
		}
		application.closers = append(application.closers, db.Close)
		auditStore := auditpostgres.NewStore(db, source)
		executor.Recorder = auditStore
		application.Audit = auditStore
		checks = append(checks, auditStore.HealthCheck)
	}

	generator, err := NewGenerator(cfg)
	if err != nil {
		_ = application.Close()
		return nil, fmt.Errorf("initialize generator: %w", err)
	}
	if generator == nil {
		logger.Info("no generator configured; generated SQL and analysis fall back to placeholders")
	}

	dataAgent := agent.New(agent.Dependencies{
		Runner:    executor,
		Generator: generator,
		Sandbox:   sandbox.New(sandbox.Config{MaxSteps: cfg.Sandbox.MaxSteps, Timeout: cfg.Sandbox.Timeout}, logger),
		Scope:     scope,
		Logger:    logger,
	})
	application.Runner = executor
	application.Assistant = dataAgent
	application.Catalog = dataAgent.Metadata()
	if cfg.Export.Enabled {
		application.Exporter = export.New(store, cfg.Export.Prefix)
	}
	application.Readiness = api.CombineReadinessChecks(checks...)
	return application, nil
}

// NewGenerator returns the Vertex AI generator when VERTEX_PROJECT is set,
// the OpenAI-compatible one when AI is enabled, and nil otherwise.
func NewGenerator(cfg config.Config) (nl2sql.Generator, error) {
	generation := nl2sql.OpenAIConfig{
		BaseURL:         cfg.AI.BaseURL,
		APIKey:          cfg.AI.APIKey,
		Model:           cfg.AI.Model,
		Temperature:     cfg.Generation.Temperature,
		TopP:            cfg.Generation.TopP,
		TopK:            cfg.Generation.TopK,
		MaxOutputTokens: cfg.Generation.MaxOutputTokens,
		Timeout:         cfg.AI.Timeout,
	}
	switch {
	case strings.TrimSpace(cfg.Generation.VertexProject) != "":
		generation.CompletionsURL = nl2sql.VertexCompletionsURL(cfg.Generation.VertexProject, cfg.Generation.VertexLocation)
		generation.Model = "google/" + cfg.Generation.VertexModel
	case cfg.AI.Enabled:
	default:
		return nil, nil
	}
	generator, err := nl2sql.NewOpenAIGenerator(generation)
	if err != nil {
		return nil, err
	}
	return generator, nil
}

// APIDependencies maps the app onto the HTTP handler's dependencies.
func (a *App) APIDependencies() (api.Dependencies, error) {
	deps := api.Dependencies{
		Logger:            a.Logger,
		Readiness:         a.Readiness,
		DependencyTimeout: 2 * time.Second,
		Assistant:         a.Assistant,
		Catalog:           a.Catalog,
		Runner:            a.Runner,
		Audit:             a.Audit,
		Exporter:          a.Exporter,
	}
	if a.Config.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(a.Config.Auth.StaticKeys)
		if err != nil {
			return api.Dependencies{}, fmt.Errorf("parse static auth keys: %w", err)
		}
		deps.AuthMiddleware = auth.Middleware(a.Logger, validator)
	}
	return deps, nil
}

// OpenAuditDB opens the audit database for migrations.
func OpenAuditDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.Audit.DSN) == "" {
		return nil, errors.New("DATA_AGENT_AUDIT_DSN is required")
	}
	return auditpostgres.Open(ctx, auditpostgres.DBConfig{
		DSN:             cfg.Audit.DSN,
		MaxOpenConns:    cfg.Audit.MaxOpenConns,
		MaxIdleConns:    cfg.Audit.MaxIdleConns,
		ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
	})
}
