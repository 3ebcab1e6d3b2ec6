// Package api exposes the data agent's tools over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/agent"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/audit"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/auth"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/config"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

type ReadinessCheck func(ctx context.Context) error

// Assistant answers questions with generated SQL or analysis code.
type Assistant interface {
	Answer(ctx context.Context, question string, maxRows int) query.Result
	Analyze(ctx context.Context, question, table string, limit int) agent.AnalysisOutcome
}

type Catalog interface {
	ListTables(ctx context.Context) query.Result
	CountTables(ctx context.Context) query.Result
	RowCounts(ctx context.Context) query.Result
}

type Runner interface {
	Execute(ctx context.Context, request query.Request) query.Result
}

type Exporter interface {
	Export(ctx context.Context, result query.Result) (string, error)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Assistant         Assistant
	Catalog           Catalog
	Runner            Runner
	// Exporter and Audit are optional.
	Exporter Exporter
	Audit    audit.Log
}

type route struct {
	pattern string
	role    string
	handle  func(Dependencies, http.ResponseWriter, *http.Request)
}

var protectedRoutes = []route{
	{pattern: "POST /v1/nl2sql", role: auth.RoleAnalyst, handle: handleNL2SQL},
	{pattern: "POST /v1/nl2py", role: auth.RoleAnalyst, handle: handleNL2Py},
	{pattern: "POST /v1/query", role: auth.RoleQueryReader, handle: handleQuery},
	{pattern: "GET /v1/tables", role: auth.RoleQueryReader, handle: handleListTables},
	{pattern: "GET /v1/tables/count", role: auth.RoleQueryReader, handle: handleCountTables},
	{pattern: "GET /v1/tables/rows", role: auth.RoleQueryReader, handle: handleRowCounts},
	{pattern: "GET /v1/audit", role: auth.RoleAuditor, handle: handleAudit},
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"service": cfg.Service.Name,
			"dataset": cfg.Warehouse.Project + "." + cfg.Warehouse.Dataset,
		})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	authenticate := func(next http.Handler) http.Handler { return next }
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			authenticate = func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			}
		} else {
			authenticate = deps.AuthMiddleware
		}
	}
	for _, rt := range protectedRoutes {
		handle := rt.handle
		var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle(deps, w, r)
		})
		mux.Handle(rt.pattern, authenticate(auth.RequireRole(rt.role)(handler)))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckWarehouseConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Warehouse.Project == "" || cfg.Warehouse.Dataset == "" {
			return errors.New("warehouse scope is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

func decodeBody(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}
