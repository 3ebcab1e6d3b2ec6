package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

const defaultQueryMaxRows = 50

type nl2sqlRequest struct {
	Question string `json:"question"`
	MaxRows  int    `json:"max_rows"`
	Export   bool   `json:"export"`
}

type nl2pyRequest struct {
	Question string `json:"question"`
	Table    string `json:"table"`
	Limit    int    `json:"limit"`
}

type queryRequest struct {
	SQL     string                     `json:"sql"`
	Params  map[string]json.RawMessage `json:"params"`
	MaxRows *int                       `json:"max_rows"`
	DryRun  bool                       `json:"dry_run"`
	Export  bool                       `json:"export"`
}

func handleNL2SQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant dependency is not configured", false, nil)
		return
	}
	var request nl2sqlRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid nl2sql request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question must be a non-empty string", false, nil)
		return
	}
	if request.Export && deps.Exporter == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXPORT_NOT_CONFIGURED", "result export is not configured", false, nil)
		return
	}
	result := deps.Assistant.Answer(r.Context(), request.Question, request.MaxRows)
	writeResult(deps, w, r, result, request.Export)
}

func handleNL2Py(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Assistant == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASSISTANT_NOT_CONFIGURED", "assistant dependency is not configured", false, nil)
		return
	}
	var request nl2pyRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid nl2py request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question must be a non-empty string", false, nil)
		return
	}
	outcome := deps.Assistant.Analyze(r.Context(), request.Question, request.Table, request.Limit)
	if outcome.Status != query.StatusSuccess {
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "ANALYSIS_FAILED", outcome.Error, false, map[string]any{
			"table": outcome.Table,
			"sql":   outcome.SQL,
			"code":  outcome.Code,
		})
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Runner == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}
	var request queryRequest
	if err := decodeBody(r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	params, err := query.ParamsFromRaw(request.Params)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PARAMS", err.Error(), false, nil)
		return
	}
	if request.Export && (deps.Exporter == nil || request.DryRun) {
		writeError(r.Context(), w, http.StatusBadRequest, "EXPORT_UNAVAILABLE", "export needs a configured exporter and a non dry-run query", false, nil)
		return
	}
	maxRows := defaultQueryMaxRows
	if request.MaxRows != nil {
		maxRows = *request.MaxRows
	}
	result := deps.Runner.Execute(r.Context(), query.Request{
		SQL:     request.SQL,
		Params:  params,
		MaxRows: maxRows,
		DryRun:  request.DryRun,
	})
	writeResult(deps, w, r, result, request.Export)
}

// writeResult reports failed results in the error envelope with the
// submitted SQL and debug trace as context.
func writeResult(deps Dependencies, w http.ResponseWriter, r *http.Request, result query.Result, export bool) {
	if !result.OK() {
		extra := map[string]any{"sql": result.SQL}
		if result.Debug != nil {
			extra["debug"] = result.Debug
		}
		writeError(r.Context(), w, http.StatusUnprocessableEntity, "QUERY_FAILED", result.Error, false, extra)
		return
	}
	if export && !result.DryRun {
		key, err := deps.Exporter.Export(r.Context(), result)
		if err != nil {
			if deps.Logger != nil {
				deps.Logger.WarnContext(r.Context(), "result export failed", slog.Any("error", err))
			}
			writeError(r.Context(), w, http.StatusBadGateway, "EXPORT_FAILED", "result export failed", true, map[string]any{
				"details": err.Error(),
				"job_id":  result.JobID,
			})
			return
		}
		result.ExportPath = key
	}
	writeJSON(w, http.StatusOK, result)
}
