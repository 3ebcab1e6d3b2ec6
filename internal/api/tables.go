package api

import (
	"net/http"
	"strconv"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/audit"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	handleCatalog(deps, w, r, func(catalog Catalog) query.Result { return catalog.ListTables(r.Context()) })
}

func handleCountTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	handleCatalog(deps, w, r, func(catalog Catalog) query.Result { return catalog.CountTables(r.Context()) })
}

func handleRowCounts(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	handleCatalog(deps, w, r, func(catalog Catalog) query.Result { return catalog.RowCounts(r.Context()) })
}

func handleCatalog(deps Dependencies, w http.ResponseWriter, r *http.Request, run func(Catalog) query.Result) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "metadata dependency is not configured", false, nil)
		return
	}
	writeResult(deps, w, r, run(deps.Catalog), false)
}

func handleAudit(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Audit == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "AUDIT_NOT_CONFIGURED", "audit log is not configured", false, nil)
		return
	}
	limit := audit.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, nil)
			return
		}
		limit = parsed
	}
	entries, err := deps.Audit.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "AUDIT_ERROR", "failed to list audit entries", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"limit":   audit.ClampLimit(limit),
	})
}
