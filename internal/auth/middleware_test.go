package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaticAPIKeyValidatorParsing(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ops:analyst|query_reader")
	if err != nil {
		t.Fatalf("NewStaticAPIKeyValidator() error = %v", err)
	}
	identity, ok := validator.Validate(context.Background(), "k1")
	if !ok {
		t.Fatal("expected key to be valid")
	}
	if identity.Principal != "ops" {
		t.Fatalf("Principal = %q", identity.Principal)
	}
	if !identity.HasRole(RoleAnalyst) {
		t.Fatal("expected analyst role")
	}
	if _, ok := validator.Validate(context.Background(), "k2"); ok {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestStaticAPIKeyValidatorRejectsMalformedKeys(t *testing.T) {
	_, err := NewStaticAPIKeyValidator("invalid")
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMiddlewareRequiresKey(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ops:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(slog.New(slog.NewJSONHandler(io.Discard, nil)), validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestMiddlewareInjectsIdentity(t *testing.T) {
	validator, err := NewStaticAPIKeyValidator("k1:ops:query_reader")
	if err != nil {
		t.Fatalf("validator setup: %v", err)
	}

	mw := Middleware(nil, validator)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.Principal != "ops" {
			t.Fatalf("Principal = %q", identity.Principal)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
	req.Header.Set("X-API-Key", "k1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestStaticAPIKeyValidatorRejectsDuplicateKeys(t *testing.T) {
	if _, err := NewStaticAPIKeyValidator("k1:a:analyst,k1:b:auditor"); err == nil {
		t.Fatal("expected duplicate key error")
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleAuditor)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	anonymous := httptest.NewRecorder()
	handler.ServeHTTP(anonymous, httptest.NewRequest(http.MethodGet, "/v1/audit", nil))
	if anonymous.Code != http.StatusNoContent {
		t.Fatalf("anonymous status = %d", anonymous.Code)
	}

	reader := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	reader = reader.WithContext(WithIdentity(reader.Context(), Identity{Principal: "ops", Roles: []string{RoleQueryReader}}))
	forbidden := httptest.NewRecorder()
	handler.ServeHTTP(forbidden, reader)
	if forbidden.Code != http.StatusForbidden {
		t.Fatalf("reader status = %d, want %d", forbidden.Code, http.StatusForbidden)
	}

	auditor := httptest.NewRequest(http.MethodGet, "/v1/audit", nil)
	auditor = auditor.WithContext(WithIdentity(auditor.Context(), Identity{Principal: "sec", Roles: []string{RoleAuditor}}))
	allowed := httptest.NewRecorder()
	handler.ServeHTTP(allowed, auditor)
	if allowed.Code != http.StatusNoContent {
		t.Fatalf("auditor status = %d", allowed.Code)
	}
}
