package dataagent

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRemoteTablesCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","row_count":1}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"remote", "--base-url", srv.URL, "--api-key", "k1", "tables"}, Options{
		Lookup: func(string) (string, bool) { return "", false },
		Stdout: &stdout,
		Stderr: &stderr,
	})
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodGet || gotPath != "/v1/tables" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" {
		t.Fatalf("api key = %q", gotAPIKey)
	}
	if stdout.Len() == 0 {
		t.Fatal("expected command output")
	}
}

func TestRemoteNL2SQLPostsQuestion(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	lookup := func(key string) (string, bool) {
		if key == "DATA_AGENT_API_URL" {
			return srv.URL, true
		}
		return "", false
	}
	code := Run(context.Background(), []string{"remote", "nl2sql", "how", "many", "tables"}, Options{Lookup: lookup})
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if body["question"] != "how many tables" {
		t.Fatalf("question = %q", body["question"])
	}
}

func TestRemoteAuditPassesLimit(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"entries":[]}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"remote", "--base-url", srv.URL, "audit", "--limit", "5"}, Options{})
	if code != exitOK {
		t.Fatalf("exit code = %d", code)
	}
	if gotQuery != "limit=5" {
		t.Fatalf("query = %q", gotQuery)
	}
}

func TestRemoteReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error_code":"FORBIDDEN"}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"remote", "--base-url", srv.URL, "audit"}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != exitError {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if stdout.Len() == 0 {
		t.Fatal("expected error envelope on stdout")
	}
}
