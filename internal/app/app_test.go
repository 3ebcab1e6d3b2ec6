package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/config"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/nl2sql"
)

func loadConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	cfg, err := config.Load("dataagent", func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	})
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}
	return cfg
}

func TestNewGeneratorDisabledByDefault(t *testing.T) {
	generator, err := NewGenerator(loadConfig(t, nil))
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	if generator != nil {
		t.Fatalf("generator = %T, want nil", generator)
	}
}

func TestNewGeneratorOpenAI(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"DATA_AGENT_AI_ENABLED": "true",
		"DATA_AGENT_AI_API_KEY": "sk-test",
		"DATA_AGENT_AI_MODEL":   "gpt-test",
	})
	generator, err := NewGenerator(cfg)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	openai, ok := generator.(*nl2sql.OpenAIGenerator)
	if !ok {
		t.Fatalf("generator = %T", generator)
	}
	if openai.Model() != "gpt-test" {
		t.Fatalf("Model() = %q", openai.Model())
	}
}

func TestNewGeneratorPrefersVertex(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"DATA_AGENT_AI_ENABLED": "true",
		"DATA_AGENT_AI_API_KEY": "token",
		"VERTEX_PROJECT":        "proj",
	})
	generator, err := NewGenerator(cfg)
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	openai, ok := generator.(*nl2sql.OpenAIGenerator)
	if !ok {
		t.Fatalf("generator = %T", generator)
	}
	if openai.Model() != "google/gemini-1.5-flash" {
		t.Fatalf("Model() = %q", openai.Model())
	}
}

func TestNewGeneratorRequiresAPIKey(t *testing.T) {
	cfg := loadConfig(t, map[string]string{"DATA_AGENT_AI_ENABLED": "true"})
	if _, err := NewGenerator(cfg); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestBuildDuckDBWithExport(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"DATA_AGENT_WAREHOUSE":      "duckdb",
		"DATA_AGENT_EXPORT_ENABLED": "true",
	})
	cfg.ObjectStore.AutoCreateBucket = false

	application, err := Build(context.Background(), cfg, nil, "cli")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() { _ = application.Close() }()

	if application.Assistant == nil || application.Catalog == nil || application.Runner == nil {
		t.Fatal("expected tools to be wired")
	}
	if application.Exporter == nil {
		t.Fatal("expected exporter when export is enabled")
	}
	if application.Audit != nil {
		t.Fatal("audit should be nil without a DSN")
	}
	if application.Readiness == nil {
		t.Fatal("expected readiness check")
	}
	if application.Scope.Qualified() != "ruckusoperations.SDC1" {
		t.Fatalf("scope = %q", application.Scope.Qualified())
	}
}

func TestAPIDependenciesWiresAuth(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"DATA_AGENT_AUTH_REQUIRED":    "true",
		"DATA_AGENT_AUTH_STATIC_KEYS": "k1:ops:query_reader",
	})
	application := &App{Config: cfg}
	deps, err := application.APIDependencies()
	if err != nil {
		t.Fatalf("APIDependencies() error = %v", err)
	}
	if deps.AuthMiddleware == nil {
		t.Fatal("expected auth middleware")
	}
	rr := httptest.NewRecorder()
	deps.AuthMiddleware(http.NotFoundHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/tables", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestAPIDependenciesRejectsBadKeys(t *testing.T) {
	cfg := loadConfig(t, map[string]string{
		"DATA_AGENT_AUTH_REQUIRED":    "true",
		"DATA_AGENT_AUTH_STATIC_KEYS": "broken",
	})
	if _, err := (&App{Config: cfg}).APIDependencies(); err == nil {
		t.Fatal("expected error for malformed keys")
	}
}
