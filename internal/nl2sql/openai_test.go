package nl2sql

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIGeneratorGenerate(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + "```sql\\nSELECT 1\\n```" + `"}}]}`))
	}))
	defer server.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{
		BaseURL:         server.URL + "/",
		APIKey:          "secret",
		Model:           "test-model",
		Temperature:     0.2,
		TopP:            0.95,
		TopK:            40,
		MaxOutputTokens: 1024,
	})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	text, err := generator.Generate(context.Background(), Prompt{System: "sys", User: "question"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got := ExtractFenced(text, "select"); got != "SELECT 1" {
		t.Fatalf("ExtractFenced() = %q", got)
	}
	if captured["model"] != "test-model" || captured["top_p"] != 0.95 {
		t.Fatalf("payload = %#v", captured)
	}
	if captured["max_tokens"] != float64(1024) || captured["top_k"] != float64(40) {
		t.Fatalf("payload = %#v", captured)
	}
	messages, _ := captured["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %#v", captured["messages"])
	}
}

func TestOpenAIGeneratorUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: server.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	_, err = generator.Generate(context.Background(), Prompt{User: "q"})
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("Generate() error = %v, want ErrGenerationUnavailable", err)
	}
}

func TestOpenAIGeneratorEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	generator, err := NewOpenAIGenerator(OpenAIConfig{CompletionsURL: server.URL + "/chat", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewOpenAIGenerator() error = %v", err)
	}
	if _, err := generator.Generate(context.Background(), Prompt{User: "q"}); !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("Generate() error = %v, want ErrGenerationUnavailable", err)
	}
}

func TestNewOpenAIGeneratorValidation(t *testing.T) {
	if _, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k"}); err == nil {
		t.Fatalf("expected missing base URL error")
	}
	if _, err := NewOpenAIGenerator(OpenAIConfig{BaseURL: "http://x"}); err == nil {
		t.Fatalf("expected missing api key error")
	}
}

func TestVertexCompletionsURL(t *testing.T) {
	got := VertexCompletionsURL("acme", "us-central1")
	want := "https://us-central1-aiplatform.googleapis.com/v1beta1/projects/acme/locations/us-central1/endpoints/openapi/chat/completions"
	if got != want {
		t.Fatalf("VertexCompletionsURL() = %q", got)
	}
}
