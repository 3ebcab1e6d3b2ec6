// Package nl2sql turns questions into SQL or analysis code via a text
// generation model.
package nl2sql

import (
	"context"
	"errors"
	"strings"
)

// ErrGenerationUnavailable means no model could produce text. Callers fall
// back to a placeholder instead of failing.
var ErrGenerationUnavailable = errors.New("generation unavailable")

type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// ExtractFenced returns the first ``` fenced segment containing any of the
// markers (case-insensitive), without its language tag. Text with no
// fences, or no matching segment, is returned trimmed.
func ExtractFenced(text string, markers ...string) string {
	if !strings.Contains(text, "```") {
		return strings.TrimSpace(text)
	}
	parts := strings.Split(text, "```")
	for i := 1; i < len(parts); i += 2 {
		part := parts[i]
		lowered := strings.ToLower(part)
		for _, marker := range markers {
			if strings.Contains(lowered, strings.ToLower(marker)) {
				return stripLanguageTag(strings.TrimSpace(part))
			}
		}
	}
	return strings.TrimSpace(text)
}

var languageTags = []string{"sql", "starlark", "python", "py"}

func stripLanguageTag(block string) string {
	firstLine, rest, found := strings.Cut(block, "\n")
	if !found {
		return block
	}
	tag := strings.ToLower(strings.TrimSpace(firstLine))
	for _, known := range languageTags {
		if tag == known {
			return strings.TrimSpace(rest)
		}
	}
	return block
}
