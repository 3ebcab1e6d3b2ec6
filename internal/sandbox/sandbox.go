// Package sandbox runs short analysis scripts over a sampled table.
//
// Scripts are Starlark. The predeclared names are df (the sample), tbl
// (numeric helpers) and sum, on top of Starlark's whole universe of
// builtins (len, range, min, max, dir, getattr, print, fail and the rest).
// None of those reach outside the interpreter; print goes to the logger.
// There is no load(), file, network or clock access, and runs are bounded
// by a step budget and a timeout. This is a convenience
// context for snippets from a trusted generator; it is not an isolation
// boundary for adversarial code.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/observability"
	"github.com/testfairysdc-cpu/alert-agent-sdc/internal/query"
)

const (
	DefaultMaxSteps = uint64(5_000_000)
	DefaultTimeout  = 10 * time.Second

	ResultName = "result"
	FigureName = "figure_path"
)

var ErrSandboxExecution = errors.New("analysis execution failed")

type Config struct {
	MaxSteps uint64
	Timeout  time.Duration
}

type Outcome struct {
	Status     query.Status `json:"status"`
	Result     any          `json:"result"`
	FigurePath string       `json:"figure_path,omitempty"`
	Error      string       `json:"error,omitempty"`
}

type Sandbox struct {
	maxSteps uint64
	timeout  time.Duration
	logger   *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Sandbox {
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Sandbox{maxSteps: cfg.MaxSteps, timeout: cfg.Timeout, logger: logger}
}

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Run executes code with df bound to rows. Failures are reported in the
// Outcome and never returned or panicked.
func (s *Sandbox) Run(ctx context.Context, code string, rows []query.Row) Outcome {
	outcome := s.run(ctx, code, rows)
	observability.ObserveSandboxRun(string(outcome.Status))
	return outcome
}

func (s *Sandbox) run(ctx context.Context, code string, rows []query.Row) Outcome {
	thread := &starlark.Thread{
		Name: "analysis",
		Print: func(_ *starlark.Thread, msg string) {
			s.logger.DebugContext(ctx, "analysis print", slog.String("message", msg))
		},
	}
	thread.SetMaxExecutionSteps(s.maxSteps)

	predeclared := starlark.StringDict{
		"df":  newFrame(rows),
		"tbl": helperModule,
		"sum": starlark.NewBuiltin("sum", builtinSum),
	}

	var globals starlark.StringDict
	err := runWithTimeout(ctx, thread, s.timeout, func() error {
		loaded, err := starlark.ExecFileOptions(fileOptions, thread, "analysis.star", stripImports(code), predeclared)
		if err != nil {
			return err
		}
		globals = loaded
		return nil
	})
	if err != nil {
		s.logger.InfoContext(ctx, "analysis failed", slog.Any("error", err))
		return Outcome{Status: query.StatusError, Error: fmt.Sprintf("%v: %s", ErrSandboxExecution, errorText(err))}
	}

	outcome := Outcome{Status: query.StatusSuccess}
	if value, ok := globals[ResultName]; ok {
		outcome.Result = toGo(value)
	}
	if value, ok := globals[FigureName]; ok {
		if path, ok := starlark.AsString(value); ok {
			outcome.FigurePath = path
		}
	}
	return outcome
}

func errorText(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Msg
	}
	return err.Error()
}

var importLine = regexp.MustCompile(`^\s*(import\s+\S.*|from\s+\S+\s+import\s+.+)$`)

// stripImports drops Python-style import lines; the names scripts need are
// already predeclared.
func stripImports(code string) string {
	lines := strings.Split(code, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if importLine.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func runWithTimeout(ctx context.Context, thread *starlark.Thread, timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				done <- fmt.Errorf("analysis panicked: %v", recovered)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		thread.Cancel("analysis timed out")
		<-done
		return fmt.Errorf("analysis timed out after %s", timeout)
	case <-ctx.Done():
		thread.Cancel("analysis cancelled")
		<-done
		return ctx.Err()
	}
}
