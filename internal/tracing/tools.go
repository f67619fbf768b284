// Package tracing carries the span helpers shared by the session launcher
// and the MCP dispatch loop.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MaxOutputEventBytes caps stdio payloads attached to span events.
	MaxOutputEventBytes = 1024

	tracerName = "feedback-mcp"
)

// sensitiveFlags name the session flags whose values carry user content and
// must not appear in traces or logs.
var sensitiveFlags = map[string]struct{}{
	"--prompt":  {},
	"--options": {},
}

// StartSpan opens a span on the module tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordSessionOutcome annotates a session span with exit metadata, bounded
// stdio events, and a status derived from err. The caller still ends the
// span.
func RecordSessionOutcome(span trace.Span, exitCode int, started time.Time, stdout, stderr string, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("exit_code", exitCode),
		attribute.Int64("duration_ms", time.Since(started).Milliseconds()),
	)
	if text := strings.TrimSpace(stdout); text != "" {
		span.AddEvent(
			"session.stdout",
			trace.WithAttributes(attribute.String("output", TruncateOutput(text, MaxOutputEventBytes))),
		)
	}
	if text := strings.TrimSpace(stderr); text != "" {
		span.AddEvent(
			"session.stderr",
			trace.WithAttributes(attribute.String("output", TruncateOutput(text, MaxOutputEventBytes))),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "session completed")
}

// ResolveExitCode maps a process wait error to the child's exit code. A
// context deadline reports -1.
func ResolveExitCode(cmd *exec.Cmd, runErr error, ctx context.Context) int {
	if runErr == nil {
		return 0
	}
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return -1
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd != nil && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return 0
}

// TruncateOutput caps a string at limit bytes, marking the cut.
func TruncateOutput(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	const marker = "...[truncated]"
	if limit <= len(marker) {
		return value[:limit]
	}
	return value[:limit-len(marker)] + marker
}

// RedactArgs masks the values of user-content flags so command previews stay
// loggable.
func RedactArgs(args []string) []string {
	redacted := make([]string, 0, len(args))
	maskNext := false

	for _, arg := range args {
		if maskNext {
			redacted = append(redacted, "<redacted>")
			maskNext = false
			continue
		}

		trimmed := strings.TrimSpace(arg)
		if name, _, found := strings.Cut(trimmed, "="); found {
			if _, sensitive := sensitiveFlags[name]; sensitive {
				redacted = append(redacted, name+"=<redacted>")
				continue
			}
		}
		if _, sensitive := sensitiveFlags[trimmed]; sensitive {
			maskNext = true
		}
		redacted = append(redacted, trimmed)
	}

	return redacted
}

// FormatCommand returns a deterministic command preview for traces and logs.
// Values of user-content flags are redacted.
func FormatCommand(name string, args []string) string {
	parts := append([]string{strings.TrimSpace(name)}, RedactArgs(args)...)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return strings.Join(out, " ")
}

// WrapExecutionError annotates execution failures with command identity.
func WrapExecutionError(name string, args []string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("run %s: %w", FormatCommand(name, args), err)
}
