package slogutil

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("run finished", "project", "shop", "files", 3)

	out := buf.String()
	for _, want := range []string{"[info]", "run finished", " | ", "project=shop", "files=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Errorf("expected trailing newline, got: %q", out)
	}
}

func TestHandler_NoAttrs(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo).Info("plain")

	if strings.Contains(buf.String(), "|") {
		t.Errorf("separator should be omitted without attributes: %s", buf.String())
	}
}

func TestHandler_QuotesSpaces(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, slog.LevelInfo).Info("failed", "error", "disk full")

	if !strings.Contains(buf.String(), `error="disk full"`) {
		t.Errorf("expected quoted value, got: %s", buf.String())
	}
}

func TestHandler_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("low levels should be filtered: %s", out)
	}
	if !strings.Contains(out, "[warn] warn message") || !strings.Contains(out, "[error] error message") {
		t.Errorf("warn and error should be kept: %s", out)
	}
}

func TestHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo).With("project", "shop").WithGroup("remap")

	logger.Info("decided", "outcome", "deleted", slog.Group("range", "start", 4, "end", 11))

	out := buf.String()
	for _, want := range []string{"project=shop", "remap.outcome=deleted", "remap.range.start=4", "remap.range.end=11"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := LevelFromString(tt.input); got != tt.want {
				t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		verbosity int
		quiet     bool
		want      slog.Level
	}{
		{0, false, slog.LevelWarn},
		{1, false, slog.LevelInfo},
		{2, false, slog.LevelDebug},
		{5, false, slog.LevelDebug},
		{2, true, LevelSilent},
	}
	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.verbosity, tt.quiet); got != tt.want {
			t.Errorf("LevelFromVerbosity(%d, %v) = %v, want %v", tt.verbosity, tt.quiet, got, tt.want)
		}
	}
}

func TestNewDiscardLogger(t *testing.T) {
	logger := NewDiscardLogger()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("discard logger should not enable error level")
	}
	logger.Error("dropped")
}

func TestTeeHandler(t *testing.T) {
	var a, b bytes.Buffer
	logger := NewTeeLogger(
		NewHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		NewHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)

	logger.Info("only a")
	logger.Warn("both")

	if !strings.Contains(a.String(), "only a") || !strings.Contains(a.String(), "both") {
		t.Errorf("first handler missing records: %s", a.String())
	}
	if strings.Contains(b.String(), "only a") {
		t.Errorf("second handler should filter info: %s", b.String())
	}
	if !strings.Contains(b.String(), "both") {
		t.Errorf("second handler missing warn: %s", b.String())
	}
}
