package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("shown", "file_name", "a.ofx")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if entry["msg"] != "shown" || entry["file_name"] != "a.ofx" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "pretty")

	logger.Info("import completed", "imported", 3)
	if !strings.Contains(buf.String(), "import completed") {
		t.Errorf("pretty output missing message: %q", buf.String())
	}
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := New(&buf, "info", "text")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	WithRequestID(ctx, base).Info("hello")
	if !strings.Contains(buf.String(), "request_id=req-42") {
		t.Errorf("missing request id: %q", buf.String())
	}

	buf.Reset()
	WithRequestID(context.Background(), base).Info("hello")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("unexpected request id: %q", buf.String())
	}
}
