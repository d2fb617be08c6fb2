package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in  string
		out slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.out {
			t.Errorf("parseLevel(%q)=%v want %v", tt.in, got, tt.out)
		}
	}
}

func TestInitWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "info", "json")

	Info("track stored", "id", "test_1")
	Debug("should be filtered")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("invalid json log line: %v", err)
	}
	if rec["msg"] != "track stored" || rec["id"] != "test_1" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", "text")

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-123")
	WithContext(ctx).Info("hello")
	if !strings.Contains(buf.String(), "request_id=req-123") {
		t.Errorf("expected request_id in output, got %q", buf.String())
	}

	buf.Reset()
	WithContext(context.Background()).Info("plain")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("did not expect request_id, got %q", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "info", "text")
	With("processor").Warn("batch failed")
	if !strings.Contains(buf.String(), "component=processor") {
		t.Errorf("expected component attr, got %q", buf.String())
	}
}
