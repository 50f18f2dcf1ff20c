package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info("server started", "port", 8080)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected JSON output: %v", err)
	}
	if record["msg"] != "server started" {
		t.Errorf("unexpected msg %v", record["msg"])
	}
	if record["port"] != float64(8080) {
		t.Errorf("unexpected port %v", record["port"])
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}

	logger.Warn("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("warn record missing")
	}
}

func TestNewLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := WithCorrelationID(context.Background(), "corr-123")
	ctx = WithUserID(ctx, "u1")
	logger.InfoContext(ctx, "handling request")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatal(err)
	}
	if record["correlation_id"] != "corr-123" {
		t.Errorf("expected correlation_id, got %v", record)
	}
	if record["user_id"] != "u1" {
		t.Errorf("expected user_id, got %v", record)
	}
}

func TestNewLogger_ContextFieldsSurviveWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf}).With("component", "test")

	logger.InfoContext(WithCorrelationID(context.Background(), "corr-9"), "msg")

	out := buf.String()
	if !strings.Contains(out, "corr-9") || !strings.Contains(out, "component") {
		t.Errorf("expected both With attrs and context fields, got %q", out)
	}
}

func TestCorrelationID_Accessors(t *testing.T) {
	if CorrelationID(context.Background()) != "" {
		t.Error("expected empty correlation ID for fresh context")
	}
	ctx := WithCorrelationID(context.Background(), "abc")
	if CorrelationID(ctx) != "abc" {
		t.Error("round trip failed")
	}
	if UserID(WithUserID(ctx, "u9")) != "u9" {
		t.Error("user id round trip failed")
	}
}

func TestLogLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
