package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"error":   LogLevelError,
		"WARN":    LogLevelWarn,
		"warning": LogLevelWarn,
		"info":    LogLevelInfo,
		"Debug":   LogLevelDebug,
	}
	for in, want := range tests {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Fatalf("parseLogLevel(%q): expected %q, got %q (%v)", in, want, got, err)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if LogLevelDebug.slogLevel() != slog.LevelDebug {
		t.Fatalf("expected debug to map to slog.LevelDebug")
	}
}

func TestNewLogger_JSONCarriesServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, LogLevelInfo, "json")

	logger.Debug("hidden")
	logger.Info("brightness set", "target", 42)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the info line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["service"] != "yabd" || rec["version"] != version || rec["target"] != float64(42) {
		t.Fatalf("unexpected log record %v", rec)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, LogLevelWarn, "text").Warn("yielding control")

	if !strings.Contains(buf.String(), "service=yabd") || !strings.Contains(buf.String(), "yielding control") {
		t.Fatalf("unexpected text output %q", buf.String())
	}
}
