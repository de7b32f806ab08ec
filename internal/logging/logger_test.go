package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			if got := ParseLevel(tc.input); got != tc.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("text") != FormatText {
		t.Error("expected text format")
	}
	if ParseFormat("json") != FormatJSON {
		t.Error("expected json format")
	}
	if ParseFormat("yaml") != FormatJSON {
		t.Error("unknown formats should default to json")
	}
}

func decodeEntries(t *testing.T, buf *bytes.Buffer) []Entry {
	t.Helper()
	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("failed to parse JSON log line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf})

	l.Infof("batch written", map[string]any{"records": 2})

	entries := decodeEntries(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Message != "batch written" || e.Level != "info" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
	if e.Fields["records"] != float64(2) {
		t.Errorf("fields[records] = %v, want 2", e.Fields["records"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Debug("debug")
	l.Info("info")
	if buf.Len() > 0 {
		t.Fatal("debug/info should be filtered at warn level")
	}

	l.Warn("warn")
	if buf.Len() == 0 {
		t.Fatal("warn should be logged at warn level")
	}
}

func TestLoggerNamedAndCorrelation(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	l.Named("scheduler").WithCorrelationID("tick-1").Info("tick started")

	e := decodeEntries(t, &buf)[0]
	if e.Component != "scheduler" {
		t.Errorf("component = %q, want scheduler", e.Component)
	}
	if e.CorrelationID != "tick-1" {
		t.Errorf("correlationId = %q, want tick-1", e.CorrelationID)
	}
}

func TestLoggerWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Level: LevelInfo, Output: &buf})
	child := parent.With(map[string]any{"type": "soft"})

	parent.Info("parent")
	child.Info("child")

	entries := decodeEntries(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if _, ok := entries[0].Fields["type"]; ok {
		t.Error("parent logger should not carry child fields")
	}
	if entries[1].Fields["type"] != "soft" {
		t.Errorf("child fields[type] = %v, want soft", entries[1].Fields["type"])
	}
}

func TestLoggerCaller(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf, AddCaller: true})

	l.Debug("with caller")

	e := decodeEntries(t, &buf)[0]
	if !strings.HasSuffix(e.File, "logger_test.go") || e.Line == 0 {
		t.Errorf("caller = %s:%d, want logger_test.go", e.File, e.Line)
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatText, Output: &buf})

	l.Named("audit").WithCorrelationID("c-9").Errorf("write failed", map[string]any{
		"error": errors.New("boom"),
		"key":   "soft/2026-10-17/x.json",
	})

	out := buf.String()
	for _, want := range []string{"[error]", "audit: write failed", "correlationId=c-9", "error=boom", "key=soft/2026-10-17/x.json"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output %q missing %q", out, want)
		}
	}
	if strings.Index(out, "error=boom") > strings.Index(out, "key=") {
		t.Error("fields should be sorted by key")
	}
}

func TestDiscardWritesNothing(t *testing.T) {
	l := Discard()
	l.Error("dropped")
	if l.Level() <= LevelError {
		t.Error("discard logger should be above error level")
	}
}
