package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{" info ", InfoLevel},
		{"warning", WarnLevel},
		{"WARN", WarnLevel},
		{"error", ErrorLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}

	if Level(9).String() != "UNKNOWN" {
		t.Errorf("Level(9).String() = %q", Level(9).String())
	}
}

func TestJSONLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	logger := NewJSONLogger(&buf, DebugLevel).WithClock(func() time.Time { return fixed })

	logger.Info("peer unreachable", Peer("b"), Epoch(3), Error(errors.New("dial refused")))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}

	e := entries[0]
	if e.Time != "2024-05-01T12:00:00Z" {
		t.Errorf("Time = %q", e.Time)
	}
	if e.Level != "INFO" || e.Message != "peer unreachable" {
		t.Errorf("entry = %+v", e)
	}
	if e.Fields["peer"] != "b" || e.Fields["epoch"] != float64(3) || e.Fields["error"] != "dial refused" {
		t.Errorf("Fields = %v", e.Fields)
	}
}

func TestJSONLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown")
	logger.Error("shown")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != "WARN" || entries[1].Level != "ERROR" {
		t.Errorf("levels = %s, %s", entries[0].Level, entries[1].Level)
	}
}

func TestWithSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewJSONLogger(&buf, InfoLevel)
	child := parent.With(Component("monitor"), ServerID("a"))

	child.Debug("suppressed")
	parent.SetLevel(DebugLevel)
	child.Debug("probe ok", Peer("b"))

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	f := entries[0].Fields
	if f["component"] != "monitor" || f["server_id"] != "a" || f["peer"] != "b" {
		t.Errorf("Fields = %v", f)
	}
	if child.GetLevel() != DebugLevel {
		t.Errorf("child level = %v, want DEBUG", child.GetLevel())
	}
}

func TestWithDoesNotLeakIntoParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewJSONLogger(&buf, InfoLevel)
	_ = parent.With(Username("alice"))

	parent.Info("plain")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0].Fields != nil {
		t.Errorf("parent entry carries child fields: %+v", entries)
	}
}

func TestCallSiteFieldOverridesPreset(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel).With(Status("SUCCESS"))

	logger.Info("reply", Status("FAILURE"))

	entries := decodeLines(t, &buf)
	if entries[0].Fields["status"] != "FAILURE" {
		t.Errorf("status = %v, want FAILURE", entries[0].Fields["status"])
	}
}

type named string

func (n named) String() string { return string(n) }

func TestDomainFields(t *testing.T) {
	tests := []struct {
		field Field
		key   string
		value any
	}{
		{ServerID("a"), "server_id", "a"},
		{Peer("b"), "peer", "b"},
		{Leader("a"), "leader", "a"},
		{Epoch(7), "epoch", uint64(7)},
		{Opcode(named("Heartbeat")), "opcode", "Heartbeat"},
		{Username("bob"), "username", "bob"},
		{Remote("127.0.0.1:5000"), "remote", "127.0.0.1:5000"},
		{Latency(time.Second), "latency", "1s"},
		{Error(nil), "error", nil},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if tt.field.Key != tt.key || tt.field.Value != tt.value {
				t.Errorf("field = %+v, want {%s %v}", tt.field, tt.key, tt.value)
			}
		})
	}
}

func TestTimedOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, DebugLevel)

	StartTimer(logger, "call", Opcode(named("Login"))).End(Status("SUCCESS"))
	StartTimer(logger, "call").EndError(errors.New("timeout"))

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Level != "DEBUG" || entries[0].Fields["opcode"] != "Login" || entries[0].Fields["latency"] == nil {
		t.Errorf("End entry = %+v", entries[0])
	}
	if entries[1].Level != "WARN" || entries[1].Fields["error"] != "timeout" {
		t.Errorf("EndError entry = %+v", entries[1])
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Error("nothing")
	if logger.With(Peer("x")) == nil {
		t.Error("With() returned nil")
	}
}

func TestSetDefaultLogger(t *testing.T) {
	orig := DefaultLogger()
	defer SetDefaultLogger(orig)

	var buf bytes.Buffer
	SetDefaultLogger(NewJSONLogger(&buf, InfoLevel))
	With(Component("test")).Info("hello")

	if !strings.Contains(buf.String(), `"component":"test"`) {
		t.Errorf("default logger output = %q", buf.String())
	}
}
