package obs

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "", WarnLevel)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Fatalf("expected debug/info to be filtered out, got: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Fatalf("expected warn/error to be logged, got: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":    DebugLevel,
		"info":     InfoLevel,
		"warning":  WarnLevel,
		"error":    ErrorLevel,
		"critical": CriticalLevel,
		"bogus":    InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

type fakeSink struct {
	entries []Entry
}

func (f *fakeSink) WriteLog(e Entry) error {
	f.entries = append(f.entries, e)
	return nil
}

func TestWithContextPersistsToSink(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "", DebugLevel)
	sink := &fakeSink{}
	l.SetSink(sink)

	l.WithContext("tenant-a", InfoLevel, "sync", "job completed", map[string]interface{}{"job_id": 7})

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(sink.entries))
	}
	if sink.entries[0].Tenant != "tenant-a" || sink.entries[0].Channel != "sync" {
		t.Errorf("unexpected entry: %+v", sink.entries[0])
	}
}
