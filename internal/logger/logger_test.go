package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Logf(INFO, "Session", "hidden %d", 1)
	l.Logf(WARN, "Session", "shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line leaked at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN] [Session] shown 2") {
		t.Fatalf("warn line missing: %q", out)
	}

	l.SetLevel(DEBUG)
	if !l.Enabled(DEBUG) || l.Level() != DEBUG {
		t.Fatalf("SetLevel(DEBUG) not applied, level %s", l.Level())
	}
}

func TestSilentDropsEverything(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, false)
	l.Logf(ERROR, "Render", "boom")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	if l.Enabled(SILENT) {
		t.Fatal("SILENT must never be an enabled message level")
	}
}

func TestColorWrapsLevelOnly(t *testing.T) {
	var buf bytes.Buffer
	New(INFO, &buf, true).Logf(ERROR, "MQTT", "lost")
	if !strings.Contains(buf.String(), "\033[31m[ERROR]\033[0m [MQTT] lost") {
		t.Fatalf("unexpected colored line %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"":        INFO,
		"warning": WARN,
		" Warn ":  WARN,
		"error":   ERROR,
		"none":    SILENT,
		"silent":  SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if got := LogLevel(42).String(); got != "UNKNOWN" {
		t.Fatalf("LogLevel(42).String() = %q", got)
	}
}

func TestModuleUsesProcessLogger(t *testing.T) {
	var buf bytes.Buffer
	Init(DEBUG, &buf, false)
	t.Cleanup(func() { Init(INFO, nil, false) })

	m := Module("Replay")
	if !m.Enabled(DEBUG) {
		t.Fatal("module should see the DEBUG level")
	}
	m.Debug("frame %d", 7)
	if !strings.Contains(buf.String(), "[DEBUG] [Replay] frame 7") {
		t.Fatalf("module line missing: %q", buf.String())
	}
}
