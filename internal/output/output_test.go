package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/spineguard/internal/posture"
	"github.com/dj-oyu/spineguard/internal/session"
)

func assertContains(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{1400 * time.Millisecond, "1s"},
		{61 * time.Second, "1m01s"},
		{2*time.Hour + 3*time.Minute + 4*time.Second, "2h03m04s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPresetList(t *testing.T) {
	var buf bytes.Buffer
	var profiles []posture.Profile
	for _, name := range posture.PresetNames() {
		p, err := posture.Preset(name)
		if err != nil {
			t.Fatal(err)
		}
		profiles = append(profiles, p)
	}
	NewFormatter(&buf).PresetList(profiles, posture.DefaultPreset)

	out := buf.String()
	assertContains(t, out, "* spineguard", "8° / 15°", "Healthy / Needs Attention / Risky", "<= 10°", "Good / Bad")
	if strings.Contains(out, "* strict") {
		t.Fatalf("only the default preset should be marked:\n%s", out)
	}
}

func TestReading(t *testing.T) {
	var buf bytes.Buffer
	p := posture.Default()
	r := posture.Reading{AngleDegrees: 12.34, Deviation: 12.34, Class: posture.Moderate,
		Label: p.Labels["moderate"], Advice: p.Advice["moderate"]}
	ideal := 2.0
	NewFormatter(&buf).Reading(p.Name, r, &ideal)

	assertContains(t, buf.String(), "Preset:    spineguard", "Angle:     12.3°", "Ideal:     2.0°",
		"Status:    Needs Attention (moderate)", "Adjust your back slightly.")
}

func TestReadingTable(t *testing.T) {
	var buf bytes.Buffer
	table := NewFormatter(&buf).NewReadingTable()
	table.Row(session.Readout{Seq: 1, TimestampMS: 1500, FPS: 30, Person: true, AngleDegrees: 4.26,
		Label: "Healthy", Advice: "ok"})
	table.Row(session.Readout{Seq: 2, TimestampMS: 1533, FPS: 30, Advice: session.NoPersonAdvice})
	if err := table.Flush(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows:\n%s", len(lines), buf.String())
	}
	assertContains(t, lines[0], "SEQ", "ANGLE", "ADVICE")
	assertContains(t, lines[1], "00:00:01.500", "4.3°", "Healthy")
	assertContains(t, lines[2], session.Placeholder, session.NoPersonAdvice)
}

func TestReplaySummary(t *testing.T) {
	var buf bytes.Buffer
	NewFormatter(&buf).ReplaySummary(Summary{
		Source:   "session.jsonl",
		Frames:   5,
		NoPerson: 1,
		Classes: []ClassCount{
			{Class: "good", Label: "Healthy", Count: 3},
			{Class: "poor", Label: "Risky", Count: 1},
		},
		MeanAngle: 6.5,
		MaxAngle:  21,
		Alerts:    1,
		Span:      90 * time.Second,
	})

	assertContains(t, buf.String(), "Replay of session.jsonl", "Frames:     5 (1m30s recorded",
		"No person:  1", "Healthy:    3 (75.0%)", "Risky:      1 (25.0%)", "Max angle:  21.0°", "Alerts:     1")
	if strings.Contains(buf.String(), "Overlays") {
		t.Fatalf("overlay line printed without images:\n%s", buf.String())
	}
}

func TestServing(t *testing.T) {
	var buf bytes.Buffer
	NewFormatter(&buf).Serving(":8080")
	assertContains(t, buf.String(), "http://localhost:8080")
}
