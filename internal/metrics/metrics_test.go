package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.FramesProcessed.Add(3)
	m.ObserveReading("poor", -26.5)
	m.ObserveReading("poor", -27)
	m.ObserveReading("good", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"spineguard_frames_processed_total 3",
		`spineguard_readings_total{class="poor"} 2`,
		`spineguard_readings_total{class="good"} 1`,
		"spineguard_angle_degrees 1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, out)
		}
	}
}

func TestAngleRoundTrip(t *testing.T) {
	m := New()
	m.ObserveReading("moderate", -12.25)
	if got := m.Angle(); got != -12.25 {
		t.Fatalf("Angle = %v", got)
	}
}
