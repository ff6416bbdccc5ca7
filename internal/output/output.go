package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dj-oyu/spineguard/internal/posture"
	"github.com/dj-oyu/spineguard/internal/session"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) Serving(addr string) {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	fmt.Fprintf(f.w, "🌐 Monitor listening on http://%s\n", host)
}

// PresetList prints each profile with its thresholds and class labels. The
// default preset is marked with an asterisk.
func (f *Formatter) PresetList(profiles []posture.Profile, def string) {
	fmt.Fprintf(f.w, "📐 Posture presets:\n\n")
	tw := tabwriter.NewWriter(f.w, 0, 0, 2, ' ', 0)
	for _, p := range profiles {
		mark := " "
		if p.Name == def {
			mark = "*"
		}
		labels := make([]string, 0, p.Bands)
		for _, c := range p.Classes() {
			labels = append(labels, p.Labels[c.String()])
		}
		fmt.Fprintf(tw, "  %s %s\t%s\t%s\n", mark, p.Name, thresholdText(p), strings.Join(labels, " / "))
	}
	tw.Flush()
}

func thresholdText(p posture.Profile) string {
	if p.Bands == 2 {
		return fmt.Sprintf("<= %g°", p.Thresholds.Low)
	}
	return fmt.Sprintf("%g° / %g°", p.Thresholds.Low, p.Thresholds.High)
}

// Reading prints a single evaluation. ideal is nil when uncalibrated.
func (f *Formatter) Reading(profile string, r posture.Reading, ideal *float64) {
	fmt.Fprintf(f.w, "Preset:    %s\n", profile)
	fmt.Fprintf(f.w, "Angle:     %.1f°\n", r.AngleDegrees)
	if ideal != nil {
		fmt.Fprintf(f.w, "Ideal:     %.1f°\n", *ideal)
	}
	fmt.Fprintf(f.w, "Deviation: %.1f°\n", r.Deviation)
	fmt.Fprintf(f.w, "Status:    %s (%s)\n", r.Label, r.Class)
	fmt.Fprintf(f.w, "Advice:    %s\n", r.Advice)
}

// ReadingTable writes one aligned row per readout.
type ReadingTable struct {
	tw *tabwriter.Writer
}

func (f *Formatter) NewReadingTable() *ReadingTable {
	tw := tabwriter.NewWriter(f.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tFPS\tANGLE\tSTATUS\tADVICE")
	return &ReadingTable{tw: tw}
}

func (t *ReadingTable) Row(r session.Readout) {
	angle, status := session.Placeholder, session.Placeholder
	if r.Person {
		angle = fmt.Sprintf("%.1f°", r.AngleDegrees)
		status = r.Label
	}
	ts := time.UnixMilli(r.TimestampMS).UTC().Format("15:04:05.000")
	fmt.Fprintf(t.tw, "%d\t%s\t%d\t%s\t%s\t%s\n", r.Seq, ts, r.FPS, angle, status, r.Advice)
}

func (t *ReadingTable) Flush() error {
	return t.tw.Flush()
}

// ClassCount is the number of frames that landed in one class.
type ClassCount struct {
	Class string
	Label string
	Count int
}

// Summary describes a finished replay.
type Summary struct {
	Source    string
	Frames    int
	NoPerson  int
	Classes   []ClassCount
	MeanAngle float64
	MaxAngle  float64
	Alerts    int
	Reminders int
	// Span covers the recorded frame timestamps; Elapsed is wall time.
	Span    time.Duration
	Elapsed time.Duration
	Images  int
}

func (f *Formatter) ReplaySummary(s Summary) {
	fmt.Fprintf(f.w, "\n📊 Replay of %s\n\n", s.Source)
	fmt.Fprintf(f.w, "  Frames:     %d (%s recorded, %s elapsed)\n", s.Frames, formatDuration(s.Span), formatDuration(s.Elapsed))
	fmt.Fprintf(f.w, "  No person:  %d\n", s.NoPerson)
	measured := s.Frames - s.NoPerson
	for _, c := range s.Classes {
		pct := 0.0
		if measured > 0 {
			pct = 100 * float64(c.Count) / float64(measured)
		}
		fmt.Fprintf(f.w, "  %-11s %d (%.1f%%)\n", c.Label+":", c.Count, pct)
	}
	if measured > 0 {
		fmt.Fprintf(f.w, "  Mean angle: %.1f°\n", s.MeanAngle)
		fmt.Fprintf(f.w, "  Max angle:  %.1f°\n", s.MaxAngle)
	}
	fmt.Fprintf(f.w, "  Alerts:     %d\n", s.Alerts)
	fmt.Fprintf(f.w, "  Reminders:  %d\n", s.Reminders)
	if s.Images > 0 {
		fmt.Fprintf(f.w, "  Overlays:   %d PNG files\n", s.Images)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
