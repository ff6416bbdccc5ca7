package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/dj-oyu/spineguard/internal/app"
	"github.com/dj-oyu/spineguard/internal/config"
	"github.com/dj-oyu/spineguard/internal/logger"
	"github.com/dj-oyu/spineguard/internal/output"
	"github.com/dj-oyu/spineguard/internal/pose"
	"github.com/dj-oyu/spineguard/internal/posture"
	"github.com/dj-oyu/spineguard/internal/render"
	"github.com/dj-oyu/spineguard/internal/session"
)

var replayLog = logger.Module("Replay")

const progressTemplate = `{{ string . "prefix" }} {{counters . "%s/%s" "%s/?"}} {{bar . }} {{percent . "%.03f%%" "?"}} {{etime . "%s elapsed"}} {{rtime . "%s remain" "%s total" "???"}}`

// Replay output formats.
const (
	formatTable = "table"
	formatJSONL = "jsonl"
	formatNone  = "none"
)

type replayOptions struct {
	Path       string
	Format     string
	PNGDir     string
	Every      int
	Preset     string
	Ideal      *float64
	NoProgress bool
}

func NewReplayCmd(deps *Dependencies) *cobra.Command {
	var (
		opts  replayOptions
		ideal float64
	)

	cmd := &cobra.Command{
		Use:   "replay <recording.jsonl>",
		Short: "Evaluate a recorded landmark stream offline",
		Long: "Runs a recording through a tracking session as fast as possible, using the recorded " +
			"timestamps as the session clock, and prints every reading followed by a summary.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Path = args[0]
			if cmd.Flags().Changed("ideal") {
				opts.Ideal = &ideal
			}
			summary, err := runReplay(cmd.Context(), deps.Config, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			output.NewFormatter(cmd.ErrOrStderr()).ReplaySummary(summary)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", formatTable, "per-frame output: table, jsonl or none")
	cmd.Flags().StringVar(&opts.PNGDir, "png-dir", "", "write overlay images to this directory")
	cmd.Flags().IntVar(&opts.Every, "every", 1, "with --png-dir, write every Nth overlay")
	cmd.Flags().StringVar(&opts.Preset, "preset", "", "posture preset (overrides posture.preset)")
	cmd.Flags().Float64Var(&ideal, "ideal", 0, "calibrated neutral angle in degrees")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "hide the progress bar")

	return cmd
}

// replayClock is the session clock during replay. It reads the timestamp of
// the frame being handled.
type replayClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *replayClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// clockedSource plays frames once, advancing the clock and the session timer
// before handing each frame on. done closes after the handler has returned
// for the last frame.
type clockedSource struct {
	frames []pose.Frame
	clock  *replayClock
	tick   func()
	done   chan struct{}
}

func newClockedSource(frames []pose.Frame, clock *replayClock) *clockedSource {
	s := &clockedSource{frames: frames, clock: clock, done: make(chan struct{})}
	if len(frames) == 0 {
		close(s.done)
	}
	return s
}

func (s *clockedSource) Open(ctx context.Context, h pose.Handler) (pose.Subscription, error) {
	inner := &pose.SliceSource{Frames: s.frames}
	remaining := len(s.frames)
	return inner.Open(ctx, func(f pose.Frame) {
		s.clock.Set(f.Timestamp)
		if s.tick != nil {
			s.tick()
		}
		h(f)
		if remaining--; remaining == 0 {
			close(s.done)
		}
	})
}

func runReplay(ctx context.Context, cfg config.Config, opts replayOptions, stdout, stderr io.Writer) (output.Summary, error) {
	started := time.Now()
	summary := output.Summary{Source: filepath.Base(opts.Path)}

	switch opts.Format {
	case formatTable, formatJSONL, formatNone:
	default:
		return summary, fmt.Errorf("unknown format %q (want table, jsonl or none)", opts.Format)
	}
	if opts.Every < 1 {
		opts.Every = 1
	}

	f, err := os.Open(opts.Path)
	if err != nil {
		return summary, fmt.Errorf("open recording: %w", err)
	}
	frames, err := pose.ReadRecording(f)
	f.Close()
	if err != nil {
		return summary, err
	}

	if opts.Preset != "" {
		cfg.Posture.Preset = opts.Preset
	}
	if opts.Ideal != nil {
		cfg.Posture.IdealAngle = opts.Ideal
	}
	ev, err := app.NewEvaluator(cfg)
	if err != nil {
		return summary, err
	}
	profile := ev.Profile()

	if opts.PNGDir != "" {
		if err := os.MkdirAll(opts.PNGDir, 0o755); err != nil {
			return summary, fmt.Errorf("create png dir: %w", err)
		}
	}

	clock := &replayClock{t: time.Now()}
	if len(frames) > 0 {
		clock.t = frames[0].Timestamp
	}
	src := newClockedSource(frames, clock)
	ctrl, err := session.New(session.Options{
		Source:        src,
		Evaluator:     ev,
		Renderer:      render.New(cfg.Render, profile),
		AlertThrottle: cfg.Session.AlertThrottle(),
		StretchEvery:  cfg.Session.StretchEvery(),
		Now:           clock.Now,
	})
	if err != nil {
		return summary, err
	}
	src.tick = ctrl.Tick

	col := newCollector(profile, opts, stdout)
	if !opts.NoProgress && len(frames) > 0 {
		col.bar = pb.ProgressBarTemplate(progressTemplate).New(len(frames))
		col.bar.SetWriter(stderr)
		col.bar.Set("prefix", "Replaying")
		col.bar.Start()
	}
	ctrl.AddSink(col)

	replayLog.Info("replaying %d frames from %s with preset %s", len(frames), opts.Path, profile.Name)
	if err := ctrl.Start(ctx); err != nil {
		return summary, err
	}
	select {
	case <-src.done:
	case <-col.failed:
	case <-ctx.Done():
	}
	ctrl.Stop()

	if col.bar != nil {
		col.bar.Finish()
	}
	if col.table != nil {
		col.table.Flush()
	}
	if err := col.Err(); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	col.fill(&summary)
	if len(frames) > 1 {
		summary.Span = frames[len(frames)-1].Timestamp.Sub(frames[0].Timestamp)
	}
	summary.Elapsed = time.Since(started)
	return summary, nil
}

// collector is the replay session's only sink. All calls arrive on the
// replay goroutine except the final Stop.
type collector struct {
	profile posture.Profile
	opts    replayOptions

	table *output.ReadingTable
	enc   *json.Encoder
	bar   *pb.ProgressBar

	mu        sync.Mutex
	seen      int
	noPerson  int
	byClass   map[posture.Class]int
	angleSum  float64
	maxAngle  float64
	alerts    int
	reminders int
	images    int
	err       error
	failed    chan struct{}
}

func newCollector(profile posture.Profile, opts replayOptions, w io.Writer) *collector {
	c := &collector{
		profile: profile,
		opts:    opts,
		byClass: make(map[posture.Class]int),
		failed:  make(chan struct{}),
	}
	switch opts.Format {
	case formatTable:
		c.table = output.NewFormatter(w).NewReadingTable()
	case formatJSONL:
		c.enc = json.NewEncoder(w)
	}
	return c
}

func (c *collector) OnUpdate(u session.Update) {
	r := u.Readout()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.seen++
	if u.Reading == nil {
		c.noPerson++
	} else {
		c.byClass[u.Reading.Class]++
		c.angleSum += u.Reading.AngleDegrees
		c.maxAngle = math.Max(c.maxAngle, math.Abs(u.Reading.AngleDegrees))
	}

	switch {
	case c.table != nil:
		c.table.Row(r)
	case c.enc != nil:
		if err := c.enc.Encode(r); err != nil {
			c.fail(fmt.Errorf("write reading: %w", err))
			return
		}
	}
	if c.opts.PNGDir != "" && u.Overlay != nil && (c.seen-1)%c.opts.Every == 0 {
		if err := c.writePNG(u); err != nil {
			c.fail(err)
			return
		}
	}
	if c.bar != nil {
		c.bar.Increment()
	}
}

func (c *collector) writePNG(u session.Update) error {
	name := filepath.Join(c.opts.PNGDir, fmt.Sprintf("frame_%06d.png", u.Seq))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create overlay: %w", err)
	}
	if err := png.Encode(f, u.Overlay); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	c.images++
	return nil
}

// fail records the first error and ends the replay. Callers hold mu.
func (c *collector) fail(err error) {
	c.err = err
	close(c.failed)
}

func (c *collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *collector) OnAlert(session.Alert) {
	c.mu.Lock()
	c.alerts++
	c.mu.Unlock()
}

func (c *collector) OnReminder(session.Reminder) {
	c.mu.Lock()
	c.reminders++
	c.mu.Unlock()
}

func (c *collector) OnState(session.State) {}

func (c *collector) fill(s *output.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.Frames = c.seen
	s.NoPerson = c.noPerson
	s.Alerts = c.alerts
	s.Reminders = c.reminders
	s.Images = c.images
	s.MaxAngle = c.maxAngle
	if measured := c.seen - c.noPerson; measured > 0 {
		s.MeanAngle = c.angleSum / float64(measured)
	}
	for _, class := range c.profile.Classes() {
		s.Classes = append(s.Classes, output.ClassCount{
			Class: class.String(),
			Label: c.profile.Labels[class.String()],
			Count: c.byClass[class],
		})
	}
}
