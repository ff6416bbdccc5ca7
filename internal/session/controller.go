// Package session wires a landmark source to posture evaluation and overlay
// rendering, and owns the start/stop lifecycle of a tracking session.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/spineguard/internal/logger"
	"github.com/dj-oyu/spineguard/internal/metrics"
	"github.com/dj-oyu/spineguard/internal/pose"
	"github.com/dj-oyu/spineguard/internal/posture"
	"github.com/dj-oyu/spineguard/internal/render"
)

var sessionLog = logger.Module("Session")

// ErrCameraUnavailable wraps any failure to acquire the landmark stream.
var ErrCameraUnavailable = errors.New("camera unavailable or permission denied")

// ErrNoReading is returned by Calibrate before any posture was measured.
var ErrNoReading = errors.New("no posture reading to calibrate from")

// Defaults for Options.
const (
	DefaultAlertThrottle = 4 * time.Second
	DefaultStretchEvery  = 30 * time.Minute
	stretchSuffix        = " • Time to stretch!"
)

// Options configures a Controller.
type Options struct {
	Source    pose.Source
	Evaluator *posture.Evaluator
	Renderer  *render.Renderer
	Metrics   *metrics.Metrics

	AlertThrottle time.Duration
	StretchEvery  time.Duration
	// TimerInterval is how often the session timer text refreshes. Zero
	// disables the background ticker; Tick can still be called directly.
	TimerInterval time.Duration
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Controller runs at most one tracking session at a time.
type Controller struct {
	opts Options

	mu        sync.Mutex
	state     State
	gen       uint64
	sub       pose.Subscription
	cancel    context.CancelFunc
	display   Display
	last      Update
	lastFrame time.Time
	lastAlert time.Time
	lastAngle float64
	hasAngle  bool
	reminders int

	sinksMu sync.RWMutex
	sinks   []Sink
}

// New validates opts and returns a stopped controller.
func New(opts Options) (*Controller, error) {
	if opts.Source == nil {
		return nil, errors.New("session: source is required")
	}
	if opts.Evaluator == nil {
		opts.Evaluator = posture.NewEvaluator(posture.Default())
	}
	if opts.Renderer == nil {
		opts.Renderer = render.New(render.DefaultConfig(), opts.Evaluator.Profile())
	}
	if opts.AlertThrottle <= 0 {
		opts.AlertThrottle = DefaultAlertThrottle
	}
	if opts.StretchEvery <= 0 {
		opts.StretchEvery = DefaultStretchEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{opts: opts, display: IdleDisplay()}, nil
}

// AddSink registers an observer.
func (c *Controller) AddSink(s Sink) {
	c.sinksMu.Lock()
	c.sinks = append(c.sinks, s)
	c.sinksMu.Unlock()
}

func (c *Controller) eachSink(fn func(Sink)) {
	c.sinksMu.RLock()
	sinks := append([]Sink(nil), c.sinks...)
	c.sinksMu.RUnlock()
	for _, s := range sinks {
		fn(s)
	}
}

// Start opens the landmark source and begins handling frames. Calling Start
// while running is a no-op. If the source cannot be opened the controller
// stays stopped and the error wraps ErrCameraUnavailable.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Running {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.resetLocked()

	ctx, cancel := context.WithCancel(ctx)
	sub, err := c.opts.Source.Open(ctx, func(f pose.Frame) { c.handle(gen, f) })
	if err != nil {
		cancel()
		c.mu.Unlock()
		if c.opts.Metrics != nil {
			c.opts.Metrics.StartErrors.Add(1)
		}
		sessionLog.Error("start failed: %v", err)
		return fmt.Errorf("%w: %v", ErrCameraUnavailable, err)
	}

	c.sub = sub
	c.cancel = cancel
	c.state = State{ID: uuid.New(), Running: true, StartedAt: c.opts.Now()}
	c.display.Running = true
	c.display.Timer = timerText(0, false)
	state := c.state
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.SessionsStarted.Add(1)
		c.opts.Metrics.SessionActive.Store(1)
	}
	if c.opts.TimerInterval > 0 {
		go c.runTimer(ctx, gen)
	}
	go c.watch(gen, sub)
	sessionLog.Info("session %s started", state.ID)
	c.eachSink(func(s Sink) { s.OnState(state) })
	return nil
}

// Stop cancels the frame subscription, clears trails and resets the display.
// It does not wait for an in-flight frame; a frame that arrives afterwards
// is discarded. Calling Stop while stopped is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.state.Running {
		c.mu.Unlock()
		return
	}
	c.gen++
	sub, cancel := c.sub, c.cancel
	c.sub, c.cancel = nil, nil
	id := c.state.ID
	c.state = State{ID: id}
	c.resetLocked()
	state := c.state
	c.mu.Unlock()

	if sub != nil {
		sub.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.SessionActive.Store(0)
	}
	sessionLog.Info("session %s stopped", id)
	c.eachSink(func(s Sink) { s.OnState(state) })
}

// watch ends the session when the source stops delivering on its own, so
// a dead worker or camera shows the idle display and Start works again.
func (c *Controller) watch(gen uint64, sub pose.Subscription) {
	<-sub.Done()

	c.mu.Lock()
	if c.gen != gen || !c.state.Running {
		c.mu.Unlock()
		return
	}
	c.gen++
	cancel := c.cancel
	c.sub, c.cancel = nil, nil
	id := c.state.ID
	c.state = State{ID: id}
	c.resetLocked()
	state := c.state
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.SessionActive.Store(0)
	}
	sessionLog.Warn("session %s ended: landmark source stopped delivering", id)
	c.eachSink(func(s Sink) { s.OnState(state) })
}

func (c *Controller) resetLocked() {
	c.opts.Renderer.Reset()
	c.display = IdleDisplay()
	c.last = Update{}
	c.lastFrame = time.Time{}
	c.lastAlert = time.Time{}
	c.hasAngle = false
	c.reminders = 0
}

// handle is the per-frame callback. Frames from a previous session are
// dropped.
func (c *Controller) handle(gen uint64, f pose.Frame) {
	c.mu.Lock()
	if gen != c.gen || !c.state.Running {
		c.mu.Unlock()
		return
	}

	now := c.opts.Now()
	dt := 0.001
	if !c.lastFrame.IsZero() {
		if d := now.Sub(c.lastFrame).Seconds(); d > 0 {
			dt = d
		}
	}
	c.lastFrame = now
	fps := int(math.Round(1 / dt))

	reading, ok := c.opts.Evaluator.Evaluate(f.Landmarks)
	var class posture.Class
	if ok {
		class = reading.Class
		c.lastAngle, c.hasAngle = reading.AngleDegrees, true
	} else {
		// Partial or low-confidence landmarks are handled like an absent
		// person.
		f.Landmarks = nil
	}

	start := time.Now()
	overlay := c.opts.Renderer.Draw(f, class)
	renderTime := time.Since(start)

	c.display.FPS = fmt.Sprintf("%d", fps)
	if ok {
		c.display.Status = reading.Label
		c.display.Angle = fmt.Sprintf("%.1f°", reading.AngleDegrees)
		c.display.Advice = reading.Advice
	} else {
		c.display.Status = Placeholder
		c.display.Angle = Placeholder
		c.display.Advice = NoPersonAdvice
	}

	update := Update{
		SessionID: c.state.ID,
		Seq:       f.Seq,
		Timestamp: now,
		FPS:       fps,
		Display:   c.display,
		Overlay:   overlay,
		Frame:     f,
	}
	if ok {
		r := reading
		update.Reading = &r
	}
	c.last = update

	var alert *Alert
	if ok && class == c.opts.Evaluator.Profile().Worst() {
		if c.lastAlert.IsZero() || now.Sub(c.lastAlert) >= c.opts.AlertThrottle {
			c.lastAlert = now
			alert = &Alert{SessionID: c.state.ID, At: now, Reading: reading}
		}
	}
	c.mu.Unlock()

	if m := c.opts.Metrics; m != nil {
		m.FramesProcessed.Add(1)
		m.FramesRendered.Add(1)
		m.CurrentFPS.Store(uint64(fps))
		m.RenderMicro.Store(uint64(renderTime.Microseconds()))
		if ok {
			m.ObserveReading(class.String(), reading.AngleDegrees)
		} else {
			m.FramesNoPerson.Add(1)
		}
		if alert != nil {
			m.Alerts.Add(1)
		}
	}

	c.eachSink(func(s Sink) { s.OnUpdate(update) })
	if alert != nil {
		sessionLog.Debug("risk alert at %.1f°", alert.Reading.AngleDegrees)
		c.eachSink(func(s Sink) { s.OnAlert(*alert) })
	}
}

func (c *Controller) runTimer(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(c.opts.TimerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			stale := gen != c.gen
			c.mu.Unlock()
			if stale {
				return
			}
			c.Tick()
		}
	}
}

// Tick refreshes the session timer text and emits a stretch reminder each
// time another StretchEvery interval has elapsed.
func (c *Controller) Tick() {
	c.mu.Lock()
	if !c.state.Running {
		c.mu.Unlock()
		return
	}
	now := c.opts.Now()
	elapsed := now.Sub(c.state.StartedAt)
	due := int(elapsed / c.opts.StretchEvery)
	var reminder *Reminder
	if due > c.reminders {
		c.reminders = due
		reminder = &Reminder{SessionID: c.state.ID, At: now, Elapsed: elapsed}
	}
	c.display.Timer = timerText(elapsed, reminder != nil)
	c.mu.Unlock()

	if reminder != nil {
		if c.opts.Metrics != nil {
			c.opts.Metrics.Reminders.Add(1)
		}
		sessionLog.Info("stretch reminder after %s", elapsed.Truncate(time.Second))
		c.eachSink(func(s Sink) { s.OnReminder(*reminder) })
	}
}

func timerText(elapsed time.Duration, stretch bool) string {
	secs := int(elapsed / time.Second)
	text := fmt.Sprintf("Session: %dm %ds", secs/60, secs%60)
	if stretch {
		text += stretchSuffix
	}
	return text
}

// Calibrate stores the most recent measured angle as the neutral pose.
func (c *Controller) Calibrate() (float64, error) {
	c.mu.Lock()
	angle, ok := c.lastAngle, c.hasAngle
	c.mu.Unlock()
	if !ok {
		return 0, ErrNoReading
	}
	c.opts.Evaluator.Calibrate(angle)
	sessionLog.Info("calibrated neutral angle %.1f°", angle)
	return angle, nil
}

// ResetCalibration returns to deviation-from-vertical.
func (c *Controller) ResetCalibration() {
	c.opts.Evaluator.Reset()
}

// SetRenderConfig changes overlay parameters from the next frame on.
func (c *Controller) SetRenderConfig(cfg render.Config) error {
	return c.opts.Renderer.SetConfig(cfg)
}

// SetThresholds changes the classification thresholds from the next frame on.
func (c *Controller) SetThresholds(t posture.Thresholds) error {
	return c.opts.Evaluator.SetThresholds(t)
}

// SetProfile swaps the posture profile for both evaluation and colors.
func (c *Controller) SetProfile(p posture.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.opts.Evaluator.SetProfile(p)
	c.opts.Renderer.SetProfile(p)
	return nil
}

// RenderConfig returns the current overlay parameters.
func (c *Controller) RenderConfig() render.Config {
	return c.opts.Renderer.Config()
}

// Profile returns the active posture profile.
func (c *Controller) Profile() posture.Profile {
	return c.opts.Evaluator.Profile()
}

// Snapshot is a consistent view of the controller.
type Snapshot struct {
	State       State            `json:"state"`
	Display     Display          `json:"display"`
	Reading     *posture.Reading `json:"reading,omitempty"`
	Class       string           `json:"class,omitempty"`
	IdealAngle  *float64         `json:"ideal_angle,omitempty"`
	TrailPoints int              `json:"trail_points"`
}

// Snapshot returns the current state and display values.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{State: c.state, Display: c.display}
	if c.last.Reading != nil {
		r := *c.last.Reading
		s.Reading = &r
		s.Class = r.Class.String()
	}
	c.mu.Unlock()

	if ideal, ok := c.opts.Evaluator.Ideal(); ok {
		s.IdealAngle = &ideal
	}
	s.TrailPoints = c.opts.Renderer.TrailTotal()
	return s
}

// LastUpdate returns the most recent frame update, including its overlay.
func (c *Controller) LastUpdate() (Update, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.last.Overlay != nil
}

// Running reports whether a session is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Running
}
