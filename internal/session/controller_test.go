package session

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dj-oyu/spineguard/internal/metrics"
	"github.com/dj-oyu/spineguard/internal/pose"
	"github.com/dj-oyu/spineguard/internal/posture"
	"github.com/dj-oyu/spineguard/internal/render"
)

type fakeSource struct {
	mu       sync.Mutex
	opens    int
	stops    int
	handlers []pose.Handler
	subs     []*fakeSub
	err      error
}

type fakeSub struct {
	src  *fakeSource
	once sync.Once
	done chan struct{}
}

func (s *fakeSub) Stop() {
	s.src.mu.Lock()
	s.src.stops++
	s.src.mu.Unlock()
	s.end()
}

func (s *fakeSub) Done() <-chan struct{} { return s.done }

func (s *fakeSub) end() { s.once.Do(func() { close(s.done) }) }

func (s *fakeSource) Open(ctx context.Context, h pose.Handler) (pose.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.opens++
	s.handlers = append(s.handlers, h)
	sub := &fakeSub{src: s, done: make(chan struct{})}
	s.subs = append(s.subs, sub)
	return sub, nil
}

// fail ends the n-th subscription as if the stream died.
func (s *fakeSource) fail(n int) {
	s.mu.Lock()
	sub := s.subs[n]
	s.mu.Unlock()
	sub.end()
}

// deliver calls the handler of the n-th Open (0-based).
func (s *fakeSource) deliver(n int, f pose.Frame) {
	s.mu.Lock()
	h := s.handlers[n]
	s.mu.Unlock()
	h(f)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingSink struct {
	mu        sync.Mutex
	states    []State
	updates   []Update
	alerts    []Alert
	reminders []Reminder
}

func (s *recordingSink) OnState(st State) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *recordingSink) OnUpdate(u Update) {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
}

func (s *recordingSink) OnAlert(a Alert) {
	s.mu.Lock()
	s.alerts = append(s.alerts, a)
	s.mu.Unlock()
}

func (s *recordingSink) OnReminder(r Reminder) {
	s.mu.Lock()
	s.reminders = append(s.reminders, r)
	s.mu.Unlock()
}

// leanFrame builds a frame whose shoulder-hip line tilts by deg degrees.
func leanFrame(t *testing.T, deg float64) pose.Frame {
	t.Helper()
	rad := deg * math.Pi / 180
	sx, sy := 0.5, 0.3
	hx, hy := sx+0.3*math.Sin(rad), sy+0.3*math.Cos(rad)

	lms := make([]pose.Landmark, pose.NumLandmarks)
	for i := range lms {
		lms[i] = pose.Landmark{X: 0.5, Y: 0.5, Score: 0.9}
	}
	lms[pose.LeftShoulder] = pose.Landmark{X: sx - 0.1, Y: sy, Score: 0.9}
	lms[pose.RightShoulder] = pose.Landmark{X: sx + 0.1, Y: sy, Score: 0.9}
	lms[pose.LeftHip] = pose.Landmark{X: hx - 0.08, Y: hy, Score: 0.9}
	lms[pose.RightHip] = pose.Landmark{X: hx + 0.08, Y: hy, Score: 0.9}
	set, err := pose.NewLandmarkSet(lms)
	if err != nil {
		t.Fatal(err)
	}
	return pose.Frame{Width: 320, Height: 240, Landmarks: set}
}

type harness struct {
	src   *fakeSource
	clock *fakeClock
	sink  *recordingSink
	m     *metrics.Metrics
	c     *Controller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		src:   &fakeSource{},
		clock: &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
		sink:  &recordingSink{},
		m:     metrics.New(),
	}
	c, err := New(Options{
		Source:   h.src,
		Renderer: render.New(render.DefaultConfig(), posture.Default()),
		Metrics:  h.m,
		Now:      h.clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.AddSink(h.sink)
	h.c = c
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.start(t)
	if h.src.opens != 1 {
		t.Fatalf("source opened %d times", h.src.opens)
	}
	if !h.c.Running() {
		t.Fatal("controller not running")
	}
	if len(h.sink.states) != 1 {
		t.Fatalf("state events = %d, want 1", len(h.sink.states))
	}
}

func TestStartFailureStaysStopped(t *testing.T) {
	h := newHarness(t)
	h.src.err = errors.New("permission denied")

	err := h.c.Start(context.Background())
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("expected ErrCameraUnavailable, got %v", err)
	}
	if h.c.Running() {
		t.Fatal("controller running after failed start")
	}
	if h.c.Snapshot().Display != IdleDisplay() {
		t.Fatalf("display = %+v", h.c.Snapshot().Display)
	}
	if h.m.StartErrors.Load() != 1 {
		t.Fatal("start error not counted")
	}
}

func TestFrameUpdatesDisplay(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.src.deliver(0, leanFrame(t, 0))
	d := h.c.Snapshot().Display
	if d.FPS != "1000" {
		t.Fatalf("first frame fps = %q, want 1000", d.FPS)
	}
	if d.Status != "Healthy" || d.Angle != "0.0°" || d.Advice != "Great posture — keep it up!" {
		t.Fatalf("display = %+v", d)
	}

	h.clock.Advance(50 * time.Millisecond)
	h.src.deliver(0, leanFrame(t, 12))
	snap := h.c.Snapshot()
	if snap.Display.FPS != "20" {
		t.Fatalf("fps = %q, want 20", snap.Display.FPS)
	}
	if snap.Display.Status != "Needs Attention" || snap.Class != "moderate" {
		t.Fatalf("snapshot = %+v", snap)
	}

	u, ok := h.c.LastUpdate()
	if !ok || u.Overlay.Bounds().Dx() != 320 {
		t.Fatalf("last update overlay missing or wrong size")
	}
	if h.m.FramesProcessed.Load() != 2 {
		t.Fatalf("frames processed = %d", h.m.FramesProcessed.Load())
	}
}

func TestNoPersonFrame(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.src.deliver(0, leanFrame(t, 0))
	trail := h.c.Snapshot().TrailPoints

	h.clock.Advance(time.Second / 30)
	h.src.deliver(0, pose.Frame{Width: 320, Height: 240})

	snap := h.c.Snapshot()
	if snap.Display.Status != Placeholder || snap.Display.Advice != NoPersonAdvice {
		t.Fatalf("display = %+v", snap.Display)
	}
	if snap.Reading != nil {
		t.Fatal("reading present without a person")
	}
	if snap.TrailPoints != trail {
		t.Fatalf("trail points changed from %d to %d", trail, snap.TrailPoints)
	}
	if h.m.FramesNoPerson.Load() != 1 {
		t.Fatal("no-person frame not counted")
	}
}

func TestLowConfidenceTreatedAsNoPerson(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	f := leanFrame(t, 0)
	lms := f.Landmarks.Slice()
	lms[pose.RightHip].Score = 0.1
	f.Landmarks, _ = pose.NewLandmarkSet(lms)
	h.src.deliver(0, f)

	if snap := h.c.Snapshot(); snap.Reading != nil || snap.Display.Advice != NoPersonAdvice {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRiskAlertThrottle(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	for _, step := range []time.Duration{0, time.Second, 2 * time.Second, time.Second, 500 * time.Millisecond} {
		h.clock.Advance(step)
		h.src.deliver(0, leanFrame(t, -30))
	}
	// Frames at 0s, 1s, 3s, 4s, 4.5s: alerts at 0s and 4s.
	if len(h.sink.alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(h.sink.alerts))
	}
	if h.sink.alerts[0].Reading.Class != posture.Poor {
		t.Fatalf("alert class = %s", h.sink.alerts[0].Reading.Class)
	}
}

func TestStopResetsAndRestartIsClean(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second / 30)
		h.src.deliver(0, leanFrame(t, float64(i)))
	}
	if h.c.Snapshot().TrailPoints == 0 {
		t.Fatal("expected trail points while running")
	}

	h.c.Stop()
	h.c.Stop()
	if h.src.stops != 1 {
		t.Fatalf("subscription stopped %d times", h.src.stops)
	}
	snap := h.c.Snapshot()
	if snap.Display != IdleDisplay() || snap.TrailPoints != 0 || snap.State.Running {
		t.Fatalf("snapshot after stop = %+v", snap)
	}

	// A late frame from the first session is discarded.
	h.src.deliver(0, leanFrame(t, 0))
	if h.c.Snapshot().TrailPoints != 0 {
		t.Fatal("stale frame mutated trails")
	}

	h.start(t)
	if h.c.Snapshot().TrailPoints != 0 {
		t.Fatal("trails not empty after restart")
	}
	h.src.deliver(0, leanFrame(t, 0))
	if h.c.Snapshot().TrailPoints != 0 {
		t.Fatal("first session's handler still active")
	}
	h.src.deliver(1, leanFrame(t, 0))
	if h.c.Snapshot().TrailPoints == 0 {
		t.Fatal("new session not drawing")
	}
}

func TestTickStretchReminder(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.clock.Advance(95 * time.Second)
	h.c.Tick()
	if got := h.c.Snapshot().Display.Timer; got != "Session: 1m 35s" {
		t.Fatalf("timer = %q", got)
	}

	h.clock.Advance(30*time.Minute - 95*time.Second)
	h.c.Tick()
	timer := h.c.Snapshot().Display.Timer
	if !strings.HasSuffix(timer, "Time to stretch!") || !strings.HasPrefix(timer, "Session: 30m 0s") {
		t.Fatalf("timer = %q", timer)
	}
	if len(h.sink.reminders) != 1 {
		t.Fatalf("reminders = %d, want 1", len(h.sink.reminders))
	}

	h.clock.Advance(time.Second)
	h.c.Tick()
	if strings.Contains(h.c.Snapshot().Display.Timer, "stretch") {
		t.Fatal("stretch suffix should only show on the reminder tick")
	}
	if len(h.sink.reminders) != 1 {
		t.Fatal("duplicate reminder")
	}
}

func TestCalibrate(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	if _, err := h.c.Calibrate(); !errors.Is(err, ErrNoReading) {
		t.Fatalf("expected ErrNoReading, got %v", err)
	}

	h.src.deliver(0, leanFrame(t, 20))
	if s := h.c.Snapshot(); s.Class != "poor" {
		t.Fatalf("class before calibration = %s", s.Class)
	}

	angle, err := h.c.Calibrate()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(angle-20) > 0.5 {
		t.Fatalf("calibrated angle = %v", angle)
	}

	h.clock.Advance(time.Second / 30)
	h.src.deliver(0, leanFrame(t, 20))
	snap := h.c.Snapshot()
	if snap.Class != "good" || snap.IdealAngle == nil {
		t.Fatalf("snapshot after calibration = %+v", snap)
	}

	h.c.ResetCalibration()
	if h.c.Snapshot().IdealAngle != nil {
		t.Fatal("calibration not reset")
	}
}

func TestRuntimeConfigAppliesNextFrame(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	h.src.deliver(0, leanFrame(t, 10))
	if h.c.Snapshot().Class != "moderate" {
		t.Fatal("expected moderate at 10 degrees")
	}
	if err := h.c.SetThresholds(posture.Thresholds{Low: 12, High: 20}); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(time.Second / 30)
	h.src.deliver(0, leanFrame(t, 10))
	if h.c.Snapshot().Class != "good" {
		t.Fatal("threshold change not applied")
	}

	if err := h.c.SetRenderConfig(render.Config{LineWidth: 4, Glow: 0, TrailLength: 2}); err != nil {
		t.Fatal(err)
	}
	for n := 0; n < 5; n++ {
		h.clock.Advance(time.Second / 30)
		h.src.deliver(0, leanFrame(t, 0))
	}
	if got := h.c.Snapshot().TrailPoints; got != 2*len(render.Joints) {
		t.Fatalf("trail points = %d, want %d", got, 2*len(render.Joints))
	}
	if err := h.c.SetRenderConfig(render.Config{LineWidth: 0}); err == nil {
		t.Fatal("invalid render config accepted")
	}
}

func TestTimerGoroutine(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	c, err := New(Options{Source: &fakeSource{}, TimerInterval: 5 * time.Millisecond, Now: clock.Now})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	clock.Advance(61 * time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for c.Snapshot().Display.Timer != "Session: 1m 1s" {
		if time.Now().After(deadline) {
			t.Fatalf("timer never refreshed: %q", c.Snapshot().Display.Timer)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitStopped(t *testing.T, c *Controller) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for c.Running() {
		if time.Now().After(deadline) {
			t.Fatal("controller still running after the source ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSourceEndStopsSession(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.src.deliver(0, leanFrame(t, 20))

	h.src.fail(0)
	waitStopped(t, h.c)

	if got := h.c.Snapshot().Display; got != IdleDisplay() {
		t.Fatalf("display = %+v, want idle", got)
	}
	if h.m.SessionActive.Load() != 0 {
		t.Fatal("session still marked active")
	}
	h.sink.mu.Lock()
	last := h.sink.states[len(h.sink.states)-1]
	h.sink.mu.Unlock()
	if last.Running {
		t.Fatalf("last state = %+v, want stopped", last)
	}

	h.start(t)
	if h.src.opens != 2 {
		t.Fatalf("source opened %d times, want 2 after restart", h.src.opens)
	}
	if !h.c.Running() {
		t.Fatal("restart after source end did not run")
	}
}

func TestStopIgnoresLateSourceEnd(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	h.c.Stop()
	h.start(t)

	// the first session's watcher wakes up late and must leave this one alone
	time.Sleep(20 * time.Millisecond)
	if !h.c.Running() {
		t.Fatal("stale subscription stopped the new session")
	}
}
