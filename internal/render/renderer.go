// Package render draws the skeleton overlay: class-colored glowing lines,
// pulsing joint markers and fading motion trails.
package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/dj-oyu/spineguard/internal/pose"
	"github.com/dj-oyu/spineguard/internal/posture"
)

// NoPersonText is drawn in place of the skeleton when nobody is tracked.
const NoPersonText = "No person detected - position yourself in frame"

// PulseStep advances the pulse phase once per drawn skeleton.
const PulseStep = 0.06

// Config holds the runtime-adjustable drawing parameters.
type Config struct {
	LineWidth   int `json:"line_width" yaml:"line_width" toml:"line_width"`
	Glow        int `json:"glow" yaml:"glow" toml:"glow"`
	TrailLength int `json:"trail_length" yaml:"trail_length" toml:"trail_length"`
}

// DefaultConfig matches the sliders' initial positions.
func DefaultConfig() Config {
	return Config{LineWidth: 3, Glow: 12, TrailLength: 12}
}

// Validate checks the slider ranges.
func (c Config) Validate() error {
	if c.LineWidth < 1 || c.LineWidth > 12 {
		return fmt.Errorf("line_width %d outside 1..12", c.LineWidth)
	}
	if c.Glow < 0 || c.Glow > 40 {
		return fmt.Errorf("glow %d outside 0..40", c.Glow)
	}
	if c.TrailLength < 1 || c.TrailLength > 30 {
		return fmt.Errorf("trail_length %d outside 1..30", c.TrailLength)
	}
	return nil
}

// Bone is a pair of landmarks joined by a skeleton line.
type Bone struct {
	From, To pose.BodyPart
}

// Skeleton is the anatomical adjacency drawn in the class color. The
// shoulder and hip lines are drawn separately as accents.
var Skeleton = []Bone{
	{pose.LeftShoulder, pose.LeftElbow},
	{pose.LeftElbow, pose.LeftWrist},
	{pose.RightShoulder, pose.RightElbow},
	{pose.RightElbow, pose.RightWrist},
	{pose.LeftShoulder, pose.LeftHip},
	{pose.RightShoulder, pose.RightHip},
	{pose.LeftHip, pose.LeftKnee},
	{pose.LeftKnee, pose.LeftAnkle},
	{pose.RightHip, pose.RightKnee},
	{pose.RightKnee, pose.RightAnkle},
}

// Joints get pulsing markers and motion trails.
var Joints = []pose.BodyPart{pose.Nose, pose.LeftShoulder, pose.RightShoulder, pose.LeftHip, pose.RightHip}

var (
	shoulderColor = posture.RGB{120, 200, 255}
	hipColor      = posture.RGB{255, 110, 180}
	chestColor    = posture.RGB{180, 160, 255}
	background    = color.RGBA{R: 15, G: 23, B: 42, A: 255}
	white         = posture.RGB{255, 255, 255}
)

// curveSteps is the number of segments in the midline and chest curve.
const curveSteps = 24

// Renderer turns frames into overlay images. Draw must be called from a
// single goroutine; configuration setters may be called from any goroutine
// and apply to the next frame.
type Renderer struct {
	mu      sync.Mutex
	cfg     Config
	profile posture.Profile

	trails *TrailSet
	phase  float64
}

// New returns a renderer with empty trails.
func New(cfg Config, profile posture.Profile) *Renderer {
	return &Renderer{
		cfg:     cfg,
		profile: profile,
		trails:  NewTrailSet(cfg.TrailLength),
	}
}

// Config returns the active configuration.
func (r *Renderer) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// SetConfig validates and stores cfg. Trails are resized immediately.
func (r *Renderer) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.trails.Resize(cfg.TrailLength)
	r.mu.Unlock()
	return nil
}

// SetProfile changes the class palette and confidence cut-off.
func (r *Renderer) SetProfile(p posture.Profile) {
	r.mu.Lock()
	r.profile = p
	r.mu.Unlock()
}

// Reset clears trails and the pulse phase.
func (r *Renderer) Reset() {
	r.mu.Lock()
	r.trails.Clear()
	r.phase = 0
	r.mu.Unlock()
}

// TrailPoints returns a copy of one joint's trail, oldest first.
func (r *Renderer) TrailPoints(part pose.BodyPart) []pose.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trails.Points(part)
}

// TrailTotal counts points across all trails.
func (r *Renderer) TrailTotal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trails.Total()
}

// Phase is the current pulse phase.
func (r *Renderer) Phase() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Draw renders the overlay for one frame. A frame without landmarks gets
// the placeholder notice and leaves the trails untouched. Frame dimensions
// are read from f on every call.
func (r *Renderer) Draw(f pose.Frame, class posture.Class) *image.RGBA {
	c := r.newCanvas(f)
	if !f.HasPerson() {
		drawNoPerson(c)
		return c.Image()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.phase += PulseStep
	pulse := (math.Sin(r.phase) + 1) / 2
	lineW := float64(max(1, r.cfg.LineWidth))
	glow := float64(max(0, r.cfg.Glow))
	minScore := r.profile.MinScore
	base := r.profile.Color(class)

	set := f.Landmarks
	px := func(p pose.BodyPart) pose.Point { return set.At(p).ToPixels(f.Width, f.Height) }

	for _, j := range Joints {
		if set.Visible(j, minScore) {
			r.trails.Push(j, px(j))
		}
	}
	for _, j := range Joints {
		drawTrail(c, r.trails.Points(j), base, lineW)
	}

	ls, rs := px(pose.LeftShoulder), px(pose.RightShoulder)
	lh, rh := px(pose.LeftHip), px(pose.RightHip)
	shoulderMid, hipMid := pose.Midpoint(ls, rs), pose.Midpoint(lh, rh)

	for _, b := range Skeleton {
		if set.Visible(b.From, minScore) && set.Visible(b.To, minScore) {
			strokeGlow(c, []pose.Point{px(b.From), px(b.To)}, base, lineW, glow, pulse)
		}
	}
	strokeGlow(c, curve(shoulderMid, hipMid, shoulderMid, hipMid), base, lineW, glow, pulse)

	rad := 6 + pulse*3
	for _, j := range Joints {
		if !set.Visible(j, minScore) {
			continue
		}
		p := px(j)
		c.FillCircle(p, math.Max(3, rad), white.NRGBA(0.9))
		c.StrokeCircle(p, rad+6, 2, white.NRGBA(0.06+pulse*0.12))
	}

	accentW := math.Max(1, lineW-1)
	accentGlow := math.Max(3, math.Round(glow*0.6))
	strokeGlow(c, []pose.Point{ls, rs}, shoulderColor, accentW, accentGlow, pulse)
	strokeGlow(c, []pose.Point{lh, rh}, hipColor, accentW, accentGlow, pulse)
	strokeGlow(c, curve(ls, lh, rs, rh), chestColor, math.Max(1, lineW-2), math.Max(2, math.Round(glow*0.45)), pulse)

	return c.Image()
}

func (r *Renderer) newCanvas(f pose.Frame) *Canvas {
	w, h := f.Width, f.Height
	if w <= 0 || h <= 0 {
		if f.Image != nil {
			w, h = f.Image.Bounds().Dx(), f.Image.Bounds().Dy()
		} else {
			w, h = pose.DefaultFrameWidth, pose.DefaultFrameHeight
		}
	}
	c := NewCanvas(w, h)
	if f.Image != nil {
		c.DrawImage(f.Image)
	} else {
		c.Fill(background)
	}
	return c
}

func drawNoPerson(c *Canvas) {
	c.Text(20, 40, NoPersonText, color.RGBA{R: 255, G: 80, B: 80, A: 255})
}

// glowLayer is one stroke of a glowing line.
type glowLayer struct {
	width, alpha float64
	core         bool
}

// glowLayers lists the strokes outermost first: three translucent halos
// that narrow as they brighten, then the white core.
func glowLayers(width, blur, pulse float64) []glowLayer {
	layers := make([]glowLayer, 0, 4)
	for layer := 0; layer < 3; layer++ {
		spread := math.Max(0, blur*(0.6-float64(layer)*0.18)+pulse*6)
		layers = append(layers, glowLayer{
			width: width*(1+float64(2-layer)*0.6) + spread,
			alpha: 0.12 + float64(layer)*0.16,
		})
	}
	return append(layers, glowLayer{width: math.Max(1, width-0.5), alpha: 0.9, core: true})
}

func strokeGlow(c *Canvas, pts []pose.Point, col posture.RGB, width, blur, pulse float64) {
	for _, l := range glowLayers(width, blur, pulse) {
		if l.core {
			c.StrokePolyline(pts, l.width, white.NRGBA(l.alpha))
			continue
		}
		c.StrokePolyline(pts, l.width, col.NRGBA(l.alpha))
	}
}

// trailAlpha is the opacity of segment i (1-based) of an n-point trail:
// near transparent for the oldest, half opacity for the newest.
func trailAlpha(i, n int) float64 {
	return 0.5 * float64(i) / float64(n-1)
}

func drawTrail(c *Canvas, pts []pose.Point, col posture.RGB, lineW float64) {
	n := len(pts)
	if n < 2 {
		return
	}
	w := math.Max(1, lineW*0.6)
	for i := 1; i < n; i++ {
		c.StrokeLine(pts[i-1], pts[i], w, col.NRGBA(trailAlpha(i, n)))
	}
}

// curve samples the midpoint of a0->a1 and b0->b1 as both advance together.
func curve(a0, a1, b0, b1 pose.Point) []pose.Point {
	pts := make([]pose.Point, 0, curveSteps+1)
	for i := 0; i <= curveSteps; i++ {
		t := float64(i) / curveSteps
		pts = append(pts, pose.Midpoint(pose.Lerp(a0, a1, t), pose.Lerp(b0, b1, t)))
	}
	return pts
}
