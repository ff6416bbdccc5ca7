package render

import (
	"image"
	"image/color"
	"testing"

	"github.com/dj-oyu/spineguard/internal/pose"
	"github.com/dj-oyu/spineguard/internal/posture"
)

func personFrame(t *testing.T, w, h int, dx float64) pose.Frame {
	t.Helper()
	lms := make([]pose.Landmark, pose.NumLandmarks)
	for i := range lms {
		lms[i] = pose.Landmark{X: 0.5 + dx, Y: 0.5, Score: 0.9}
	}
	lms[pose.Nose] = pose.Landmark{X: 0.5 + dx, Y: 0.15, Score: 0.9}
	lms[pose.LeftShoulder] = pose.Landmark{X: 0.4 + dx, Y: 0.3, Score: 0.9}
	lms[pose.RightShoulder] = pose.Landmark{X: 0.6 + dx, Y: 0.3, Score: 0.9}
	lms[pose.LeftHip] = pose.Landmark{X: 0.42 + dx, Y: 0.65, Score: 0.9}
	lms[pose.RightHip] = pose.Landmark{X: 0.58 + dx, Y: 0.65, Score: 0.9}
	set, err := pose.NewLandmarkSet(lms)
	if err != nil {
		t.Fatal(err)
	}
	return pose.Frame{Width: w, Height: h, Landmarks: set}
}

func newTestRenderer(trail int) *Renderer {
	cfg := DefaultConfig()
	cfg.TrailLength = trail
	return New(cfg, posture.Default())
}

func TestDrawUsesFrameDimensions(t *testing.T) {
	r := newTestRenderer(12)
	for _, size := range []image.Point{{640, 480}, {480, 640}, {320, 240}} {
		img := r.Draw(personFrame(t, size.X, size.Y, 0), posture.Good)
		if img.Bounds().Size() != size {
			t.Fatalf("overlay %v, want %v", img.Bounds().Size(), size)
		}
	}
}

func TestDrawNoPersonLeavesTrailsAlone(t *testing.T) {
	r := newTestRenderer(12)
	r.Draw(personFrame(t, 640, 480, 0), posture.Good)
	before := r.TrailTotal()
	phase := r.Phase()

	img := r.Draw(pose.Frame{Width: 640, Height: 480}, posture.Good)
	if img == nil {
		t.Fatal("no placeholder image")
	}
	if r.TrailTotal() != before {
		t.Fatalf("trail total changed from %d to %d", before, r.TrailTotal())
	}
	if r.Phase() != phase {
		t.Fatal("pulse advanced without a person")
	}

	// Placeholder text is drawn near the top-left.
	if !anyPixel(img, image.Rect(20, 28, 200, 42), func(c color.RGBA) bool { return c.R > 200 && c.G < 150 }) {
		t.Fatal("placeholder text not found")
	}
}

func TestTrailLengthConfiguration(t *testing.T) {
	const n = 7
	r := newTestRenderer(30)
	if err := r.SetConfig(Config{LineWidth: 3, Glow: 12, TrailLength: n}); err != nil {
		t.Fatal(err)
	}

	frames := n + 5
	for i := 0; i < frames; i++ {
		r.Draw(personFrame(t, 640, 480, float64(i)*0.01), posture.Good)
	}

	pts := r.TrailPoints(pose.Nose)
	if len(pts) != n {
		t.Fatalf("trail length %d, want %d", len(pts), n)
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].X <= pts[i-1].X {
			t.Fatalf("trail not in temporal order: %v", pts)
		}
	}
	// Newest point is the last frame's nose.
	if want := (0.5 + float64(frames-1)*0.01) * 640; pts[n-1].X != want {
		t.Fatalf("newest X = %v, want %v", pts[n-1].X, want)
	}
}

func TestResetClearsTrails(t *testing.T) {
	r := newTestRenderer(12)
	for n := 0; n < 3; n++ {
		r.Draw(personFrame(t, 640, 480, 0), posture.Poor)
	}
	r.Reset()
	if r.TrailTotal() != 0 || r.Phase() != 0 {
		t.Fatal("Reset left state behind")
	}
}

func TestPulseAdvancesPerFrame(t *testing.T) {
	r := newTestRenderer(12)
	for n := 0; n < 5; n++ {
		r.Draw(personFrame(t, 640, 480, 0), posture.Good)
	}
	if got, want := r.Phase(), 5*PulseStep; got < want-1e-9 || got > want+1e-9 {
		t.Fatalf("phase = %v, want %v", got, want)
	}
}

func TestSkeletonUsesClassColor(t *testing.T) {
	r := newTestRenderer(1)
	// Left upper arm region: shoulder (256,144) to elbow at frame centre.
	area := image.Rect(270, 170, 300, 230)

	good := r.Draw(personFrame(t, 640, 480, 0), posture.Good)
	poor := r.Draw(personFrame(t, 640, 480, 0), posture.Poor)

	greenish := func(c color.RGBA) bool { return c.G > c.R+20 }
	reddish := func(c color.RGBA) bool { return c.R > c.G+20 }
	if !anyPixel(good, area, greenish) {
		t.Fatal("good skeleton not green")
	}
	if !anyPixel(poor, area, reddish) {
		t.Fatal("poor skeleton not red")
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{LineWidth: 0, Glow: 12, TrailLength: 12},
		{LineWidth: 3, Glow: 41, TrailLength: 12},
		{LineWidth: 3, Glow: 12, TrailLength: 31},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("%+v accepted", c)
		}
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatal(err)
	}
}

func anyPixel(img *image.RGBA, area image.Rectangle, match func(color.RGBA) bool) bool {
	area = area.Intersect(img.Bounds())
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			if match(img.RGBAAt(x, y)) {
				return true
			}
		}
	}
	return false
}

func TestTrailFadesFromOldestToNewest(t *testing.T) {
	c := NewCanvas(100, 40)
	pts := []pose.Point{{X: 10, Y: 20}, {X: 30, Y: 20}, {X: 50, Y: 20}, {X: 70, Y: 20}, {X: 90, Y: 20}}
	drawTrail(c, pts, posture.RGB{255, 255, 255}, 10)

	prev := uint8(0)
	for i, x := range []int{20, 40, 60, 80} {
		a := c.Image().RGBAAt(x, 20).A
		if a <= prev {
			t.Fatalf("segment %d alpha %d not above older segment's %d", i+1, a, prev)
		}
		prev = a
	}
	if prev > 130 {
		t.Fatalf("newest segment alpha %d, want about half opacity", prev)
	}
}

func TestGlowLayerSchedule(t *testing.T) {
	for _, tc := range []struct{ width, blur, pulse float64 }{
		{3, 12, 0.5},
		{3, 0, 0},
		{1, 40, 1},
	} {
		layers := glowLayers(tc.width, tc.blur, tc.pulse)
		if len(layers) != 4 {
			t.Fatalf("%+v: %d layers, want 4", tc, len(layers))
		}
		for i, l := range layers[:len(layers)-1] {
			if l.core {
				t.Fatalf("%+v: core stroke at position %d", tc, i)
			}
			next := layers[i+1]
			if next.width >= l.width {
				t.Fatalf("%+v: layer %d width %.2f not narrower than %.2f", tc, i+1, next.width, l.width)
			}
			if next.alpha <= l.alpha {
				t.Fatalf("%+v: layer %d alpha %.2f not above %.2f", tc, i+1, next.alpha, l.alpha)
			}
		}
		if !layers[3].core {
			t.Fatalf("%+v: last stroke is not the core", tc)
		}
	}
}

func TestGlowStrokeCoreAndHalo(t *testing.T) {
	c := NewCanvas(100, 40)
	line := []pose.Point{{X: 10, Y: 20.5}, {X: 90, Y: 20.5}}
	strokeGlow(c, line, posture.RGB{255, 110, 180}, 3, 12, 0.5)

	core := c.Image().RGBAAt(50, 20)
	if core.R < 220 || core.G < 220 || core.B < 220 {
		t.Fatalf("core pixel = %v, want near white", core)
	}
	// only the outermost halo reaches 7px from the centre
	halo := c.Image().RGBAAt(50, 27)
	if halo.A < 20 || halo.A > 45 || halo.R <= halo.G {
		t.Fatalf("halo pixel = %v, want faint line color", halo)
	}
}
