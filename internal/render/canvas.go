package render

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/dj-oyu/spineguard/internal/pose"
)

// Canvas is a 2-D drawing surface in pixel coordinates, origin top-left.
// Every shape is rasterized with the same winding so overlapping pieces of
// one stroke merge instead of cancelling.
type Canvas struct {
	img *image.RGBA
	z   *vector.Rasterizer
}

// NewCanvas allocates a transparent canvas.
func NewCanvas(w, h int) *Canvas {
	w, h = max(w, 1), max(h, 1)
	return &Canvas{
		img: image.NewRGBA(image.Rect(0, 0, w, h)),
		z:   vector.NewRasterizer(w, h),
	}
}

// Image returns the backing image.
func (c *Canvas) Image() *image.RGBA { return c.img }

func (c *Canvas) Width() int  { return c.img.Rect.Dx() }
func (c *Canvas) Height() int { return c.img.Rect.Dy() }

// Fill paints the whole canvas.
func (c *Canvas) Fill(col color.Color) {
	xdraw.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{}, xdraw.Src)
}

// DrawImage paints src stretched over the canvas.
func (c *Canvas) DrawImage(src image.Image) {
	if src.Bounds().Size() == c.img.Bounds().Size() {
		xdraw.Draw(c.img, c.img.Bounds(), src, src.Bounds().Min, xdraw.Src)
		return
	}
	xdraw.ApproxBiLinear.Scale(c.img, c.img.Bounds(), src, src.Bounds(), xdraw.Src, nil)
}

// StrokePolyline draws connected segments with round caps and joins.
func (c *Canvas) StrokePolyline(pts []pose.Point, width float64, col color.NRGBA) {
	if len(pts) == 0 || width <= 0 || col.A == 0 {
		return
	}
	hw := width / 2
	c.z.Reset(c.Width(), c.Height())
	for i := 1; i < len(pts); i++ {
		c.addSegment(pts[i-1], pts[i], hw)
	}
	for _, p := range pts {
		c.addCircle(p, hw, false)
	}
	c.paint(col)
}

// StrokeLine draws one segment.
func (c *Canvas) StrokeLine(a, b pose.Point, width float64, col color.NRGBA) {
	c.StrokePolyline([]pose.Point{a, b}, width, col)
}

// FillCircle draws a filled disc.
func (c *Canvas) FillCircle(center pose.Point, r float64, col color.NRGBA) {
	if r <= 0 || col.A == 0 {
		return
	}
	c.z.Reset(c.Width(), c.Height())
	c.addCircle(center, r, false)
	c.paint(col)
}

// StrokeCircle draws a ring of the given width centred on radius r.
func (c *Canvas) StrokeCircle(center pose.Point, r, width float64, col color.NRGBA) {
	if r <= 0 || width <= 0 || col.A == 0 {
		return
	}
	outer := r + width/2
	inner := r - width/2
	c.z.Reset(c.Width(), c.Height())
	c.addCircle(center, outer, false)
	if inner > 0 {
		// Opposite winding punches the hole.
		c.addCircle(center, inner, true)
	}
	c.paint(col)
}

// Text draws s with its baseline starting at (x, y).
func (c *Canvas) Text(x, y int, s string, col color.Color) {
	d := font.Drawer{
		Dst:  c.img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func (c *Canvas) paint(col color.NRGBA) {
	c.z.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{})
}

// addSegment adds the rectangle around a-b. Vertex order matches the
// clockwise circles from addCircle.
func (c *Canvas) addSegment(a, b pose.Point, hw float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}
	nx, ny := -dy/l*hw, dx/l*hw
	c.z.MoveTo(float32(a.X+nx), float32(a.Y+ny))
	c.z.LineTo(float32(b.X+nx), float32(b.Y+ny))
	c.z.LineTo(float32(b.X-nx), float32(b.Y-ny))
	c.z.LineTo(float32(a.X-nx), float32(a.Y-ny))
	c.z.ClosePath()
}

func (c *Canvas) addCircle(center pose.Point, r float64, reverse bool) {
	if r <= 0 {
		return
	}
	steps := int(math.Min(64, math.Max(12, r*2)))
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps) * 2 * math.Pi
		if !reverse {
			t = 2*math.Pi - t
		}
		x := float32(center.X + r*math.Cos(t))
		y := float32(center.Y + r*math.Sin(t))
		if i == 0 {
			c.z.MoveTo(x, y)
		} else {
			c.z.LineTo(x, y)
		}
	}
	c.z.ClosePath()
}
