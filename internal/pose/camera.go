package pose

import (
	"context"
	"image"
	"image/color"
	"time"
)

// Camera opens a video stream. Open failing is the "camera unavailable or
// permission denied" case and is reported once to whoever started tracking.
type Camera interface {
	Open(ctx context.Context) (FrameReader, error)
}

// FrameReader yields successive video frames.
type FrameReader interface {
	Read() (image.Image, error)
	Close() error
}

// TestPatternCamera produces SMPTE-style color bars at a fixed rate. It
// stands in for a webcam when the binary is built without OpenCV.
type TestPatternCamera struct {
	Width  int
	Height int
	FPS    float64
}

func (c TestPatternCamera) Open(ctx context.Context) (FrameReader, error) {
	w, h := c.Width, c.Height
	if w <= 0 {
		w = DefaultFrameWidth
	}
	if h <= 0 {
		h = DefaultFrameHeight
	}
	interval := time.Second / 30
	if c.FPS > 0 {
		interval = time.Duration(float64(time.Second) / c.FPS)
	}
	return &patternReader{ctx: ctx, img: colorBars(w, h), interval: interval}, nil
}

type patternReader struct {
	ctx      context.Context
	img      *image.RGBA
	interval time.Duration
	last     time.Time
}

func (r *patternReader) Read() (image.Image, error) {
	if wait := r.interval - time.Since(r.last); wait > 0 {
		select {
		case <-r.ctx.Done():
			return nil, r.ctx.Err()
		case <-time.After(wait):
		}
	}
	r.last = time.Now()
	return r.img, nil
}

func (r *patternReader) Close() error { return nil }

func colorBars(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	// White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	bars := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	barWidth := max(w/len(bars), 1)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := min(x/barWidth, len(bars)-1)
			img.SetRGBA(x, y, bars[i])
		}
	}
	return img
}
