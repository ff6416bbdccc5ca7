//go:build gocv

package pose

import (
	"context"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// GoCVCamera captures from a local webcam through OpenCV.
type GoCVCamera struct {
	Device int
	Width  int
	Height int
}

// NewCamera returns the webcam at the given device index.
func NewCamera(device, width, height int) Camera {
	return GoCVCamera{Device: device, Width: width, Height: height}
}

func (c GoCVCamera) Open(ctx context.Context) (FrameReader, error) {
	vc, err := gocv.OpenVideoCapture(c.Device)
	if err != nil {
		return nil, fmt.Errorf("open video device %d: %w", c.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video device %d not available", c.Device)
	}
	if c.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	}
	if c.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	return &gocvReader{ctx: ctx, vc: vc, mat: gocv.NewMat()}, nil
}

type gocvReader struct {
	ctx context.Context
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

func (r *gocvReader) Read() (image.Image, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	if ok := r.vc.Read(&r.mat); !ok || r.mat.Empty() {
		return nil, fmt.Errorf("video device returned no frame")
	}
	return r.mat.ToImage()
}

func (r *gocvReader) Close() error {
	r.mat.Close()
	return r.vc.Close()
}
