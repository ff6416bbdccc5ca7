//go:build !gocv

package pose

// NewCamera returns a test pattern; build with -tags gocv for a real webcam.
// The device index is ignored.
func NewCamera(device, width, height int) Camera {
	return TestPatternCamera{Width: width, Height: height}
}
