package pose

import (
	"context"
	"errors"
	"sync"
)

// Handler receives one frame at a time. A source never calls it
// concurrently with itself and waits for it to return before delivering the
// next frame.
type Handler func(Frame)

// Subscription is the handle returned when a source is opened. Stopping it
// cancels frame delivery; it does not wait for an in-flight handler call.
type Subscription interface {
	Stop()
	// Done is closed once delivery has ended, whether through Stop or
	// because the stream itself ended or failed.
	Done() <-chan struct{}
}

// Source is anything that produces landmark frames: a replayed recording, an
// external pose-estimation worker, or frames pushed in over HTTP.
type Source interface {
	// Open acquires the underlying stream and starts delivering frames to h.
	// A failure here means the stream could not be acquired at all.
	Open(ctx context.Context, h Handler) (Subscription, error)
}

// ErrNotRunning is returned when frames are pushed into a source that has no
// open subscription.
var ErrNotRunning = errors.New("landmark source is not running")

// cancelSubscription stops a delivery goroutine through its context.
type cancelSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
	done   <-chan struct{}
}

func (s *cancelSubscription) Stop() {
	s.once.Do(s.cancel)
}

func (s *cancelSubscription) Done() <-chan struct{} {
	return s.done
}
