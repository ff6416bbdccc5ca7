package pose

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dj-oyu/spineguard/internal/logger"
)

var replayLog = logger.Module("Replay")

// ReplaySource plays back a JSON-lines recording of landmark frames.
type ReplaySource struct {
	Path string
	// FPS paces delivery. Zero delivers as fast as the handler returns.
	FPS  float64
	Loop bool
}

// Open opens the recording; an unreadable file fails here, before any frame
// is delivered.
func (s *ReplaySource) Open(ctx context.Context, h Handler) (Subscription, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open replay %s: %w", s.Path, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer f.Close()
		s.run(ctx, f, h)
	}()

	return &cancelSubscription{cancel: cancel, done: done}, nil
}

func (s *ReplaySource) run(ctx context.Context, f *os.File, h Handler) {
	var tick <-chan time.Time
	if interval := s.interval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for pass := 1; ; pass++ {
		delivered, err := s.playOnce(ctx, f, tick, h)
		if err != nil {
			replayLog.Error("%s: %v", s.Path, err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		replayLog.Info("%s: pass %d finished (%d frames)", s.Path, pass, delivered)
		if !s.Loop || delivered == 0 {
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			replayLog.Error("rewind %s: %v", s.Path, err)
			return
		}
	}
}

// interval is the pacing period, or zero for unpaced delivery. Rates too
// high to express as a Duration are unpaced.
func (s *ReplaySource) interval() time.Duration {
	if !(s.FPS > 0) {
		return 0
	}
	return time.Duration(float64(time.Second) / s.FPS)
}

func (s *ReplaySource) playOnce(ctx context.Context, r io.Reader, tick <-chan time.Time, h Handler) (int, error) {
	sc := NewRecordScanner(r)
	delivered := 0
	for sc.Scan() {
		if tick != nil {
			select {
			case <-ctx.Done():
				return delivered, nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return delivered, nil
		}

		frame, err := sc.Record().Frame()
		if err != nil {
			replayLog.Warn("line %d: %v, treating as no person", sc.Line(), err)
		}
		h(frame)
		delivered++
	}
	return delivered, sc.Err()
}

// ReadRecording loads a whole recording into memory, for offline evaluation.
// Malformed landmark lists become absent-person frames.
func ReadRecording(r io.Reader) ([]Frame, error) {
	sc := NewRecordScanner(r)
	var frames []Frame
	for sc.Scan() {
		frame, err := sc.Record().Frame()
		if err != nil {
			replayLog.Warn("line %d: %v, treating as no person", sc.Line(), err)
		}
		frames = append(frames, frame)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// SliceSource delivers preloaded frames once, in order, as fast as the
// handler returns.
type SliceSource struct {
	Frames []Frame
}

func (s *SliceSource) Open(ctx context.Context, h Handler) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, f := range s.Frames {
			if ctx.Err() != nil {
				return
			}
			h(f)
		}
	}()
	return &cancelSubscription{cancel: cancel, done: done}, nil
}
