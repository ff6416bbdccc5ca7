package pose

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/spineguard/internal/logger"
)

var ingestLog = logger.Module("Ingest")

// IngestSource accepts frames pushed from outside the process, typically a
// browser running the pose model and posting landmarks to the web monitor.
type IngestSource struct {
	mu      sync.Mutex
	mailbox *Mailbox
	seq     atomic.Uint64
}

// NewIngestSource returns a closed source; Publish fails until Open.
func NewIngestSource() *IngestSource {
	return &IngestSource{}
}

// Open starts the delivery goroutine. Only one subscription is active at a
// time; opening again replaces the previous mailbox.
func (s *IngestSource) Open(ctx context.Context, h Handler) (Subscription, error) {
	mb := NewMailbox()

	s.mu.Lock()
	if s.mailbox != nil {
		s.mailbox.Close()
	}
	s.mailbox = mb
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		mb.Close()
		s.mu.Lock()
		if s.mailbox == mb {
			s.mailbox = nil
		}
		s.mu.Unlock()
	}()

	go func() {
		defer close(done)
		for {
			f, ok := mb.Take()
			if !ok {
				ingestLog.Debug("delivery stopped (dropped %d frames)", mb.Drops())
				return
			}
			h(f)
		}
	}()

	return &cancelSubscription{cancel: cancel, done: done}, nil
}

// Publish hands a frame to the open subscription. A zero Seq is replaced by
// the next local sequence number.
func (s *IngestSource) Publish(f Frame) error {
	s.mu.Lock()
	mb := s.mailbox
	s.mu.Unlock()

	if mb == nil {
		return ErrNotRunning
	}
	if f.Seq == 0 {
		f.Seq = s.seq.Add(1)
	}
	if !mb.Publish(f) {
		return ErrNotRunning
	}
	return nil
}

// Drops reports frames overwritten in the current mailbox.
func (s *IngestSource) Drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mailbox == nil {
		return 0
	}
	return s.mailbox.Drops()
}
