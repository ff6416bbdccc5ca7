package pose

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot hand-off between a producer that may outpace the
// consumer and a consumer that processes one frame at a time. Publishing
// overwrites an unconsumed frame, so the consumer always sees the newest
// frame and never a backlog.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	closed bool

	drops atomic.Uint64
}

// NewMailbox returns an empty, open mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores f, replacing any frame not yet taken. It never blocks.
// It returns false once the mailbox is closed.
func (m *Mailbox) Publish(f Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	if m.frame != nil {
		m.drops.Add(1)
	}
	m.frame = &f
	m.cond.Signal()
	return true
}

// Take blocks until a frame is available or the mailbox is closed.
func (m *Mailbox) Take() (Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.frame == nil && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return Frame{}, false
	}
	f := *m.frame
	m.frame = nil
	return f, true
}

// Close wakes a blocked Take. Pending frames are discarded.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.frame = nil
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Drops counts frames overwritten before they were taken.
func (m *Mailbox) Drops() uint64 {
	return m.drops.Load()
}
