package render

import (
	"github.com/dj-oyu/spineguard/internal/pose"
)

// TrailBuffer is a bounded FIFO of recent pixel positions for one landmark.
type TrailBuffer struct {
	buf   []pose.Point
	start int
	n     int
}

// NewTrailBuffer returns an empty buffer. Capacity is at least 1.
func NewTrailBuffer(capacity int) *TrailBuffer {
	return &TrailBuffer{buf: make([]pose.Point, max(capacity, 1))}
}

// Push appends p, evicting the oldest point when full.
func (b *TrailBuffer) Push(p pose.Point) {
	if b.n < len(b.buf) {
		b.buf[(b.start+b.n)%len(b.buf)] = p
		b.n++
		return
	}
	b.buf[b.start] = p
	b.start = (b.start + 1) % len(b.buf)
}

// Len is the number of stored points.
func (b *TrailBuffer) Len() int { return b.n }

// Cap is the configured capacity.
func (b *TrailBuffer) Cap() int { return len(b.buf) }

// Points returns the stored points, oldest first.
func (b *TrailBuffer) Points() []pose.Point {
	out := make([]pose.Point, b.n)
	for i := range out {
		out[i] = b.buf[(b.start+i)%len(b.buf)]
	}
	return out
}

// Resize changes the capacity, keeping the most recent points.
func (b *TrailBuffer) Resize(capacity int) {
	capacity = max(capacity, 1)
	if capacity == len(b.buf) {
		return
	}
	pts := b.Points()
	if len(pts) > capacity {
		pts = pts[len(pts)-capacity:]
	}
	b.buf = make([]pose.Point, capacity)
	copy(b.buf, pts)
	b.start = 0
	b.n = len(pts)
}

// Clear drops all points.
func (b *TrailBuffer) Clear() {
	b.start, b.n = 0, 0
}

// TrailSet keeps one TrailBuffer per tracked body part.
type TrailSet struct {
	capacity int
	trails   map[pose.BodyPart]*TrailBuffer
}

// NewTrailSet returns an empty set whose buffers hold capacity points.
func NewTrailSet(capacity int) *TrailSet {
	return &TrailSet{capacity: max(capacity, 1), trails: make(map[pose.BodyPart]*TrailBuffer)}
}

func (s *TrailSet) Push(part pose.BodyPart, p pose.Point) {
	b, ok := s.trails[part]
	if !ok {
		b = NewTrailBuffer(s.capacity)
		s.trails[part] = b
	}
	b.Push(p)
}

// Points returns the trail for part, oldest first.
func (s *TrailSet) Points(part pose.BodyPart) []pose.Point {
	if b, ok := s.trails[part]; ok {
		return b.Points()
	}
	return nil
}

// Capacity is the per-part limit.
func (s *TrailSet) Capacity() int { return s.capacity }

func (s *TrailSet) Resize(capacity int) {
	s.capacity = max(capacity, 1)
	for _, b := range s.trails {
		b.Resize(s.capacity)
	}
}

// Clear empties every trail.
func (s *TrailSet) Clear() {
	for _, b := range s.trails {
		b.Clear()
	}
}

// Total is the number of points across all trails.
func (s *TrailSet) Total() int {
	n := 0
	for _, b := range s.trails {
		n += b.Len()
	}
	return n
}
