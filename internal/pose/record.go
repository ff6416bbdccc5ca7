package pose

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Frame dimensions assumed when a record does not carry them.
const (
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480
)

// FrameRecord is the JSON shape of one frame, used by replay files and the
// HTTP ingest endpoint. Landmarks is null when no person was detected.
type FrameRecord struct {
	Seq         uint64     `json:"seq,omitempty"`
	TimestampMS int64      `json:"timestamp_ms,omitempty"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	Landmarks   []Landmark `json:"landmarks"`
}

// Frame converts the record. A landmark list of the wrong length is treated
// like an absent person; the returned error says why.
func (r FrameRecord) Frame() (Frame, error) {
	f := Frame{
		Seq:    r.Seq,
		Width:  r.Width,
		Height: r.Height,
	}
	if r.TimestampMS > 0 {
		f.Timestamp = time.UnixMilli(r.TimestampMS)
	} else {
		f.Timestamp = time.Now()
	}
	if f.Width <= 0 {
		f.Width = DefaultFrameWidth
	}
	if f.Height <= 0 {
		f.Height = DefaultFrameHeight
	}
	if r.Landmarks == nil {
		return f, nil
	}
	set, err := NewLandmarkSet(r.Landmarks)
	if err != nil {
		return f, err
	}
	f.Landmarks = set
	return f, nil
}

// RecordOf builds the JSON record for a frame.
func RecordOf(f Frame) FrameRecord {
	rec := FrameRecord{
		Seq:    f.Seq,
		Width:  f.Width,
		Height: f.Height,
	}
	if !f.Timestamp.IsZero() {
		rec.TimestampMS = f.Timestamp.UnixMilli()
	}
	if f.Landmarks != nil {
		rec.Landmarks = f.Landmarks.Slice()
	}
	return rec
}

// RecordScanner reads JSON-lines frame records. Blank lines are skipped.
type RecordScanner struct {
	sc   *bufio.Scanner
	line int
	rec  FrameRecord
	err  error
}

// NewRecordScanner wraps r.
func NewRecordScanner(r io.Reader) *RecordScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &RecordScanner{sc: sc}
}

// Scan advances to the next record.
func (s *RecordScanner) Scan() bool {
	for s.sc.Scan() {
		s.line++
		data := s.sc.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		var rec FrameRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.err = fmt.Errorf("line %d: %w", s.line, err)
			return false
		}
		if rec.Seq == 0 {
			rec.Seq = uint64(s.line)
		}
		s.rec = rec
		return true
	}
	s.err = s.sc.Err()
	return false
}

// Record returns the record read by the last Scan.
func (s *RecordScanner) Record() FrameRecord { return s.rec }

// Line is the 1-based line number of the current record.
func (s *RecordScanner) Line() int { return s.line }

// Err returns the first decoding or read error.
func (s *RecordScanner) Err() error { return s.err }
