package webmonitor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dj-oyu/spineguard/internal/pose"
	"github.com/dj-oyu/spineguard/internal/session"
)

// Recorder errors.
var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// RecordingStatus is the recorder status payload.
type RecordingStatus struct {
	Recording    bool   `json:"recording"`
	FrameCount   int    `json:"frame_count"`
	BytesWritten int64  `json:"bytes_written"`
	Filename     string `json:"filename,omitempty"`
}

// Recorder writes every handled frame as a JSON-lines record that the
// replay source can play back. It is registered as a session sink.
type Recorder struct {
	dir string

	mu           sync.Mutex
	file         *os.File
	w            *bufio.Writer
	filename     string
	frameCount   int
	bytesWritten int64
}

// NewRecorder creates a recorder that writes into dir.
func NewRecorder(dir string) *Recorder {
	return &Recorder{dir: dir}
}

// Start opens a new recording and returns its path. An empty filename gets
// a timestamped name.
func (r *Recorder) Start(filename string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return "", ErrAlreadyRecording
	}
	if filename == "" {
		filename = fmt.Sprintf("recording_%s.jsonl", time.Now().Format("20060102_150405"))
	}
	if filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid recording name %q", filename)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create recording dir: %w", err)
	}

	path := filepath.Join(r.dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create recording: %w", err)
	}

	r.file = f
	r.w = bufio.NewWriter(f)
	r.filename = path
	r.frameCount = 0
	r.bytesWritten = 0
	return path, nil
}

// Stop flushes and closes the recording and returns its path.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return "", ErrNotRecording
	}
	flushErr := r.w.Flush()
	closeErr := r.file.Close()
	r.file, r.w = nil, nil
	if err := errors.Join(flushErr, closeErr); err != nil {
		return r.filename, fmt.Errorf("close recording: %w", err)
	}
	return r.filename, nil
}

// Status returns the recorder status payload.
func (r *Recorder) Status() RecordingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	return RecordingStatus{
		Recording:    r.file != nil,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Filename:     r.filename,
	}
}

func (r *Recorder) OnUpdate(u session.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}

	line, err := json.Marshal(pose.RecordOf(u.Frame))
	if err != nil {
		monitorLog.Warn("recording frame %d: %v", u.Seq, err)
		return
	}
	line = append(line, '\n')
	n, err := r.w.Write(line)
	r.bytesWritten += int64(n)
	if err != nil {
		monitorLog.Warn("recording frame %d: %v", u.Seq, err)
		return
	}
	r.frameCount++
}

func (r *Recorder) OnAlert(session.Alert)       {}
func (r *Recorder) OnReminder(session.Reminder) {}
func (r *Recorder) OnState(session.State)       {}
