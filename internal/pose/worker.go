package pose

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/dj-oyu/spineguard/internal/logger"
)

var workerLog = logger.Module("Worker")

// maxWorkerMessage bounds a single reply from the worker process.
const maxWorkerMessage = 16 << 20

// WorkerSource runs an external pose-estimation process and feeds it camera
// frames over stdin/stdout. Each message is a 4-byte big-endian length
// followed by a msgpack document. The next frame is only grabbed after the
// handler has returned for the previous one.
type WorkerSource struct {
	Command     string
	Args        []string
	Camera      Camera
	JPEGQuality int
}

type workerRequest struct {
	Seq       uint64 `msgpack:"seq"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	FrameData []byte `msgpack:"frame_data"`
}

type workerReply struct {
	Seq       uint64      `msgpack:"seq"`
	Landmarks [][]float64 `msgpack:"landmarks"`
	Error     string      `msgpack:"error"`
}

// Open acquires the camera and starts the worker process. Camera failures are
// returned before the process is spawned.
func (s *WorkerSource) Open(ctx context.Context, h Handler) (Subscription, error) {
	if s.Command == "" {
		return nil, errors.New("worker command is not configured")
	}
	cam := s.Camera
	if cam == nil {
		cam = NewCamera(0, 0, 0)
	}

	ctx, cancel := context.WithCancel(ctx)
	reader, err := cam.Open(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open camera: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.Command, s.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		reader.Close()
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		reader.Close()
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		reader.Close()
		return nil, fmt.Errorf("worker stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		reader.Close()
		return nil, fmt.Errorf("start worker %s: %w", s.Command, err)
	}
	workerLog.Info("started %s (pid %d)", s.Command, cmd.Process.Pid)

	go forwardStderr(stderr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer reader.Close()
		defer func() {
			stdin.Close()
			if err := cmd.Wait(); err != nil && ctx.Err() == nil {
				workerLog.Warn("worker exited: %v", err)
			}
		}()
		s.loop(ctx, reader, stdin, bufio.NewReader(stdout), h)
	}()

	return &cancelSubscription{cancel: cancel, done: done}, nil
}

func (s *WorkerSource) loop(ctx context.Context, cam FrameReader, w io.Writer, r io.Reader, h Handler) {
	quality := s.JPEGQuality
	if quality <= 0 {
		quality = 80
	}

	var seq uint64
	for ctx.Err() == nil {
		img, err := cam.Read()
		if err != nil {
			if ctx.Err() == nil {
				workerLog.Error("camera read: %v", err)
			}
			return
		}
		seq++

		frame, err := s.exchange(w, r, img, seq, quality)
		if err != nil {
			if ctx.Err() == nil {
				workerLog.Error("frame %d: %v", seq, err)
			}
			return
		}
		h(frame)
	}
}

func (s *WorkerSource) exchange(w io.Writer, r io.Reader, img image.Image, seq uint64, quality int) (Frame, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	b := img.Bounds()
	req := workerRequest{Seq: seq, Width: b.Dx(), Height: b.Dy(), FrameData: buf.Bytes()}

	if err := writeMessage(w, req); err != nil {
		return Frame{}, err
	}
	var reply workerReply
	if err := readMessage(r, &reply); err != nil {
		return Frame{}, err
	}

	frame := Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Image:     img,
	}
	if reply.Error != "" {
		workerLog.Warn("frame %d: worker reported %q", seq, reply.Error)
		return frame, nil
	}
	set, err := landmarksFromRows(reply.Landmarks)
	if err != nil {
		workerLog.Warn("frame %d: %v, treating as no person", seq, err)
		return frame, nil
	}
	frame.Landmarks = set
	return frame, nil
}

// landmarksFromRows converts [x, y, z, score] rows. A nil list means no
// person was detected.
func landmarksFromRows(rows [][]float64) (*LandmarkSet, error) {
	if rows == nil {
		return nil, nil
	}
	lms := make([]Landmark, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("landmark %d has %d values", i, len(row))
		}
		lm := Landmark{X: row[0], Y: row[1]}
		if len(row) > 2 {
			lm.Z = row[2]
		}
		if len(row) > 3 {
			lm.Score = row[3]
		}
		lms[i] = lm
	}
	return NewLandmarkSet(lms)
}

func writeMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal msgpack request: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write msgpack data: %w", err)
	}
	return nil
}

func readMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxWorkerMessage {
		return fmt.Errorf("worker message of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read msgpack data: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshal msgpack reply: %w", err)
	}
	return nil
}

func forwardStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		workerLog.Debug("stderr: %s", sc.Text())
	}
}
