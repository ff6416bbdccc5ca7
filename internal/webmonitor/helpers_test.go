package webmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/spineguard/internal/metrics"
	"github.com/dj-oyu/spineguard/internal/pose"
	"github.com/dj-oyu/spineguard/internal/session"
	"github.com/dj-oyu/spineguard/internal/webrtc"
)

const defaultRequestTimeout = 5 * time.Second

type testHarness struct {
	baseURL string
	client  *http.Client
	server  *Server
	ctrl    *session.Controller
	ingest  *pose.IngestSource
	metrics *metrics.Metrics
	handled chan uint64
}

// seqSink reports handled frames. It is registered after the server's own
// sinks, so by the time it sees a frame they all have.
type seqSink chan uint64

func (s seqSink) OnUpdate(u session.Update) {
	select {
	case s <- u.Seq:
	default:
	}
}
func (seqSink) OnAlert(session.Alert)       {}
func (seqSink) OnReminder(session.Reminder) {}
func (seqSink) OnState(session.State)       {}

type harnessOption func(*Options, *Config)

func withWebRTC(o *Options, _ *Config) {
	o.WebRTC = webrtc.NewServer(nil, 2, o.Metrics)
}

func withSource(src pose.Source) harnessOption {
	return func(o *Options, _ *Config) {
		ctrl, err := session.New(session.Options{Source: src, Metrics: o.Metrics})
		if err != nil {
			panic(err)
		}
		o.Controller = ctrl
		o.Ingest = nil
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *testHarness {
	t.Helper()

	m := metrics.New()
	ingest := pose.NewIngestSource()
	ctrl, err := session.New(session.Options{Source: ingest, Metrics: m})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}

	o := Options{Controller: ctrl, Ingest: ingest, Metrics: m}
	cfg := DefaultConfig()
	cfg.StatusInterval = 50 * time.Millisecond
	cfg.MJPEGInterval = 0
	cfg.RecordingDir = t.TempDir()
	for _, fn := range opts {
		fn(&o, &cfg)
	}

	srv, err := NewServer(cfg, o)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	handled := make(chan uint64, 64)
	o.Controller.AddSink(seqSink(handled))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		o.Controller.Stop()
		srv.Close()
		ts.Close()
		if o.WebRTC != nil {
			o.WebRTC.Close()
		}
	})

	return &testHarness{
		baseURL: ts.URL,
		client:  &http.Client{Timeout: defaultRequestTimeout},
		server:  srv,
		ctrl:    o.Controller,
		ingest:  o.Ingest,
		metrics: m,
		handled: handled,
	}
}

func (h *testHarness) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := h.client.Get(h.baseURL + path)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (h *testHarness) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var data []byte
	if payload != nil {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}
	return h.do(t, http.MethodPost, path, data)
}

func (h *testHarness) do(t *testing.T, method, path string, data []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, h.baseURL+path, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (h *testHarness) start(t *testing.T) {
	t.Helper()
	resp, body := h.postJSON(t, "/api/session/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/session/start status = %d body=%s", resp.StatusCode, body)
	}
}

// sendFrame posts a frame and waits until every sink has seen it.
func (h *testHarness) sendFrame(t *testing.T, rec pose.FrameRecord) {
	t.Helper()
	resp, body := h.postJSON(t, "/api/landmarks", rec)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /api/landmarks status = %d body=%s", resp.StatusCode, body)
	}
	timeout := time.After(3 * time.Second)
	for {
		select {
		case seq := <-h.handled:
			if seq == rec.Seq {
				return
			}
		case <-timeout:
			t.Fatalf("timeout waiting for frame %d", rec.Seq)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// leaningRecord returns a frame whose shoulders sit dx to the right of the
// hips. dx=0 is upright.
func leaningRecord(seq uint64, dx float64) pose.FrameRecord {
	lms := make([]pose.Landmark, pose.NumLandmarks)
	for i := range lms {
		lms[i] = pose.Landmark{X: 0.5, Y: 0.5, Score: 1}
	}
	lms[pose.LeftShoulder] = pose.Landmark{X: 0.45 + dx, Y: 0.3, Score: 1}
	lms[pose.RightShoulder] = pose.Landmark{X: 0.55 + dx, Y: 0.3, Score: 1}
	lms[pose.LeftHip] = pose.Landmark{X: 0.46, Y: 0.7, Score: 1}
	lms[pose.RightHip] = pose.Landmark{X: 0.54, Y: 0.7, Score: 1}
	return pose.FrameRecord{Seq: seq, Width: 320, Height: 240, Landmarks: lms}
}

// openStream starts a GET and returns once the response headers arrived.
func openStream(t *testing.T, url string, header http.Header) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		t.Fatalf("build request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	return resp, cancel
}

// nextSSEData reads events until one carries a data line and returns it.
func nextSSEData(t *testing.T, r io.Reader, timeout time.Duration) string {
	t.Helper()
	type result struct {
		data string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 512)
		for {
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				event := string(buf[:idx])
				buf = buf[idx+2:]
				for _, line := range strings.Split(event, "\n") {
					if strings.HasPrefix(line, "data:") {
						ch <- result{data: strings.TrimSpace(strings.TrimPrefix(line, "data:"))}
						return
					}
				}
				continue
			}
			n, err := r.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = fmt.Errorf("sse stream closed before event")
				}
				ch <- result{err: err}
				return
			}
		}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("read sse: %v", res.err)
		}
		return res.data
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for sse event")
		return ""
	}
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireBool(t *testing.T, value any, field string) bool {
	t.Helper()
	b, ok := value.(bool)
	if !ok {
		t.Fatalf("expected %s to be bool, got %T", field, value)
	}
	return b
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	sess := requireMap(t, payload["session"], "session")
	state := requireMap(t, sess["state"], "session.state")
	requireBool(t, state["running"], "session.state.running")
	display := requireMap(t, sess["display"], "session.display")
	for _, f := range []string{"status", "angle", "fps", "advice", "timer"} {
		requireString(t, display[f], "session.display."+f)
	}

	monitor := requireMap(t, payload["monitor"], "monitor")
	requireNumber(t, monitor["frames_processed"], "monitor.frames_processed")
	requireNumber(t, monitor["frames_no_person"], "monitor.frames_no_person")
	requireNumber(t, monitor["current_fps"], "monitor.current_fps")

	recording := requireMap(t, payload["recording"], "recording")
	requireBool(t, recording["recording"], "recording.recording")

	requireNumber(t, payload["timestamp"], "timestamp")
	requireSlice(t, payload["reading_history"], "reading_history")
}
