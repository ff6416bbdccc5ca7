package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/spineguard/internal/logger"
	"github.com/dj-oyu/spineguard/internal/metrics"
	"github.com/dj-oyu/spineguard/internal/pose"
	"github.com/dj-oyu/spineguard/internal/posture"
	"github.com/dj-oyu/spineguard/internal/session"
	"github.com/dj-oyu/spineguard/internal/webrtc"
)

var (
	monitorLog = logger.Module("Monitor")
	streamLog  = logger.Module("Stream")
)

// maxIngestBody bounds a single POST /api/landmarks body.
const maxIngestBody = 1 << 20

// Options wires the server to the rest of the process.
type Options struct {
	Controller *session.Controller
	// Ingest receives POST /api/landmarks. Nil disables the endpoint.
	Ingest *pose.IngestSource
	// WebRTC answers POST /api/webrtc/offer. Nil disables the endpoint.
	WebRTC  *webrtc.Server
	Metrics *metrics.Metrics
	// Context outlives requests; sessions started over HTTP run under it.
	Context context.Context
}

// Server serves the posture monitor endpoints.
type Server struct {
	cfg     Config
	ctx     context.Context
	ctrl    *session.Controller
	ingest  *pose.IngestSource
	rtc     *webrtc.Server
	metrics *metrics.Metrics

	monitor     *Monitor
	recorder    *Recorder
	broadcaster *FrameBroadcaster
	events      *EventBroadcaster
	blank       []byte
}

// NewServer returns a configured monitor server and registers its sinks
// with the controller.
func NewServer(cfg Config, opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, errors.New("webmonitor: controller is required")
	}
	cfg = cfg.withDefaults()
	if opts.Context == nil {
		opts.Context = context.Background()
	}

	blank, err := waitingJPEG(cfg.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("render placeholder frame: %w", err)
	}

	s := &Server{
		cfg:         cfg,
		ctx:         opts.Context,
		ctrl:        opts.Controller,
		ingest:      opts.Ingest,
		rtc:         opts.WebRTC,
		metrics:     opts.Metrics,
		monitor:     NewMonitor(opts.Metrics, cfg.HistorySize),
		recorder:    NewRecorder(cfg.RecordingDir),
		broadcaster: NewFrameBroadcaster(cfg.JPEGQuality, cfg.MJPEGInterval, opts.Metrics),
		events:      NewEventBroadcaster(opts.Metrics),
		blank:       blank,
	}
	s.broadcaster.Start()

	s.ctrl.AddSink(s.monitor)
	s.ctrl.AddSink(s.recorder)
	s.ctrl.AddSink(s.broadcaster)
	s.ctrl.AddSink(s.events)
	if s.rtc != nil {
		s.ctrl.AddSink(s.rtc)
	}
	return s, nil
}

// Close disconnects streaming clients and finishes any open recording.
func (s *Server) Close() {
	s.broadcaster.Stop()
	s.events.Close()
	if _, err := s.recorder.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
		monitorLog.Warn("%v", err)
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/posture/stream", s.handlePostureStream)
	mux.HandleFunc("/api/session/start", s.handleSessionStart)
	mux.HandleFunc("/api/session/stop", s.handleSessionStop)
	mux.HandleFunc("/api/session/calibrate", s.handleCalibrate)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/landmarks", s.handleLandmarks)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)

	blank := s.blank
	if u, ok := s.ctrl.LastUpdate(); ok {
		if data, err := encodeJPEG(u.Overlay, s.cfg.JPEGQuality); err == nil {
			blank = data
		}
	}
	streamMJPEGFromChannel(r.Context(), w, frameCh, blank)
}

func (s *Server) status() StatusPayload {
	stats, latest, history, alert := s.monitor.Snapshot()
	var peers []webrtc.PeerStat
	if s.rtc != nil {
		peers = s.rtc.PeerStats()
	}
	return StatusPayload{
		Session:   s.ctrl.Snapshot(),
		Monitor:   stats,
		Latest:    latest,
		History:   history,
		LastAlert: alert,
		Recording: s.recorder.Status(),
		Peers:     peers,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.status()); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handlePostureStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(r.Context(), w, eventCh, useProtobuf)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.ctrl.Start(s.ctx); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrCameraUnavailable) {
			status = http.StatusServiceUnavailable
		}
		monitorLog.Warn("session start failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}
	writeJSON(w, s.ctrl.Snapshot())
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.ctrl.Stop()
	writeJSON(w, s.ctrl.Snapshot())
}

func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		angle, err := s.ctrl.Calibrate()
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusConflict)
			return
		}
		writeJSON(w, map[string]any{"ideal_angle": angle})
	case http.MethodDelete:
		s.ctrl.ResetCalibration()
		writeJSON(w, map[string]any{"ideal_angle": nil})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) configPayload() ConfigPayload {
	p := s.ctrl.Profile()
	snap := s.ctrl.Snapshot()
	return ConfigPayload{
		Preset:     p.Name,
		Bands:      p.Bands,
		Thresholds: p.Thresholds,
		Render:     s.ctrl.RenderConfig(),
		IdealAngle: snap.IdealAngle,
		Presets:    posture.PresetNames(),

		BrowserPose: s.ingest != nil,
	}
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, s.configPayload())
	case http.MethodPost:
		var upd ConfigUpdate
		if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "invalid config: " + err.Error()}, http.StatusBadRequest)
			return
		}
		if err := s.applyConfig(upd); err != nil {
			writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
			return
		}
		writeJSON(w, s.configPayload())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// applyConfig validates the whole update before changing anything.
func (s *Server) applyConfig(upd ConfigUpdate) error {
	profile := s.ctrl.Profile()
	if upd.Preset != nil {
		p, err := posture.Preset(*upd.Preset)
		if err != nil {
			return err
		}
		profile = p
	}
	if upd.Thresholds != nil {
		profile.Thresholds = *upd.Thresholds
	}
	if err := profile.Validate(); err != nil {
		return err
	}

	rc := s.ctrl.RenderConfig()
	if upd.LineWidth != nil {
		rc.LineWidth = *upd.LineWidth
	}
	if upd.Glow != nil {
		rc.Glow = *upd.Glow
	}
	if upd.TrailLength != nil {
		rc.TrailLength = *upd.TrailLength
	}
	if err := rc.Validate(); err != nil {
		return err
	}

	if upd.Preset != nil {
		if err := s.ctrl.SetProfile(profile); err != nil {
			return err
		}
	} else if upd.Thresholds != nil {
		if err := s.ctrl.SetThresholds(profile.Thresholds); err != nil {
			return err
		}
	}
	if err := s.ctrl.SetRenderConfig(rc); err != nil {
		return err
	}
	monitorLog.Info("config updated: preset=%s thresholds=%.1f/%.1f render=%+v",
		profile.Name, profile.Thresholds.Low, profile.Thresholds.High, rc)
	return nil
}

func (s *Server) handleLandmarks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.ingest == nil {
		writeJSONWithStatus(w, map[string]any{"error": "landmark ingest is not enabled"}, http.StatusNotFound)
		return
	}

	var rec pose.FrameRecord
	if err := json.NewDecoder(io.LimitReader(r.Body, maxIngestBody)).Decode(&rec); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid frame: " + err.Error()}, http.StatusBadRequest)
		return
	}
	frame, err := rec.Frame()
	if err != nil {
		// Wrong landmark count is an absent person, not a client error
		monitorLog.Debug("ingest frame %d: %v", rec.Seq, err)
	}

	before := s.ingest.Drops()
	if err := s.ingest.Publish(frame); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusConflict)
		return
	}
	dropped := s.ingest.Drops()
	if s.metrics != nil && dropped > before {
		s.metrics.FramesDropped.Add(dropped - before)
	}
	writeJSONWithStatus(w, map[string]any{
		"accepted": true,
		"person":   frame.HasPerson(),
		"dropped":  dropped,
	}, http.StatusAccepted)
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename, err := s.recorder.Start(r.URL.Query().Get("name"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename, err := s.recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.recorder.Status(),
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recorder.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.rtc == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is disabled"}, http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}
	if payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.rtc.HandleOffer(body)
	if err != nil {
		monitorLog.Warn("WebRTC offer: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
