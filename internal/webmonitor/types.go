package webmonitor

import (
	"github.com/dj-oyu/spineguard/internal/posture"
	"github.com/dj-oyu/spineguard/internal/render"
	"github.com/dj-oyu/spineguard/internal/session"
	"github.com/dj-oyu/spineguard/internal/webrtc"
)

// MonitorStats is the counter block of /api/status.
type MonitorStats struct {
	FramesProcessed uint64 `json:"frames_processed"`
	FramesNoPerson  uint64 `json:"frames_no_person"`
	FramesDropped   uint64 `json:"frames_dropped"`
	Alerts          uint64 `json:"alerts"`
	Reminders       uint64 `json:"reminders"`
	CurrentFPS      int    `json:"current_fps"`
	StreamClients   int    `json:"stream_clients"`
	WebRTCPeers     int    `json:"webrtc_peers"`
}

// AlertInfo is the last risky-posture alert.
type AlertInfo struct {
	TimestampMS  int64   `json:"timestamp_ms"`
	AngleDegrees float64 `json:"angle_degrees"`
	Label        string  `json:"label"`
	Advice       string  `json:"advice"`
}

// StatusPayload is served by /api/status and pushed on /api/status/stream.
type StatusPayload struct {
	Session   session.Snapshot  `json:"session"`
	Monitor   MonitorStats      `json:"monitor"`
	Latest    *session.Readout  `json:"latest_reading"`
	History   []session.Readout `json:"reading_history"`
	LastAlert *AlertInfo        `json:"last_alert"`
	Recording RecordingStatus   `json:"recording"`
	Peers     []webrtc.PeerStat `json:"peers,omitempty"`
	Timestamp float64           `json:"timestamp"`
}

// Event is one message on /api/posture/stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ConfigPayload is the body of GET /api/config.
type ConfigPayload struct {
	Preset     string             `json:"preset"`
	Bands      int                `json:"bands"`
	Thresholds posture.Thresholds `json:"thresholds"`
	Render     render.Config      `json:"render"`
	IdealAngle *float64           `json:"ideal_angle,omitempty"`
	Presets    []string           `json:"presets"`

	// BrowserPose tells the page to run the pose model on the local webcam
	// and post landmarks to /api/landmarks.
	BrowserPose bool `json:"browser_pose"`
}

// ConfigUpdate is the body of POST /api/config. Absent fields keep their
// current value.
type ConfigUpdate struct {
	Preset      *string             `json:"preset,omitempty"`
	Thresholds  *posture.Thresholds `json:"thresholds,omitempty"`
	LineWidth   *int                `json:"line_width,omitempty"`
	Glow        *int                `json:"glow,omitempty"`
	TrailLength *int                `json:"trail_length,omitempty"`
}
