package metrics

import (
	"math"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesProcessed atomic.Uint64
	FramesNoPerson  atomic.Uint64
	FramesDropped   atomic.Uint64
	FramesRendered  atomic.Uint64

	// Session events
	SessionsStarted atomic.Uint64
	SessionActive   atomic.Uint64 // 0 = stopped, 1 = running
	Alerts          atomic.Uint64
	Reminders       atomic.Uint64
	StartErrors     atomic.Uint64

	// Latest per-frame values
	CurrentFPS  atomic.Uint64
	angleBits   atomic.Uint64 // float64 bits of the last angle
	RenderMicro atomic.Uint64 // Last overlay render time in microseconds

	// Outbound fan-out
	StreamClients  atomic.Int64
	WebRTCPeers    atomic.Int64
	MQTTPublished  atomic.Uint64
	MQTTErrors     atomic.Uint64
	WebRTCMessages atomic.Uint64

	readings *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spineguard_readings_total",
				Help: "Posture readings by class",
			},
			[]string{"class"},
		),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.readings)

	// Frame processing metrics
	m.gauge("spineguard_frames_processed_total", "Total landmark frames handled by the session",
		func() float64 { return float64(m.FramesProcessed.Load()) })
	m.gauge("spineguard_frames_no_person_total", "Frames with no usable posture data",
		func() float64 { return float64(m.FramesNoPerson.Load()) })
	m.gauge("spineguard_frames_dropped_total", "Frames overwritten before the session could handle them",
		func() float64 { return float64(m.FramesDropped.Load()) })
	m.gauge("spineguard_frames_rendered_total", "Overlay images rendered",
		func() float64 { return float64(m.FramesRendered.Load()) })

	// Session metrics
	m.gauge("spineguard_sessions_started_total", "Tracking sessions started",
		func() float64 { return float64(m.SessionsStarted.Load()) })
	m.gauge("spineguard_session_active", "Tracking active (0=stopped, 1=running)",
		func() float64 { return float64(m.SessionActive.Load()) })
	m.gauge("spineguard_alerts_total", "Risky posture alerts emitted",
		func() float64 { return float64(m.Alerts.Load()) })
	m.gauge("spineguard_stretch_reminders_total", "Stretch reminders emitted",
		func() float64 { return float64(m.Reminders.Load()) })
	m.gauge("spineguard_start_errors_total", "Failed session starts",
		func() float64 { return float64(m.StartErrors.Load()) })

	// Current values
	m.gauge("spineguard_fps", "Frames per second derived from inter-frame timing",
		func() float64 { return float64(m.CurrentFPS.Load()) })
	m.gauge("spineguard_angle_degrees", "Last measured shoulder-hip tilt angle",
		func() float64 { return m.Angle() })
	m.gauge("spineguard_render_micros", "Last overlay render duration in microseconds",
		func() float64 { return float64(m.RenderMicro.Load()) })

	// Client metrics
	m.gauge("spineguard_stream_clients", "Connected SSE and MJPEG clients",
		func() float64 { return float64(m.StreamClients.Load()) })
	m.gauge("spineguard_webrtc_peers", "Connected WebRTC data-channel peers",
		func() float64 { return float64(m.WebRTCPeers.Load()) })
	m.gauge("spineguard_webrtc_messages_total", "Readings sent over WebRTC data channels",
		func() float64 { return float64(m.WebRTCMessages.Load()) })
	m.gauge("spineguard_mqtt_published_total", "MQTT messages published",
		func() float64 { return float64(m.MQTTPublished.Load()) })
	m.gauge("spineguard_mqtt_errors_total", "MQTT publish failures",
		func() float64 { return float64(m.MQTTErrors.Load()) })
}

// ObserveReading counts a classified frame and stores its angle.
func (m *Metrics) ObserveReading(class string, angle float64) {
	m.readings.WithLabelValues(class).Inc()
	m.angleBits.Store(math.Float64bits(angle))
}

// Angle returns the last observed angle.
func (m *Metrics) Angle() float64 {
	return math.Float64frombits(m.angleBits.Load())
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
