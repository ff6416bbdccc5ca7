package webmonitor

import (
	"sync"

	"github.com/dj-oyu/spineguard/internal/metrics"
	"github.com/dj-oyu/spineguard/internal/session"
)

// Monitor keeps the latest readings for the status API. It is registered as
// a session sink.
type Monitor struct {
	metrics     *metrics.Metrics
	historySize int

	mu        sync.Mutex
	latest    *session.Readout
	history   []session.Readout
	lastAlert *AlertInfo
	fps       int
}

// NewMonitor creates a Monitor that keeps up to historySize readings with a
// person in them.
func NewMonitor(m *metrics.Metrics, historySize int) *Monitor {
	if historySize <= 0 {
		historySize = DefaultConfig().HistorySize
	}
	return &Monitor{metrics: m, historySize: historySize}
}

// OnUpdate stores the readout and, when a person was seen, prepends it to
// the history.
func (m *Monitor) OnUpdate(u session.Update) {
	r := u.Readout()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.latest = &r
	m.fps = u.FPS
	if r.Person {
		m.history = append([]session.Readout{r}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
}

func (m *Monitor) OnAlert(a session.Alert) {
	m.mu.Lock()
	m.lastAlert = &AlertInfo{
		TimestampMS:  a.At.UnixMilli(),
		AngleDegrees: a.Reading.AngleDegrees,
		Label:        a.Reading.Label,
		Advice:       a.Reading.Advice,
	}
	m.mu.Unlock()
}

func (m *Monitor) OnReminder(session.Reminder) {}

// OnState clears per-session data when a new session starts.
func (m *Monitor) OnState(st session.State) {
	if !st.Running {
		return
	}
	m.mu.Lock()
	m.latest = nil
	m.history = nil
	m.lastAlert = nil
	m.fps = 0
	m.mu.Unlock()
}

// Snapshot returns the monitor counters, the latest readout and a copy of
// the history.
func (m *Monitor) Snapshot() (MonitorStats, *session.Readout, []session.Readout, *AlertInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{CurrentFPS: m.fps}
	if m.metrics != nil {
		stats.FramesProcessed = m.metrics.FramesProcessed.Load()
		stats.FramesNoPerson = m.metrics.FramesNoPerson.Load()
		stats.FramesDropped = m.metrics.FramesDropped.Load()
		stats.Alerts = m.metrics.Alerts.Load()
		stats.Reminders = m.metrics.Reminders.Load()
		stats.StreamClients = int(m.metrics.StreamClients.Load())
		stats.WebRTCPeers = int(m.metrics.WebRTCPeers.Load())
	}

	var latest *session.Readout
	if m.latest != nil {
		r := *m.latest
		latest = &r
	}
	var alert *AlertInfo
	if m.lastAlert != nil {
		a := *m.lastAlert
		alert = &a
	}
	history := make([]session.Readout, len(m.history))
	copy(history, m.history)

	return stats, latest, history, alert
}
