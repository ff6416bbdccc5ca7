package session

import (
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/spineguard/internal/pose"
	"github.com/dj-oyu/spineguard/internal/posture"
)

// Placeholder is shown in display fields while idle or without a person.
const Placeholder = "—"

// NoPersonAdvice replaces the advice text when nobody is tracked.
const NoPersonAdvice = "No person detected"

// State is the lifecycle of one tracking session.
type State struct {
	ID        uuid.UUID `json:"id"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
}

// Display is the set of text fields a UI shows.
type Display struct {
	Status  string `json:"status"`
	Angle   string `json:"angle"`
	FPS     string `json:"fps"`
	Advice  string `json:"advice"`
	Timer   string `json:"timer"`
	Running bool   `json:"running"`
}

// IdleDisplay is the display after Stop or before the first Start.
func IdleDisplay() Display {
	return Display{
		Status: Placeholder,
		Angle:  Placeholder,
		FPS:    Placeholder,
		Advice: Placeholder,
		Timer:  Placeholder,
	}
}

// Update is produced for every handled frame.
type Update struct {
	SessionID uuid.UUID
	Seq       uint64
	Timestamp time.Time
	FPS       int
	// Reading is nil when there is no usable posture data.
	Reading *posture.Reading
	Display Display
	Overlay *image.RGBA
	// Frame is the handled frame. Its Landmarks are nil when the reading was
	// unusable.
	Frame pose.Frame
}

// Alert fires when posture reaches the worst class, at most once per
// throttle window.
type Alert struct {
	SessionID uuid.UUID
	At        time.Time
	Reading   posture.Reading
}

// Reminder fires each time the session passes a stretch interval.
type Reminder struct {
	SessionID uuid.UUID
	At        time.Time
	Elapsed   time.Duration
}

// Sink observes a controller. Calls are made outside the controller's lock
// but may come from the frame goroutine, the timer goroutine or an API
// caller, so implementations must be safe for concurrent use and return
// quickly.
type Sink interface {
	OnState(State)
	OnUpdate(Update)
	OnAlert(Alert)
	OnReminder(Reminder)
}

// Readout is the flat JSON view of an Update shared by every outbound
// channel.
type Readout struct {
	SessionID    string  `json:"session_id"`
	Seq          uint64  `json:"seq"`
	TimestampMS  int64   `json:"timestamp_ms"`
	FPS          int     `json:"fps"`
	Person       bool    `json:"person"`
	AngleDegrees float64 `json:"angle_degrees"`
	Deviation    float64 `json:"deviation"`
	Class        string  `json:"class,omitempty"`
	Label        string  `json:"label,omitempty"`
	Advice       string  `json:"advice"`
	Timer        string  `json:"timer"`
}

// Readout flattens the update.
func (u Update) Readout() Readout {
	r := Readout{
		SessionID:   u.SessionID.String(),
		Seq:         u.Seq,
		TimestampMS: u.Timestamp.UnixMilli(),
		FPS:         u.FPS,
		Person:      u.Reading != nil,
		Advice:      u.Display.Advice,
		Timer:       u.Display.Timer,
	}
	if p := u.Reading; p != nil {
		r.AngleDegrees = p.AngleDegrees
		r.Deviation = p.Deviation
		r.Class = p.Class.String()
		r.Label = p.Label
		r.Advice = p.Advice
	}
	return r
}
