package webmonitor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/spineguard/internal/logger"
	"github.com/dj-oyu/spineguard/internal/metrics"
	"github.com/dj-oyu/spineguard/internal/session"
)

var (
	frameLog = logger.Module("FrameBroadcaster")
	eventLog = logger.Module("EventBroadcaster")
)

// FrameBroadcaster encodes overlay images to JPEG and fans them out to MJPEG
// clients. Overlays arrive through OnUpdate; encoding happens on the
// broadcaster's own goroutine so the session is never held up.
type FrameBroadcaster struct {
	quality     int
	minInterval time.Duration
	metrics     *metrics.Metrics

	mu       sync.Mutex
	clients  map[int]chan []byte
	nextID   int
	pending  chan *image.RGBA
	stop     chan struct{}
	stopped  bool
	lastSent time.Time
}

// NewFrameBroadcaster creates a broadcaster. minInterval bounds the rate of
// encoded frames; zero encodes every overlay.
func NewFrameBroadcaster(quality int, minInterval time.Duration, m *metrics.Metrics) *FrameBroadcaster {
	return &FrameBroadcaster{
		quality:     quality,
		minInterval: minInterval,
		metrics:     m,
		clients:     make(map[int]chan []byte),
		pending:     make(chan *image.RGBA, 1),
		stop:        make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2)
	if fb.stopped {
		close(ch)
		return id, ch
	}
	fb.clients[id] = ch
	if fb.metrics != nil {
		fb.metrics.StreamClients.Add(1)
	}

	frameLog.Debug("Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.StreamClients.Add(-1)
		}
		frameLog.Debug("Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
		if len(fb.clients) == 0 {
			frameLog.Info("No clients remaining - frame encoding will be skipped")
		}
	}
}

// ClientCount returns the number of subscribed clients.
func (fb *FrameBroadcaster) ClientCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Start begins the encode and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster and disconnects every client.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.stopped {
		return
	}
	close(fb.stop)
	fb.stopped = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
		if fb.metrics != nil {
			fb.metrics.StreamClients.Add(-1)
		}
	}
}

// OnUpdate hands the overlay to the encoder, replacing one that has not been
// picked up yet.
func (fb *FrameBroadcaster) OnUpdate(u session.Update) {
	if u.Overlay == nil || fb.ClientCount() == 0 {
		return
	}
	for {
		select {
		case fb.pending <- u.Overlay:
			return
		default:
		}
		select {
		case <-fb.pending:
		default:
		}
	}
}

func (fb *FrameBroadcaster) OnAlert(session.Alert)       {}
func (fb *FrameBroadcaster) OnReminder(session.Reminder) {}
func (fb *FrameBroadcaster) OnState(session.State)       {}

func (fb *FrameBroadcaster) run() {
	for {
		select {
		case <-fb.stop:
			return
		case img := <-fb.pending:
			fb.mu.Lock()
			due := fb.minInterval == 0 || time.Since(fb.lastSent) >= fb.minInterval
			fb.mu.Unlock()
			if !due {
				continue
			}

			data, err := encodeJPEG(img, fb.quality)
			if err != nil {
				frameLog.Warn("encode overlay: %v", err)
				continue
			}
			fb.broadcast(data)
		}
	}
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.lastSent = time.Now()
	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized google.protobuf.Struct, base64 encoded for SSE
}

// EventBroadcaster fans session events out to SSE clients. Each event is
// serialized once as JSON and once as a protobuf Struct.
type EventBroadcaster struct {
	metrics *metrics.Metrics

	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	closed  bool
}

// NewEventBroadcaster creates a broadcaster for posture events.
func NewEventBroadcaster(m *metrics.Metrics) *EventBroadcaster {
	return &EventBroadcaster{
		metrics: m,
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, 8)
	if eb.closed {
		close(ch)
		return id, ch
	}
	eb.clients[id] = ch
	if eb.metrics != nil {
		eb.metrics.StreamClients.Add(1)
	}

	eventLog.Debug("Client #%d subscribed (total clients: %d)", id, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		if eb.metrics != nil {
			eb.metrics.StreamClients.Add(-1)
		}
		eventLog.Debug("Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// ClientCount returns the number of subscribed clients.
func (eb *EventBroadcaster) ClientCount() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// Close disconnects every client. Later subscribers get a closed channel.
func (eb *EventBroadcaster) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for id, ch := range eb.clients {
		close(ch)
		delete(eb.clients, id)
		if eb.metrics != nil {
			eb.metrics.StreamClients.Add(-1)
		}
	}
}

func (eb *EventBroadcaster) OnUpdate(u session.Update) {
	eb.publish("reading", u.Readout())
}

func (eb *EventBroadcaster) OnAlert(a session.Alert) {
	eb.publish("alert", AlertInfo{
		TimestampMS:  a.At.UnixMilli(),
		AngleDegrees: a.Reading.AngleDegrees,
		Label:        a.Reading.Label,
		Advice:       a.Reading.Advice,
	})
}

func (eb *EventBroadcaster) OnReminder(r session.Reminder) {
	eb.publish("reminder", map[string]any{
		"timestamp_ms": r.At.UnixMilli(),
		"elapsed_s":    int(r.Elapsed.Seconds()),
	})
}

func (eb *EventBroadcaster) OnState(st session.State) {
	eb.publish("state", st)
}

func (eb *EventBroadcaster) publish(kind string, data any) {
	if eb.ClientCount() == 0 {
		return
	}
	event, err := serializeEvent(Event{Type: kind, Data: data})
	if err != nil {
		eventLog.Warn("serialize %s event: %v", kind, err)
		return
	}
	eb.broadcast(event)
}

func (eb *EventBroadcaster) broadcast(event *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, ch := range eb.clients {
		select {
		case ch <- event:
		default:
			eventLog.Debug("Client #%d too slow, dropping event", id)
		}
	}
}

// serializeEvent renders ev as JSON and as a base64 protobuf Struct with the
// same field names.
func serializeEvent(ev Event) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal JSON: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(jsonData, &fields); err != nil {
		return nil, fmt.Errorf("decode JSON fields: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build protobuf struct: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal protobuf: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
