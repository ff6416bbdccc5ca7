// Package emitter publishes session events to external systems.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dj-oyu/spineguard/internal/config"
	"github.com/dj-oyu/spineguard/internal/logger"
	"github.com/dj-oyu/spineguard/internal/metrics"
	"github.com/dj-oyu/spineguard/internal/session"
)

var mqttLog = logger.Module("MQTT")

// queueSize bounds messages waiting for the broker. Readings beyond it are
// dropped; the frame goroutine never blocks on the network.
const queueSize = 64

// publisher is the subset of mqtt.Client the emitter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type message struct {
	topic    string
	retained bool
	payload  []byte
}

// MQTTEmitter publishes readings, alerts, reminders and state changes to
// <prefix>/reading, <prefix>/alert, <prefix>/reminder and <prefix>/state.
type MQTTEmitter struct {
	cfg     config.MQTTConfig
	metrics *metrics.Metrics
	client  mqtt.Client
	pub     publisher

	queue     chan message
	done      chan struct{}
	startOnce sync.Once
	started   atomic.Bool

	mu        sync.RWMutex
	closed    bool
	connected bool
	published map[string]uint64
	dropped   uint64
	errors    uint64
}

// NewMQTTEmitter creates an emitter. Events are queued until the first
// successful connection; call Connect to start connecting.
func NewMQTTEmitter(cfg config.MQTTConfig, m *metrics.Metrics) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		metrics:   m,
		queue:     make(chan message, queueSize),
		done:      make(chan struct{}),
		published: make(map[string]uint64),
	}
}

// Connect dials the broker. The publish loop starts on the first successful
// connection, so a broker that comes up after the timeout still receives the
// queued events.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	if e.cfg.Username != "" {
		opts.SetUsername(e.cfg.Username)
		opts.SetPassword(e.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		mqttLog.Info("connected to %s as %s", e.cfg.Broker, e.cfg.ClientID)
		e.onConnect(c)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		mqttLog.Warn("connection lost, will auto-reconnect: %v", err)
	}

	e.client = mqtt.NewClient(opts)
	mqttLog.Info("connecting to broker %s", e.cfg.Broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout, still retrying in the background")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// onConnect runs on every (re)connection; only the first starts the loop.
func (e *MQTTEmitter) onConnect(p publisher) {
	e.setConnected(true)
	e.start(p)
}

func (e *MQTTEmitter) start(p publisher) {
	e.startOnce.Do(func() {
		e.pub = p
		e.started.Store(true)
		go e.run()
	})
}

func (e *MQTTEmitter) run() {
	defer close(e.done)
	for msg := range e.queue {
		e.publish(msg)
	}
}

func (e *MQTTEmitter) publish(msg message) {
	token := e.pub.Publish(msg.topic, e.cfg.QoS, msg.retained, msg.payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.recordError(fmt.Errorf("publish to %s timed out", msg.topic))
		return
	}
	if err := token.Error(); err != nil {
		e.recordError(fmt.Errorf("publish to %s failed: %w", msg.topic, err))
		return
	}

	e.mu.Lock()
	e.published[msg.topic]++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.MQTTPublished.Add(1)
	}
}

func (e *MQTTEmitter) recordError(err error) {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
	if e.metrics != nil {
		e.metrics.MQTTErrors.Add(1)
	}
	mqttLog.Warn("%v", err)
}

func (e *MQTTEmitter) enqueue(kind string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.recordError(fmt.Errorf("marshal %s: %w", kind, err))
		return
	}
	msg := message{topic: e.topic(kind), retained: retained, payload: payload}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- msg:
	default:
		e.dropped++
	}
}

func (e *MQTTEmitter) topic(kind string) string {
	return fmt.Sprintf("%s/%s", e.cfg.TopicPrefix, kind)
}

func (e *MQTTEmitter) OnUpdate(u session.Update) {
	e.enqueue("reading", false, u.Readout())
}

func (e *MQTTEmitter) OnAlert(a session.Alert) {
	e.enqueue("alert", false, map[string]any{
		"session_id":    a.SessionID.String(),
		"timestamp_ms":  a.At.UnixMilli(),
		"angle_degrees": a.Reading.AngleDegrees,
		"class":         a.Reading.Class.String(),
		"advice":        a.Reading.Advice,
	})
}

func (e *MQTTEmitter) OnReminder(r session.Reminder) {
	e.enqueue("reminder", false, map[string]any{
		"session_id":   r.SessionID.String(),
		"timestamp_ms": r.At.UnixMilli(),
		"elapsed_s":    int(r.Elapsed.Seconds()),
		"message":      "Time to stretch!",
	})
}

func (e *MQTTEmitter) OnState(s session.State) {
	e.enqueue("state", true, s)
}

// Disconnect drains queued messages and closes the connection.
func (e *MQTTEmitter) Disconnect() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	if e.started.Load() {
		select {
		case <-e.done:
		case <-time.After(3 * time.Second):
			mqttLog.Warn("gave up draining publish queue")
		}
	}
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		mqttLog.Info("disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Dropped   uint64
	Errors    uint64
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Dropped:   e.dropped,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}
