// Package config loads SpineGuard settings from YAML or TOML files with
// SPINEGUARD_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/dj-oyu/spineguard/internal/logger"
	"github.com/dj-oyu/spineguard/internal/posture"
	"github.com/dj-oyu/spineguard/internal/render"
)

// Source kinds.
const (
	SourceIngest = "ingest"
	SourceReplay = "replay"
	SourceWorker = "worker"
)

// MaxReplayFPS caps source.replay.fps.
const MaxReplayFPS = 1000

// Config is the complete runtime configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http" toml:"http"`
	Log     LogConfig     `yaml:"log" toml:"log"`
	Posture PostureConfig `yaml:"posture" toml:"posture"`
	Render  render.Config `yaml:"render" toml:"render"`
	Source  SourceConfig  `yaml:"source" toml:"source"`
	Session SessionConfig `yaml:"session" toml:"session"`
	MQTT    MQTTConfig    `yaml:"mqtt" toml:"mqtt"`
	WebRTC  WebRTCConfig  `yaml:"webrtc" toml:"webrtc"`
}

// HTTPConfig contains web monitor settings
type HTTPConfig struct {
	Addr             string `yaml:"addr" toml:"addr"`
	StatusIntervalMS int    `yaml:"status_interval_ms" toml:"status_interval_ms"` // SSE status push period
	MJPEGIntervalMS  int    `yaml:"mjpeg_interval_ms" toml:"mjpeg_interval_ms"`   // minimum gap between MJPEG parts
	JPEGQuality      int    `yaml:"jpeg_quality" toml:"jpeg_quality"`
	RecordingDir     string `yaml:"recording_dir" toml:"recording_dir"`
	// PprofAddr serves net/http/pprof when set.
	PprofAddr string `yaml:"pprof_addr" toml:"pprof_addr"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	Color bool   `yaml:"color" toml:"color"`
}

// PostureConfig selects a preset and optional overrides.
type PostureConfig struct {
	Preset     string              `yaml:"preset" toml:"preset"`
	Thresholds *posture.Thresholds `yaml:"thresholds,omitempty" toml:"thresholds,omitempty"`
	MinScore   *float64            `yaml:"min_score,omitempty" toml:"min_score,omitempty"`
	// IdealAngle starts the session already calibrated.
	IdealAngle *float64 `yaml:"ideal_angle,omitempty" toml:"ideal_angle,omitempty"`
}

// SourceConfig selects where landmark frames come from.
type SourceConfig struct {
	Kind   string       `yaml:"kind" toml:"kind"` // ingest, replay, worker
	Replay ReplayConfig `yaml:"replay" toml:"replay"`
	Worker WorkerConfig `yaml:"worker" toml:"worker"`
}

// ReplayConfig contains JSON-lines replay settings
type ReplayConfig struct {
	Path string  `yaml:"path" toml:"path"`
	FPS  float64 `yaml:"fps" toml:"fps"`
	Loop bool    `yaml:"loop" toml:"loop"`
}

// WorkerConfig contains pose worker process settings
type WorkerConfig struct {
	Command     string   `yaml:"command" toml:"command"`
	Args        []string `yaml:"args" toml:"args"`
	Device      int      `yaml:"device" toml:"device"`
	Width       int      `yaml:"width" toml:"width"`
	Height      int      `yaml:"height" toml:"height"`
	JPEGQuality int      `yaml:"jpeg_quality" toml:"jpeg_quality"`
}

// SessionConfig contains session timing settings
type SessionConfig struct {
	AlertThrottleS  float64 `yaml:"alert_throttle_s" toml:"alert_throttle_s"`
	StretchEveryMin int     `yaml:"stretch_every_min" toml:"stretch_every_min"`
	TimerIntervalMS int     `yaml:"timer_interval_ms" toml:"timer_interval_ms"`
	AutoStart       bool    `yaml:"auto_start" toml:"auto_start"`
}

// MQTTConfig contains MQTT broker settings. An empty Broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker" toml:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
	QoS         byte   `yaml:"qos" toml:"qos"`
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
}

// WebRTCConfig contains data-channel readout settings
type WebRTCConfig struct {
	Enabled     bool     `yaml:"enabled" toml:"enabled"`
	STUNServers []string `yaml:"stun_servers" toml:"stun_servers"`
	MaxPeers    int      `yaml:"max_peers" toml:"max_peers"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:             ":8080",
			StatusIntervalMS: 1000,
			MJPEGIntervalMS:  33,
			JPEGQuality:      80,
			RecordingDir:     "./recordings",
		},
		Log:     LogConfig{Level: "info"},
		Posture: PostureConfig{Preset: posture.DefaultPreset},
		Render:  render.DefaultConfig(),
		Source: SourceConfig{
			Kind:   SourceIngest,
			Worker: WorkerConfig{Width: 640, Height: 480, JPEGQuality: 80},
		},
		Session: SessionConfig{
			AlertThrottleS:  4,
			StretchEveryMin: 30,
			TimerIntervalMS: 1000,
		},
		MQTT: MQTTConfig{
			ClientID:    "spineguard",
			TopicPrefix: "spineguard",
			QoS:         0,
		},
		WebRTC: WebRTCConfig{
			Enabled:     true,
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			MaxPeers:    8,
		},
	}
}

// Load reads path (YAML or TOML by extension) over the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse YAML %s: %w", path, err)
			}
		case ".toml":
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse TOML %s: %w", path, err)
			}
		default:
			return cfg, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("SPINEGUARD_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("SPINEGUARD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SPINEGUARD_POSTURE_PRESET"); v != "" {
		cfg.Posture.Preset = v
	}
	if v := os.Getenv("SPINEGUARD_SOURCE"); v != "" {
		cfg.Source.Kind = v
	}
	if v := os.Getenv("SPINEGUARD_REPLAY_PATH"); v != "" {
		cfg.Source.Replay.Path = v
	}
	if v := os.Getenv("SPINEGUARD_REPLAY_FPS"); v != "" {
		fps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SPINEGUARD_REPLAY_FPS: %w", err)
		}
		cfg.Source.Replay.FPS = fps
	}
	if v := os.Getenv("SPINEGUARD_WORKER_COMMAND"); v != "" {
		fields := strings.Fields(v)
		cfg.Source.Worker.Command = fields[0]
		cfg.Source.Worker.Args = fields[1:]
	}
	if v := os.Getenv("SPINEGUARD_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("SPINEGUARD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	return nil
}

// Validate checks every section and names the offending field.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.JPEGQuality < 1 || c.HTTP.JPEGQuality > 100 {
		return fmt.Errorf("http.jpeg_quality must be 1..100, got %d", c.HTTP.JPEGQuality)
	}
	if c.HTTP.StatusIntervalMS <= 0 {
		return fmt.Errorf("http.status_interval_ms must be positive")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := c.Profile(); err != nil {
		return fmt.Errorf("posture: %w", err)
	}
	if err := c.Render.Validate(); err != nil {
		return fmt.Errorf("render: %w", err)
	}

	switch c.Source.Kind {
	case SourceIngest:
	case SourceReplay:
		if c.Source.Replay.Path == "" {
			return fmt.Errorf("source.replay.path is required for replay source")
		}
		if fps := c.Source.Replay.FPS; !(fps >= 0 && fps <= MaxReplayFPS) {
			return fmt.Errorf("source.replay.fps %v outside 0..%d", fps, MaxReplayFPS)
		}
	case SourceWorker:
		if c.Source.Worker.Command == "" {
			return fmt.Errorf("source.worker.command is required for worker source")
		}
	default:
		return fmt.Errorf("source.kind must be one of ingest, replay, worker; got %q", c.Source.Kind)
	}

	if c.Session.AlertThrottleS < 0 {
		return fmt.Errorf("session.alert_throttle_s must not be negative")
	}
	if c.Session.StretchEveryMin < 0 {
		return fmt.Errorf("session.stretch_every_min must not be negative")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.WebRTC.MaxPeers < 0 {
		return fmt.Errorf("webrtc.max_peers must not be negative")
	}
	return nil
}

// Profile resolves the posture preset and applies overrides.
func (c Config) Profile() (posture.Profile, error) {
	name := c.Posture.Preset
	if name == "" {
		name = posture.DefaultPreset
	}
	p, err := posture.Preset(name)
	if err != nil {
		return p, err
	}
	if c.Posture.Thresholds != nil {
		p.Thresholds = *c.Posture.Thresholds
	}
	if c.Posture.MinScore != nil {
		p.MinScore = *c.Posture.MinScore
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// AlertThrottle converts the configured seconds.
func (s SessionConfig) AlertThrottle() time.Duration {
	return time.Duration(s.AlertThrottleS * float64(time.Second))
}

// StretchEvery converts the configured minutes.
func (s SessionConfig) StretchEvery() time.Duration {
	return time.Duration(s.StretchEveryMin) * time.Minute
}

// TimerInterval converts the configured milliseconds.
func (s SessionConfig) TimerInterval() time.Duration {
	return time.Duration(s.TimerIntervalMS) * time.Millisecond
}

// StatusInterval converts the configured milliseconds.
func (h HTTPConfig) StatusInterval() time.Duration {
	return time.Duration(h.StatusIntervalMS) * time.Millisecond
}

// MJPEGInterval converts the configured milliseconds.
func (h HTTPConfig) MJPEGInterval() time.Duration {
	return time.Duration(h.MJPEGIntervalMS) * time.Millisecond
}
