package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	StatusInterval time.Duration
	MJPEGInterval  time.Duration
	JPEGQuality    int
	// RecordingDir is where /api/recording writes readout logs.
	RecordingDir string
	// HistorySize bounds the readings kept for /api/status.
	HistorySize int
}

// DefaultConfig returns the config used when nothing else is set.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: time.Second,
		MJPEGInterval:  33 * time.Millisecond,
		JPEGQuality:    80,
		RecordingDir:   "./recordings",
		HistorySize:    8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = d.StatusInterval
	}
	if c.MJPEGInterval < 0 {
		c.MJPEGInterval = 0
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = d.JPEGQuality
	}
	if c.RecordingDir == "" {
		c.RecordingDir = d.RecordingDir
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	return c
}
