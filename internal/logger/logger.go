// Package logger is a small leveled logger. Every line carries the level and
// the component that wrote it:
//
//	2026/01/02 15:04:05.000000 [INFO] [Session] session 5d1c... started
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var levels = [...]struct {
	name  string
	color string
}{
	DEBUG:  {"DEBUG", "\033[36m"}, // Cyan
	INFO:   {"INFO", "\033[32m"},  // Green
	WARN:   {"WARN", "\033[33m"},  // Yellow
	ERROR:  {"ERROR", "\033[31m"}, // Red
	SILENT: {"SILENT", ""},
}

const resetColor = "\033[0m"

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levels) {
		return "UNKNOWN"
	}
	return levels[l].name
}

var aliases = map[string]LogLevel{
	"":        INFO,
	"warning": WARN,
	"none":    SILENT,
	"off":     SILENT,
}

// ParseLevel accepts level names in any case plus a few aliases.
func ParseLevel(s string) (LogLevel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if l, ok := aliases[s]; ok {
		return l, nil
	}
	for i, lv := range levels {
		if strings.ToLower(lv.name) == s {
			return LogLevel(i), nil
		}
	}
	return INFO, fmt.Errorf("invalid log level: %s", s)
}

// Logger writes leveled, module-tagged lines. The level may be changed while
// other goroutines log.
type Logger struct {
	level    atomic.Int32
	useColor bool
	out      *log.Logger
}

// New creates a logger writing to output, or stderr when output is nil.
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}
	l := &Logger{
		useColor: useColor,
		out:      log.New(output, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	l.level.Store(int32(level))
	return l
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.Store(int32(level))
}

func (l *Logger) Level() LogLevel {
	return LogLevel(l.level.Load())
}

// Enabled reports whether a message at level would be written.
func (l *Logger) Enabled(level LogLevel) bool {
	return level >= l.Level() && level < SILENT
}

// Logf writes one line. log.Logger serializes concurrent writers.
func (l *Logger) Logf(level LogLevel, module, format string, args ...any) {
	if !l.Enabled(level) {
		return
	}
	tag := "[" + level.String() + "]"
	if l.useColor {
		tag = levels[level].color + tag + resetColor
	}
	if module != "" {
		tag += " [" + module + "]"
	}
	l.out.Print(tag + " " + fmt.Sprintf(format, args...))
}

// std is nil until Init; module loggers drop output until then.
var std atomic.Pointer[Logger]

// Init installs the process logger. Later calls replace it, which lets the
// CLI apply flags after the config file has been read.
func Init(level LogLevel, output io.Writer, useColor bool) {
	std.Store(New(level, output, useColor))
}

// Module is a handle on the process logger bound to one component tag.
type Module string

func (m Module) logf(level LogLevel, format string, args []any) {
	if l := std.Load(); l != nil {
		l.Logf(level, string(m), format, args...)
	}
}

// Enabled lets callers skip building expensive debug arguments.
func (m Module) Enabled(level LogLevel) bool {
	l := std.Load()
	return l != nil && l.Enabled(level)
}

func (m Module) Debug(format string, args ...any) { m.logf(DEBUG, format, args) }
func (m Module) Info(format string, args ...any)  { m.logf(INFO, format, args) }
func (m Module) Warn(format string, args ...any)  { m.logf(WARN, format, args) }
func (m Module) Error(format string, args ...any) { m.logf(ERROR, format, args) }
