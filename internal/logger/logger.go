// Package logger is a small leveled logger writing timestamped lines to a
// file or stderr. Subsystems tag their lines through WithPrefix.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level controls which messages are written.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone disables output entirely.
	LevelNone
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string onto a Level. Unknown strings fall back to
// info rather than erroring, so a typo in a config file never kills logging.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger writes leveled, prefixed lines to a single destination. Loggers
// derived via WithPrefix share the destination and its lock.
type Logger struct {
	mu     *sync.Mutex
	out    io.Writer
	level  Level
	prefix string
	file   *os.File
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// New creates a logger writing to w.
func New(level Level, w io.Writer, prefix string) *Logger {
	if w == nil || level == LevelNone {
		w = io.Discard
	}
	return &Logger{mu: &sync.Mutex{}, out: w, level: level, prefix: prefix}
}

// Open creates a logger appending to the file at path, creating parent
// directories as needed.
func Open(level Level, path string) (*Logger, error) {
	if level == LevelNone || path == "" {
		return New(LevelNone, nil, ""), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := New(level, f, "")
	l.file = f
	return l, nil
}

// Init installs the global logger backed by a file. Later calls replace the
// earlier logger; the previous file handle is closed.
func Init(level Level, path string) error {
	l, err := Open(level, path)
	if err != nil {
		return err
	}
	install(l)
	return nil
}

// InitConsole installs a global logger writing to stderr, for interactive
// runs where a log file would hide problems.
func InitConsole(level Level) {
	install(New(level, os.Stderr, ""))
}

func install(l *Logger) {
	globalMu.Lock()
	prev := globalLogger
	globalLogger = l
	globalMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
}

// Global returns the installed logger, or a discarding one when Init was
// never called.
func Global() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = New(LevelNone, nil, "")
	}
	return globalLogger
}

// WithPrefix derives a logger whose lines are tagged with prefix. Nested
// prefixes are joined with a colon.
func (l *Logger) WithPrefix(prefix string) *Logger {
	if l.prefix != "" {
		prefix = l.prefix + ":" + prefix
	}
	return &Logger{mu: l.mu, out: l.out, level: l.level, prefix: prefix, file: l.file}
}

func (l *Logger) write(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	tag := ""
	if l.prefix != "" {
		tag = "[" + l.prefix + "] "
	}
	line := fmt.Sprintf("%s [%s] %s%s\n", ts, level, tag, fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line)
}

func (l *Logger) Debug(format string, args ...interface{}) { l.write(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.write(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.write(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.write(LevelError, format, args...) }

// Close releases the underlying file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Package-level helpers on the global logger.

func Debug(format string, args ...interface{}) { Global().Debug(format, args...) }
func Info(format string, args ...interface{})  { Global().Info(format, args...) }
func Warn(format string, args ...interface{})  { Global().Warn(format, args...) }
func Error(format string, args ...interface{}) { Global().Error(format, args...) }
