// Package logger provides the leveled, styled logger used throughout
// anonmanager, plus the append-only activity/security log files required by
// the external interfaces design.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Level represents log level
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	globalLevel   = LevelInfo
	globalColored = true
	globalMu      sync.RWMutex

	// activitySink and securitySink are optional append-only file writers,
	// installed by SetLogFiles. Nil until installed (e.g. early startup before
	// the config root exists), in which case only stderr receives output.
	activitySink io.Writer
	securitySink io.Writer
)

var (
	styleTrace = lipgloss.NewStyle().Foreground(lipgloss.Color("#E8C872"))
	styleDebug = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0C674"))
	styleInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A8B545"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD93D"))
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("#E05A3A"))
	styleFaint = lipgloss.NewStyle().Faint(true)
)

// Logger provides leveled logging
type Logger struct {
	prefix   string
	security bool // true routes lines to the security log instead of activity
}

// New creates a new logger with the given prefix, writing to the activity log.
func New(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

// NewSecurity creates a logger whose lines go to the security log instead of
// the activity log.
func NewSecurity(prefix string) *Logger {
	return &Logger{prefix: prefix, security: true}
}

// SetLogFiles installs the two append-only sinks described in the external
// interfaces design. Safe to call more than once (e.g. once the config root
// has been created mode 0700). Passing nil for either disables that sink.
func SetLogFiles(activity, security io.Writer) {
	globalMu.Lock()
	defer globalMu.Unlock()
	activitySink = activity
	securitySink = security
}

// SetGlobalLevel sets the global log level
func SetGlobalLevel(level Level) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLevel = level
}

// ParseLevel converts a string to a Level, returning an error if unrecognized.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
}

// SetGlobalLevelFromString sets log level from string
func SetGlobalLevelFromString(level string) {
	if l, err := ParseLevel(level); err == nil {
		SetGlobalLevel(l)
	}
}

// SetColored enables or disables colored output
func SetColored(colored bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalColored = colored
}

func (l *Logger) log(level Level, levelStr string, style lipgloss.Style, format string, args ...any) {
	globalMu.RLock()
	if level < globalLevel {
		globalMu.RUnlock()
		return
	}
	colored := globalColored
	activity := activitySink
	security := securitySink
	globalMu.RUnlock()

	now := time.Now()
	timestamp := now.Format("15:04:05")
	msg := fmt.Sprintf(format, args...)

	if colored {
		label := style.Render("[" + levelStr + "]")
		fmt.Fprintf(os.Stderr, "%s %s %s %s\n",
			styleFaint.Render(timestamp), label, styleFaint.Render("["+l.prefix+"]"), msg)
	} else {
		fmt.Fprintf(os.Stderr, "%s [%s] [%s] %s\n", timestamp, levelStr, l.prefix, msg)
	}

	plain := fmt.Sprintf("[%s] [%s] [%s] %s\n", now.Format(time.RFC3339), levelStr, l.prefix, msg)
	if l.security {
		if security != nil {
			_, _ = security.Write([]byte(plain))
		}
	} else if activity != nil {
		_, _ = activity.Write([]byte(plain))
	}
}

// Trace logs a trace message (most verbose)
func (l *Logger) Trace(format string, args ...any) {
	l.log(LevelTrace, "TRACE", styleTrace, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, "DEBUG", styleDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, "INFO", styleInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, "WARN", styleWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, "ERROR", styleError, format, args...)
}
