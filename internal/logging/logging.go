package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	// LevelDebug is the debug log level
	LevelDebug LogLevel = iota
	// LevelInfo is the info log level
	LevelInfo
	// LevelWarn is the warning log level
	LevelWarn
	// LevelError is the error log level
	LevelError
)

var (
	currentLevel atomic.Int32
	levelOnce    sync.Once
)

// ParseLevel converts a level name into a LogLevel. Unknown names map to info.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func initLevel() {
	levelOnce.Do(func() {
		switch strings.ToLower(os.Getenv("DEBUG")) {
		case "1", "true", "yes", "on":
			currentLevel.Store(int32(LevelDebug))
			return
		}
		currentLevel.Store(int32(ParseLevel(os.Getenv("LOG_LEVEL"))))
	})
}

// GetLevel returns the current log level
func GetLevel() LogLevel {
	initLevel()
	return LogLevel(currentLevel.Load())
}

// SetLevel overrides the level taken from the environment.
func SetLevel(level LogLevel) {
	initLevel()
	currentLevel.Store(int32(level))
}

// IsDebugEnabled returns true if debug logging is enabled
func IsDebugEnabled() bool {
	return GetLevel() <= LevelDebug
}

func logf(level LogLevel, tag, prefix, format string, args ...interface{}) {
	if GetLevel() > level {
		return
	}
	log.Printf("["+tag+"] "+prefix+format, args...)
}

// Debug logs a debug message (only if DEBUG=true or LOG_LEVEL=debug)
func Debug(format string, args ...interface{}) { logf(LevelDebug, "DEBUG", "", format, args...) }

// Info logs an info message
func Info(format string, args ...interface{}) { logf(LevelInfo, "INFO", "", format, args...) }

// Warn logs a warning message
func Warn(format string, args ...interface{}) { logf(LevelWarn, "WARN", "", format, args...) }

// Error logs an error message
func Error(format string, args ...interface{}) { logf(LevelError, "ERROR", "", format, args...) }

// Fatal logs an error message and exits
func Fatal(format string, args ...interface{}) {
	log.Fatalf("[FATAL] "+format, args...)
}

// Logger writes through the package level functions with a fixed component prefix.
type Logger struct {
	prefix string
}

// For returns a Logger whose lines are tagged with the component name.
func For(component string) *Logger {
	return &Logger{prefix: "[" + component + "] "}
}

// Debug logs a debug message for the component.
func (l *Logger) Debug(format string, args ...interface{}) {
	logf(LevelDebug, "DEBUG", l.prefix, format, args...)
}

// Info logs an info message for the component.
func (l *Logger) Info(format string, args ...interface{}) {
	logf(LevelInfo, "INFO", l.prefix, format, args...)
}

// Warn logs a warning for the component.
func (l *Logger) Warn(format string, args ...interface{}) {
	logf(LevelWarn, "WARN", l.prefix, format, args...)
}

// Error logs an error for the component.
func (l *Logger) Error(format string, args ...interface{}) {
	logf(LevelError, "ERROR", l.prefix, format, args...)
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", l)
	}
}
