package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"strings"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
//
// Every package in the engine depends on this interface rather than on a
// concrete logger so tests can swap in Nop() or a capture logger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Level is the minimum severity a writer logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level; unknown values default to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

type writerLogger struct {
	mu        sync.Mutex
	out       *log.Logger
	level     Level
	component string
}

// New returns a component-scoped logger writing to w at the given level.
func New(w io.Writer, level Level, component string) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &writerLogger{out: log.New(w, "", 0), level: level, component: component}
}

// NewComponentLogger returns the default stderr logger scoped to a component.
// The level is taken from AIDE_LOG_LEVEL (info when unset).
func NewComponentLogger(component string) Logger {
	return New(os.Stderr, ParseLevel(os.Getenv("AIDE_LOG_LEVEL")), component)
}

func (l *writerLogger) log(level Level, tag, format string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	component := l.component
	if component == "" {
		component = "aide"
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.out.Printf("%s [%s] [%s] %s", timestamp, tag, component, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Debug(format string, args ...any) { l.log(LevelDebug, "DEBUG", format, args...) }
func (l *writerLogger) Info(format string, args ...any)  { l.log(LevelInfo, "INFO", format, args...) }
func (l *writerLogger) Warn(format string, args ...any)  { l.log(LevelWarn, "WARN", format, args...) }
func (l *writerLogger) Error(format string, args ...any) { l.log(LevelError, "ERROR", format, args...) }

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
