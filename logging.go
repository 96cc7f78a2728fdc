// logging.go: Pluggable logging with a glog adapter
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Logger defines the pluggable logging interface used by every component.
//
// Arguments after the message are key-value pairs:
//
//	logger.Info("Transport connected", "endpoint", endpoint, "attempt", n)
//
// Implementations:
//   - GlogLogger: writes through github.com/golang/glog
//   - NoOpLogger: silent logger, the default
//   - TestLogger: captures messages for assertions
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	With(args ...any) Logger
}

// NewLogger creates a Logger from supported logger types.
//
// Supported types:
//   - Logger interface: used directly
//   - nil: NoOpLogger
//   - anything else: panics
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case nil:
		return NewNoOpLogger()
	default:
		panic("unsupported logger type: expected Logger interface or nil")
	}
}

// NoOpLogger discards all log messages.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Debug(msg string, args ...any) {}
func (n *NoOpLogger) Info(msg string, args ...any)  {}
func (n *NoOpLogger) Warn(msg string, args ...any)  {}
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n
}

// GlogLogger routes log calls to glog. Debug messages are emitted at verbosity 2,
// matching the `-v=2` tracing convention used by glog based daemons.
type GlogLogger struct {
	fields []any
}

// NewGlogLogger creates a Logger backed by glog.
func NewGlogLogger() *GlogLogger {
	return &GlogLogger{}
}

func (g *GlogLogger) Debug(msg string, args ...any) {
	if glog.V(2) {
		glog.InfoDepth(1, g.format(msg, args))
	}
}

func (g *GlogLogger) Info(msg string, args ...any) {
	glog.InfoDepth(1, g.format(msg, args))
}

func (g *GlogLogger) Warn(msg string, args ...any) {
	glog.WarningDepth(1, g.format(msg, args))
}

func (g *GlogLogger) Error(msg string, args ...any) {
	glog.ErrorDepth(1, g.format(msg, args))
}

// With returns a logger that prefixes every line with the given pairs.
func (g *GlogLogger) With(args ...any) Logger {
	fields := make([]any, 0, len(g.fields)+len(args))
	fields = append(fields, g.fields...)
	fields = append(fields, args...)
	return &GlogLogger{fields: fields}
}

func (g *GlogLogger) format(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(msg)
	writePairs(&b, g.fields)
	writePairs(&b, args)
	return b.String()
}

func writePairs(b *strings.Builder, args []any) {
	for i := 0; i < len(args); i += 2 {
		b.WriteByte(' ')
		if i+1 >= len(args) {
			fmt.Fprintf(b, "%v", args[i])
			return
		}
		fmt.Fprintf(b, "%v=%v", args[i], args[i+1])
	}
}

// TestLogger captures log messages for tests.
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
}

// TestLogMessage represents a captured log message.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{
		Messages: make([]TestLogMessage, 0),
	}
}

func (t *TestLogger) Debug(msg string, args ...any) { t.record("DEBUG", msg, args) }
func (t *TestLogger) Info(msg string, args ...any)  { t.record("INFO", msg, args) }
func (t *TestLogger) Warn(msg string, args ...any)  { t.record("WARN", msg, args) }
func (t *TestLogger) Error(msg string, args ...any) { t.record("ERROR", msg, args) }

// With returns the same logger so that messages from derived loggers stay observable.
func (t *TestLogger) With(args ...any) Logger {
	return t
}

func (t *TestLogger) record(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{
		Level:   level,
		Message: msg,
		Args:    args,
	})
}

// HasMessage checks if the logger captured a message at the given level.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// Count returns how many messages were captured at the given level.
func (t *TestLogger) Count(level string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, msg := range t.Messages {
		if msg.Level == level {
			n++
		}
	}
	return n
}

// CountMessage returns how many times message was captured at the given level.
func (t *TestLogger) CountMessage(level, message string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			n++
		}
	}
	return n
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}

// DefaultLogger returns the logger used when none is configured.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}
