// Package mlog is the structured-logging facade used by every fact-store
// component. It keeps call sites decoupled from logrus (mirroring the
// inversion the ag-ui state package uses for its own Logger interface) while
// still logging the way the rest of this codebase's ancestry logs.
package mlog

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Field is a single structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// String, Int, Err, Any build Fields for the common cases call sites need.
func String(key, value string) Field  { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Err(err error) Field             { return Field{Key: "error", Value: err} }
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the interface every component depends on; NopLogger and
// LogrusLogger both satisfy it.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

// NopLogger discards everything; it is the default so callers never need a
// nil check.
type NopLogger struct{}

func (NopLogger) Debug(string, ...Field)     {}
func (NopLogger) Info(string, ...Field)      {}
func (NopLogger) Warn(string, ...Field)      {}
func (NopLogger) Error(string, ...Field)     {}
func (n NopLogger) WithFields(...Field) Logger { return n }

// LogrusLogger adapts a *logrus.Entry to Logger.
type LogrusLogger struct {
	entry *logrus.Entry
}

// New wraps a *logrus.Logger (or logrus.StandardLogger() if nil).
func New(base *logrus.Logger) *LogrusLogger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &LogrusLogger{entry: logrus.NewEntry(base)}
}

// NewWithContext attaches a context to the logger for request-scoped
// fields.
func NewWithContext(base *logrus.Logger, ctx context.Context) *LogrusLogger {
	l := New(base)
	return &LogrusLogger{entry: l.entry.WithContext(ctx)}
}

func toFields(fields []Field) logrus.Fields {
	if len(fields) == 0 {
		return nil
	}
	f := make(logrus.Fields, len(fields))
	for _, field := range fields {
		f[field.Key] = field.Value
	}
	return f
}

func (l *LogrusLogger) Debug(msg string, fields ...Field) {
	l.entry.WithFields(toFields(fields)).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, fields ...Field) {
	l.entry.WithFields(toFields(fields)).Info(msg)
}

func (l *LogrusLogger) Warn(msg string, fields ...Field) {
	l.entry.WithFields(toFields(fields)).Warn(msg)
}

func (l *LogrusLogger) Error(msg string, fields ...Field) {
	l.entry.WithFields(toFields(fields)).Error(msg)
}

func (l *LogrusLogger) WithFields(fields ...Field) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(toFields(fields))}
}

var _ Logger = NopLogger{}
var _ Logger = (*LogrusLogger)(nil)
