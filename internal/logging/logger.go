// Package logging provides the leveled, structured logger used by every
// voldiag package.
//
// Initialize the logger once at startup, optionally with per-package levels:
//
//	logging.Initialize("info", map[string]string{"kgraph": "debug"})
//
// Obtain a named logger per component and log either printf-style or with
// structured fields:
//
//	logger := logging.GetLogger("kgraph")
//	logger.Info("inference pass finished in %s", elapsed)
//	logger.WarnWithFields("relationship rejected",
//	    logging.Field("source", src),
//	    logging.Field("target", dst),
//	)
//
// Package levels match either exactly ("kgraph") or by prefix wildcard
// ("diagnosis.*" matches "diagnosis.session"). The longest matching pattern
// wins.
//
// Loggers are immutable: WithField, WithFields and WithContext return copies,
// so a Logger can be shared between goroutines without coordination.
package logging

import (
	"context"
	"os"
	"sync"
)

var (
	globalMu    sync.RWMutex
	globalLevel = INFO
	// exitFunc terminates the process on Fatal. Tests replace it.
	exitFunc = os.Exit
)

// Initialize sets the default level and, optionally, per-package overrides.
// An unknown default level falls back to INFO.
func Initialize(levelStr string, packageLevels ...map[string]string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		level = INFO
	}

	globalMu.Lock()
	globalLevel = level
	globalMu.Unlock()

	if len(packageLevels) > 0 && packageLevels[0] != nil {
		return SetPackageLogLevels(packageLevels[0])
	}
	return nil
}

// GetLogger returns a logger for the named component.
func GetLogger(name string) *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return &Logger{
		level:  globalLevel,
		name:   name,
		fields: map[string]interface{}{},
	}
}

// LogField is a single structured key/value pair.
type LogField struct {
	Key   string
	Value interface{}
}

// Field creates a structured logging field.
func Field(key string, value interface{}) LogField {
	return LogField{Key: key, Value: value}
}

// Logger writes leveled messages tagged with a component name.
type Logger struct {
	level  LogLevel
	name   string
	fields map[string]interface{}
	ctx    context.Context
}

// Name returns the component name the logger was created with.
func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) enabled(level LogLevel) bool {
	if pkgLevel := GetPackageLogLevel(l.name); pkgLevel >= 0 {
		return level >= pkgLevel
	}
	return level >= l.level
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.logf(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.logf(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.logf(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.logf(ERROR, msg, args...) }

// Fatal logs and exits with status 1.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.enabled(FATAL) {
		l.logf(FATAL, msg, args...)
		exitFunc(1)
	}
}

// ErrorWithErr logs msg followed by the error text.
func (l *Logger) ErrorWithErr(msg string, err error, args ...interface{}) {
	args = append(args, err)
	l.logf(ERROR, msg+" - %v", args...)
}

func (l *Logger) DebugWithFields(msg string, fields ...LogField) { l.logFields(DEBUG, msg, fields) }
func (l *Logger) InfoWithFields(msg string, fields ...LogField)  { l.logFields(INFO, msg, fields) }
func (l *Logger) WarnWithFields(msg string, fields ...LogField)  { l.logFields(WARN, msg, fields) }
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) { l.logFields(ERROR, msg, fields) }

func (l *Logger) clone() *Logger {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &Logger{level: l.level, name: l.name, fields: fields, ctx: l.ctx}
}

// WithName returns a copy of the logger under another component name.
// Persistent fields are dropped.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{level: l.level, name: name, fields: map[string]interface{}{}, ctx: l.ctx}
}

// WithField returns a copy of the logger carrying an extra persistent field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	c := l.clone()
	c.fields[key] = value
	return c
}

// WithFields returns a copy of the logger carrying extra persistent fields.
func (l *Logger) WithFields(fields ...LogField) *Logger {
	c := l.clone()
	for _, f := range fields {
		c.fields[f.Key] = f.Value
	}
	return c
}

// WithContext returns a copy of the logger that includes the trace_id and
// span_id stored in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	c := l.clone()
	c.ctx = ctx
	return c
}
