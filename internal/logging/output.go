package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// TraceIDKey is the context key whose value is logged as trace_id.
func TraceIDKey() interface{} { return traceIDKey }

// SpanIDKey is the context key whose value is logged as span_id.
func SpanIDKey() interface{} { return spanIDKey }

var (
	outputMu sync.RWMutex
	// errOut receives ERROR and FATAL lines. Everything else goes through
	// the standard library logger.
	errOut io.Writer = os.Stderr
)

// SetOutput routes every level to w. The stdio MCP transport uses this to
// keep stdout free for protocol messages.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	errOut = w
	outputMu.Unlock()
	log.SetOutput(w)
}

// GetTimestamp returns an RFC3339 timestamp, or LOG_TIMESTAMP when set.
func GetTimestamp() string {
	if override := os.Getenv("LOG_TIMESTAMP"); override != "" {
		return override
	}
	return time.Now().Format(time.RFC3339)
}

func (l *Logger) logf(level LogLevel, msg string, args ...interface{}) {
	if !l.enabled(level) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.write(level, msg, l.mergedFields(nil))
}

func (l *Logger) logFields(level LogLevel, msg string, fields []LogField) {
	if !l.enabled(level) {
		return
	}
	l.write(level, msg, l.mergedFields(fields))
}

// mergedFields layers context fields < persistent fields < call fields.
func (l *Logger) mergedFields(fields []LogField) map[string]interface{} {
	merged := map[string]interface{}{}
	if l.ctx != nil {
		if v := l.ctx.Value(traceIDKey); v != nil {
			merged["trace_id"] = v
		}
		if v := l.ctx.Value(spanIDKey); v != nil {
			merged["span_id"] = v
		}
	}
	for k, v := range l.fields {
		merged[k] = v
	}
	for _, f := range fields {
		merged[f.Key] = f.Value
	}
	return merged
}

func (l *Logger) write(level LogLevel, msg string, fields map[string]interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s: %s", GetTimestamp(), level, l.name, msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" |")
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}

	if level >= ERROR {
		outputMu.RLock()
		fmt.Fprintln(errOut, b.String())
		outputMu.RUnlock()
		return
	}
	log.Println(b.String())
}

// ContextWithTrace stores trace and span ids for WithContext loggers.
// Empty ids are not stored.
func ContextWithTrace(ctx context.Context, traceID, spanID string) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if spanID != "" {
		ctx = context.WithValue(ctx, spanIDKey, spanID)
	}
	return ctx
}
