package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/courseloop/hookrelay/internal/tracing"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Entry is one structured log line. Domain identifiers get first-class fields
// so log search by delivery or endpoint works without parsing.
type Entry struct {
	Time       time.Time      `json:"time"`
	Level      Level          `json:"level"`
	Message    string         `json:"msg"`
	Service    string         `json:"service,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	EventID    string         `json:"event_id,omitempty"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	EndpointID string         `json:"endpoint_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`

	out io.Writer
}

// Logger emits JSON log lines for one service.
type Logger struct {
	service string
	out     io.Writer
}

// New creates a logger writing to stdout.
func New(service string) *Logger {
	return &Logger{service: service, out: os.Stdout}
}

// NewWithWriter creates a logger writing to w. Used by tests.
func NewWithWriter(service string, w io.Writer) *Logger {
	return &Logger{service: service, out: w}
}

// WithContext starts an entry carrying the trace id from ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Entry {
	e := l.Plain()
	e.TraceID = tracing.GetTraceID(ctx)
	return e
}

// Plain starts an entry with no context.
func (l *Logger) Plain() *Entry {
	return &Entry{
		Time:    time.Now().UTC(),
		Service: l.service,
		out:     l.out,
	}
}

// WithField adds one key-value pair.
func (e *Entry) WithField(key string, value any) *Entry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields adds multiple key-value pairs.
func (e *Entry) WithFields(fields map[string]any) *Entry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

// WithError records err under the "error" field. A nil err is a no-op.
func (e *Entry) WithError(err error) *Entry {
	if err != nil {
		e.WithField("error", err.Error())
	}
	return e
}

// WithTenant sets the tenant id.
func (e *Entry) WithTenant(tenantID string) *Entry {
	e.TenantID = tenantID
	return e
}

// WithEvent sets the event id.
func (e *Entry) WithEvent(eventID string) *Entry {
	e.EventID = eventID
	return e
}

// WithDelivery sets the delivery id.
func (e *Entry) WithDelivery(deliveryID string) *Entry {
	e.DeliveryID = deliveryID
	return e
}

// WithEndpoint sets the endpoint id.
func (e *Entry) WithEndpoint(endpointID string) *Entry {
	e.EndpointID = endpointID
	return e
}

// Debug logs at debug level.
func (e *Entry) Debug(message string) { e.log(LevelDebug, message) }

// Info logs at info level.
func (e *Entry) Info(message string) { e.log(LevelInfo, message) }

// Infof logs at info level with formatting.
func (e *Entry) Infof(format string, args ...any) { e.log(LevelInfo, fmt.Sprintf(format, args...)) }

// Warn logs at warn level.
func (e *Entry) Warn(message string) { e.log(LevelWarn, message) }

// Error logs at error level.
func (e *Entry) Error(message string) { e.log(LevelError, message) }

// Errorf logs at error level with formatting.
func (e *Entry) Errorf(format string, args ...any) { e.log(LevelError, fmt.Sprintf(format, args...)) }

// Fatal logs at fatal level and exits.
func (e *Entry) Fatal(message string) {
	e.log(LevelFatal, message)
	os.Exit(1)
}

func (e *Entry) log(level Level, message string) {
	e.Level = level
	e.Message = message
	if len(e.Fields) == 0 {
		e.Fields = nil
	}
	out := e.out
	if out == nil {
		out = os.Stdout
	}
	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		fmt.Fprintf(out, "%s [%s] %s\n", e.Time.Format(time.RFC3339), e.Level, e.Message)
		return
	}
	fmt.Fprintln(out, string(data))
}
