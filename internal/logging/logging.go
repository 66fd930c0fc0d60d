// Package logging provides the structured JSON logger shared by every
// engine. It is a thin wrapper over stdlib log.Logger — one JSON object per
// line — rather than a third-party logging framework, matching this
// codebase's own long-standing convention.
package logging

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Entry is one JSON log line. Component names the owning package
// (reservation, auction, trending, fanout, lock, idempotency...);
// Operation names the call (placeBid, reserve, extend...).
type Entry struct {
	Timestamp     time.Time              `json:"timestamp"`
	Level         Level                  `json:"level"`
	Component     string                 `json:"component"`
	Operation     string                 `json:"operation"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	ActorID       string                 `json:"actorId,omitempty"`
	DurationMs    *int64                 `json:"durationMs,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Fields        map[string]interface{} `json:"fields,omitempty"`
}

// Logger is a per-component structured logger. Callers build one with
// New(component) at construction time and reuse it across calls; the
// correlation id travels through ctx, never through logger state.
type Logger struct {
	out       *log.Logger
	component string
	level     Level
}

// New returns a Logger writing JSON lines to stdout at LevelInfo and above.
func New(component string) *Logger {
	return &Logger{
		out:       log.New(os.Stdout, "", 0),
		component: component,
		level:     LevelInfo,
	}
}

// SetLevel changes the minimum level this logger emits.
func (l *Logger) SetLevel(level Level) { l.level = level }

// With returns a copy of l scoped to a different component name, useful
// when a package wants per-subcomponent labels (e.g. "auction.scheduler").
func (l *Logger) With(component string) *Logger {
	cp := *l
	cp.component = component
	return &cp
}

func (l *Logger) Debug(ctx context.Context, operation string, fields map[string]interface{}) {
	l.write(ctx, LevelDebug, operation, nil, nil, fields)
}

func (l *Logger) Info(ctx context.Context, operation string, fields map[string]interface{}) {
	l.write(ctx, LevelInfo, operation, nil, nil, fields)
}

func (l *Logger) Warn(ctx context.Context, operation string, fields map[string]interface{}) {
	l.write(ctx, LevelWarn, operation, nil, nil, fields)
}

func (l *Logger) Error(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	l.write(ctx, LevelError, operation, err, nil, fields)
}

// Timed logs at LevelInfo (or LevelWarn if err != nil) with an elapsed
// duration — the common "operation finished" call site.
func (l *Logger) Timed(ctx context.Context, operation string, start time.Time, err error, fields map[string]interface{}) {
	d := time.Since(start)
	level := LevelInfo
	if err != nil {
		level = LevelWarn
	}
	l.write(ctx, level, operation, err, &d, fields)
}

func (l *Logger) write(ctx context.Context, level Level, operation string, err error, d *time.Duration, fields map[string]interface{}) {
	if levelRank[level] < levelRank[l.level] {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Component: l.component,
		Operation: operation,
		Fields:    fields,
	}
	if ctx != nil {
		entry.CorrelationID = CorrelationID(ctx)
		entry.ActorID = ActorID(ctx)
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if d != nil {
		ms := d.Milliseconds()
		entry.DurationMs = &ms
	}

	data, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		l.out.Printf("logging: failed to marshal entry: %v", marshalErr)
		return
	}
	l.out.Println(string(data))
}

type contextKey int

const (
	correlationIDKey contextKey = iota
	actorIDKey
)

// WithCorrelationID attaches a correlation id to ctx, propagated by callers
// across every engine call in the chain — no global or thread-local state.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID reads back the id attached by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithActorID attaches the acting user/bidder id to ctx for audit logging.
func WithActorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, actorIDKey, id)
}

// ActorID reads back the id attached by WithActorID, or "".
func ActorID(ctx context.Context) string {
	id, _ := ctx.Value(actorIDKey).(string)
	return id
}
