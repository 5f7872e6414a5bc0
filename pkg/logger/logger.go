// Package logger is the structured logger of the league processes.
// It wraps a log/slog handler so the HTTP layer can use typed fields while
// the application layer takes the *slog.Logger from Slog; both write the
// same lines to the same output.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Level is the minimum severity that gets written.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string { return l.slog().String() }

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel accepts debug, info, warn(ing) and error in any case.
// Anything else is info.
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

// Format selects the line encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatText
)

// ParseFormat maps "text" to FormatText and everything else to FormatJSON.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), "text") {
		return FormatText
	}
	return FormatJSON
}

// Field is one key-value pair of an entry.
type Field struct {
	Key   string
	Value any
}

func (f Field) attr() slog.Attr { return slog.Any(f.Key, f.Value) }

func String(key, value string) Field  { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Bool(key string, v bool) Field   { return Field{Key: key, Value: v} }
func Any(key string, value any) Field { return Field{Key: key, Value: value} }

// Err renders err as its message under "error".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Duration renders d in Go notation ("1.5s") rather than nanoseconds.
func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Value: d.String()}
}

func Time(key string, t time.Time) Field {
	return Field{Key: key, Value: t.Format(time.RFC3339)}
}

// Options configures New.
type Options struct {
	Output    io.Writer
	Level     Level
	Format    Format
	AddCaller bool
}

// Logger is immutable; With returns a copy.
type Logger struct {
	h slog.Handler
}

// New returns a logger writing to opts.Output (stdout when nil).
func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	ho := &slog.HandlerOptions{Level: opts.Level.slog(), AddSource: opts.AddCaller}
	if opts.Format == FormatText {
		return &Logger{h: slog.NewTextHandler(out, ho)}
	}
	return &Logger{h: slog.NewJSONHandler(out, ho)}
}

// Default is an info-level JSON logger on stdout.
func Default() *Logger {
	return New(Options{})
}

func (l *Logger) With(fields ...Field) *Logger {
	if len(fields) == 0 {
		return l
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = f.attr()
	}
	return &Logger{h: l.h.WithAttrs(attrs)}
}

// Slog exposes the same handler through the standard interface.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(l.h)
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(slog.LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(slog.LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

func (l *Logger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.h.Enabled(ctx, level) {
		return
	}
	// skip Callers, log and the exported method
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	for _, f := range fields {
		r.AddAttrs(f.attr())
	}
	_ = l.h.Handle(ctx, r)
}

type ctxKey struct{}

func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request logger, or Default when none is attached.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// RequestIDKey is the log key of the X-Request-ID value.
const RequestIDKey = "request_id"

func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.With(String(RequestIDKey, requestID))
}

// ─────────────────────────────────────────────────────────────────────────────
// League fields
// ─────────────────────────────────────────────────────────────────────────────

func UserID(id string) Field        { return String("user_id", id) }
func WeekStart(week string) Field   { return String("week_start", week) }
func CohortID(group string) Field   { return String("group_id", group) }
func Tier(tier int) Field           { return Int("tier", tier) }
func Component(name string) Field   { return String("component", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }
