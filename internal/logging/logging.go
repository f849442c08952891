// Package logging is the structured logger shared by groundtrack's
// components, backed by log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field is a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field            { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field    { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field          { return Field{Key: key, Value: value} }
func Duration(key string, d time.Duration) Field { return Field{Key: key, Value: d} }
func Any(key string, value any) Field            { return Field{Key: key, Value: value} }

// Time records t in UTC.
func Time(key string, t time.Time) Field { return Field{Key: key, Value: t.UTC()} }

// Err records err under "error"; a nil error yields an empty string.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

type group []Field

// Group nests fields under key.
func Group(key string, fields ...Field) Field { return Field{Key: key, Value: group(fields)} }

// Satellite identifies a tracked object as satellite.name and, when known,
// satellite.norad_id.
func Satellite(name string, noradID int) Field {
	if noradID <= 0 {
		return Group("satellite", String("name", name))
	}
	return Group("satellite", String("name", name), Int("norad_id", noradID))
}

// Logger is the interface every component logs through.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Component scopes base to one subsystem. A nil base yields Noop.
func Component(base Logger, name string) Logger {
	if base == nil {
		return Noop()
	}
	return base.With(String("component", name))
}

// Config controls handler format, level and destination.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // json or text
	AddSource bool
	Output    io.Writer // defaults to stdout
}

// New builds a slog-backed Logger.
func New(cfg Config) Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(cfg.Format, "json") {
		return &slogger{l: slog.New(slog.NewJSONHandler(out, opts))}
	}
	return &slogger{l: slog.New(slog.NewTextHandler(out, opts))}
}

// NewFromEnv reads GROUNDTRACK_LOG_LEVEL and GROUNDTRACK_LOG_FORMAT, falling
// back to LOG_LEVEL and LOG_FORMAT. The default is text at info level.
func NewFromEnv() Logger {
	return New(Config{
		Level:     firstEnv("GROUNDTRACK_LOG_LEVEL", "LOG_LEVEL"),
		Format:    firstEnv("GROUNDTRACK_LOG_FORMAT", "LOG_FORMAT"),
		AddSource: true,
	})
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

type slogger struct {
	l *slog.Logger
}

func (s *slogger) log(ctx context.Context, lvl slog.Level, msg string, fields []Field) {
	if !s.l.Enabled(ctx, lvl) {
		return
	}
	s.l.LogAttrs(ctx, lvl, msg, attrs(fields)...)
}

func (s *slogger) Debug(ctx context.Context, msg string, f ...Field) { s.log(ctx, slog.LevelDebug, msg, f) }
func (s *slogger) Info(ctx context.Context, msg string, f ...Field)  { s.log(ctx, slog.LevelInfo, msg, f) }
func (s *slogger) Warn(ctx context.Context, msg string, f ...Field)  { s.log(ctx, slog.LevelWarn, msg, f) }
func (s *slogger) Error(ctx context.Context, msg string, f ...Field) { s.log(ctx, slog.LevelError, msg, f) }

func (s *slogger) With(fields ...Field) Logger {
	args := make([]any, 0, len(fields))
	for _, a := range attrs(fields) {
		args = append(args, a)
	}
	return &slogger{l: s.l.With(args...)}
}

func attrs(fields []Field) []slog.Attr {
	out := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		if g, ok := f.Value.(group); ok {
			out = append(out, slog.Attr{Key: f.Key, Value: slog.GroupValue(attrs(g)...)})
			continue
		}
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

// Noop returns a logger that drops everything.
func Noop() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) With(...Field) Logger                    { return noopLogger{} }
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	loggerKey
)

// EnsureRequestID returns ctx carrying a request id, generating a UUID when
// none is present.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := "unknown"
	if u, err := uuid.NewRandom(); err == nil {
		id = u.String()
	}
	return ContextWithRequestID(ctx, id), id
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithRequestLogger ensures ctx has a request id and returns base annotated
// with it.
func WithRequestLogger(ctx context.Context, base Logger) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	ctx, id := EnsureRequestID(ctx)
	return ctx, base.With(String("request_id", id))
}

func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	if l == nil {
		l = Noop()
	}
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromContext returns the logger stored by ContextWithLogger, or nil.
func LoggerFromContext(ctx context.Context) Logger {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(loggerKey).(Logger)
	return l
}
