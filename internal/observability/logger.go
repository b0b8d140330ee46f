// Package observability provides structured logging for the assistant.
package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger is a thin zerolog wrapper carrying request and session fields.
type Logger struct {
	zl zerolog.Logger
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level       string
	Format      string // json or console
	Output      io.Writer
	ServiceName string
}

// NewLogger creates a Logger from cfg.
func NewLogger(cfg LogConfig) *Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	// Set output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Set format
	var zl zerolog.Logger
	if strings.EqualFold(cfg.Format, "console") {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.Kitchen})
	} else {
		zl = zerolog.New(output)
	}

	// Set log level
	zl = zl.Level(parseLevel(cfg.Level)).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()

	return &Logger{zl: zl}
}

// DefaultLogger returns a console logger at debug level.
func DefaultLogger() *Logger {
	return NewLogger(LogConfig{
		Level:       "debug",
		Format:      "console",
		ServiceName: "ingres-assistant",
	})
}

// NopLogger discards everything. Used by tests.
func NopLogger() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Zerolog exposes the underlying logger for libraries that want one.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

func (l *Logger) Debug() *LogEvent { return &LogEvent{evt: l.zl.Debug()} }
func (l *Logger) Info() *LogEvent  { return &LogEvent{evt: l.zl.Info()} }
func (l *Logger) Warn() *LogEvent  { return &LogEvent{evt: l.zl.Warn()} }
func (l *Logger) Error() *LogEvent { return &LogEvent{evt: l.zl.Error()} }
func (l *Logger) Fatal() *LogEvent { return &LogEvent{evt: l.zl.Fatal()} }

// WithContext attaches the request id and session id found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	c := l.zl.With()
	changed := false
	if id := RequestIDFromContext(ctx); id != "" {
		c = c.Str("request_id", id)
		changed = true
	}
	if id := SessionIDFromContext(ctx); id != "" {
		c = c.Str("session_id", id)
		changed = true
	}
	if !changed {
		return l
	}
	return &Logger{zl: c.Logger()}
}

// WithOperation tags every event with the component or operation name.
func (l *Logger) WithOperation(op string) *Logger {
	return &Logger{zl: l.zl.With().Str("operation", op).Logger()}
}

// WithField adds a single string field.
func (l *Logger) WithField(key, val string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, val).Logger()}
}

// LogEvent is a log line under construction.
type LogEvent struct {
	evt *zerolog.Event
}

func (e *LogEvent) Str(key, val string) *LogEvent {
	e.evt = e.evt.Str(key, val)
	return e
}

func (e *LogEvent) Strs(key string, val []string) *LogEvent {
	e.evt = e.evt.Strs(key, val)
	return e
}

func (e *LogEvent) Int(key string, val int) *LogEvent {
	e.evt = e.evt.Int(key, val)
	return e
}

func (e *LogEvent) Float64(key string, val float64) *LogEvent {
	e.evt = e.evt.Float64(key, val)
	return e
}

func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	e.evt = e.evt.Bool(key, val)
	return e
}

func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	e.evt = e.evt.Dur(key, val)
	return e
}

func (e *LogEvent) Err(err error) *LogEvent {
	e.evt = e.evt.Err(err)
	return e
}

func (e *LogEvent) Interface(key string, val any) *LogEvent {
	e.evt = e.evt.Interface(key, val)
	return e
}

// Msg sends the event.
func (e *LogEvent) Msg(msg string) {
	e.evt.Msg(msg)
}

// Msgf sends the event with a formatted message.
func (e *LogEvent) Msgf(format string, args ...any) {
	e.evt.Msgf(format, args...)
}

func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return zerolog.WarnLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionIDKey contextKey = "session_id"
)

// ContextWithRequestID stores a request id in ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id stored in ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}

// ContextWithSessionID stores a chat session id in ctx.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext returns the session id stored in ctx, if any.
func SessionIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(sessionIDKey).(string)
	return s
}
