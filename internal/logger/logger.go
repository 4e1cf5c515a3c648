package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures the structured logger.
type Options struct {
	ServiceName string
	Level       zerolog.Level
	// Format is "json" (default) or "console".
	Format string
	Output io.Writer
}

type Logger struct {
	base zerolog.Logger
}

type ctxKey struct{}

func New(opts Options) *Logger {
	if opts.Level == zerolog.NoLevel {
		opts.Level = zerolog.InfoLevel
	}

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}
	if strings.EqualFold(strings.TrimSpace(opts.Format), "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: "15:04:05"}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	base := zerolog.New(output).
		With().
		Timestamp().
		Str("service", opts.ServiceName).
		Logger().
		Level(opts.Level)

	return &Logger{base: base}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{base: zerolog.Nop()}
}

func ParseLevel(value string) zerolog.Level {
	levelString := strings.ToLower(strings.TrimSpace(value))
	if levelString == "" {
		return zerolog.InfoLevel
	}
	if lvl, err := zerolog.ParseLevel(levelString); err == nil && lvl != zerolog.NoLevel {
		return lvl
	}
	return zerolog.InfoLevel
}

func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if entry, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return entry
		}
	}
	return &l.base
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.WithFields(ctx, map[string]any{key: value})
}

// WithFields returns a context whose log lines carry the given fields.
func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	if l == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	entry := l.from(ctx).With().Fields(fields).Logger()
	return context.WithValue(ctx, ctxKey{}, &entry)
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, "request_id", requestID)
}

func (l *Logger) WithActor(ctx context.Context, username string, role string) context.Context {
	return l.WithFields(ctx, map[string]any{"actor": username, "actor_role": role})
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]any) {
	if l == nil {
		return
	}
	withFields(l.from(ctx).Debug(), fields).Msg(msg)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]any) {
	if l == nil {
		return
	}
	withFields(l.from(ctx).Info(), fields).Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string, err error) {
	if l == nil {
		return
	}
	event := l.from(ctx).Warn()
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, err error) {
	if l == nil {
		return
	}
	event := l.from(ctx).Error()
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(msg)
}

func withFields(event *zerolog.Event, fields []map[string]any) *zerolog.Event {
	for _, f := range fields {
		event = event.Fields(f)
	}
	return event
}
