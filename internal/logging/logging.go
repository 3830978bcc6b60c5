package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

// Convenience helpers for common field types.
func String(key, value string) Field                 { return Field{Key: key, Value: value} }
func Int(key string, value int) Field                { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field            { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field          { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field        { return Field{Key: key, Value: value} }
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }
func Any(key string, value any) Field                { return Field{Key: key, Value: value} }

// Err attaches an error under the "error" key.
func Err(err error) Field { return Field{Key: "error", Value: err} }

// Logger is a small structured logging interface. The simulation depends on
// it rather than on zap directly so tests can swap in Noop or an observer.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config controls basic logger behaviour.
type Config struct {
	Level     string `toml:"level"`      // debug, info, warn, error
	Format    string `toml:"format"`     // json or console
	AddSource bool   `toml:"add_source"` // include caller locations
}

// New constructs a zap-backed Logger from cfg. If zap cannot build the config
// the logger falls back to zap.NewExample.
func New(cfg Config) Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil || cfg.Level == "" {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if strings.EqualFold(cfg.Format, "json") {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.DisableCaller = !cfg.AddSource
	zapCfg.OutputPaths = []string{"stdout"}

	zl, err := zapCfg.Build()
	if err != nil {
		zl = zap.NewExample()
	}
	return NewZap(zl)
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment
// variables, defaulting to a console encoder at info level.
func NewFromEnv() Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		AddSource: true,
	})
}

// NewZap adapts an existing zap logger.
func NewZap(l *zap.Logger) Logger {
	if l == nil {
		return Noop()
	}
	return &zlogger{l: l.WithOptions(zap.AddCallerSkip(1))}
}

// Noop returns a logger that drops all logs.
func Noop() Logger { return noopLogger{} }

type zlogger struct {
	l *zap.Logger
}

func (z *zlogger) With(fields ...Field) Logger {
	return &zlogger{l: z.l.With(toZap(context.Background(), fields)...)}
}

func (z *zlogger) Debug(ctx context.Context, msg string, fields ...Field) {
	z.l.Debug(msg, toZap(ctx, fields)...)
}

func (z *zlogger) Info(ctx context.Context, msg string, fields ...Field) {
	z.l.Info(msg, toZap(ctx, fields)...)
}

func (z *zlogger) Warn(ctx context.Context, msg string, fields ...Field) {
	z.l.Warn(msg, toZap(ctx, fields)...)
}

func (z *zlogger) Error(ctx context.Context, msg string, fields ...Field) {
	z.l.Error(msg, toZap(ctx, fields)...)
}

type noopLogger struct{}

func (noopLogger) With(fields ...Field) Logger             { return noopLogger{} }
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}

// toZap converts fields and appends the context's request_id when the fields
// do not already carry one.
func toZap(ctx context.Context, fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	hasID := false
	for _, f := range fields {
		if f.Key == "request_id" {
			hasID = true
		}
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	if !hasID {
		if id := RequestIDFromContext(ctx); id != "" {
			out = append(out, zap.String("request_id", id))
		}
	}
	return out
}

// ---- Request-scoped helpers ----

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	loggerKey    ctxKey = "logger"
)

// EnsureRequestID attaches a request_id to the context if absent and returns
// the updated context plus the ID.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := newRequestID()
	return ContextWithRequestID(ctx, id), id
}

// ContextWithRequestID stores request_id in context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts request_id from context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestLogger ensures a request_id exists, and returns the updated
// context alongside a logger annotated with that ID.
func WithRequestLogger(ctx context.Context, base Logger) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	ctx, id := EnsureRequestID(ctx)
	return ctx, base.With(String("request_id", id))
}

// ContextWithLogger stores a logger on the context.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	if l == nil {
		l = Noop()
	}
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromContext fetches a logger from context if present; otherwise it
// returns nil.
func LoggerFromContext(ctx context.Context) Logger {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(loggerKey).(Logger); ok {
		return v
	}
	return nil
}

func newRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
