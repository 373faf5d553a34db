package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// LogLevel selects the minimum severity a logger emits
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var slogLevels = map[LogLevel]slog.Level{
	DebugLevel: slog.LevelDebug,
	InfoLevel:  slog.LevelInfo,
	WarnLevel:  slog.LevelWarn,
	ErrorLevel: slog.LevelError,
}

// Logger emits structured JSON records. Loggers are immutable: the With
// methods return derived loggers and never touch the receiver, so one
// logger can be shared across goroutines.
type Logger struct {
	s *slog.Logger
}

// NewLogger builds a JSON logger writing to output at the given minimum
// level. A nil output falls back to stdout.
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	lvl, ok := slogLevels[level]
	if !ok {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: lvl})
	return &Logger{s: slog.New(handler)}
}

// WithField returns a logger that stamps every record with key=value
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{s: l.s.With(key, value)}
}

// WithFields returns a logger stamping every record with all given fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	attrs := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return &Logger{s: l.s.With(attrs...)}
}

// WithError returns a logger carrying err under the "error" field. A nil
// error returns the receiver unchanged.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{s: l.s.With("error", err.Error())}
}

func (l *Logger) Debug(msg string) { l.s.Debug(msg) }
func (l *Logger) Info(msg string)  { l.s.Info(msg) }
func (l *Logger) Warn(msg string)  { l.s.Warn(msg) }
func (l *Logger) Error(msg string) { l.s.Error(msg) }

// Request identity travels on the context so any layer can annotate its
// log records without threading a logger through every call.
type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyPrincipal
	ctxKeyLogger
)

// WithRequestID stores the request correlation id on the context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// GetRequestID returns the request correlation id, or ""
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// WithPrincipal stores the authenticated principal URN on the context
func WithPrincipal(ctx context.Context, urn string) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, urn)
}

// GetPrincipal returns the authenticated principal URN, or ""
func GetPrincipal(ctx context.Context) string {
	urn, _ := ctx.Value(ctxKeyPrincipal).(string)
	return urn
}

// WithLogger stores the request logger on the context
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// GetLogger returns the context logger, or a default stdout logger
func GetLogger(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(ctxKeyLogger).(*Logger); ok {
		return logger
	}
	return NewLogger(InfoLevel, nil)
}

// FromContext returns the context logger annotated with whatever request
// identity the context carries
func FromContext(ctx context.Context) *Logger {
	logger := GetLogger(ctx)
	if id := GetRequestID(ctx); id != "" {
		logger = logger.WithField("request_id", id)
	}
	if urn := GetPrincipal(ctx); urn != "" {
		logger = logger.WithField("principal", urn)
	}
	return logger
}
