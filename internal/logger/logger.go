package logger

import (
	"context"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	apperrors "github.com/booksapi/booksapi/internal/errors"
)

// Level represents the log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel maps a level name to a Level, defaulting to info.
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

// Logger provides structured JSON logging on top of zerolog.
type Logger struct {
	base      zerolog.Logger
	zl        zerolog.Logger
	component string
	redactor  *Redactor
}

var defaultLogger = New(os.Stdout, LevelInfo, "")

// New creates a new logger
func New(output io.Writer, level Level, component string) *Logger {
	base := zerolog.New(output).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{
		base:      base,
		zl:        withComponent(base, component),
		component: component,
		redactor:  DefaultRedactor(),
	}
}

func withComponent(base zerolog.Logger, component string) zerolog.Logger {
	if component == "" {
		return base
	}
	return base.With().Str("component", component).Logger()
}

func SetDefault(l *Logger) {
	defaultLogger = l
}

func Default() *Logger {
	return defaultLogger
}

// WithComponent creates a new logger with the specified component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		base:      l.base,
		zl:        withComponent(l.base, component),
		component: component,
		redactor:  l.redactor,
	}
}

func (l *Logger) write(ctx context.Context, e *zerolog.Event, msg string, fields map[string]interface{}) {
	if e == nil {
		return
	}
	if requestID := apperrors.GetRequestID(ctx); requestID != "" {
		e = e.Str("request_id", requestID)
	}
	if len(fields) > 0 {
		e = e.Fields(l.redactor.RedactFields(fields))
	}
	e.Msg(l.redactor.Redact(msg))
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(ctx, l.zl.Debug(), msg, firstFields(fields))
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(ctx, l.zl.Info(), msg, firstFields(fields))
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.write(ctx, l.zl.Warn(), msg, firstFields(fields))
}

// Error logs at error level; AppError code and category are attached when err
// is one.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	e := l.zl.Error()
	if e == nil {
		return
	}
	if err != nil {
		e = e.Str(zerolog.ErrorFieldName, l.redactor.Redact(err.Error()))
		if appErr, ok := err.(*apperrors.AppError); ok {
			e = e.Str("error_code", appErr.Code).Str("error_category", string(appErr.Category))
		}
	}
	l.write(ctx, e, msg, firstFields(fields))
}

// Package-level convenience functions

func Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	defaultLogger.Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	defaultLogger.Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	defaultLogger.Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	defaultLogger.Error(ctx, msg, err, fields...)
}

// Redactor scrubs credentials from log fields and messages.
type Redactor struct {
	sensitiveKeys []string
	patterns      []*regexp.Regexp
}

const redacted = "[REDACTED]"

// DefaultRedactor hides password/token/secret style keys and anything that
// looks like a JWT or a bearer credential.
func DefaultRedactor() *Redactor {
	return &Redactor{
		sensitiveKeys: []string{"password", "token", "secret", "authorization", "cookie"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`),
			regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`),
		},
	}
}

func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

func (r *Redactor) RedactFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if r.isSensitive(k) {
			out[k] = redacted
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = r.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

func (r *Redactor) isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range r.sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
