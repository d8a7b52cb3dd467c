package logging

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a level, defaulting to info
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	case "fatal":
		return FatalLevel
	default:
		return InfoLevel
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Fields represents structured log fields
type Fields map[string]interface{}

// StructuredLogger provides structured JSON logging on top of zap
type StructuredLogger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
}

// NewStructuredLogger creates a new structured logger writing to stdout.
// Debug level switches to zap's development encoder.
func NewStructuredLogger(service, version string, level LogLevel) *StructuredLogger {
	var config zap.Config
	if level == DebugLevel {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.OutputPaths = []string{"stdout"}
	config.Level = zap.NewAtomicLevelAt(level.zapLevel())

	zl, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		panic(err)
	}

	hostname, _ := os.Hostname()
	zl = zl.Named(service).With(
		zap.String("service", service),
		zap.String("version", version),
		zap.String("hostname", hostname),
	)

	return &StructuredLogger{zl: zl, level: config.Level}
}

// NewNopLogger returns a logger that discards everything, for tests
func NewNopLogger() *StructuredLogger {
	return &StructuredLogger{zl: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// NewFromZap wraps an existing zap logger
func NewFromZap(zl *zap.Logger) *StructuredLogger {
	return &StructuredLogger{zl: zl.WithOptions(zap.AddCallerSkip(2)), level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// SetLevel sets the minimum log level
func (l *StructuredLogger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
}

// Enabled reports whether messages at level would be written
func (l *StructuredLogger) Enabled(level LogLevel) bool {
	return l.zl.Core().Enabled(level.zapLevel())
}

// Zap exposes the underlying zap logger
func (l *StructuredLogger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes buffered log entries
func (l *StructuredLogger) Sync() error {
	return l.zl.Sync()
}

// Debug logs a debug message with structured fields
func (l *StructuredLogger) Debug(ctx context.Context, message string, fields Fields) {
	l.log(ctx, DebugLevel, message, fields, nil)
}

// Info logs an info message with structured fields
func (l *StructuredLogger) Info(ctx context.Context, message string, fields Fields) {
	l.log(ctx, InfoLevel, message, fields, nil)
}

// Warn logs a warning message with structured fields
func (l *StructuredLogger) Warn(ctx context.Context, message string, fields Fields) {
	l.log(ctx, WarnLevel, message, fields, nil)
}

// Error logs an error message with structured fields and error details
func (l *StructuredLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, ErrorLevel, message, fields, err)
}

// Fatal logs a fatal message and exits the program
func (l *StructuredLogger) Fatal(ctx context.Context, message string, fields Fields, err error) {
	l.log(ctx, FatalLevel, message, fields, err)
}

func (l *StructuredLogger) log(ctx context.Context, level LogLevel, message string, fields Fields, err error) {
	if !l.zl.Core().Enabled(level.zapLevel()) {
		return
	}

	zf := make([]zap.Field, 0, len(fields)+2)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}

	if ctx != nil {
		if runID, ok := ctx.Value(runIDKey{}).(string); ok {
			zf = append(zf, zap.String("run_id", runID))
		}
	}

	if err != nil {
		zf = append(zf, zap.Error(err))
	}

	switch level {
	case DebugLevel:
		l.zl.Debug(message, zf...)
	case InfoLevel:
		l.zl.Info(message, zf...)
	case WarnLevel:
		l.zl.Warn(message, zf...)
	case ErrorLevel:
		l.zl.Error(message, zf...)
	case FatalLevel:
		l.zl.Fatal(message, zf...)
	}
}

// WithFields creates a new logger with additional fields
func (l *StructuredLogger) WithFields(fields Fields) *ContextLogger {
	return &ContextLogger{
		logger: l,
		fields: fields,
	}
}

// ContextLogger wraps StructuredLogger with additional context fields
type ContextLogger struct {
	logger *StructuredLogger
	fields Fields
}

// Debug logs a debug message with context fields
func (c *ContextLogger) Debug(ctx context.Context, message string, fields Fields) {
	c.logger.Debug(ctx, message, c.mergeFields(fields))
}

// Info logs an info message with context fields
func (c *ContextLogger) Info(ctx context.Context, message string, fields Fields) {
	c.logger.Info(ctx, message, c.mergeFields(fields))
}

// Warn logs a warning message with context fields
func (c *ContextLogger) Warn(ctx context.Context, message string, fields Fields) {
	c.logger.Warn(ctx, message, c.mergeFields(fields))
}

// Error logs an error message with context fields
func (c *ContextLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	c.logger.Error(ctx, message, c.mergeFields(fields), err)
}

// mergeFields merges context fields with provided fields
func (c *ContextLogger) mergeFields(fields Fields) Fields {
	merged := make(Fields, len(c.fields)+len(fields))
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}

type runIDKey struct{}

// WithRunID returns a copy of ctx carrying the benchmark run id,
// which every log line written with that context will include.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

type loggerKey struct{}

// WithLogger returns a copy of parent context in which the
// value associated with logger key is the supplied logger.
func WithLogger(ctx context.Context, logger *StructuredLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger in the context, or a no-op logger
func FromContext(ctx context.Context) *StructuredLogger {
	if logger, ok := ctx.Value(loggerKey{}).(*StructuredLogger); ok {
		return logger
	}
	return NewNopLogger()
}
