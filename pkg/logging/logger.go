package logging

import (
	"context"
	"io"
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

// ParseLevel maps a configuration string to a LogLevel, defaulting to info
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

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID returns a context carrying the request id logged with every entry
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request id from ctx, if any
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// StructuredLogger provides structured JSON logging with context
type StructuredLogger struct {
	z *zap.Logger
}

// NewStructuredLogger creates a new structured logger writing JSON to stdout
func NewStructuredLogger(service, version string, level LogLevel) *StructuredLogger {
	return New(os.Stdout, service, version, level)
}

// New creates a structured logger writing JSON entries to w
func New(w io.Writer, service, version string, level LogLevel) *StructuredLogger {
	hostname, _ := os.Hostname()

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.MessageKey = "message"
	encoderConfig.StacktraceKey = "stack_trace"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(w), level.zapLevel())

	z := zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(2),
		zap.AddStacktrace(zapcore.FatalLevel),
	).With(
		zap.String("service", service),
		zap.String("version", version),
		zap.String("hostname", hostname),
	)

	return &StructuredLogger{z: z}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *StructuredLogger {
	return &StructuredLogger{z: zap.NewNop()}
}

// Sync flushes buffered entries
func (l *StructuredLogger) Sync() error {
	return l.z.Sync()
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
	ce := l.z.Check(level.zapLevel(), message)
	if ce == nil {
		return
	}

	zfields := make([]zap.Field, 0, len(fields)+2)
	if requestID := RequestID(ctx); requestID != "" {
		zfields = append(zfields, zap.String("request_id", requestID))
	}
	if len(fields) > 0 {
		zfields = append(zfields, zap.Object("fields", fields))
	}
	if err != nil {
		zfields = append(zfields, zap.Error(err))
	}

	ce.Write(zfields...)
}

// MarshalLogObject writes the fields in key order
func (f Fields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := enc.AddReflected(k, f[k]); err != nil {
			enc.AddString(k, "<unencodable>")
		}
	}
	return nil
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
	c.logger.log(ctx, DebugLevel, message, c.mergeFields(fields), nil)
}

// Info logs an info message with context fields
func (c *ContextLogger) Info(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, InfoLevel, message, c.mergeFields(fields), nil)
}

// Warn logs a warning message with context fields
func (c *ContextLogger) Warn(ctx context.Context, message string, fields Fields) {
	c.logger.log(ctx, WarnLevel, message, c.mergeFields(fields), nil)
}

// Error logs an error message with context fields
func (c *ContextLogger) Error(ctx context.Context, message string, fields Fields, err error) {
	c.logger.log(ctx, ErrorLevel, message, c.mergeFields(fields), err)
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
