// Package logger provides structured logging with PII redaction for the
// compliance gate. It wraps a zap SugaredLogger and keeps the key/value call
// style used throughout the services: logger.Info("msg", "key", value, ...).
package logger

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures a Logger.
type Options struct {
	Level       string // debug, info, warn, error
	Format      string // json or console
	ServiceName string
	RedactPII   bool
}

// Logger emits structured entries with optional PII redaction.
type Logger struct {
	sugar     *zap.SugaredLogger
	redactPII bool
}

var (
	mu            sync.RWMutex
	defaultLogger = mustDefault()
)

func mustDefault() *Logger {
	l, err := New(Options{Level: "info", Format: "json", RedactPII: true})
	if err != nil {
		return &Logger{sugar: zap.NewNop().Sugar(), redactPII: true}
	}
	return l
}

// New builds a zap-backed Logger.
func New(opts Options) (*Logger, error) {
	var cfg zap.Config
	if opts.Format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(opts.Level))

	base, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if opts.ServiceName != "" {
		base = base.With(zap.String("service_name", opts.ServiceName))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		base = base.With(zap.String("hostname", hostname))
	}
	return &Logger{sugar: base.Sugar(), redactPII: opts.RedactPII}, nil
}

// NewNop returns a Logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// FromZap wraps an existing zap logger (e.g. zaptest/observer in tests).
func FromZap(z *zap.Logger, redactPII bool) *Logger {
	return &Logger{sugar: z.WithOptions(zap.AddCallerSkip(2)).Sugar(), redactPII: redactPII}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetDefault replaces the package-level logger.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Default returns the package-level logger.
func Default() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Sync flushes buffered entries.
func Sync() { _ = Default().sugar.Sync() }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { Default().log(zapcore.DebugLevel, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { Default().log(zapcore.InfoLevel, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { Default().log(zapcore.WarnLevel, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { Default().log(zapcore.ErrorLevel, msg, fields...) }

// Debug emits a DEBUG-level entry on l.
func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(zapcore.DebugLevel, msg, fields...) }

// Info emits an INFO-level entry on l.
func (l *Logger) Info(msg string, fields ...interface{}) { l.log(zapcore.InfoLevel, msg, fields...) }

// Warn emits a WARN-level entry on l.
func (l *Logger) Warn(msg string, fields ...interface{}) { l.log(zapcore.WarnLevel, msg, fields...) }

// Error emits an ERROR-level entry on l.
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(zapcore.ErrorLevel, msg, fields...) }

func (l *Logger) log(level zapcore.Level, msg string, fields ...interface{}) {
	kv := make([]interface{}, 0, len(fields))
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fields[i+1]
		if err, ok := val.(error); ok && err != nil {
			val = err.Error()
		}
		if l.redactPII {
			if s, ok := val.(string); ok {
				val = redactPIIValue(key, s)
			}
		}
		kv = append(kv, key, val)
	}

	switch level {
	case zapcore.DebugLevel:
		l.sugar.Debugw(msg, kv...)
	case zapcore.WarnLevel:
		l.sugar.Warnw(msg, kv...)
	case zapcore.ErrorLevel:
		l.sugar.Errorw(msg, kv...)
	default:
		l.sugar.Infow(msg, kv...)
	}
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") {
		return RedactEmail(val)
	}
	if strings.Contains(key, "phone") {
		return RedactPhone(val)
	}
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
