package logger

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultLogger writes human readable lines through zap
type DefaultLogger struct {
	mu     sync.RWMutex
	level  LogLevel
	atom   zap.AtomicLevel
	sugar  *zap.SugaredLogger
	prefix string
}

// NewDefaultLogger creates a new default logger writing to stdout
func NewDefaultLogger(prefix string) *DefaultLogger {
	l := &DefaultLogger{
		level:  LogLevelInfo,
		atom:   zap.NewAtomicLevelAt(LogLevelInfo.zapLevel()),
		prefix: prefix,
	}
	l.build(os.Stdout)
	return l
}

func (l *DefaultLogger) build(w io.Writer) {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = "time"
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if w != os.Stdout && w != os.Stderr {
		enc.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), l.atom)
	z := zap.New(core)
	if l.prefix != "" {
		z = z.Named(l.prefix)
	}
	l.sugar = z.Sugar()
}

// SetLevel sets the logging level
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.atom.SetLevel(level.zapLevel())
}

// GetLevel returns the current logging level
func (l *DefaultLogger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// SetOutput sets the output writer
func (l *DefaultLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.build(w)
}

func (l *DefaultLogger) logger() *zap.SugaredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sugar
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(format string, args ...any) {
	l.logger().Debugf(format, args...)
}

// Info logs an info message
func (l *DefaultLogger) Info(format string, args ...any) {
	l.logger().Infof(format, args...)
}

// Warn logs a warning message
func (l *DefaultLogger) Warn(format string, args ...any) {
	l.logger().Warnf(format, args...)
}

// Error logs an error message
func (l *DefaultLogger) Error(format string, args ...any) {
	l.logger().Errorf(format, args...)
}

// Sync flushes buffered entries
func (l *DefaultLogger) Sync() error {
	return l.logger().Sync()
}
