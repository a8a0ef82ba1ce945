package logger

import (
	"io"
	"sync"
)

// Global logger used by leaf packages that are not handed a Logger
var (
	globalLogger Logger = NewNullLogger()
	globalMu     sync.RWMutex
)

// SetGlobalLogger sets the global logger
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the global logger
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Setup builds the command-line logger at the named level, writing to w,
// and installs it as the global logger.
func Setup(name, level string, w io.Writer) (*DefaultLogger, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	l := NewDefaultLogger(name)
	if w != nil {
		l.SetOutput(w)
	}
	l.SetLevel(lvl)
	SetGlobalLogger(l)
	return l, nil
}

// Debug logs through the global logger
func Debug(format string, args ...any) {
	GetGlobalLogger().Debug(format, args...)
}

// Info logs through the global logger
func Info(format string, args ...any) {
	GetGlobalLogger().Info(format, args...)
}

// Warn logs through the global logger
func Warn(format string, args ...any) {
	GetGlobalLogger().Warn(format, args...)
}

// Error logs through the global logger
func Error(format string, args ...any) {
	GetGlobalLogger().Error(format, args...)
}
