package logger

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// NullLogger discards everything. Library callers that pass no logger get it.
type NullLogger struct {
	level LogLevel
}

// NewNullLogger creates a new null logger
func NewNullLogger() *NullLogger {
	return &NullLogger{level: LogLevelNone}
}

func (n *NullLogger) Debug(format string, args ...any) {}
func (n *NullLogger) Info(format string, args ...any)  {}
func (n *NullLogger) Warn(format string, args ...any)  {}
func (n *NullLogger) Error(format string, args ...any) {}

func (n *NullLogger) SetLevel(level LogLevel) { n.level = level }
func (n *NullLogger) GetLevel() LogLevel      { return n.level }
func (n *NullLogger) SetOutput(w io.Writer)   {}

// Entry is one line captured by a Recorder.
type Entry struct {
	Level   LogLevel
	Message string
}

// Recorder keeps formatted entries in memory so callers can assert on what
// was logged, e.g. relaxed-policy skips.
type Recorder struct {
	mu      sync.Mutex
	level   LogLevel
	entries []Entry
}

// NewRecorder records every level.
func NewRecorder() *Recorder {
	return &Recorder{level: LogLevelDebug}
}

func (r *Recorder) log(level LogLevel, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level > r.level {
		return
	}
	r.entries = append(r.entries, Entry{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (r *Recorder) Debug(format string, args ...any) { r.log(LogLevelDebug, format, args...) }
func (r *Recorder) Info(format string, args ...any)  { r.log(LogLevelInfo, format, args...) }
func (r *Recorder) Warn(format string, args ...any)  { r.log(LogLevelWarn, format, args...) }
func (r *Recorder) Error(format string, args ...any) { r.log(LogLevelError, format, args...) }

func (r *Recorder) SetLevel(level LogLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.level = level
}

func (r *Recorder) GetLevel() LogLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

func (r *Recorder) SetOutput(w io.Writer) {}

// Entries returns a copy of the captured entries.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Lines returns the messages logged at level, in order.
func (r *Recorder) Lines(level LogLevel) []string {
	var out []string
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// Contains reports whether any message contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, e := range r.Entries() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
