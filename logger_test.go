package mux

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_Interface(t *testing.T) {
	// Verify that *slog.Logger implements our Logger interface
	var _ Logger = slog.Default()
}

func TestDefaultLogger(t *testing.T) {
	assert.Equal(t, Logger(slog.Default()), defaultLogger())
}

// mockLogger records log lines. Conn logs from several goroutines.
type mockLogger struct {
	mu    sync.Mutex
	lines []logLine
}

type logLine struct {
	level string
	msg   string
	args  []any
}

func (l *mockLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, logLine{level: level, msg: msg, args: args})
}

func (l *mockLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *mockLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *mockLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *mockLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

func (l *mockLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if line.level == level && line.msg == msg {
			return true
		}
	}
	return false
}

func TestLogger_CustomImplementation(t *testing.T) {
	mock := &mockLogger{}
	var logger Logger = mock

	logger.Debug("test debug", "key1", "value1")
	logger.Info("test info", "key2", "value2")
	logger.Warn("test warn", "key3", "value3")
	logger.Error("test error", "key4", "value4")

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.True(t, mock.has(level, "test "+level), level)
	}
}

func TestMessageAttrs(t *testing.T) {
	attrs := messageAttrs(Tdiscarded{Which: 9, Why: "gone"})
	assert.Equal(t, []any{"type", "Tdiscarded", "tag", MarkerTag}, attrs)
}
