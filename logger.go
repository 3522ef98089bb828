package mux

import "log/slog"

// Logger is the interface for structured logging.
// It is designed to be compatible with *slog.Logger from the standard library.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func defaultLogger() Logger {
	return slog.Default()
}

// messageAttrs returns the key/value pairs identifying m in log lines.
func messageAttrs(m Message) []any {
	return []any{"type", TypeName(m.Type()), "tag", m.FrameTag()}
}
