package internal

import (
	"context"
	"log/slog"
)

// LevelTrace is a custom slog level below Debug, used for the very
// high frequency per-packet bookkeeping messages emitted by the
// protocol state machine.
const LevelTrace slog.Level = slog.LevelDebug - 2

// LogEnabled reports whether l would emit a record at lvl. A nil logger
// is never enabled, matching the zero value of Protocol being usable
// without a configured logger.
func LogEnabled(l *slog.Logger, lvl slog.Level) bool {
	return l != nil && l.Handler().Enabled(context.Background(), lvl)
}

// LogAttrs is a thin wrapper shared by every package logger embedding so
// that a nil *slog.Logger is a silent no-op instead of a nil pointer panic.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if l != nil {
		l.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
