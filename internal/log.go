package internal

import (
	"context"
	"log/slog"
)

// LevelTrace sits below debug and carries per segment events.
const LevelTrace slog.Level = slog.LevelDebug - 2

// LogEnabled reports whether l logs at lvl. A nil l logs nothing.
func LogEnabled(l *slog.Logger, lvl slog.Level) bool {
	return l != nil && l.Enabled(context.Background(), lvl)
}

// LogAttrs logs msg through l when it is enabled for level. Every package
// logger calls it. Calls on the packet path must not allocate when logging is off.
func LogAttrs(l *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if LogEnabled(l, level) {
		l.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
