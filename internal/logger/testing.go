package logger

import (
	"io"
	"log/slog"
	"time"
)

// NewSlogLogger returns a Logger writing text lines to w at the given level.
// Intended for tests and one-shot CLI commands.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if tz == nil {
		tz = time.UTC
	}
	lvl := parseSlogLevel(level)
	return &moduleLogger{
		logger: slog.New(newTextHandler(w, lvl, tz)),
		level:  lvl,
	}
}

// NewDiscard returns a Logger that drops everything.
func NewDiscard() Logger {
	return NewSlogLogger(io.Discard, LogLevelError, time.UTC)
}
