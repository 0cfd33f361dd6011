// Package log configures the process-wide slog logger.
//
// Records go to a rotating JSON file; with debug enabled they are also
// written in human-readable form to stderr. Nothing is ever logged to
// stdout, which belongs to the launched process.
package log

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"

	charmlog "charm.land/log/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	initOnce sync.Once
	closer   io.Closer
)

// Setup installs the default logger. Only the first call has an effect.
func Setup(logFile string, debug bool) {
	initOnce.Do(func() {
		level := slog.LevelInfo
		if debug {
			level = slog.LevelDebug
		}

		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
			Compress:   false,
		}
		closer = rotator

		handlers := []slog.Handler{
			slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: level}),
		}
		if debug {
			handlers = append(handlers, newConsoleHandler(os.Stderr))
		}

		slog.SetDefault(slog.New(fanout(handlers)))
	})
}

// Close flushes and closes the log file.
func Close() error {
	if closer == nil {
		return nil
	}
	return closer.Close()
}

func newConsoleHandler(w io.Writer) *charmlog.Logger {
	return charmlog.NewWithOptions(w, charmlog.Options{
		Level:           charmlog.DebugLevel,
		ReportTimestamp: true,
		Prefix:          "hsml-launch",
	})
}

// fanout sends every record to all handlers that accept its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
