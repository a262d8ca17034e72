// Package logging builds the run's structured logger: a slog.Logger
// writing JSON lines to stderr and, when a path is configured, to a rotated
// file (gopkg.in/natefinch/lumberjack.v2). Both outputs receive the same
// records at the same level.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the rotated log file.
type Options struct {
	Path       string // empty disables file logging; stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Level      slog.Level
}

// DefaultOptions returns sensible log-rotation defaults for a run writing
// to path.
func DefaultOptions(path string) Options {
	return Options{
		Path:       path,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Level:      slog.LevelInfo,
	}
}

// New builds the run's root logger. Every record goes to stderr; when
// opts.Path is set, every record also goes to the rotated file so a long
// run's full history survives terminal scrollback.
func New(opts Options) *slog.Logger {
	var w io.Writer = os.Stderr
	if opts.Path != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, fileWriter)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level})
	return slog.New(handler)
}
