// Package logger provides the diagnostic-stream output: informational
// lines naming failing segments, suppressed by the "quiet" option. It
// keeps a slog-based Init/Debug/Info/Warn/Error shape, trimmed of
// daemon-specific log-file rotation and UI broadcast machinery a
// one-shot transfer CLI has no use for.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Log is the package-level logger set up by Init.
var Log *slog.Logger

func init() {
	Log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Init (re)configures the global logger. levelStr is one of
// DEBUG/INFO/WARN/ERROR (case-insensitive, default INFO). quiet
// suppresses INFO-and-below, leaving only warnings and errors -- the
// engine's own fault reporting is always at WARN or above so it survives
// quiet mode.
func Init(levelStr string, quiet bool) {
	level := parseLevel(levelStr)
	if quiet && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	Log = slog.New(handler)
	slog.SetDefault(Log)
}

func parseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }

// Fatal logs at ERROR and exits the process with a non-zero status.
func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}
