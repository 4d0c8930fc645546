// Package logging configures the process-wide slog default for the CLI.
//
// The engine itself logs through the standard slog package functions, so
// whatever handler Setup installs is what the engine emits into. Library
// embedders that never call Setup keep slog's own default.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects the log output encoding.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Options control the handler Setup installs.
type Options struct {
	// Level is the minimum level to emit. Defaults to Info.
	Level slog.Level
	// Format is FormatText or FormatJSON. Defaults to FormatText.
	Format string
	// Writer receives log output. Defaults to os.Stderr.
	Writer io.Writer
}

// Setup installs the process-wide default logger.
func Setup(opts Options) error {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	var handler slog.Handler
	switch opts.Format {
	case FormatText, "":
		handler = tint.NewHandler(w, &tint.Options{
			Level:      opts.Level,
			TimeFormat: time.RFC3339,
		})
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: opts.Level,
		})
	default:
		return fmt.Errorf("unknown log format %q", opts.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// ParseLevel maps a config string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
