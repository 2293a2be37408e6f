package logutil

import (
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
)

// New builds the charm logger used as the process-wide slog handler.
func New(w io.Writer, level string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		Prefix:          "crosspost",
		ReportTimestamp: true,
		Level:           lvl,
	})
}

// Install routes log/slog through a charm logger writing to stderr.
func Install(level string) *slog.Logger {
	logger := slog.New(New(os.Stderr, level))
	slog.SetDefault(logger)
	return logger
}
