// Package logging configures the daemon's structured logger: stdout plus an
// optional append-only log file, in the same multi-writer style the
// rest of the fleet's services use.
package logging

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"
)

// Init configures slog to write to both stdout and a log file under dir. It
// returns the logger and the opened file so callers can Close() it on
// shutdown; on failure to open the file it falls back to stdout only.
func Init(dir string) (*slog.Logger, *os.File) {
	if dir == "" {
		dir = "./logs"
	}
	_ = os.MkdirAll(dir, 0o755)

	filePath := filepath.Join(dir, "heatingd.log")
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
		logger.Error("failed to open log file; falling back to stdout only", "error", err)
		return logger, nil
	}

	mw := NewMultiWriter(f, os.Stdout)
	h := slog.NewTextHandler(mw, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(h)

	log.SetOutput(mw)
	return logger, f
}
