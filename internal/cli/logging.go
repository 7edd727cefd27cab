package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/KafClaw/clibridge/internal/config"
)

// newLogger writes text logs to stderr and, when configured, to the log file.
// The returned close func releases the file.
func newLogger(lc config.LogConfig, stderr io.Writer) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if lc.Debug {
		level = slog.LevelDebug
	}
	out := stderr
	closeFn := func() error { return nil }
	if lc.File != "" {
		if dir := filepath.Dir(lc.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create log dir: %w", err)
			}
		}
		f, err := os.OpenFile(lc.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(stderr, f)
		closeFn = f.Close
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return logger, closeFn, nil
}
