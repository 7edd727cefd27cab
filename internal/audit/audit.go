// Package audit appends one JSON line per accepted request to the audit log and
// optionally mirrors it to Kafka.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one audit record. The file is write-only; nothing reads it back.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	User         string    `json:"user"`
	Channel      string    `json:"channel"`
	Prompt       string    `json:"prompt"`
	AllowedTools string    `json:"allowed_tools"`
	Platform     string    `json:"platform,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

// Mirror receives a copy of every entry.
type Mirror interface {
	Publish(ctx context.Context, e Entry) error
	Close() error
}

// Logger writes the JSONL audit trail.
type Logger struct {
	path   string
	mirror Mirror
	logger *slog.Logger
	mu     sync.Mutex
}

// NewLogger creates an audit logger. An empty path disables the file; mirror may be nil.
func NewLogger(path string, mirror Mirror, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{path: path, mirror: mirror, logger: logger}
}

// Path returns the audit file path.
func (l *Logger) Path() string { return l.path }

// Record appends e to the file and forwards it to the mirror. Mirror failures
// are logged and do not fail the call.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()

	if l.path != "" {
		if err := l.append(e); err != nil {
			return err
		}
	}
	if l.mirror != nil {
		if err := l.mirror.Publish(ctx, e); err != nil {
			l.logger.Warn("audit mirror publish failed", "error", err)
		}
	}
	return nil
}

func (l *Logger) append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create audit dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Close releases the mirror.
func (l *Logger) Close() error {
	if l.mirror == nil {
		return nil
	}
	return l.mirror.Close()
}
