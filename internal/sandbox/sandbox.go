// Package sandbox hands out per-request working directories under a base path.
//
// Every directory is owned by a Lease. Releasing a lease schedules removal after
// a grace period; acquiring a new lease sweeps stale siblings by age. A directory
// whose lease is still held is never removed by either path.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("sandbox manager closed")

// Manager owns the base directory and all leases under it.
type Manager struct {
	base   string
	maxAge time.Duration
	grace  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	leases  map[string]*Lease
	pending map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewManager creates a manager rooted at base.
func NewManager(base string, maxAge, grace time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		base:    base,
		maxAge:  maxAge,
		grace:   grace,
		logger:  logger,
		leases:  make(map[string]*Lease),
		pending: make(map[string]*time.Timer),
	}
}

// Base returns the root directory.
func (m *Manager) Base() string { return m.base }

// Acquire sweeps stale directories and creates a fresh leased directory.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if err := os.MkdirAll(m.base, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox base: %w", err)
	}
	m.sweepLocked(time.Now())

	dir := filepath.Join(m.base, "req-"+uuid.NewString())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	l := &Lease{m: m, dir: dir, acquired: time.Now()}
	l.snapshot = scan(dir)
	m.leases[dir] = l
	m.logger.Debug("sandbox acquired", "dir", dir)
	return l, nil
}

// Active returns the number of held leases.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leases)
}

// Close removes every directory awaiting its grace period and waits for
// in-flight removals. Held leases are removed when released.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	var now []string
	for dir, timer := range m.pending {
		if timer.Stop() {
			now = append(now, dir)
			delete(m.pending, dir)
		}
	}
	m.mu.Unlock()

	for _, dir := range now {
		m.remove(dir)
		m.wg.Done()
	}
	m.wg.Wait()
	return nil
}

func (m *Manager) release(l *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, l.dir)

	if m.closed || m.grace <= 0 {
		m.remove(l.dir)
		return
	}
	m.wg.Add(1)
	m.pending[l.dir] = time.AfterFunc(m.grace, func() {
		defer m.wg.Done()
		m.mu.Lock()
		delete(m.pending, l.dir)
		m.mu.Unlock()
		m.remove(l.dir)
	})
}

// sweepLocked removes unleased sibling directories older than maxAge.
func (m *Manager) sweepLocked(now time.Time) {
	if m.maxAge <= 0 {
		return
	}
	entries, err := os.ReadDir(m.base)
	if err != nil {
		m.logger.Warn("sandbox sweep failed", "base", m.base, "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(m.base, e.Name())
		if _, held := m.leases[dir]; held {
			continue
		}
		if _, waiting := m.pending[dir]; waiting {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < m.maxAge {
			continue
		}
		m.remove(dir)
	}
}

func (m *Manager) remove(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("sandbox cleanup failed", "dir", dir, "error", err)
		return
	}
	m.logger.Debug("sandbox removed", "dir", dir)
}

// Lease is exclusive ownership of one sandbox directory.
type Lease struct {
	m        *Manager
	dir      string
	acquired time.Time
	snapshot map[string]time.Time
	once     sync.Once
}

// Dir returns the sandbox directory.
func (l *Lease) Dir() string { return l.dir }

// Snapshot returns the files present when the lease was acquired, sorted.
func (l *Lease) Snapshot() []string {
	out := make([]string, 0, len(l.snapshot))
	for p := range l.snapshot {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Created returns files added or modified since acquisition, sorted.
func (l *Lease) Created() []string {
	var out []string
	for p, mod := range scan(l.dir) {
		if before, ok := l.snapshot[p]; ok && !mod.After(before) {
			continue
		}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Release gives the directory back. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() { l.m.release(l) })
}

func scan(dir string) map[string]time.Time {
	files := make(map[string]time.Time)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			files[path] = info.ModTime()
		}
		return nil
	})
	return files
}
