// Package staging converts inline request payloads into short-lived files
// under a single constrained directory. The manager owns every file it
// creates: paths are tracked in a registry and released per request, with
// a shutdown sweep as backstop. Filenames are random — client input never
// participates in path construction.
package staging

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors reported to the caller as staging failures.
var (
	ErrInvalidExtension = errors.New("staging: extension not allowed")
	ErrContentTooLarge  = errors.New("staging: content too large")
)

const defaultMaxContentBytes = 10 << 20 // 10 MB

// Config configures the staged-file manager.
type Config struct {
	Dir               string   // Staging directory. Empty = system temp.
	AllowedExtensions []string // Empty = {.json, .yaml, .yml, .txt}.
	MaxContentBytes   int      // Per-file content cap. 0 = 10 MB.
}

// Manager stages inline payloads as files and tracks their lifetime.
type Manager struct {
	dir        string
	allowedExt map[string]bool
	maxBytes   int
	logger     *slog.Logger

	mu      sync.Mutex
	tracked map[string]time.Time // path → creation time
}

// NewManager creates a Manager and ensures the staging directory exists
// with owner-only access.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "fluentgate")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating staging directory %s: %w", dir, err)
	}

	exts := cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = []string{".json", ".yaml", ".yml", ".txt"}
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[e] = true
	}

	maxBytes := cfg.MaxContentBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxContentBytes
	}

	return &Manager{
		dir:        dir,
		allowedExt: allowed,
		maxBytes:   maxBytes,
		logger:     logger,
		tracked:    make(map[string]time.Time),
	}, nil
}

// Dir returns the staging directory.
func (m *Manager) Dir() string { return m.dir }

// Stage writes content to a new tracked file with the given extension and
// returns its path. Absent content is not an error — it returns ("", nil).
// The filename is a random UUID; no request-supplied fragment is ever
// interpolated into it.
func (m *Manager) Stage(content, ext string) (string, error) {
	if content == "" {
		return "", nil
	}
	if !m.allowedExt[ext] {
		return "", fmt.Errorf("%w: %s", ErrInvalidExtension, ext)
	}
	if len(content) > m.maxBytes {
		return "", fmt.Errorf("%w: %d bytes over %d limit", ErrContentTooLarge, len(content), m.maxBytes)
	}

	path := filepath.Join(m.dir, uuid.NewString()+ext)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("writing staged file: %w", err)
	}

	m.mu.Lock()
	m.tracked[path] = time.Now()
	m.mu.Unlock()

	m.logger.Debug("staged file created",
		slog.String("path", path),
		slog.Int("bytes", len(content)),
	)
	return path, nil
}

// Release removes the given staged paths at the end of the owning request.
// Removal is best-effort: failures are logged, never surfaced — leftover
// files are collected by Sweep or SweepStale.
func (m *Manager) Release(paths ...string) {
	for _, path := range paths {
		if path == "" {
			continue
		}
		m.unlink(path)
	}
}

// Sweep unlinks every tracked path. Already-missing files are tolerated.
// Safe to call more than once and concurrently with Stage; invoked at
// orderly or signaled shutdown.
func (m *Manager) Sweep() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.tracked))
	for path := range m.tracked {
		paths = append(paths, path)
	}
	m.mu.Unlock()

	for _, path := range paths {
		m.unlink(path)
	}
	m.logger.Info("staging sweep completed", slog.Int("files", len(paths)))
}

// SweepStale removes tracked files older than maxAge. Backstop against
// requests that failed before their Release ran.
func (m *Manager) SweepStale(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var stale []string
	for path, created := range m.tracked {
		if created.Before(cutoff) {
			stale = append(stale, path)
		}
	}
	m.mu.Unlock()

	for _, path := range stale {
		m.unlink(path)
	}
	if len(stale) > 0 {
		m.logger.Warn("stale staged files removed", slog.Int("files", len(stale)))
	}
}

// Count returns the number of currently tracked files.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// Tracked reports whether the path is in the registry.
func (m *Manager) Tracked(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracked[path]
	return ok
}

func (m *Manager) unlink(path string) {
	m.mu.Lock()
	delete(m.tracked, path)
	m.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove staged file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
