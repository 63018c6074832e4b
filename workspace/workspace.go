// Package workspace manages per-run project directories: creation,
// guarded file writes, zip archiving, and expiry cleanup.
package workspace

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Manager owns a base directory holding one subdirectory per run.
type Manager struct {
	base string
}

// NewManager creates a Manager rooted at base, creating it if needed.
func NewManager(base string) (*Manager, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace base: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create workspace base: %w", err)
	}
	return &Manager{base: abs}, nil
}

// Base returns the base directory.
func (m *Manager) Base() string {
	return m.base
}

// Create makes the directory for a run and returns its path.
func (m *Manager) Create(runID string) (string, error) {
	if !validRunID(runID) {
		return "", fmt.Errorf("invalid run ID %q", runID)
	}
	dir := filepath.Join(m.base, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// Dir returns the directory for a run, or an error if it doesn't exist.
func (m *Manager) Dir(runID string) (string, error) {
	if !validRunID(runID) {
		return "", fmt.Errorf("invalid run ID %q", runID)
	}
	dir := filepath.Join(m.base, runID)
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace %s is not a directory", runID)
	}
	return dir, nil
}

// Remove deletes a run's directory.
func (m *Manager) Remove(runID string) error {
	dir, err := m.Dir(runID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Clean removes run directories older than maxAge and returns how many
// were deleted.
func (m *Manager) Clean(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.base)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(m.base, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// WriteFile writes content to rel inside dir, creating parent
// directories. Paths that escape dir are rejected.
func WriteFile(dir, rel string, content []byte) error {
	path, err := resolve(dir, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	return os.WriteFile(path, content, 0644)
}

// ReadFile reads rel inside dir with the same escape guard as WriteFile.
func ReadFile(dir, rel string) ([]byte, error) {
	path, err := resolve(dir, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// resolve joins rel onto dir and rejects escapes.
func resolve(dir, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path %q not allowed", rel)
	}
	path := filepath.Join(dir, rel)
	cleanDir := filepath.Clean(dir) + string(os.PathSeparator)
	if !strings.HasPrefix(path, cleanDir) {
		return "", fmt.Errorf("path %q escapes workspace", rel)
	}
	return path, nil
}

// Archive writes a zip of the run directory tree to w. File paths in
// the archive are relative to the run directory.
func Archive(dir string, w io.Writer) error {
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		f, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(f, src)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("archive %s: %w", dir, err)
	}

	return zw.Close()
}

// validRunID rejects IDs that could traverse the filesystem.
func validRunID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
