package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// FSWriter is a Writer backed by the local filesystem
type FSWriter struct {
	root string
}

var _ Writer = (*FSWriter)(nil)

// NewFSWriter returns a writer rooted at dir. Nothing is created until EnsureRoot or WriteFile.
func NewFSWriter(dir string) (*FSWriter, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: resolve output root %q: %w", utils.ErrPersistence, utils.ErrFilesystem, dir, err)
	}
	return &FSWriter{root: abs}, nil
}

// Root returns the absolute root directory
func (w *FSWriter) Root() string { return w.root }

// EnsureRoot creates the root directory
func (w *FSWriter) EnsureRoot() error {
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return fmt.Errorf("%w: %w: create directory %q: %w", utils.ErrPersistence, utils.ErrFilesystem, w.root, err)
	}
	return nil
}

// WriteFile writes data below the root. Paths escaping the root are rejected.
func (w *FSWriter) WriteFile(relPath string, data []byte) error {
	full, err := w.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("%w: %w: create directory for %q: %w", utils.ErrPersistence, utils.ErrFilesystem, relPath, err)
	}
	if err := os.WriteFile(full, data, 0644); err != nil {
		return fmt.Errorf("%w: %w: write %q: %w", utils.ErrPersistence, utils.ErrFilesystem, relPath, err)
	}
	return nil
}

// Exists reports whether relPath exists below the root
func (w *FSWriter) Exists(relPath string) bool {
	full, err := w.resolve(relPath)
	if err != nil {
		return false
	}
	_, err = os.Stat(full)
	return err == nil
}

func (w *FSWriter) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("%w: %w: empty path", utils.ErrPersistence, utils.ErrFilesystem)
	}
	full := filepath.Join(w.root, filepath.FromSlash(relPath))
	rel, err := filepath.Rel(w.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %w: path %q escapes output root", utils.ErrPersistence, utils.ErrFilesystem, relPath)
	}
	return full, nil
}
