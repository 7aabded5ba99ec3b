package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidPath is returned for paths that escape the export directory.
var ErrInvalidPath = errors.New("invalid export path")

// ExportStore keeps rendered export files on local disk under a single base
// directory. Paths are always relative; absolute paths and traversal
// segments are rejected.
type ExportStore struct {
	baseDir string
}

// NewExportStore ensures the base directory exists and returns a handle.
func NewExportStore(baseDir string) (*ExportStore, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &ExportStore{baseDir: baseDir}, nil
}

// Save writes the rendered bytes under the relative path.
func (s *ExportStore) Save(relPath string, data []byte) error {
	path, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("prepare export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	return nil
}

// Open returns a read-only handle for a stored export.
func (s *ExportStore) Open(relPath string) (*os.File, error) {
	path, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

// Remove deletes a stored export if present.
func (s *ExportStore) Remove(relPath string) error {
	path, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete export file: %w", err)
	}
	return nil
}

// RemoveExpired deletes exports older than the TTL and returns their
// relative paths.
func (s *ExportStore) RemoveExpired(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	removed := make([]string, 0)
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			rel = path
		}
		removed = append(removed, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep expired exports: %w", err)
	}
	return removed, nil
}

func (s *ExportStore) resolve(relPath string) (string, error) {
	if relPath == "" || filepath.IsAbs(relPath) {
		return "", ErrInvalidPath
	}
	cleaned := filepath.Clean(relPath)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.baseDir, cleaned), nil
}
