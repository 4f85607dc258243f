// Package local persists JSON documents on the local filesystem.
package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for an on-disk index file.
type Config struct {
	// Path is the file that holds the index.
	Path string `mapstructure:"path" yaml:"path"`
}

// IndexFile reads and rewrites a single JSON document. Every write replaces
// the whole file.
type IndexFile struct {
	path string
}

// ErrNotExist is returned by Load when the index file has not been written yet.
var ErrNotExist = errors.New("index file does not exist")

// New creates an IndexFile. The file and its parent directory are created
// lazily on the first Save.
func New(cfg Config) (*IndexFile, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("index path is required")
	}
	info, err := os.Stat(cfg.Path)
	if err == nil && info.IsDir() {
		return nil, fmt.Errorf("index path %q is a directory", cfg.Path)
	}
	return &IndexFile{path: filepath.Clean(cfg.Path)}, nil
}

// Path returns the location of the index file.
func (f *IndexFile) Path() string {
	return f.path
}

// Load decodes the index file into dst.
func (f *IndexFile) Load(dst any) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotExist
		}
		return fmt.Errorf("failed to read index file: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode index file: %w", err)
	}
	return nil
}

// Save encodes src as indented JSON and atomically replaces the index file,
// creating parent directories as needed.
func (f *IndexFile) Save(src any) error {
	data, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace index file: %w", err)
	}
	return nil
}
