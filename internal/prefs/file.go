package prefs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/gofrs/flock"
)

// Compile-time interface satisfaction check.
var _ Backend = (*FileBackend)(nil)

// FileBackend stores preferences as a TOML file. Reads and writes are guarded
// by an advisory lock on a sibling ".lock" file so that an external editor
// using the same convention never observes a partial write.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for the preference file at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: filepath.Clean(path)}
}

// Path returns the preference file path.
func (f *FileBackend) Path() string {
	return f.path
}

// Load decodes the preference file. A missing file yields ErrNotExist.
func (f *FileBackend) Load(_ context.Context) (*Document, error) {
	lock := flock.New(f.lockPath())
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("acquire read lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	var doc Document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("parse preferences: %w", err)
	}
	for id, rec := range doc.Overrides {
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("override %q: %w", id, err)
		}
	}
	if err := doc.Global.Validate(); err != nil {
		return nil, fmt.Errorf("global: %w", err)
	}
	return &doc, nil
}

// Save encodes d and atomically replaces the preference file.
func (f *FileBackend) Save(_ context.Context, d *Document) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create preferences directory: %w", err)
	}

	lock := flock.New(f.lockPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write preferences: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync preferences: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod preferences: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace preferences: %w", err)
	}
	return nil
}

func (f *FileBackend) lockPath() string {
	return f.path + ".lock"
}
