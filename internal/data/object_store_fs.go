package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ticketpress/ticketpress/internal/core"
)

// FSObjectStore implements the ObjectStore interface on the local
// filesystem, for development and single-node deployments.
type FSObjectStore struct {
	root string
}

// NewFSObjectStore creates a store rooted at dir, creating it if needed.
func NewFSObjectStore(dir string) (*FSObjectStore, error) {
	if dir == "" {
		return nil, errors.New("fs object store: directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &FSObjectStore{root: dir}, nil
}

// resolve maps a key onto the root, refusing traversal outside it.
func (s *FSObjectStore) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.New("key cannot be empty")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("key %q escapes the store root", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Get returns a reader over the object. Callers own the close.
func (s *FSObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, core.ErrObjectNotFound
		}
		return nil, fmt.Errorf("open object %s: %w", key, err)
	}
	return f, nil
}

// Put stores the body under key, creating parent directories as needed.
// The write goes through a temp file and rename so readers never observe a
// partial object.
func (s *FSObjectStore) Put(_ context.Context, key string, body io.Reader, _ string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp object: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store object %s: %w", key, err)
	}
	return nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (s *FSObjectStore) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
