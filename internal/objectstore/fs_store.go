package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File and directory permissions.
const (
	filePermissions = 0o600
	dirPermissions  = 0o750
)

// ErrInvalidKey is returned for keys that would escape the store root.
var ErrInvalidKey = errors.New("invalid object key")

// FSStore implements core.ObjectStore on a local directory. It backs the CLI
// and tests; keys map to relative file paths under the root. Uploads are
// write-then-rename so a failed write never leaves a corrupt object visible
// at its key.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	err := os.MkdirAll(root, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create store root '%s': %w", root, err)
	}

	return &FSStore{root: root}, nil
}

// Download reads the object at key.
func (s *FSStore) Download(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return data, nil
}

// Upload writes the object at key atomically, replacing any previous
// content.
func (s *FSStore) Upload(_ context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	dirErr := os.MkdirAll(filepath.Dir(path), dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("failed to create directory for object '%s': %w", key, dirErr)
	}

	tempPath := path + ".partial"

	writeErr := os.WriteFile(tempPath, data, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("failed to write object '%s': %w", key, writeErr)
	}

	renameErr := os.Rename(tempPath, path)
	if renameErr != nil {
		_ = os.Remove(tempPath)

		return fmt.Errorf("failed to finalize object '%s': %w", key, renameErr)
	}

	return nil
}

// Delete removes the object at key.
func (s *FSStore) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	removeErr := os.Remove(path)
	if removeErr != nil {
		return fmt.Errorf("failed to delete object '%s': %w", key, removeErr)
	}

	return nil
}

func (s *FSStore) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(s.root, cleaned), nil
}
