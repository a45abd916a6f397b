// The file holder stores every key as its own file inside a directory. Writes go to a temporary file first and
// are renamed over the target, so a crash mid-write leaves the previous value intact.

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const fileHolderExt = ".blob"

// fileKeyPattern restricts keys to names that are safe to use as file names on every platform.
var fileKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

type FileKeyValueHolder struct { // Implements KeyValueHolder.
	dir string
}

var _ KeyValueHolder = (*FileKeyValueHolder)(nil)

// NewFileKeyValueHolder is the constructor for FileKeyValueHolder; `dir` is created if it doesn't exist.
func NewFileKeyValueHolder(dir string) (*FileKeyValueHolder, error) {
	if dir == "" {
		return nil, errors.New("expected a non-empty directory")
	}
	if dirInfo, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat holder directory %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create holder directory %s: %w", dir, err)
		}
	} else if !dirInfo.IsDir() {
		return nil, fmt.Errorf("holder path %s is not a directory", dir)
	}
	return &FileKeyValueHolder{dir: dir}, nil
}

// pathOf maps a key onto its file path.
func (f *FileKeyValueHolder) pathOf(key string) (string, error) {
	if !fileKeyPattern.MatchString(key) {
		return "", fmt.Errorf("key %q is not a valid file name", key)
	}
	return filepath.Join(f.dir, key+fileHolderExt), nil
}

func (f *FileKeyValueHolder) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.pathOf(key)
	if err != nil {
		return nil, err
	}
	value, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return value, nil
}

func (f *FileKeyValueHolder) Set(_ context.Context, key string, value []byte) error {
	path, err := f.pathOf(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	// Remove the temporary file on any failure; after a successful rename this is a no-op.
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", tmpPath, path, err)
	}
	return nil
}

func (f *FileKeyValueHolder) Delete(_ context.Context, key string) error {
	path, err := f.pathOf(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func (f *FileKeyValueHolder) Close() error { return nil }
