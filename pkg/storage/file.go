package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	// fileExtension is appended to the escaped key to build the file name
	fileExtension = ".json"

	// lockRetryDelay is how often a contended file lock is retried
	lockRetryDelay = 50 * time.Millisecond
)

// FileBackend stores every key in its own file under a base directory. Writes
// go to a temporary file which is then renamed over the target. A lock file next
// to each value serializes access across processes sharing the directory.
type FileBackend struct {
	basePath string
}

// NewFileBackend creates a file backend rooted at basePath.
// The directory is created on first write.
func NewFileBackend(basePath string) *FileBackend {
	return &FileBackend{basePath: basePath}
}

// Path returns the file that holds key.
func (f *FileBackend) Path(key string) string {
	return filepath.Join(f.basePath, url.PathEscape(key)+fileExtension)
}

// Get implements Backend.
func (f *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	filePath := f.Path(key)

	unlock, err := f.lock(ctx, filePath, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// #nosec G304 -- filePath is basePath joined with an escaped key
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache file for key '%s': %w", key, err)
	}
	return data, nil
}

// Set implements Backend.
func (f *FileBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	filePath := f.Path(key)

	unlock, err := f.lock(ctx, filePath, false)
	if err != nil {
		return err
	}
	defer unlock()

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, value, 0600); err != nil {
		return fmt.Errorf("failed to write temporary cache file for key '%s': %w", key, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache file for key '%s': %w", key, err)
	}

	return nil
}

// Remove implements Backend.
func (f *FileBackend) Remove(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	filePath := f.Path(key)

	unlock, err := f.lock(ctx, filePath, false)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cache file for key '%s': %w", key, err)
	}
	return nil
}

func (f *FileBackend) lock(ctx context.Context, filePath string, shared bool) (func(), error) {
	if _, err := os.Stat(f.basePath); errors.Is(err, os.ErrNotExist) {
		// nothing to lock yet
		return func() {}, nil
	}

	fl := flock.New(filePath + ".lock")
	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock cache file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock cache file %s", filePath)
	}
	return func() { _ = fl.Unlock() }, nil
}
