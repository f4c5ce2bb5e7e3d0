package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"localauth/internal/logging"
)

const (
	// DefaultDirPermissions is the default permission for configuration directories
	DefaultDirPermissions = 0o750
	// DefaultFilePermissions is the permission for every file holding secrets or hashes
	DefaultFilePermissions = 0o600
)

// EnsureDirectory creates the directory if it doesn't exist
func EnsureDirectory(path string) error {
	if err := os.MkdirAll(path, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// AtomicWriteFile writes data to a uniquely named temp file in the target
// directory, syncs it and renames it over path. Readers observe either the old
// or the new content, never a partial write. The temp file is created with perm,
// so the permission holds from the first byte written.
func AtomicWriteFile(path string, data []byte, perm os.FileMode, logger *logging.Logger) error {
	dir := filepath.Dir(path)
	if err := EnsureDirectory(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Warn("fsutil.cleanup_failed", "Failed to remove temp file", map[string]interface{}{
				"path":  tmpPath,
				"error": removeErr.Error(),
			})
		}
	}

	if err := tmp.Chmod(perm); err != nil {
		CloseWithError(tmp.Close, logger, tmpPath)
		cleanup()
		return fmt.Errorf("failed to set temp file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		CloseWithError(tmp.Close, logger, tmpPath)
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		CloseWithError(tmp.Close, logger, tmpPath)
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}

// Touch creates an empty file with restrictive permissions. An existing file
// is left untouched.
func Touch(path string) error {
	if err := EnsureDirectory(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, DefaultFilePermissions) // #nosec G304 -- path is built from the config directory
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f.Close()
}

// Exists reports whether path exists. Errors other than "not found" are returned.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// RemoveIfExists deletes path. A missing file is not an error.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// CloseWithError closes a resource and logs any error if a logger is provided.
// This is useful for defer statements where close errors should be handled.
func CloseWithError(closer func() error, logger *logging.Logger, resource string) {
	if err := closer(); err != nil {
		logger.Warn("fsutil.close_failed", fmt.Sprintf("Failed to close %s", resource), map[string]interface{}{
			"error": err.Error(),
		})
	}
}
