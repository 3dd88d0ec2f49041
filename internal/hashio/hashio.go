// Package hashio provides the hashing and atomic-write primitives every
// other soulguard component builds on: SHA-256 digests and a
// write-temp-then-rename writer that never leaves a partially written file
// on disk.
package hashio

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSymlink is returned whenever an operation encounters a symbolic link
// where a protected path or snapshot target was expected.
var ErrSymlink = errors.New("refusing symlink")

// SumBytes returns the lowercase hex SHA-256 digest of b.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SumText returns the lowercase hex SHA-256 digest of s, encoded as UTF-8.
func SumText(s string) string {
	return SumBytes([]byte(s))
}

// IsSymlink reports whether path exists and is a symbolic link, using
// lstat semantics (it does not follow the link).
func IsSymlink(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("lstat %s: %w", path, err)
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

// RefuseSymlink returns ErrSymlink (wrapped with path) if path is a
// symbolic link. A missing path is not an error here; callers that care
// about existence check separately.
func RefuseSymlink(path string) error {
	isLink, err := IsSymlink(path)
	if err != nil {
		return err
	}
	if isLink {
		return fmt.Errorf("%s: %w", path, ErrSymlink)
	}
	return nil
}

// ReadFile reads path's bytes after refusing to follow a symlink.
func ReadFile(path string) ([]byte, error) {
	if err := RefuseSymlink(path); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}

// AtomicWriteFile writes data to path by writing to "path.tmp" in the same
// directory, flushing and fsyncing the descriptor, then renaming over the
// destination. Parent directories are created as needed. Readers of path
// will only ever observe the prior contents in full or the new contents in
// full, never a partial write.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	if err := RefuseSymlink(path); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpPath, err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}

// AtomicWriteText writes s to path as UTF-8 bytes via AtomicWriteFile.
func AtomicWriteText(path string, s string, perm os.FileMode) error {
	return AtomicWriteFile(path, []byte(s), perm)
}
