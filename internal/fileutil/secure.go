// Package fileutil provides secure file operations for anonmanager's
// on-disk state: every file it writes (state, snapshots, lock, logs) must be
// owner-only, and every multi-field write (state file, snapshot completion
// marker) must be atomic so a crash never leaves a half-written file behind.
//
// This system is Linux-only by construction — it manages network namespaces,
// nftables/iptables, and systemd units that have no Windows equivalent — so
// unlike the teacher's cross-platform variant, no Windows ACL path exists
// here.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// SecureWriteFile writes data to a file with owner-only permissions (0600).
func SecureWriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0600)
}

// SecureMkdirAll creates a directory tree with owner-only permissions (0700).
func SecureMkdirAll(path string) error {
	return os.MkdirAll(path, 0700)
}

// SecureOpenFile opens a file for writing with owner-only permissions (0600).
func SecureOpenFile(path string, flag int) (*os.File, error) {
	return os.OpenFile(path, flag, 0600)
}

// AtomicWriteFile writes data to a temp file in the same directory as path
// and renames it into place, so readers never observe a partial write.
// Mode is applied before the rename (open with O_EXCL on a random suffix so
// concurrent writers never collide).
func AtomicWriteFile(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	return nil
}
