package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSecureWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.txt")

	if err := SecureWriteFile(path, []byte("sensitive data")); err != nil {
		t.Fatalf("SecureWriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "sensitive data" {
		t.Fatalf("got %q, want %q", data, "sensitive data")
	}
	assertOwnerOnly(t, path)
}

func TestSecureMkdirAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "secret")

	if err := SecureMkdirAll(path); err != nil {
		t.Fatalf("SecureMkdirAll: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("expected directory")
	}
	assertOwnerOnly(t, path)
}

func TestSecureOpenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lockfile")

	f, err := SecureOpenFile(path, os.O_CREATE|os.O_WRONLY)
	if err != nil {
		t.Fatalf("SecureOpenFile: %v", err)
	}
	if _, err := f.WriteString("locked content"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "locked content" {
		t.Fatalf("got %q, want %q", data, "locked content")
	}
	assertOwnerOnly(t, path)
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state")

	if err := AtomicWriteFile(path, []byte("v1"), 0600); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("v2"), 0600); err != nil {
		t.Fatalf("second write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "v2" {
		t.Fatalf("got %q, want %q", data, "v2")
	}
	assertOwnerOnly(t, path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "state" {
			t.Errorf("leftover temp file after atomic write: %s", e.Name())
		}
	}
}

func TestSecureWriteFile_EmptyData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")

	if err := SecureWriteFile(path, []byte{}); err != nil {
		t.Fatalf("SecureWriteFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected empty file, got size %d", info.Size())
	}
	assertOwnerOnly(t, path)
}

func TestSecureMkdirAll_AlreadyExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing")

	if err := SecureMkdirAll(path); err != nil {
		t.Fatalf("first SecureMkdirAll: %v", err)
	}
	if err := SecureMkdirAll(path); err != nil {
		t.Fatalf("second SecureMkdirAll: %v", err)
	}
	assertOwnerOnly(t, path)
}

// assertOwnerOnly verifies the file/dir mode bits exclude group/other access.
func assertOwnerOnly(t *testing.T, path string) {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat %s: %v", path, err)
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		t.Errorf("%s has group/other permissions: %04o", path, mode)
	}
}
