package dnslock

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/anonmanager/anonmanager/internal/executil"
)

func TestLock_WritesLoopbackNameserver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	runner := executil.NewFakeRunner()
	l := New(runner, path)

	if err := l.Lock(context.Background()); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read resolv.conf: %v", err)
	}
	if string(data) != lockedContent {
		t.Errorf("got %q, want %q", data, lockedContent)
	}
	if !runner.AnyCallContains("chattr +i " + path) {
		t.Error("expected Lock to set the immutable flag")
	}
	if !runner.AnyCallContains("chattr -i " + path) {
		t.Error("expected Lock to clear any pre-existing immutable flag first")
	}
}

func TestLock_ReplacesSymlinkWithRegularFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "stub-resolv.conf")
	if err := os.WriteFile(target, []byte("nameserver 127.0.0.53\n"), 0644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "resolv.conf")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	l := New(executil.NewFakeRunner(), link)
	if err := l.Lock(context.Background()); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	info, err := os.Lstat(link)
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Error("expected the symlink to be replaced by a regular file")
	}
}

func TestUnlock_ClearsImmutableFlagOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(path, []byte(lockedContent), 0644); err != nil {
		t.Fatal(err)
	}
	runner := executil.NewFakeRunner()
	l := New(runner, path)

	if err := l.Unlock(context.Background()); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !runner.AnyCallContains("chattr -i " + path) {
		t.Error("expected Unlock to clear the immutable flag")
	}
	data, _ := os.ReadFile(path)
	if string(data) != lockedContent {
		t.Error("Unlock must not touch file content")
	}
}

func TestIsLocked_ParsesAttributeColumnOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	runner := executil.NewFakeRunner()
	runner.On("lsattr", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "----i--------e--- " + path + "\n"}, nil
	})
	l := New(runner, path)

	locked, err := l.IsLocked(context.Background())
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Error("expected IsLocked to report true when the i flag is set")
	}
}

func TestIsLocked_FalseWhenNoImmutableFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	runner := executil.NewFakeRunner()
	runner.On("lsattr", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "------------------- " + path + "\n"}, nil
	})
	l := New(runner, path)

	locked, err := l.IsLocked(context.Background())
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Error("expected IsLocked to report false with no i flag")
	}
}

func TestPointsAtLoopback_TrueForLoopbackNameserver(t *testing.T) {
	if !PointsAtLoopback("nameserver 127.0.0.1\n") {
		t.Error("expected PointsAtLoopback to be true")
	}
}

func TestPointsAtLoopback_FalseForNonLoopbackNameserver(t *testing.T) {
	if PointsAtLoopback("nameserver 10.200.1.1\n") {
		t.Error("expected PointsAtLoopback to be false for a non-loopback nameserver")
	}
}

func TestPointsAtLoopback_UsesFirstNameserverLineOnly(t *testing.T) {
	content := "nameserver 10.200.1.1\nnameserver 127.0.0.1\n"
	if PointsAtLoopback(content) {
		t.Error("expected the first nameserver line to govern, not a later one")
	}
}
