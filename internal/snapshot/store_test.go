package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/types"
)

func newTestStore(t *testing.T) (*Store, *executil.FakeRunner) {
	t.Helper()
	runner := executil.NewFakeRunner()
	runner.On("nft", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "table inet anonmanager { }\n"}, nil
	})
	runner.On("sysctl", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "1\n"}, nil
	})
	store := New(t.TempDir(), runner, filepath.Join(t.TempDir(), "resolv.conf"))
	return store, runner
}

func TestSave_WritesCompletionMarkerLast(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "initial", types.BackendModern, "eth0"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(store.dir("initial"), completionMarker)); err != nil {
		t.Fatalf("expected completion marker present: %v", err)
	}
	if _, err := os.Stat(store.stagingDir("initial")); !os.IsNotExist(err) {
		t.Errorf("staging directory should be gone after commit, stat err=%v", err)
	}
}

func TestSave_InitialIsNoopWhenAlreadyComplete(t *testing.T) {
	store, runner := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "initial", types.BackendModern, "eth0"); err != nil {
		t.Fatalf("first Save: %v", err)
	}
	callsBefore := len(runner.Calls)

	if err := store.Save(ctx, "initial", types.BackendModern, "eth0"); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	if len(runner.Calls) != callsBefore {
		t.Errorf("second Save on an already-complete initial snapshot should not re-capture, calls went from %d to %d", callsBefore, len(runner.Calls))
	}
}

func TestLoad_IncompleteSnapshotRefused(t *testing.T) {
	store, _ := newTestStore(t)

	// Simulate a crash mid-save: staging directory exists but was never
	// renamed, so the final directory never got a completion marker.
	if err := os.MkdirAll(store.dir("initial"), 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	if _, err := store.Load("initial"); err == nil {
		t.Fatal("expected Load to refuse a snapshot without a completion marker")
	}
}

func TestSaveLoad_RoundTripsFirewallAndSysctl(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "initial", types.BackendModern, "eth0"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	snap, err := store.Load("initial")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !snap.Complete {
		t.Fatal("expected Complete=true")
	}
	if snap.FirewallRuleset.Modern == "" {
		t.Error("expected a captured modern firewall ruleset")
	}
	for _, key := range sysctlKeysToCapture() {
		if got := snap.SysctlValues[key]; got != "1" {
			t.Errorf("SysctlValues[%q] = %q, want 1", key, got)
		}
	}
	if snap.IfaceName != "eth0" {
		t.Errorf("IfaceName = %q, want eth0", snap.IfaceName)
	}
	if snap.OriginalMAC == "" {
		t.Error("expected OriginalMAC to be populated, even if only with the unknown-value sentinel")
	}
}

func TestSave_RemovesStaleStagingDirectory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	staging := store.stagingDir("initial")
	if err := os.MkdirAll(staging, 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "leftover"), []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := store.Save(ctx, "initial", types.BackendModern, "eth0"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(store.dir("initial"), "leftover")); !os.IsNotExist(err) {
		t.Error("leftover file from a stale staging directory should not survive into the committed snapshot")
	}
}

func TestRestore_FallsBackToSafeDefaultsWhenInvalid(t *testing.T) {
	store, runner := newTestStore(t)
	ctx := context.Background()

	runner.On("chattr", func(args []string) (executil.Result, error) { return executil.Result{}, nil })

	if err := store.Restore(ctx, "initial"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !runner.AnyCallContains("chattr -i " + store.ResolvPath) {
		t.Error("expected RestoreSafeDefaults to clear the immutable flag")
	}
}

func TestRestoreMAC_SkipsWhenUnknown(t *testing.T) {
	store, runner := newTestStore(t)
	ctx := context.Background()

	store.restoreMAC(ctx, "eth0", types.UnknownValue)

	if runner.AnyCallContains("ip link set eth0") {
		t.Error("expected no link manipulation when the original MAC was unknown")
	}
}

func TestRestoreMAC_SetsAddressBackAndCyclesLink(t *testing.T) {
	store, runner := newTestStore(t)
	ctx := context.Background()

	runner.On("ip", func(args []string) (executil.Result, error) { return executil.Result{}, nil })

	store.restoreMAC(ctx, "eth0", "aa:bb:cc:dd:ee:ff")

	if !runner.AnyCallContains("ip link set eth0 down") {
		t.Error("expected the interface to be brought down before the address change")
	}
	if !runner.AnyCallContains("ip link set eth0 address aa:bb:cc:dd:ee:ff") {
		t.Error("expected the original MAC to be restored")
	}
	if !runner.AnyCallContains("ip link set eth0 up") {
		t.Error("expected the interface to be brought back up")
	}
}

func TestImmutableFlagSet_ParsesAttributeColumnOnly(t *testing.T) {
	if !immutableFlagSet("----i--------e--- /etc/resolv.conf") {
		t.Error("expected the 'i' attribute flag to be detected")
	}
	if immutableFlagSet("----------------- /etc/imaginary-file") {
		t.Error("did not expect an immutable flag here")
	}
}
