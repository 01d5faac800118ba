package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anonmanager/anonmanager/internal/types"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "history.db")
	r, err := Open(dbPath, "0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestOpen_RejectsShortKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	if _, err := Open(dbPath, "short"); err == nil {
		t.Fatal("expected Open to reject a key shorter than MinEncryptionKeyLength")
	}
}

func TestResolveEncryptionKey_GeneratesAndPersistsOnce(t *testing.T) {
	root := t.TempDir()

	first, err := ResolveEncryptionKey(root, "")
	if err != nil {
		t.Fatalf("ResolveEncryptionKey: %v", err)
	}
	if len(first) < MinEncryptionKeyLength {
		t.Fatalf("generated key too short: %d bytes", len(first))
	}

	info, err := os.Stat(KeyPath(root))
	if err != nil {
		t.Fatalf("expected key file to exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %o, want 0600", info.Mode().Perm())
	}

	second, err := ResolveEncryptionKey(root, "")
	if err != nil {
		t.Fatalf("second ResolveEncryptionKey: %v", err)
	}
	if second != first {
		t.Error("expected the second call to return the persisted key, not regenerate one")
	}
}

func TestResolveEncryptionKey_OverrideWinsWithoutTouchingDisk(t *testing.T) {
	root := t.TempDir()

	key, err := ResolveEncryptionKey(root, "operator-supplied-key-value")
	if err != nil {
		t.Fatalf("ResolveEncryptionKey: %v", err)
	}
	if key != "operator-supplied-key-value" {
		t.Errorf("key = %q, want the override", key)
	}
	if _, err := os.Stat(KeyPath(root)); !os.IsNotExist(err) {
		t.Error("expected no key file to be written when an override is supplied")
	}
}

func TestRecordAlert_RoundTripsNewestFirst(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	first := types.WatchdogAlert{Category: types.AlertTor, Message: "tor down", Time: time.Now().Add(-time.Minute)}
	second := types.WatchdogAlert{Category: types.AlertDNS, Message: "dns rewritten", Time: time.Now()}

	if err := r.RecordAlert(ctx, first); err != nil {
		t.Fatalf("RecordAlert first: %v", err)
	}
	if err := r.RecordAlert(ctx, second); err != nil {
		t.Fatalf("RecordAlert second: %v", err)
	}

	got, err := r.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].Category != types.AlertDNS || got[0].Message != "dns rewritten" {
		t.Errorf("newest-first ordering violated: got[0] = %+v", got[0])
	}
}

func TestRecentAlerts_RespectsLimit(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := r.RecordAlert(ctx, types.WatchdogAlert{Category: types.AlertFirewall, Message: "x", Time: time.Now()}); err != nil {
			t.Fatalf("RecordAlert: %v", err)
		}
	}

	got, err := r.RecentAlerts(ctx, 2)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len(got) = %d, want 2", len(got))
	}
}

func TestRecordVerifyRun_RoundTripsResults(t *testing.T) {
	r := newTestRecorder(t)
	ctx := context.Background()

	run := VerifyRun{
		Time: time.Now(),
		Pass: 8, Fail: 1, Warn: 1,
		Results: []CheckResult{
			{Name: "tor process alive", Status: "pass", Detail: "pid 1234"},
			{Name: "killswitch active", Status: "fail", Detail: "chain missing"},
		},
	}
	if err := r.RecordVerifyRun(ctx, run); err != nil {
		t.Fatalf("RecordVerifyRun: %v", err)
	}

	got, err := r.RecentVerifyRuns(ctx, 1)
	if err != nil {
		t.Fatalf("RecentVerifyRuns: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].Pass != 8 || got[0].Fail != 1 || got[0].Warn != 1 {
		t.Errorf("counts = %+v, want Pass=8 Fail=1 Warn=1", got[0])
	}
	if len(got[0].Results) != 2 || got[0].Results[1].Status != "fail" {
		t.Errorf("results round-trip mismatch: %+v", got[0].Results)
	}
}

func TestNilRecorder_MethodsAreNoops(t *testing.T) {
	var r *Recorder
	ctx := context.Background()

	if err := r.RecordAlert(ctx, types.WatchdogAlert{}); err != nil {
		t.Errorf("RecordAlert on nil Recorder: %v", err)
	}
	if got, err := r.RecentAlerts(ctx, 10); err != nil || got != nil {
		t.Errorf("RecentAlerts on nil Recorder = %v, %v", got, err)
	}
	if err := r.RecordVerifyRun(ctx, VerifyRun{}); err != nil {
		t.Errorf("RecordVerifyRun on nil Recorder: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close on nil Recorder: %v", err)
	}
}

func TestDrainAlerts_StopsOnContextCancel(t *testing.T) {
	r := newTestRecorder(t)
	ctx, cancel := context.WithCancel(context.Background())
	alerts := make(chan types.WatchdogAlert, 1)

	done := make(chan struct{})
	go func() {
		r.DrainAlerts(ctx, alerts)
		close(done)
	}()

	alerts <- types.WatchdogAlert{Category: types.AlertIPv6, Message: "ipv6 re-enabled", Time: time.Now()}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("DrainAlerts did not return after context cancellation")
	}
}
