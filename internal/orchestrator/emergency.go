package orchestrator

import (
	"context"

	"github.com/anonmanager/anonmanager/internal/types"
)

// EmergencyRestore is the brute-force teardown path: unlike Disable, it
// assumes nothing about which components are actually live, never checks a
// precondition before acting, and presses on through every individual
// failure rather than stopping at the first one. It is what a mid-pipeline
// enable failure calls, and what --restore invokes directly against
// whatever state the host happens to be in.
func (o *Orchestrator) EmergencyRestore(ctx context.Context) {
	if o.Watchdog != nil {
		o.Watchdog.Stop()
	}

	// Unwind whatever live resources this invocation's own enable attempt
	// had already acquired (namespace, tor, firewall rules, dns lock) before
	// falling back to the snapshot, which may predate this process entirely
	// (e.g. --restore after a crash).
	o.Compensation.Unwind()

	_ = o.Supervisor.Stop(ctx)
	iface := o.egressIface(ctx)
	_ = o.NS.Destroy(ctx, iface)
	_ = o.DNS.Unlock(ctx)

	if err := o.Snapshot.Restore(ctx, "initial"); err != nil {
		o.log.Warn("restore initial snapshot failed, applying safe defaults: %v", err)
		_ = o.Snapshot.RestoreSafeDefaults(ctx)
	}

	if err := o.saveState(false, types.ModeNone); err != nil {
		o.log.Warn("write runtime state after emergency restore failed: %v", err)
	}
}
