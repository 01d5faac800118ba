package orchestrator

import (
	"context"
	"fmt"

	"github.com/anonmanager/anonmanager/internal/types"
)

// Disable reverses an active enable in the fixed order the data model
// requires: watchdog first (so its sweep never fires against a
// half-torn-down system), then firewall, Tor, namespace, MAC, sysctl,
// IPv6 (only if it had been disabled), DNS, and finally the connection
// manager restart. Unlike EmergencyRestore, Disable assumes every
// component it touches is actually live and propagates the first error it
// hits rather than pressing on regardless.
func (o *Orchestrator) Disable(ctx context.Context, wasExtreme bool) error {
	if o.Watchdog != nil {
		o.Watchdog.Stop()
	}

	if wasExtreme && o.Firewall != nil {
		if err := o.Firewall.Disengage(ctx); err != nil {
			return fmt.Errorf("disengage firewall: %w", err)
		}
	}

	if err := o.Supervisor.Stop(ctx); err != nil {
		return fmt.Errorf("stop tor: %w", err)
	}

	iface := o.egressIface(ctx)
	if err := o.NS.Destroy(ctx, iface); err != nil {
		return fmt.Errorf("destroy namespace: %w", err)
	}

	snap, err := o.Snapshot.Load("initial")
	if err != nil || !snap.Complete {
		if err := o.Snapshot.RestoreSafeDefaults(ctx); err != nil {
			return fmt.Errorf("restore safe defaults: %w", err)
		}
		return o.saveState(false, types.ModeNone)
	}

	// Restore re-applies the captured firewall ruleset, restores the
	// original MAC, the sysctl matrix, the NM connection and service
	// states, re-enables IPv6, and unlocks + restores the resolver config,
	// then restarts the connection manager — the remaining steps Disable's
	// contract names.
	if err := o.Snapshot.Restore(ctx, "initial"); err != nil {
		return fmt.Errorf("restore initial snapshot: %w", err)
	}

	return o.saveState(false, types.ModeNone)
}
