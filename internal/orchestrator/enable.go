package orchestrator

import (
	"context"
	"fmt"

	"github.com/anonmanager/anonmanager/internal/types"
)

// EnableExtreme runs the full pipeline: package check, initial snapshot,
// sysctl hardening, IPv6 disable, namespace creation, Tor configure/start,
// bootstrap wait, firewall engagement, DNS lock, MAC randomization
// (non-fatal), proxychains-style helper write, watchdog start, state
// write. Any fault after the initial snapshot is taken triggers
// emergency_restore and propagates.
func (o *Orchestrator) EnableExtreme(ctx context.Context) error {
	if o.Firewall == nil {
		return types.NewFault(types.ErrUnsupportedHost,
			"no firewall backend detected", "install nftables or iptables", nil)
	}
	return o.enable(ctx, types.ModeExtreme, true)
}

// EnablePartial runs the pipeline with firewall killswitch engagement,
// sysctl hardening, and MAC randomization omitted; DNS is still locked to
// Tor's resolver.
func (o *Orchestrator) EnablePartial(ctx context.Context) error {
	return o.enable(ctx, types.ModePartial, false)
}

func (o *Orchestrator) enable(ctx context.Context, mode types.Mode, extreme bool) error {
	if err := o.packageCheck(ctx); err != nil {
		return err
	}

	iface := o.egressIface(ctx)
	if err := o.Snapshot.Save(ctx, "initial", o.Caps.FirewallBackend, iface); err != nil {
		return types.NewFault(types.ErrStepFault, "save initial snapshot", "check permissions on the configuration directory", err)
	}

	if err := o.runMutatingSteps(ctx, mode, extreme, iface); err != nil {
		o.log.Warn("enable pipeline failed, running emergency restore: %v", err)
		o.EmergencyRestore(ctx)
		return err
	}
	return nil
}

// runMutatingSteps is everything from sysctl hardening through state write.
// Every fault it returns has already passed the initial-snapshot line, so
// the caller always treats a non-nil return as emergency_restore-worthy.
func (o *Orchestrator) runMutatingSteps(ctx context.Context, mode types.Mode, extreme bool, iface string) error {
	if extreme {
		o.Sysctl.ApplyHardeningMatrix(ctx)
	}
	o.Sysctl.ApplyIPv6Disable(ctx)

	if err := o.NS.Create(ctx, iface); err != nil {
		return fmt.Errorf("create namespace: %w", err)
	}
	o.Compensation.Push(func() { _ = o.NS.Destroy(ctx, iface) })

	if err := o.writeTorrc(o.Paths.TorDataDir); err != nil {
		return fmt.Errorf("write tor configuration: %w", err)
	}

	if err := o.Supervisor.Start(ctx, o.Paths.TorrcFile); err != nil {
		return fmt.Errorf("start tor: %w", err)
	}
	o.Compensation.Push(func() { _ = o.Supervisor.Stop(ctx) })

	alive := func() bool { running, _ := o.Supervisor.IsRunning(ctx); return running }
	if err := o.Poller.WaitUntilDone(ctx, o.bootstrapTimeout(), alive); err != nil {
		return fmt.Errorf("wait for tor bootstrap: %w", err)
	}

	if extreme {
		rules := o.killswitchRules(ctx)
		rules.EgressIface = iface
		if err := o.Firewall.Engage(ctx, rules); err != nil {
			return fmt.Errorf("engage firewall: %w", err)
		}
		o.Compensation.Push(func() { _ = o.Firewall.Disengage(ctx) })
	}

	if err := o.DNS.Lock(ctx); err != nil {
		return fmt.Errorf("lock dns: %w", err)
	}
	o.Compensation.Push(func() { _ = o.DNS.Unlock(ctx) })

	if extreme {
		// Restore is handled by the Snapshot Store (it captured the
		// pre-randomization address in Save above), not by a compensation
		// entry here: a bare Rotator.Restore has nothing to restore to
		// without that captured value.
		if newMAC, err := o.MAC.Randomize(ctx, iface); err != nil {
			o.log.Warn("mac randomization failed (non-fatal): %v", err)
		} else {
			o.log.Info("randomized egress MAC on %s to %s", iface, newMAC)
		}
	}

	if err := o.writeProxychainsConf(); err != nil {
		return fmt.Errorf("write proxychains helper config: %w", err)
	}

	o.Watchdog = newWatchdog(o)
	o.Watchdog.Start(ctx)
	o.Compensation.Push(func() { o.Watchdog.Stop() })

	if err := o.saveState(true, mode); err != nil {
		return fmt.Errorf("write runtime state: %w", err)
	}
	return nil
}
