package snapshot

import (
	"context"
	"fmt"

	"github.com/anonmanager/anonmanager/internal/fileutil"
	"github.com/anonmanager/anonmanager/internal/types"
)

// Restore reverses the mutations recorded under name, in the fixed order
// firewall → DNS → MAC → sysctl → NM active connection → service states → IPv6
// re-enable → connection-manager restart. If the named snapshot is absent
// or incomplete, Restore refuses to read it and instead applies
// RestoreSafeDefaults, matching the design's refusal to ever apply partial
// data.
func (s *Store) Restore(ctx context.Context, name string) error {
	snap, err := s.Load(name)
	if err != nil || !snap.Complete {
		return s.RestoreSafeDefaults(ctx)
	}
	return s.restoreSnapshot(ctx, snap)
}

func (s *Store) restoreSnapshot(ctx context.Context, snap Snapshot) error {
	if err := s.restoreFirewall(ctx, snap); err != nil {
		return fmt.Errorf("restore firewall: %w", err)
	}
	if err := s.restoreResolv(ctx, snap.Resolv); err != nil {
		return fmt.Errorf("restore resolver config: %w", err)
	}
	s.restoreMAC(ctx, snap.IfaceName, snap.OriginalMAC)
	s.restoreSysctl(ctx, snap.SysctlValues) // individual failures are warnings, not fatal
	s.restoreNMActive(ctx, snap.NMActive)
	s.restoreServiceStates(ctx, snap.ServiceStates)
	s.restoreIPv6(ctx)
	s.restartConnectionManager(ctx)
	return nil
}

func (s *Store) restoreFirewall(ctx context.Context, snap Snapshot) error {
	switch snap.FirewallBackend {
	case types.BackendModern:
		if snap.FirewallRuleset.Modern == "" || snap.FirewallRuleset.Modern == types.UnknownValue {
			return nil
		}
		return runWithStdin(ctx, s, "nft", []string{"-f", "-"}, snap.FirewallRuleset.Modern)
	case types.BackendLegacy, types.BackendLegacyAlt:
		if rs := snap.FirewallRuleset; rs.LegacyV4 != "" && rs.LegacyV4 != types.UnknownValue {
			if err := runWithStdin(ctx, s, "iptables-restore", nil, rs.LegacyV4); err != nil {
				return err
			}
		}
		if rs := snap.FirewallRuleset; rs.LegacyV6 != "" && rs.LegacyV6 != types.UnknownValue {
			if err := runWithStdin(ctx, s, "ip6tables-restore", nil, rs.LegacyV6); err != nil {
				return err
			}
		}
		if rs := snap.FirewallRuleset; rs.SetState != "" && rs.SetState != types.UnknownValue {
			if err := runWithStdin(ctx, s, "ipset", []string{"restore"}, rs.SetState); err != nil {
				return err
			}
		}
	}
	return nil
}

func runWithStdin(ctx context.Context, s *Store, name string, args []string, stdin string) error {
	_, err := s.Runner.RunWithStdin(ctx, captureTimeout, name, stdin, args...)
	return err
}

func (s *Store) restoreResolv(ctx context.Context, r ResolvCapture) error {
	resolvPath := s.ResolvPath
	// Clear immutable flag before any rewrite attempt; a no-op if absent.
	_, _ = s.run(ctx, "chattr", "-i", resolvPath)

	switch r.Kind {
	case ResolvSymlink:
		if r.RelativeTarget == "" || r.RelativeTarget == types.UnknownValue {
			return nil
		}
		if err := writeFileOrUnknownSkip(r.AbsoluteTarget, r.Content); err != nil {
			return err
		}
		if _, err := s.run(ctx, "rm", "-f", resolvPath); err != nil {
			return err
		}
		if _, err := s.run(ctx, "ln", "-s", r.RelativeTarget, resolvPath); err != nil {
			return err
		}
	case ResolvFile:
		if r.Content == types.UnknownValue {
			return nil
		}
		if err := writeFileOrUnknownSkip(resolvPath, r.Content); err != nil {
			return err
		}
		if r.Immutable {
			if _, err := s.run(ctx, "chattr", "+i", resolvPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFileOrUnknownSkip(path, content string) error {
	if path == "" || content == types.UnknownValue {
		return nil
	}
	return fileutil.AtomicWriteFile(path, []byte(content), 0644)
}

// restoreMAC puts the egress interface's hardware address back to what was
// captured before MAC Rotator randomized it. A missing interface name or an
// unknown capture skips the restore rather than writing a bogus address.
func (s *Store) restoreMAC(ctx context.Context, iface, originalMAC string) {
	if iface == "" || originalMAC == "" || originalMAC == types.UnknownValue {
		return
	}
	if _, err := s.run(ctx, "ip", "link", "set", iface, "down"); err != nil {
		s.log.Warn("restore MAC for %s: bring interface down failed: %v", iface, err)
		return
	}
	if _, err := s.run(ctx, "ip", "link", "set", iface, "address", originalMAC); err != nil {
		s.log.Warn("restore MAC for %s failed: %v", iface, err)
	}
	if _, err := s.run(ctx, "ip", "link", "set", iface, "up"); err != nil {
		s.log.Warn("restore MAC for %s: bring interface up failed: %v", iface, err)
	}
}

func (s *Store) restoreSysctl(ctx context.Context, values map[string]string) {
	for key, val := range values {
		if val == types.UnknownValue {
			s.log.Warn("skipping sysctl restore for %s: value was unknown at capture time", key)
			continue
		}
		if _, err := s.run(ctx, "sysctl", "-w", key+"="+val); err != nil {
			s.log.Warn("restore sysctl %s=%s failed: %v", key, val, err)
		}
	}
}

func (s *Store) restoreNMActive(ctx context.Context, name string) {
	if name == "" {
		return
	}
	if _, err := s.run(ctx, "nmcli", "connection", "up", name); err != nil {
		s.log.Warn("restore active NM connection %q failed: %v", name, err)
	}
}

func (s *Store) restoreServiceStates(ctx context.Context, states map[string]ServiceState) {
	for svc, st := range states {
		if st.Enabled == types.ServiceEnabled {
			_, _ = s.run(ctx, "systemctl", "enable", svc)
		} else if st.Enabled == types.ServiceDisabled {
			_, _ = s.run(ctx, "systemctl", "disable", svc)
		}
		if st.Active == types.ServiceActive {
			_, _ = s.run(ctx, "systemctl", "start", svc)
		} else {
			_, _ = s.run(ctx, "systemctl", "stop", svc)
		}
	}
}

func (s *Store) restoreIPv6(ctx context.Context) {
	for _, scope := range []string{"all", "default"} {
		if _, err := s.run(ctx, "sysctl", "-w", "net.ipv6.conf."+scope+".disable_ipv6=0"); err != nil {
			s.log.Warn("re-enable IPv6 for scope %s failed: %v", scope, err)
		}
	}
}

func (s *Store) restartConnectionManager(ctx context.Context) {
	if _, err := s.run(ctx, "systemctl", "restart", "NetworkManager"); err != nil {
		s.log.Warn("restart NetworkManager failed: %v", err)
	}
}

// RestoreSafeDefaults is the fallback path when no valid snapshot exists:
// delete the anonmanager nftables tables and flush the legacy iptables NAT
// chain (anonmanager-specific rules only; the iptables filter chain and its
// hooks are not touched), re-enable IPv6, clear the immutable flag on the
// resolver config, restart the connection manager.
// It never assumes the prior state is knowable, so it never restores
// anything beyond putting the host back into a safe, unlocked baseline.
func (s *Store) RestoreSafeDefaults(ctx context.Context) error {
	_, _ = s.run(ctx, "nft", "delete", "table", "inet", "anonmanager")
	_, _ = s.run(ctx, "nft", "delete", "table", "ip6", "anonmanager")
	_, _ = s.run(ctx, "nft", "delete", "table", "ip", "anonmanager_nat")
	_, _ = s.run(ctx, "iptables-legacy", "-t", "nat", "-F", "ANONMANAGER")
	_, _ = s.run(ctx, "chattr", "-i", s.ResolvPath)
	s.restoreIPv6(ctx)
	s.restartConnectionManager(ctx)
	return nil
}
