// Package netns manages the isolated network namespace and veth pair the
// Tor process runs inside. Every operation shells out to `ip` through
// executil.Runner — the namespace is kernel state with no userspace netlink
// binding anywhere in the surrounding corpus, so the authoritative interface
// is the `ip` command itself, wrapped the same way every other host tool is.
package netns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/logger"
	"github.com/anonmanager/anonmanager/internal/types"
)

// Manager owns the namespace + veth pair + outbound NAT described by
// config.Topology.
type Manager struct {
	Topo   config.Topology
	Runner executil.Runner
	log    *logger.Logger
}

// New returns a Manager bound to topo, issuing every mutation through runner.
func New(topo config.Topology, runner executil.Runner) *Manager {
	return &Manager{Topo: topo, Runner: runner, log: logger.New("netns")}
}

func (m *Manager) run(ctx context.Context, name string, args ...string) (executil.Result, error) {
	return m.Runner.Run(ctx, executil.DefaultTimeout, name, args...)
}

// Exists reports whether the namespace is currently present.
func (m *Manager) Exists(ctx context.Context) bool {
	res, err := m.run(ctx, "ip", "netns", "list")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == m.Topo.NamespaceName {
			return true
		}
	}
	return false
}

// Create idempotently tears down any pre-existing namespace of the same
// name, then brings up the namespace, veth pair, addressing, routing, and
// host-side NAT described in the design notes. Any failure after the
// namespace itself was created unwinds the veth and namespace before
// returning an error — Create never leaves a half-built fabric behind.
func (m *Manager) Create(ctx context.Context, egressIface string) error {
	if m.Exists(ctx) {
		if err := m.Destroy(ctx, egressIface); err != nil {
			return fmt.Errorf("destroy pre-existing namespace: %w", err)
		}
	}

	if _, err := m.run(ctx, "ip", "netns", "add", m.Topo.NamespaceName); err != nil {
		return namespaceFault("create namespace", err)
	}

	if err := m.createVethPair(ctx); err != nil {
		m.unwindAfterCreateFailure(ctx, egressIface)
		return err
	}

	if err := m.configureAddressing(ctx); err != nil {
		m.unwindAfterCreateFailure(ctx, egressIface)
		return err
	}

	if err := m.installNAT(ctx, egressIface); err != nil {
		m.unwindAfterCreateFailure(ctx, egressIface)
		return err
	}

	return nil
}

func (m *Manager) createVethPair(ctx context.Context) error {
	if _, err := m.run(ctx, "ip", "link", "add", m.Topo.VethHostName, "type", "veth", "peer", "name", m.Topo.VethNSName); err != nil {
		return namespaceFault("create veth pair", err)
	}
	if _, err := m.run(ctx, "ip", "link", "set", m.Topo.VethNSName, "netns", m.Topo.NamespaceName); err != nil {
		return namespaceFault("move veth end into namespace", err)
	}
	return nil
}

func (m *Manager) configureAddressing(ctx context.Context) error {
	steps := [][]string{
		{"ip", "netns", "exec", m.Topo.NamespaceName, "ip", "addr", "add", m.Topo.TorIP + "/24", "dev", m.Topo.VethNSName},
		{"ip", "addr", "add", m.Topo.HostIP + "/24", "dev", m.Topo.VethHostName},
		{"ip", "link", "set", m.Topo.VethHostName, "up"},
		{"ip", "netns", "exec", m.Topo.NamespaceName, "ip", "link", "set", m.Topo.VethNSName, "up"},
		{"ip", "netns", "exec", m.Topo.NamespaceName, "ip", "link", "set", "lo", "up"},
		{"ip", "netns", "exec", m.Topo.NamespaceName, "ip", "route", "add", "default", "via", m.Topo.HostIP},
		{"sysctl", "-w", "net.ipv4.ip_forward=1"},
	}

	for _, step := range steps {
		if _, err := m.run(ctx, step[0], step[1:]...); err != nil {
			return namespaceFault(strings.Join(step, " "), err)
		}
	}
	return nil
}

func (m *Manager) installNAT(ctx context.Context, egressIface string) error {
	if _, err := m.run(ctx, "iptables", "-t", "nat", "-A", "POSTROUTING", "-s", m.Topo.SubnetCIDR, "-o", egressIface, "-j", "MASQUERADE"); err != nil {
		return namespaceFault("install outbound NAT", err)
	}
	return nil
}

// unwindAfterCreateFailure deletes the veth end and the namespace, best
// effort, so a failed Create never leaves partial fabric in place.
func (m *Manager) unwindAfterCreateFailure(ctx context.Context, egressIface string) {
	_, _ = m.run(ctx, "iptables", "-t", "nat", "-D", "POSTROUTING", "-s", m.Topo.SubnetCIDR, "-o", egressIface, "-j", "MASQUERADE")
	_, _ = m.run(ctx, "ip", "link", "delete", m.Topo.VethHostName)
	_, _ = m.run(ctx, "ip", "netns", "delete", m.Topo.NamespaceName)
}

// Destroy removes the NAT rule, terminates any process still resident in
// the namespace (SIGTERM, 1-second grace, SIGKILL), deletes the namespace
// (which removes its resident veth end), then removes the host-side veth if
// it is still present. Destroy is idempotent: it never fails merely because
// the namespace is already gone.
func (m *Manager) Destroy(ctx context.Context, egressIface string) error {
	_, _ = m.run(ctx, "iptables", "-t", "nat", "-D", "POSTROUTING", "-s", m.Topo.SubnetCIDR, "-o", egressIface, "-j", "MASQUERADE")

	m.terminateResidentProcesses(ctx)

	if _, err := m.run(ctx, "ip", "netns", "delete", m.Topo.NamespaceName); err != nil {
		m.log.Debug("delete namespace %s: %v (may already be absent)", m.Topo.NamespaceName, err)
	}

	if _, err := m.run(ctx, "ip", "link", "delete", m.Topo.VethHostName); err != nil {
		m.log.Debug("delete veth %s: %v (may already be absent)", m.Topo.VethHostName, err)
	}
	return nil
}

func (m *Manager) terminateResidentProcesses(ctx context.Context) {
	res, err := m.run(ctx, "ip", "netns", "pids", m.Topo.NamespaceName)
	if err != nil || strings.TrimSpace(res.Stdout) == "" {
		return
	}
	pids := strings.Fields(res.Stdout)
	for _, pid := range pids {
		_, _ = m.run(ctx, "kill", "-TERM", pid)
	}

	gctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	<-gctx.Done()

	res, err = m.run(ctx, "ip", "netns", "pids", m.Topo.NamespaceName)
	if err != nil {
		return
	}
	for _, pid := range strings.Fields(res.Stdout) {
		_, _ = m.run(ctx, "kill", "-KILL", pid)
	}
}

// Exec runs name with args inside the namespace's network context.
func (m *Manager) Exec(ctx context.Context, name string, args ...string) (executil.Result, error) {
	full := append([]string{"netns", "exec", m.Topo.NamespaceName, name}, args...)
	return m.Runner.Run(ctx, executil.DefaultTimeout, "ip", full...)
}

func namespaceFault(step string, cause error) error {
	return types.NewFault(types.ErrStepFault, fmt.Sprintf("namespace step %q failed", step), "ensure `ip` is installed and the process has CAP_NET_ADMIN", cause)
}
