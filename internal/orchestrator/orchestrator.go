// Package orchestrator implements the transactional pipeline that places
// the host into (and out of) an anonymized state: enable_extreme,
// enable_partial, disable, and emergency_restore. It is the only component
// that owns the Snapshot Store and RuntimeState; every other collaborator
// is handed to it as a dependency rather than constructed internally, so
// tests can substitute fakes for every one of them.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/dnslock"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/fileutil"
	"github.com/anonmanager/anonmanager/internal/firewall"
	"github.com/anonmanager/anonmanager/internal/lock"
	"github.com/anonmanager/anonmanager/internal/logger"
	"github.com/anonmanager/anonmanager/internal/mac"
	"github.com/anonmanager/anonmanager/internal/netns"
	"github.com/anonmanager/anonmanager/internal/pkgresolve"
	"github.com/anonmanager/anonmanager/internal/probe"
	"github.com/anonmanager/anonmanager/internal/snapshot"
	"github.com/anonmanager/anonmanager/internal/state"
	"github.com/anonmanager/anonmanager/internal/sysctl"
	"github.com/anonmanager/anonmanager/internal/tor"
	"github.com/anonmanager/anonmanager/internal/types"
	"github.com/anonmanager/anonmanager/internal/watchdog"
)

// Paths collects every on-disk location the orchestrator reads from or
// writes to. The caller resolves these once (honoring $ANONMANAGER_HOME in
// tests) and hands them in, so no package here hardcodes a system path.
type Paths struct {
	Root            string // e.g. /etc/anonmanager or $ANONMANAGER_HOME
	SnapshotDir     string
	StateFile       string
	LockFile        string
	TorrcFile       string
	ProxychainsFile string
	TorDataDir      string
	TorPIDFile      string
	ResolvConf      string
}

// DefaultPaths returns the conventional system layout rooted at root.
func DefaultPaths(root string) Paths {
	return Paths{
		Root:            root,
		SnapshotDir:     filepath.Join(root, "snapshots"),
		StateFile:       filepath.Join(root, "state"),
		LockFile:        filepath.Join(root, "lock"),
		TorrcFile:       filepath.Join(root, "torrc"),
		ProxychainsFile: filepath.Join(root, "proxychains.conf"),
		TorDataDir:      "/var/lib/tor/anonmanager",
		TorPIDFile:      filepath.Join(root, "tor.pid"),
		ResolvConf:      "/etc/resolv.conf",
	}
}

// requiredTools are the canonical binary names the package-check step
// insists on before any mutation begins. "nc" is not itself invoked by the
// pipeline; it is checked because S4's package-name resolution table is
// exercised here on a real host-capability gap, not just in isolation.
var requiredTools = []string{"tor", "ip", "nc"}

// Orchestrator wires every collaborator the pipeline needs. Fields are
// public so a test can construct one directly with fakes, bypassing New.
type Orchestrator struct {
	Paths   Paths
	Topo    config.Topology
	Ports   config.TorPorts
	Profile config.Profile

	Runner executil.Runner
	Prober *probe.Prober

	Snapshot   *snapshot.Store
	Sysctl     *sysctl.Hardener
	NS         *netns.Manager
	Supervisor *tor.Supervisor
	Poller     *tor.BootstrapPoller
	Firewall   firewall.Engine
	DNS        *dnslock.Locker
	MAC        *mac.Rotator
	Watchdog   *watchdog.Watchdog

	Caps probe.Capabilities

	Compensation lock.CompensationStack

	log *logger.Logger
}

// New detects the host, resolves the firewall engine for the detected
// backend, and wires every collaborator against paths/topo/ports/profile.
// torUser and egressIface come from the caller (typically probe.Detect plus
// the profile's egress-interface override).
func New(ctx context.Context, paths Paths, topo config.Topology, ports config.TorPorts, profile config.Profile, runner executil.Runner, torUser, egressIface string) (*Orchestrator, error) {
	prober := probe.New(runner)
	caps := prober.Detect(ctx)
	if torUser != "" {
		caps.TorUser = torUser
	}
	if profile.EgressInterface == "" && egressIface != "" {
		profile.EgressInterface = egressIface
	}

	fw, err := firewall.New(caps.FirewallBackend, runner)
	if err != nil {
		// BackendNone/BackendUnknown: extreme mode cannot engage a killswitch.
		// Partial mode does not need fw, so callers of EnablePartial tolerate
		// a nil Firewall; EnableExtreme refuses outright (see below).
		fw = nil
	}

	ns := netns.New(topo, runner)
	sup := tor.New(topo, ports, ns, runner, caps.TorUser, paths.TorDataDir, paths.TorPIDFile)
	poller := tor.NewBootstrapPoller(topo, ports, paths.TorDataDir)

	o := &Orchestrator{
		Paths:      paths,
		Topo:       topo,
		Ports:      ports,
		Profile:    profile,
		Runner:     runner,
		Prober:     prober,
		Snapshot:   snapshot.New(paths.SnapshotDir, runner, paths.ResolvConf),
		Sysctl:     sysctl.New(runner),
		NS:         ns,
		Supervisor: sup,
		Poller:     poller,
		Firewall:   fw,
		DNS:        dnslock.New(runner, paths.ResolvConf),
		MAC:        mac.New(runner),
		Caps:       caps,
		log:        logger.New("orchestrator"),
	}
	return o, nil
}

// egressIface returns the profile's override, or auto-detects the
// interface carrying the default route when none was configured.
func (o *Orchestrator) egressIface(ctx context.Context) string {
	if o.Profile.EgressInterface != "" {
		return o.Profile.EgressInterface
	}
	res, err := o.Runner.Run(ctx, executil.DefaultTimeout, "ip", "route", "get", "1.1.1.1")
	if err != nil {
		return ""
	}
	fields := strings.Fields(res.Stdout)
	for i, f := range fields {
		if f == "dev" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

// torUID resolves the numeric UID of the detected Tor account, used by the
// killswitch rules to scope the SOCKS/owner-match exemption to Tor's own
// outbound traffic. Falls back to 0 (root) if lookup fails, which the
// firewall engine treats as "no owner exemption" rather than a crash.
func (o *Orchestrator) torUID() int {
	u, err := user.Lookup(o.Caps.TorUser)
	if err != nil {
		return 0
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0
	}
	return uid
}

// packageCheck verifies every canonical tool in requiredTools resolves on
// PATH; for each that doesn't, it resolves the package-manager-native name
// via pkgresolve and attempts a best-effort install. tor and ip are
// load-bearing: a missing one after the install attempt is a fatal
// ExternalToolMissing. "nc" is advisory only. The firewall binary is not
// in requiredTools.
func (o *Orchestrator) packageCheck(ctx context.Context) error {
	for _, tool := range requiredTools {
		if o.Prober.CommandExists(ctx, tool) {
			continue
		}
		pkg := pkgresolve.ResolveCanonical(o.Caps.PackageManager, tool)
		o.installPackage(ctx, pkg)
		if !o.Prober.CommandExists(ctx, tool) && tool != "nc" {
			return types.NewFault(types.ErrExternalToolMissing,
				fmt.Sprintf("required tool %q is not installed", tool),
				fmt.Sprintf("install %q with your package manager and retry", pkg), nil)
		}
	}
	return nil
}

func (o *Orchestrator) installPackage(ctx context.Context, pkg string) {
	var args []string
	switch o.Caps.PackageManager {
	case types.PkgManagerAPT:
		args = []string{"install", "-y", pkg}
	case types.PkgManagerPacman:
		args = []string{"-S", "--noconfirm", pkg}
	case types.PkgManagerDNF:
		args = []string{"install", "-y", pkg}
	default:
		return
	}
	bin := map[types.PackageManagerTag]string{
		types.PkgManagerAPT:    "apt-get",
		types.PkgManagerPacman: "pacman",
		types.PkgManagerDNF:    "dnf",
	}[o.Caps.PackageManager]
	if _, err := o.Runner.Run(ctx, 60*time.Second, bin, args...); err != nil {
		o.log.Warn("install %s via %s failed: %v", pkg, bin, err)
	}
}

// killswitchRules builds the logical rule specification for the current
// egress interface and detected Tor user.
func (o *Orchestrator) killswitchRules(ctx context.Context) config.KillswitchRules {
	rules := config.DefaultKillswitchRules(o.Topo, o.Ports, o.torUID())
	rules.EgressIface = o.egressIface(ctx)
	if len(o.Profile.ExtraDoHBlocklist) > 0 {
		rules.DoHBlocklist = append(rules.DoHBlocklist, o.Profile.ExtraDoHBlocklist...)
	}
	return rules
}

func (o *Orchestrator) writeTorrc(dataDir string) error {
	opts := tor.DefaultTorrcOptions(dataDir)
	content := tor.RenderTorrc(o.Topo, o.Ports, opts)
	return fileutil.SecureWriteFile(o.Paths.TorrcFile, []byte(content))
}

func (o *Orchestrator) writeProxychainsConf() error {
	content := tor.RenderProxychainsConf(o.Topo, o.Ports)
	return fileutil.SecureWriteFile(o.Paths.ProxychainsFile, []byte(content))
}

func (o *Orchestrator) bootstrapTimeout() time.Duration {
	seconds := o.Profile.BootstrapTimeoutSeconds
	if seconds <= 0 {
		seconds = 180
	}
	return time.Duration(seconds) * time.Second
}

func (o *Orchestrator) watchdogPeriod() time.Duration {
	seconds := o.Profile.WatchdogPeriodSeconds
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// newWatchdog builds a Watchdog bound to o's live collaborators, with o's
// configured Firewall even when it is nil — the partial pipeline runs
// without a killswitch and the watchdog's own nil checks skip that
// assertion rather than treat it as a tor-liveness-style failure.
func newWatchdog(o *Orchestrator) *watchdog.Watchdog {
	return watchdog.New(o.watchdogPeriod(), o.Supervisor, o.Firewall, o.NS, o.Runner, o.Paths.ResolvConf)
}

func (o *Orchestrator) saveState(active bool, mode types.Mode) error {
	s := state.Default()
	s.AnonymityActive = active
	s.Mode = mode
	s.Profile = o.Profile.Name
	s.DistroFamily = o.Caps.DistroFamily
	s.FirewallBackend = o.Caps.FirewallBackend
	if active {
		s.MonitorHandle = os.Getpid()
	}
	return state.Save(o.Paths.StateFile, s)
}
