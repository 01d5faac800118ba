// Package probe detects the host environment the orchestrator must adapt
// to: distribution family, package manager, firewall backend, the
// unprivileged Tor account, its data directory, and whether the nft and
// iptables binaries are on PATH. Detection never mutates
// anything; every step is a read-only inspection through executil.Runner or
// the filesystem.
package probe

import (
	"context"
	"os"
	"strings"

	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/logger"
	"github.com/anonmanager/anonmanager/internal/types"
)

// Capabilities is everything the orchestrator needs to know about the host
// before it can run the enable pipeline.
type Capabilities struct {
	DistroFamily    types.DistroFamily
	PackageManager  types.PackageManagerTag
	FirewallBackend types.FirewallBackend
	TorUser         string
	TorDataDir      string
	HasNFTables     bool
	HasIPTables     bool
}

// Prober detects Capabilities on the live host.
type Prober struct {
	Runner executil.Runner
	log    *logger.Logger
}

// New returns a Prober issuing every detection command through runner.
func New(runner executil.Runner) *Prober {
	return &Prober{Runner: runner, log: logger.New("probe")}
}

func (p *Prober) run(ctx context.Context, name string, args ...string) (executil.Result, error) {
	return p.Runner.Run(ctx, executil.DefaultTimeout, name, args...)
}

// Detect runs every probe and returns the combined result. A probe that
// fails to determine its field leaves that field at its "unknown" zero
// value rather than aborting the whole detection pass.
func (p *Prober) Detect(ctx context.Context) Capabilities {
	c := Capabilities{
		DistroFamily:   types.DistroUnknown,
		PackageManager: types.PkgManagerUnknown,
	}
	c.DistroFamily = p.detectDistro()
	c.PackageManager = p.detectPackageManager()
	c.HasNFTables = p.commandExists(ctx, "nft")
	c.HasIPTables = p.commandExists(ctx, "iptables")
	c.FirewallBackend = p.detectFirewallBackend(ctx, c.HasNFTables)
	c.TorUser = p.detectTorUser(ctx)
	c.TorDataDir = p.detectTorDataDir(c.TorUser)
	return c
}

// detectDistro reads /etc/os-release's ID and ID_LIKE fields and maps them
// to a DistroFamily. Debian/Ubuntu and their derivatives map to
// DistroDebian, Arch and derivatives to DistroArch, RHEL/Fedora/CentOS and
// derivatives to DistroRHEL; anything else is DistroUnknown.
func (p *Prober) detectDistro() types.DistroFamily {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return types.DistroUnknown
	}
	fields := parseOSRelease(string(data))
	haystack := strings.ToLower(fields["ID"] + " " + fields["ID_LIKE"])
	switch {
	case strings.Contains(haystack, "debian") || strings.Contains(haystack, "ubuntu"):
		return types.DistroDebian
	case strings.Contains(haystack, "arch"):
		return types.DistroArch
	case strings.Contains(haystack, "rhel") || strings.Contains(haystack, "fedora") || strings.Contains(haystack, "centos"):
		return types.DistroRHEL
	default:
		return types.DistroUnknown
	}
}

// parseOSRelease parses the simple KEY=VALUE (optionally quoted) lines of
// an os-release file into a map.
func parseOSRelease(content string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[key] = strings.Trim(value, `"`)
	}
	return out
}

// detectPackageManager probes for each package manager's binary in a fixed
// precedence order: apt, then pacman, then dnf.
func (p *Prober) detectPackageManager() types.PackageManagerTag {
	ctx := context.Background()
	switch {
	case p.commandExists(ctx, "apt-get"):
		return types.PkgManagerAPT
	case p.commandExists(ctx, "pacman"):
		return types.PkgManagerPacman
	case p.commandExists(ctx, "dnf"):
		return types.PkgManagerDNF
	default:
		return types.PkgManagerUnknown
	}
}

// detectFirewallBackend prefers the modern nftables backend when the nft
// binary is present and the kernel actually has an nftables ruleset
// namespace to list; otherwise it falls back to whichever iptables variant
// is installed, distinguishing the nft-backed legacy_alt wrapper from the
// true legacy binary by its reported version string.
func (p *Prober) detectFirewallBackend(ctx context.Context, hasNFT bool) types.FirewallBackend {
	if hasNFT {
		if _, err := p.run(ctx, "nft", "list", "ruleset"); err == nil {
			return types.BackendModern
		}
	}
	if p.commandExists(ctx, "iptables") {
		if res, err := p.run(ctx, "iptables", "--version"); err == nil {
			if strings.Contains(strings.ToLower(res.Stdout), "nf_tables") {
				return types.BackendLegacyAlt
			}
			return types.BackendLegacy
		}
	}
	return types.BackendUnknown
}

// detectTorUser checks the two conventional unprivileged Tor account names
// in order (Debian's "debian-tor" first, then the generic "tor") via
// getent, falling back to empty if neither exists.
func (p *Prober) detectTorUser(ctx context.Context) string {
	for _, candidate := range []string{"debian-tor", "tor"} {
		if _, err := p.run(ctx, "getent", "passwd", candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// detectTorDataDir returns the conventional data directory for torUser, or
// empty if torUser was not found.
func (p *Prober) detectTorDataDir(torUser string) string {
	if torUser == "" {
		return ""
	}
	return "/var/lib/tor"
}

// commandExists reports whether name resolves on PATH, via `which`.
func (p *Prober) commandExists(ctx context.Context, name string) bool {
	_, err := p.run(ctx, "which", name)
	return err == nil
}

// CommandExists is the exported form of commandExists, used by the
// orchestrator's package-check step to probe for an individual binary
// outside the fixed Detect sweep.
func (p *Prober) CommandExists(ctx context.Context, name string) bool {
	return p.commandExists(ctx, name)
}
