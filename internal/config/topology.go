// Package config holds the orchestrator's static configuration: the literal
// network topology and Tor port assignments from the external interfaces
// design (never overridable — they define the isolation fabric itself), the
// killswitch rule specification compiled by the firewall engine, the fixed
// sysctl hardening matrix, and the per-profile tunables that ARE overridable
// (bootstrap timeout, watchdog period, log level, ...).
package config

import "github.com/anonmanager/anonmanager/internal/types"

// Topology is the literal network topology §6 requires bit-exact. It is
// configuration, not runtime state: it must not change across invocations
// while the system is active, so it is exposed as a package-level constant
// value rather than something a Profile can override.
type Topology struct {
	NamespaceName string
	VethHostName  string
	VethNSName    string
	TorIP         string
	HostIP        string
	SubnetCIDR    string
}

// DefaultTopology returns the literal topology from §6.
func DefaultTopology() Topology {
	return Topology{
		NamespaceName: "anonspace",
		VethHostName:  "veth_host",
		VethNSName:    "veth_tor",
		TorIP:         "10.200.1.1",
		HostIP:        "10.200.1.2",
		SubnetCIDR:    "10.200.1.0/24",
	}
}

// TorPorts is the literal Tor port assignment from §6.
type TorPorts struct {
	SOCKS   int
	Control int
	DNS     int
	Trans   int
}

// DefaultTorPorts returns the literal port assignment from §6.
func DefaultTorPorts() TorPorts {
	return TorPorts{SOCKS: 9050, Control: 9051, DNS: 5353, Trans: 9040}
}

// TorEndpoint names the single Tor instance the killswitch DNATs to.
type TorEndpoint struct {
	Address     string
	DNSPort     int
	TransPort   int
	SOCKSPort   int
	ControlPort int
}

// PortProto pairs a port with the protocol it applies to, for WebRTC/mDNS
// deny rules that span both UDP and TCP.
type PortProto struct {
	Port  int
	Proto string // "udp" or "tcp"
}

// KillswitchRules is the logical, backend-independent killswitch
// specification from §3. The firewall engine compiles this into
// backend-native rules; neither backend changes these semantics.
type KillswitchRules struct {
	TorUID       int
	EgressIface  string
	NSSubnet     string
	TorEndpoint  TorEndpoint
	DoHBlocklist []string    // IPs rejected on 443/853
	WebRTCPorts  []PortProto // dropped
}

// DefaultKillswitchRules builds the rule specification from the literal
// topology, Tor ports, and the fixed DoH/WebRTC deny lists from §4.2.
func DefaultKillswitchRules(topo Topology, ports TorPorts, torUID int) KillswitchRules {
	return KillswitchRules{
		TorUID:   torUID,
		NSSubnet: topo.SubnetCIDR,
		TorEndpoint: TorEndpoint{
			Address:     topo.TorIP,
			DNSPort:     ports.DNS,
			TransPort:   ports.Trans,
			SOCKSPort:   ports.SOCKS,
			ControlPort: ports.Control,
		},
		DoHBlocklist: DefaultDoHBlocklist(),
		WebRTCPorts: []PortProto{
			{Port: 3478, Proto: "udp"},
			{Port: 5349, Proto: "udp"},
			{Port: 19302, Proto: "udp"},
			{Port: 3478, Proto: "tcp"},
			{Port: 5349, Proto: "tcp"},
		},
	}
}

// DefaultDoHBlocklist returns the well-known DNS-over-HTTPS resolver
// addresses rejected (not merely dropped) on ports 443/853 per §4.2.
func DefaultDoHBlocklist() []string {
	return []string{
		"1.1.1.1", "1.0.0.1", // Cloudflare
		"8.8.8.8", "8.8.4.4", // Google
		"9.9.9.9", "149.112.112.112", // Quad9
		"208.67.222.222", "208.67.220.220", // OpenDNS
	}
}

// SysctlEntry is one key/value pair in the hardening matrix.
type SysctlEntry struct {
	Key   string
	Value string
}

// SysctlMatrix returns the exact hardening matrix from §6, applied on
// extreme enable and restored verbatim on disable.
func SysctlMatrix() []SysctlEntry {
	entries := []SysctlEntry{
		{"kernel.kptr_restrict", "2"},
		{"kernel.dmesg_restrict", "1"},
		{"kernel.unprivileged_bpf_disabled", "1"},
		{"net.core.bpf_jit_harden", "2"},
		{"net.ipv4.tcp_timestamps", "0"},
		{"net.ipv4.icmp_echo_ignore_all", "1"},
		{"net.ipv4.tcp_syncookies", "1"},
	}
	for _, scope := range []string{"all", "default"} {
		entries = append(entries,
			SysctlEntry{"net.ipv4.conf." + scope + ".accept_redirects", "0"},
			SysctlEntry{"net.ipv6.conf." + scope + ".accept_redirects", "0"},
			SysctlEntry{"net.ipv4.conf." + scope + ".accept_source_route", "0"},
			SysctlEntry{"net.ipv6.conf." + scope + ".accept_source_route", "0"},
			SysctlEntry{"net.ipv4.conf." + scope + ".rp_filter", "1"},
			SysctlEntry{"net.ipv4.conf." + scope + ".send_redirects", "0"},
			SysctlEntry{"net.ipv4.conf." + scope + ".log_martians", "1"},
		)
	}
	return entries
}

// IPv6DisableMatrix returns the IPv6-disable key/value matrix from §6,
// applied by the Sysctl Hardening & IPv6 component independently of the
// main hardening matrix (the partial pipeline disables IPv6 without
// applying the rest of the matrix).
func IPv6DisableMatrix() []SysctlEntry {
	var entries []SysctlEntry
	for _, scope := range []string{"all", "default"} {
		entries = append(entries,
			SysctlEntry{"net.ipv6.conf." + scope + ".disable_ipv6", "1"},
			SysctlEntry{"net.ipv6.conf." + scope + ".accept_ra", "0"},
			SysctlEntry{"net.ipv6.conf." + scope + ".autoconf", "0"},
		)
	}
	return entries
}

// PackageManagerForDistro maps a detected distro family to the package
// manager tag the probe uses for C15 resolution. Pure data, grounded in the
// probe's detection responsibility (§4 C1).
func PackageManagerForDistro(f types.DistroFamily) types.PackageManagerTag {
	switch f {
	case types.DistroDebian:
		return types.PkgManagerAPT
	case types.DistroArch:
		return types.PkgManagerPacman
	case types.DistroRHEL:
		return types.PkgManagerDNF
	default:
		return types.PkgManagerUnknown
	}
}
