// Package snapshot implements the atomic, symlink-aware backup and restore
// of everything the orchestrator mutates: the firewall ruleset, the sysctl
// matrix, the resolver configuration, systemd service states, the active
// NetworkManager connection, and the egress interface name. A snapshot is
// immutable once committed and valid only if its completion marker was
// written — writers place the marker last, readers refuse anything without
// it and fall back to safe defaults instead.
package snapshot

import "github.com/anonmanager/anonmanager/internal/types"

// ResolvKind tags which of the two resolver-capture shapes a Snapshot holds.
type ResolvKind string

const (
	ResolvSymlink ResolvKind = "symlink"
	ResolvFile    ResolvKind = "file"
)

// ResolvCapture is the symlink-aware capture of /etc/resolv.conf: either the
// symlink's absolute and relative targets plus the target file's content, or
// a regular file's content plus its immutable-attribute flag.
type ResolvCapture struct {
	Kind ResolvKind

	AbsoluteTarget string // ResolvSymlink only
	RelativeTarget string // ResolvSymlink only

	Content   string
	Immutable bool // ResolvFile only
}

// ServiceState is the pre-change enabled/active pair for one systemd unit.
type ServiceState struct {
	Enabled types.ServiceEnabledState
	Active  types.ServiceActiveState
}

// Snapshot is the full captured state under one name, typically "initial".
type Snapshot struct {
	Name string

	FirewallBackend types.FirewallBackend
	FirewallRuleset FirewallRuleset

	SysctlValues map[string]string

	Resolv ResolvCapture

	ServiceStates map[string]ServiceState

	NMActive string // optional; empty if none recorded

	IfaceName string

	// OriginalMAC is the egress interface's hardware address before MAC
	// Rotator randomization, or types.UnknownValue if its sysfs address
	// file could not be read. Empty if no interface name was given.
	OriginalMAC string

	// Complete is set only by a successful Load of a snapshot whose
	// on-disk completion marker was present. It is never set directly by
	// callers constructing a Snapshot for Save.
	Complete bool
}

// FirewallRuleset holds the backend-specific serialized ruleset blob(s).
// The modern backend captures one declarative dump; the legacy family
// captures three independent streams.
type FirewallRuleset struct {
	Modern string // nft ruleset dump, modern backend only

	LegacyV4 string // iptables-save, legacy/legacy_alt backends
	LegacyV6 string // ip6tables-save, legacy/legacy_alt backends
	SetState string // ipset save, legacy/legacy_alt backends
}
