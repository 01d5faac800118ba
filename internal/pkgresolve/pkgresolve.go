// Package pkgresolve maps a canonical tool name to the package name used by
// a given package manager's repositories. It is a plain data table: no
// process execution, no filesystem access.
package pkgresolve

import "github.com/anonmanager/anonmanager/internal/types"

// table maps package-manager tag to canonical-name -> native-package-name.
// A canonical name absent from the inner map resolves to itself, regardless
// of tag.
var table = map[types.PackageManagerTag]map[string]string{
	types.PkgManagerAPT: {
		"nc":     "netcat-openbsd",
		"nft":    "nftables",
		"tor":    "tor",
		"nm-cli": "network-manager",
		"ipset":  "ipset",
	},
	types.PkgManagerPacman: {
		"nc":     "openbsd-netcat",
		"nft":    "nftables",
		"tor":    "tor",
		"nm-cli": "networkmanager",
		"ipset":  "ipset",
	},
	types.PkgManagerDNF: {
		"nc":     "nmap-ncat",
		"nft":    "nftables",
		"tor":    "tor",
		"nm-cli": "NetworkManager",
		"ipset":  "ipset",
	},
}

// ResolveCanonical maps canonical to the package name tag's repositories
// use. An unknown canonical name, or an unknown tag, resolves to canonical
// unchanged.
func ResolveCanonical(tag types.PackageManagerTag, canonical string) string {
	names, ok := table[tag]
	if !ok {
		return canonical
	}
	if native, ok := names[canonical]; ok {
		return native
	}
	return canonical
}
