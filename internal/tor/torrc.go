package tor

import (
	"fmt"
	"strings"

	"github.com/anonmanager/anonmanager/internal/config"
)

// TorrcOptions carries the tunables the orchestrator's Profile selects that
// feed into the emitted configuration: circuit-management parameters and a
// memory ceiling, on top of the literal, never-overridable port bindings.
type TorrcOptions struct {
	DataDirectory       string
	MaxMemInQueues      string // e.g. "256 MB"
	CircuitBuildTimeout int    // seconds
	NewCircuitPeriod    int    // seconds
}

// DefaultTorrcOptions returns conservative circuit-management defaults.
func DefaultTorrcOptions(dataDir string) TorrcOptions {
	return TorrcOptions{
		DataDirectory:       dataDir,
		MaxMemInQueues:      "256 MB",
		CircuitBuildTimeout: 60,
		NewCircuitPeriod:    120,
	}
}

// RenderTorrc emits the Tor configuration file content, bit-exact on the
// port bindings required by the external interfaces design: SOCKS, DNS,
// trans, and control all bound to topo.TorIP; SOCKS policy accepts the
// namespace subnet and rejects all else; cookie authentication enabled;
// AvoidDiskWrites, SafeLogging, DisableDebuggerAttachment,
// ClientRejectInternalAddresses, and WarnUnsafeSocks set. No secret ever
// appears in this file or in any process argument derived from it.
func RenderTorrc(topo config.Topology, ports config.TorPorts, opts TorrcOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "DataDirectory %s\n", opts.DataDirectory)
	b.WriteString("\n")

	fmt.Fprintf(&b, "SocksPort %s:%d\n", topo.TorIP, ports.SOCKS)
	fmt.Fprintf(&b, "SocksPolicy accept %s\n", topo.SubnetCIDR)
	b.WriteString("SocksPolicy reject *\n")
	fmt.Fprintf(&b, "DNSPort %s:%d\n", topo.TorIP, ports.DNS)
	fmt.Fprintf(&b, "TransPort %s:%d\n", topo.TorIP, ports.Trans)
	fmt.Fprintf(&b, "ControlPort %s:%d\n", topo.TorIP, ports.Control)
	b.WriteString("CookieAuthentication 1\n")
	b.WriteString("\n")

	b.WriteString("AvoidDiskWrites 1\n")
	b.WriteString("SafeLogging 1\n")
	b.WriteString("DisableDebuggerAttachment 1\n")
	b.WriteString("ClientRejectInternalAddresses 1\n")
	b.WriteString("WarnUnsafeSocks 1\n")
	b.WriteString("\n")

	fmt.Fprintf(&b, "MaxMemInQueues %s\n", opts.MaxMemInQueues)
	fmt.Fprintf(&b, "CircuitBuildTimeout %d\n", opts.CircuitBuildTimeout)
	fmt.Fprintf(&b, "NewCircuitPeriod %d\n", opts.NewCircuitPeriod)

	return b.String()
}

// RenderProxychainsConf emits the proxychains-style helper file: a single
// SOCKS5 upstream at topo.TorIP:ports.SOCKS, strict_chain, proxy_dns.
func RenderProxychainsConf(topo config.Topology, ports config.TorPorts) string {
	var b strings.Builder
	b.WriteString("strict_chain\n")
	b.WriteString("proxy_dns\n")
	b.WriteString("\n[ProxyList]\n")
	fmt.Fprintf(&b, "socks5 %s %d\n", topo.TorIP, ports.SOCKS)
	return b.String()
}
