package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/logger"
)

const tableName = "anonmanager"

// nftEngine implements Engine over nftables' declarative rule language: the
// whole killswitch is three tables (inet filter, ip6 filter, ip nat), built
// atomically by loading a single ruleset document and destroyed by deleting
// each table.
type nftEngine struct {
	runner executil.Runner
	log    *logger.Logger
}

func newNFTEngine(runner executil.Runner) *nftEngine {
	return &nftEngine{runner: runner, log: logger.New("firewall.nft")}
}

func (e *nftEngine) run(ctx context.Context, name string, args ...string) (executil.Result, error) {
	return e.runner.Run(ctx, executil.DefaultTimeout, name, args...)
}

func (e *nftEngine) runWithStdin(ctx context.Context, stdin string) (executil.Result, error) {
	return e.runner.RunWithStdin(ctx, executil.DefaultTimeout, "nft", stdin, "-f", "-")
}

// Engage disengages first (idempotence), then loads the compiled ruleset
// as a single declarative document via "nft -f -".
func (e *nftEngine) Engage(ctx context.Context, rules config.KillswitchRules) error {
	if err := e.Disengage(ctx); err != nil {
		e.log.Warn("disengage before engage reported an error, continuing: %v", err)
	}
	doc := renderNFTRuleset(rules)
	if _, err := e.runWithStdin(ctx, doc); err != nil {
		return fmt.Errorf("load nftables ruleset: %w", err)
	}
	return nil
}

// Disengage deletes the three anonmanager tables. Errors from nft (such as
// deleting a table that is already absent) are ignored, so this is
// idempotent.
func (e *nftEngine) Disengage(ctx context.Context) error {
	_, _ = e.run(ctx, "nft", "delete", "table", "inet", tableName)
	_, _ = e.run(ctx, "nft", "delete", "table", "ip6", tableName)
	_, _ = e.run(ctx, "nft", "delete", "table", "ip", tableName+"_nat")
	return nil
}

func (e *nftEngine) IsActive(ctx context.Context) (bool, error) {
	res, err := e.run(ctx, "nft", "list", "table", "inet", tableName)
	if err != nil {
		return false, nil
	}
	return strings.Contains(res.Stdout, tableName), nil
}

// renderNFTRuleset compiles rules into the fixed killswitch document: an
// "inet anonmanager" table with input/output/forward filter chains, an
// "ip6 anonmanager" table that drops all non-loopback IPv6, and an
// "ip anonmanager_nat" table with an OUTPUT DNAT chain and a POSTROUTING
// masquerade chain,
// matching the semantics fixed in both backends.
func renderNFTRuleset(r config.KillswitchRules) string {
	var b strings.Builder
	doh := strings.Join(r.DoHBlocklist, ", ")
	webrtcUDP, webrtcTCP := splitPortsByProto(r.WebRTCPorts)

	fmt.Fprintf(&b, "table inet %s {\n", tableName)

	b.WriteString("  chain output {\n")
	b.WriteString("    type filter hook output priority 0; policy drop;\n")
	b.WriteString("    oif \"lo\" accept\n")
	b.WriteString("    ct state established,related accept\n")
	fmt.Fprintf(&b, "    meta skuid %d accept\n", r.TorUID)
	fmt.Fprintf(&b, "    ip daddr %s accept\n", r.NSSubnet)
	b.WriteString("    udp sport 67-68 udp dport 67-68 accept\n")
	if doh != "" {
		fmt.Fprintf(&b, "    ip daddr { %s } tcp dport { 443, 853 } reject\n", doh)
		fmt.Fprintf(&b, "    ip daddr { %s } udp dport { 443, 853 } reject\n", doh)
	}
	if webrtcUDP != "" {
		fmt.Fprintf(&b, "    udp dport { %s } drop\n", webrtcUDP)
	}
	if webrtcTCP != "" {
		fmt.Fprintf(&b, "    tcp dport { %s } drop\n", webrtcTCP)
	}
	fmt.Fprintf(&b, "    udp dport 5353 ip daddr != %s drop\n", r.TorEndpoint.Address)
	b.WriteString("    log prefix \"anonmanager-drop: \" drop\n")
	b.WriteString("  }\n\n")

	b.WriteString("  chain input {\n")
	b.WriteString("    type filter hook input priority 0; policy drop;\n")
	b.WriteString("    iif \"lo\" accept\n")
	b.WriteString("    ct state established,related accept\n")
	fmt.Fprintf(&b, "    ip saddr %s accept\n", r.NSSubnet)
	b.WriteString("    udp sport 67-68 udp dport 67-68 accept\n")
	b.WriteString("  }\n\n")

	b.WriteString("  chain forward {\n")
	b.WriteString("    type filter hook forward priority 0; policy drop;\n")
	fmt.Fprintf(&b, "    ip saddr %s accept\n", r.NSSubnet)
	fmt.Fprintf(&b, "    ip daddr %s accept\n", r.NSSubnet)
	b.WriteString("  }\n")
	b.WriteString("}\n\n")

	fmt.Fprintf(&b, "table ip6 %s {\n", tableName)
	b.WriteString("  chain input {\n")
	b.WriteString("    type filter hook input priority 0; policy drop;\n")
	b.WriteString("    iif \"lo\" accept\n")
	b.WriteString("  }\n")
	b.WriteString("  chain output {\n")
	b.WriteString("    type filter hook output priority 0; policy drop;\n")
	b.WriteString("    oif \"lo\" accept\n")
	b.WriteString("  }\n")
	b.WriteString("  chain forward {\n")
	b.WriteString("    type filter hook forward priority 0; policy drop;\n")
	b.WriteString("  }\n")
	b.WriteString("}\n\n")

	fmt.Fprintf(&b, "table ip %s_nat {\n", tableName)
	b.WriteString("  chain output {\n")
	b.WriteString("    type nat hook output priority -100;\n")
	fmt.Fprintf(&b, "    meta skuid %d return\n", r.TorUID)
	// DNS DNAT must precede the generic loopback return below: the DNS Lock
	// component points resolv.conf at 127.0.0.1, so a port-53 query leaves
	// via "lo" and must still be caught here before the loopback exemption.
	fmt.Fprintf(&b, "    udp dport 53 dnat to %s:%d\n", r.TorEndpoint.Address, r.TorEndpoint.DNSPort)
	fmt.Fprintf(&b, "    tcp dport 53 dnat to %s:%d\n", r.TorEndpoint.Address, r.TorEndpoint.DNSPort)
	b.WriteString("    oif \"lo\" return\n")
	fmt.Fprintf(&b, "    ip daddr %s return\n", r.NSSubnet)
	fmt.Fprintf(&b, "    tcp flags syn dnat to %s:%d\n", r.TorEndpoint.Address, r.TorEndpoint.TransPort)
	b.WriteString("  }\n")
	b.WriteString("  chain postrouting {\n")
	b.WriteString("    type nat hook postrouting priority 100;\n")
	fmt.Fprintf(&b, "    ip saddr %s oifname %q masquerade\n", r.NSSubnet, r.EgressIface)
	b.WriteString("  }\n")
	b.WriteString("}\n")

	return b.String()
}

func splitPortsByProto(ports []config.PortProto) (udp, tcp string) {
	var udpPorts, tcpPorts []string
	for _, p := range ports {
		s := strconv.Itoa(p.Port)
		if p.Proto == "udp" {
			udpPorts = append(udpPorts, s)
		} else {
			tcpPorts = append(tcpPorts, s)
		}
	}
	return strings.Join(udpPorts, ", "), strings.Join(tcpPorts, ", ")
}
