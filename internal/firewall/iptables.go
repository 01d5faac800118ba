package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/logger"
	"github.com/anonmanager/anonmanager/internal/types"
)

const chainName = "ANONMANAGER"

// iptablesEngine implements Engine over the legacy iptables command set
// (legacy or the nft-backed legacy_alt binary, both driven identically).
// Rules live in a dedicated IPv4 ANONMANAGER chain jumped from the built-in
// OUTPUT chain and in NAT chains jumped from nat OUTPUT/POSTROUTING; FORWARD
// gets direct ACCEPT rules for the namespace subnet, and IPv6 is closed by
// default-drop policies. Un-hooking deletes those jump and ACCEPT rules
// before the chains are flushed and deleted.
type iptablesEngine struct {
	runner executil.Runner
	log    *logger.Logger
	v4     string
	v6     string
	ipset  string
}

func newIPTablesEngine(runner executil.Runner, backend types.FirewallBackend) *iptablesEngine {
	v4, v6 := "iptables", "ip6tables"
	if backend == types.BackendLegacyAlt {
		v4, v6 = "iptables-nft", "ip6tables-nft"
	}
	return &iptablesEngine{runner: runner, log: logger.New("firewall.iptables"), v4: v4, v6: v6, ipset: "ipset"}
}

func (e *iptablesEngine) run(ctx context.Context, name string, args ...string) (executil.Result, error) {
	return e.runner.Run(ctx, executil.DefaultTimeout, name, args...)
}

// Engage disengages first, creates the ipset used for the DoH blocklist,
// builds and populates the IPv4 ANONMANAGER filter chain and the NAT chains,
// sets the IPv6 default-drop policies, and hooks the chains from the
// built-in ones.
func (e *iptablesEngine) Engage(ctx context.Context, rules config.KillswitchRules) error {
	if err := e.Disengage(ctx); err != nil {
		e.log.Warn("disengage before engage reported an error, continuing: %v", err)
	}

	if err := e.buildDoHSet(ctx, rules.DoHBlocklist); err != nil {
		return fmt.Errorf("build doh ipset: %w", err)
	}
	if err := e.buildFilterChain(ctx, rules); err != nil {
		return fmt.Errorf("build filter chain: %w", err)
	}
	if err := e.buildNATChain(ctx, rules); err != nil {
		return fmt.Errorf("build nat chain: %w", err)
	}
	if err := e.buildV6Policy(ctx); err != nil {
		return fmt.Errorf("build ipv6 policy: %w", err)
	}
	if err := e.hookChains(ctx, rules); err != nil {
		return fmt.Errorf("hook anonmanager chains: %w", err)
	}
	return nil
}

func (e *iptablesEngine) buildDoHSet(ctx context.Context, ips []string) error {
	_, _ = e.run(ctx, e.ipset, "create", "anonmanager-doh", "hash:ip")
	for _, ip := range ips {
		if _, err := e.run(ctx, e.ipset, "add", "anonmanager-doh", ip); err != nil {
			return err
		}
	}
	return nil
}

func (e *iptablesEngine) buildFilterChain(ctx context.Context, r config.KillswitchRules) error {
	if _, err := e.run(ctx, e.v4, "-N", chainName); err != nil {
		return err
	}
	steps := [][]string{
		{e.v4, "-A", chainName, "-o", "lo", "-j", "ACCEPT"},
		{e.v4, "-A", chainName, "-m", "conntrack", "--ctstate", "ESTABLISHED,RELATED", "-j", "ACCEPT"},
		{e.v4, "-A", chainName, "-m", "owner", "--uid-owner", strconv.Itoa(r.TorUID), "-j", "ACCEPT"},
		{e.v4, "-A", chainName, "-d", r.NSSubnet, "-j", "ACCEPT"},
		{e.v4, "-A", chainName, "-p", "udp", "--sport", "67:68", "--dport", "67:68", "-j", "ACCEPT"},
		{e.v4, "-A", chainName, "-m", "set", "--match-set", "anonmanager-doh", "dst", "-p", "tcp", "--dport", "443", "-j", "REJECT"},
		{e.v4, "-A", chainName, "-m", "set", "--match-set", "anonmanager-doh", "dst", "-p", "tcp", "--dport", "853", "-j", "REJECT"},
		{e.v4, "-A", chainName, "-m", "set", "--match-set", "anonmanager-doh", "dst", "-p", "udp", "--dport", "443", "-j", "REJECT"},
		{e.v4, "-A", chainName, "-m", "set", "--match-set", "anonmanager-doh", "dst", "-p", "udp", "--dport", "853", "-j", "REJECT"},
	}
	for _, p := range r.WebRTCPorts {
		steps = append(steps, []string{e.v4, "-A", chainName, "-p", p.Proto, "--dport", strconv.Itoa(p.Port), "-j", "DROP"})
	}
	steps = append(steps,
		[]string{e.v4, "-A", chainName, "-p", "udp", "--dport", "5353", "!", "-d", r.TorEndpoint.Address, "-j", "DROP"},
		[]string{e.v4, "-A", chainName, "-j", "LOG", "--log-prefix", "anonmanager-drop: "},
		[]string{e.v4, "-A", chainName, "-j", "DROP"},
	)
	for _, s := range steps {
		if _, err := e.run(ctx, s[0], s[1:]...); err != nil {
			return err
		}
	}
	return nil
}

func (e *iptablesEngine) buildNATChain(ctx context.Context, r config.KillswitchRules) error {
	if _, err := e.run(ctx, e.v4, "-t", "nat", "-N", chainName); err != nil {
		return err
	}
	dns := fmt.Sprintf("%s:%d", r.TorEndpoint.Address, r.TorEndpoint.DNSPort)
	trans := fmt.Sprintf("%s:%d", r.TorEndpoint.Address, r.TorEndpoint.TransPort)
	// DNS DNAT rules precede the "-o lo -j RETURN" rule: DNS Lock points
	// resolv.conf at 127.0.0.1, so a port-53 query leaves via lo and must
	// still be caught here before the loopback exemption applies.
	steps := [][]string{
		{e.v4, "-t", "nat", "-A", chainName, "-m", "owner", "--uid-owner", strconv.Itoa(r.TorUID), "-j", "RETURN"},
		{e.v4, "-t", "nat", "-A", chainName, "-p", "udp", "--dport", "53", "-j", "DNAT", "--to-destination", dns},
		{e.v4, "-t", "nat", "-A", chainName, "-p", "tcp", "--dport", "53", "-j", "DNAT", "--to-destination", dns},
		{e.v4, "-t", "nat", "-A", chainName, "-o", "lo", "-j", "RETURN"},
		{e.v4, "-t", "nat", "-A", chainName, "-d", r.NSSubnet, "-j", "RETURN"},
		{e.v4, "-t", "nat", "-A", chainName, "-p", "tcp", "--syn", "-j", "DNAT", "--to-destination", trans},
		{e.v4, "-t", "nat", "-A", chainName + "-POST", "-s", r.NSSubnet, "-o", r.EgressIface, "-j", "MASQUERADE"},
	}
	if _, err := e.run(ctx, e.v4, "-t", "nat", "-N", chainName+"-POST"); err != nil {
		return err
	}
	for _, s := range steps {
		if _, err := e.run(ctx, s[0], s[1:]...); err != nil {
			return err
		}
	}
	return nil
}

func (e *iptablesEngine) buildV6Policy(ctx context.Context) error {
	steps := [][]string{
		{e.v6, "-P", "INPUT", "DROP"},
		{e.v6, "-P", "OUTPUT", "DROP"},
		{e.v6, "-P", "FORWARD", "DROP"},
		{e.v6, "-I", "INPUT", "-i", "lo", "-j", "ACCEPT"},
		{e.v6, "-I", "OUTPUT", "-o", "lo", "-j", "ACCEPT"},
	}
	for _, s := range steps {
		if _, err := e.run(ctx, s[0], s[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// hookChains jumps the built-in OUTPUT chain to ANONMANAGER, accepts the
// namespace subnet in FORWARD under a DROP policy, and jumps the NAT
// OUTPUT/POSTROUTING chains to the NAT variants.
func (e *iptablesEngine) hookChains(ctx context.Context, r config.KillswitchRules) error {
	steps := [][]string{
		{e.v4, "-A", "OUTPUT", "-j", chainName},
		{e.v4, "-A", "FORWARD", "-s", r.NSSubnet, "-j", "ACCEPT"},
		{e.v4, "-A", "FORWARD", "-d", r.NSSubnet, "-j", "ACCEPT"},
		{e.v4, "-P", "FORWARD", "DROP"},
		{e.v4, "-t", "nat", "-A", "OUTPUT", "-j", chainName},
		{e.v4, "-t", "nat", "-A", "POSTROUTING", "-j", chainName + "-POST"},
	}
	for _, s := range steps {
		if _, err := e.run(ctx, s[0], s[1:]...); err != nil {
			return err
		}
	}
	return nil
}

// Disengage un-hooks the anonmanager chains from every built-in chain it may
// have jumped from (iterating until the jump rule is gone, guarding against
// duplicate inserts from a prior interrupted engage), flushes and deletes
// the anonmanager chains, and destroys the DoH ipset. Every step tolerates
// an already-absent rule/chain/set.
func (e *iptablesEngine) Disengage(ctx context.Context) error {
	subnet := config.DefaultTopology().SubnetCIDR
	e.unhookUntilGone(ctx, e.v4, "-D", "OUTPUT", "-j", chainName)
	e.unhookUntilGone(ctx, e.v4, "-D", "FORWARD", "-s", subnet, "-j", "ACCEPT")
	e.unhookUntilGone(ctx, e.v4, "-D", "FORWARD", "-d", subnet, "-j", "ACCEPT")
	e.unhookUntilGone(ctx, e.v4, "-t", "nat", "-D", "OUTPUT", "-j", chainName)
	e.unhookUntilGone(ctx, e.v4, "-t", "nat", "-D", "POSTROUTING", "-j", chainName+"-POST")

	_, _ = e.run(ctx, e.v4, "-F", chainName)
	_, _ = e.run(ctx, e.v4, "-X", chainName)
	_, _ = e.run(ctx, e.v4, "-t", "nat", "-F", chainName)
	_, _ = e.run(ctx, e.v4, "-t", "nat", "-X", chainName)
	_, _ = e.run(ctx, e.v4, "-t", "nat", "-F", chainName+"-POST")
	_, _ = e.run(ctx, e.v4, "-t", "nat", "-X", chainName+"-POST")
	_, _ = e.run(ctx, e.ipset, "destroy", "anonmanager-doh")
	return nil
}

// maxUnhookAttempts bounds the un-hook loop: a hook rule should never have
// been inserted more than a handful of times even across several
// interrupted engage attempts.
const maxUnhookAttempts = 16

// unhookUntilGone repeats a "-D" delete call until it errors (iptables
// returns a nonzero exit once no matching rule remains), guarding against
// duplicate inserts left behind by a prior partial engage.
func (e *iptablesEngine) unhookUntilGone(ctx context.Context, args ...string) {
	for i := 0; i < maxUnhookAttempts; i++ {
		if _, err := e.run(ctx, args[0], args[1:]...); err != nil {
			return
		}
	}
}

func (e *iptablesEngine) IsActive(ctx context.Context) (bool, error) {
	res, err := e.run(ctx, e.v4, "-L", chainName, "-n")
	if err != nil {
		return false, nil
	}
	return strings.Contains(res.Stdout, chainName), nil
}
