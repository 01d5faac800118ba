// Package verify runs the ten independent checks that confirm anonymity is
// actually in effect, using only observation interfaces. It never mutates
// anything; a failing check is reported, never repaired.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/dnslock"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/firewall"
	"github.com/anonmanager/anonmanager/internal/mac"
	"github.com/anonmanager/anonmanager/internal/netns"
	"github.com/anonmanager/anonmanager/internal/tor"
)

// Status is the outcome of one check.
type Status string

const (
	Pass Status = "pass"
	Fail Status = "fail"
	Warn Status = "warn"
)

// CheckResult names one of the ten checks and its outcome.
type CheckResult struct {
	Name   string
	Status Status
	Detail string
}

// Summary aggregates every CheckResult with pass/fail/warn counts.
type Summary struct {
	Results []CheckResult
	Pass    int
	Fail    int
	Warn    int
}

// Verifier holds read-only references to every component a check observes.
type Verifier struct {
	SOCKSAddr   string // host:port the Tor SOCKS listener binds, e.g. "10.200.1.1:9050"
	Supervisor  *tor.Supervisor
	Poller      *tor.BootstrapPoller
	Firewall    firewall.Engine
	NS          *netns.Manager
	Runner      executil.Runner
	ResolvPath  string
	EgressIface string
	WebRTCPorts []config.PortProto
	HTTPClient  *http.Client // overridable in tests; defaults to a SOCKS-routed client
}

// New returns a Verifier. socksAddr, egressIface and webRTCPorts typically
// come from the active Topology/TorPorts/KillswitchRules.
func New(socksAddr string, sup *tor.Supervisor, poller *tor.BootstrapPoller, fw firewall.Engine, ns *netns.Manager, runner executil.Runner, resolvPath, egressIface string, webRTCPorts []config.PortProto) *Verifier {
	return &Verifier{
		SOCKSAddr:   socksAddr,
		Supervisor:  sup,
		Poller:      poller,
		Firewall:    fw,
		NS:          ns,
		Runner:      runner,
		ResolvPath:  resolvPath,
		EgressIface: egressIface,
		WebRTCPorts: webRTCPorts,
	}
}

// Run executes all ten checks and returns the summarized result.
func (v *Verifier) Run(ctx context.Context) Summary {
	checks := []func(context.Context) CheckResult{
		v.checkTorProcess,
		v.checkBootstrapped,
		v.checkExitReachable,
		v.checkTorOracle,
		v.checkDNSLoopback,
		v.checkIPv6Disabled,
		v.checkKillswitchActive,
		v.checkNamespacePresent,
		v.checkWebRTCBlocked,
		v.checkMACRandomized,
	}
	var s Summary
	for _, check := range checks {
		r := check(ctx)
		s.Results = append(s.Results, r)
		switch r.Status {
		case Pass:
			s.Pass++
		case Fail:
			s.Fail++
		case Warn:
			s.Warn++
		}
	}
	return s
}

func (v *Verifier) checkTorProcess(ctx context.Context) CheckResult {
	const name = "tor process alive"
	if v.Supervisor == nil {
		return CheckResult{name, Warn, "no supervisor configured"}
	}
	if alive, pid := v.Supervisor.IsRunning(ctx); alive {
		return CheckResult{name, Pass, fmt.Sprintf("pid %d", pid)}
	}
	return CheckResult{name, Fail, "tor is not running"}
}

func (v *Verifier) checkBootstrapped(ctx context.Context) CheckResult {
	const name = "tor circuits bootstrapped"
	if v.Poller == nil {
		return CheckResult{name, Warn, "no bootstrap poller configured"}
	}
	percent, tag, err := v.Poller.Progress(ctx)
	if err != nil {
		return CheckResult{name, Fail, err.Error()}
	}
	if percent >= 100 {
		return CheckResult{name, Pass, tag}
	}
	return CheckResult{name, Fail, fmt.Sprintf("%d%% (%s)", percent, tag)}
}

func (v *Verifier) checkExitReachable(ctx context.Context) CheckResult {
	const name = "exit IP reachable over SOCKS"
	client, err := v.socksClient()
	if err != nil {
		return CheckResult{name, Fail, err.Error()}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://icanhazip.com", nil)
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{name, Fail, err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return CheckResult{name, Fail, fmt.Sprintf("status %d", resp.StatusCode)}
	}
	return CheckResult{name, Pass, ""}
}

func (v *Verifier) checkTorOracle(ctx context.Context) CheckResult {
	const name = "tor-project oracle confirms exit"
	client, err := v.socksClient()
	if err != nil {
		return CheckResult{name, Fail, err.Error()}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://check.torproject.org/api/ip", nil)
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{name, Fail, err.Error()}
	}
	defer resp.Body.Close()
	var payload struct {
		IsTor bool   `json:"IsTor"`
		IP    string `json:"IP"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return CheckResult{name, Fail, err.Error()}
	}
	if !payload.IsTor {
		return CheckResult{name, Fail, "oracle reports traffic did not arrive via tor"}
	}
	return CheckResult{name, Pass, payload.IP}
}

func (v *Verifier) checkDNSLoopback(ctx context.Context) CheckResult {
	const name = "DNS points at loopback"
	content, err := os.ReadFile(v.ResolvPath)
	if err != nil {
		return CheckResult{name, Fail, err.Error()}
	}
	if !dnslock.PointsAtLoopback(string(content)) {
		return CheckResult{name, Fail, "resolver does not point at 127.x"}
	}
	return CheckResult{name, Pass, ""}
}

func (v *Verifier) checkIPv6Disabled(ctx context.Context) CheckResult {
	const name = "IPv6 disabled"
	if v.Runner == nil {
		return CheckResult{name, Warn, "no runner configured"}
	}
	res, err := v.Runner.Run(ctx, 2*time.Second, "sysctl", "-n", "net.ipv6.conf.all.disable_ipv6")
	if err != nil {
		return CheckResult{name, Fail, err.Error()}
	}
	if strings.TrimSpace(res.Stdout) != "1" {
		return CheckResult{name, Fail, "disable_ipv6 is not set"}
	}
	return CheckResult{name, Pass, ""}
}

func (v *Verifier) checkKillswitchActive(ctx context.Context) CheckResult {
	const name = "killswitch active"
	if v.Firewall == nil {
		return CheckResult{name, Warn, "no firewall engine configured"}
	}
	active, err := v.Firewall.IsActive(ctx)
	if err != nil {
		return CheckResult{name, Fail, err.Error()}
	}
	if !active {
		return CheckResult{name, Fail, "anonmanager chain/table absent"}
	}
	return CheckResult{name, Pass, ""}
}

func (v *Verifier) checkNamespacePresent(ctx context.Context) CheckResult {
	const name = "namespace present"
	if v.NS == nil {
		return CheckResult{name, Warn, "no namespace manager configured"}
	}
	if !v.NS.Exists(ctx) {
		return CheckResult{name, Fail, "namespace absent"}
	}
	return CheckResult{name, Pass, ""}
}

func (v *Verifier) checkWebRTCBlocked(ctx context.Context) CheckResult {
	const name = "WebRTC block rule present"
	if v.Runner == nil || len(v.WebRTCPorts) == 0 {
		return CheckResult{name, Warn, "no ports configured to check"}
	}
	res, err := v.Runner.Run(ctx, 2*time.Second, "nft", "list", "ruleset")
	if err != nil {
		res, err = v.Runner.Run(ctx, 2*time.Second, "iptables-save")
		if err != nil {
			return CheckResult{name, Fail, err.Error()}
		}
	}
	for _, p := range v.WebRTCPorts {
		if !strings.Contains(res.Stdout, strconv.Itoa(p.Port)) {
			return CheckResult{name, Fail, fmt.Sprintf("no rule mentions port %d", p.Port)}
		}
	}
	return CheckResult{name, Pass, ""}
}

func (v *Verifier) checkMACRandomized(ctx context.Context) CheckResult {
	const name = "MAC recorded as randomized"
	if v.EgressIface == "" {
		return CheckResult{name, Warn, "no egress interface configured"}
	}
	data, err := os.ReadFile(filepath.Join("/sys/class/net", v.EgressIface, "address"))
	if err != nil {
		return CheckResult{name, Fail, err.Error()}
	}
	current := strings.TrimSpace(string(data))
	if !mac.IsRandomized(current) {
		return CheckResult{name, Fail, "current MAC does not carry the locally-administered bit"}
	}
	return CheckResult{name, Pass, current}
}

// socksClient returns the HTTP client to use for SOCKS-routed checks,
// defaulting to one dialing through the Tor Supervisor's SOCKS port.
func (v *Verifier) socksClient() (*http.Client, error) {
	if v.HTTPClient != nil {
		return v.HTTPClient, nil
	}
	dialer, err := proxy.SOCKS5("tcp", v.SOCKSAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("build socks5 dialer: %w", err)
	}
	contextDialer, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support context")
	}
	return &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			DialContext: contextDialer.DialContext,
		},
	}, nil
}
