package verify

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/netns"
	"github.com/anonmanager/anonmanager/internal/tor"
)

func TestRun_ReturnsNoPassesOnAFullyUnconfiguredVerifier(t *testing.T) {
	v := &Verifier{}
	summary := v.Run(context.Background())

	if summary.Pass != 0 {
		t.Fatalf("expected zero passes, got pass=%d fail=%d warn=%d", summary.Pass, summary.Fail, summary.Warn)
	}
	if len(summary.Results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(summary.Results))
	}
}

func TestCheckTorProcess_PassesWhenPIDFileNamesALiveProcess(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "tor.pid")
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	v := &Verifier{Supervisor: &tor.Supervisor{PIDFile: pidFile}}

	r := v.checkTorProcess(context.Background())
	if r.Status != Pass {
		t.Errorf("status = %s, want pass (%s)", r.Status, r.Detail)
	}
}

func TestCheckTorProcess_FailsWhenPIDFileMissing(t *testing.T) {
	v := &Verifier{Supervisor: &tor.Supervisor{PIDFile: "/nonexistent/tor.pid"}}

	r := v.checkTorProcess(context.Background())
	if r.Status != Fail {
		t.Errorf("status = %s, want fail", r.Status)
	}
}

func TestCheckBootstrapped_FailsWhenControlPortUnreachable(t *testing.T) {
	poller := tor.NewBootstrapPoller(
		config.Topology{TorIP: "127.0.0.1"},
		config.TorPorts{Control: 1},
		t.TempDir(),
	)
	v := &Verifier{Poller: poller}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := v.checkBootstrapped(ctx)
	if r.Status != Fail {
		t.Errorf("status = %s, want fail", r.Status)
	}
}

func TestCheckDNSLoopback_PassesWhenResolvPointsAtLoopback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(path, []byte("nameserver 127.0.0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	v := &Verifier{ResolvPath: path}

	r := v.checkDNSLoopback(context.Background())
	if r.Status != Pass {
		t.Errorf("status = %s, want pass", r.Status)
	}
}

func TestCheckDNSLoopback_FailsWhenResolvPointsElsewhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(path, []byte("nameserver 8.8.8.8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	v := &Verifier{ResolvPath: path}

	r := v.checkDNSLoopback(context.Background())
	if r.Status != Fail {
		t.Errorf("status = %s, want fail", r.Status)
	}
}

func TestCheckIPv6Disabled_PassesWhenSysctlReportsOne(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("sysctl", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "1\n"}, nil
	})
	v := &Verifier{Runner: runner}

	r := v.checkIPv6Disabled(context.Background())
	if r.Status != Pass {
		t.Errorf("status = %s, want pass", r.Status)
	}
}

func TestCheckIPv6Disabled_FailsWhenSysctlReportsZero(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("sysctl", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "0\n"}, nil
	})
	v := &Verifier{Runner: runner}

	r := v.checkIPv6Disabled(context.Background())
	if r.Status != Fail {
		t.Errorf("status = %s, want fail", r.Status)
	}
}

type fakeFirewall struct {
	active bool
	err    error
}

func (f fakeFirewall) Engage(context.Context, config.KillswitchRules) error { return nil }
func (f fakeFirewall) Disengage(context.Context) error                      { return nil }
func (f fakeFirewall) IsActive(context.Context) (bool, error)               { return f.active, f.err }

func TestCheckKillswitchActive_ReflectsEngineState(t *testing.T) {
	v := &Verifier{Firewall: fakeFirewall{active: true}}
	if r := v.checkKillswitchActive(context.Background()); r.Status != Pass {
		t.Errorf("status = %s, want pass", r.Status)
	}

	v = &Verifier{Firewall: fakeFirewall{active: false}}
	if r := v.checkKillswitchActive(context.Background()); r.Status != Fail {
		t.Errorf("status = %s, want fail", r.Status)
	}
}

func TestCheckNamespacePresent_ReflectsManagerState(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("ip", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "anonspace (id: 0)\n"}, nil
	})
	topo := config.DefaultTopology()
	v := &Verifier{NS: netns.New(topo, runner)}

	r := v.checkNamespacePresent(context.Background())
	if r.Status != Pass {
		t.Errorf("status = %s, want pass", r.Status)
	}
}

func TestCheckWebRTCBlocked_PassesWhenEveryPortIsMentioned(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("nft", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "drop udp dport 3478\ndrop udp dport 5349\n"}, nil
	})
	v := &Verifier{
		Runner:      runner,
		WebRTCPorts: []config.PortProto{{Port: 3478, Proto: "udp"}, {Port: 5349, Proto: "udp"}},
	}

	r := v.checkWebRTCBlocked(context.Background())
	if r.Status != Pass {
		t.Errorf("status = %s, want pass (%s)", r.Status, r.Detail)
	}
}

func TestCheckWebRTCBlocked_FailsWhenAPortIsMissing(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("nft", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "drop udp dport 3478\n"}, nil
	})
	v := &Verifier{
		Runner:      runner,
		WebRTCPorts: []config.PortProto{{Port: 3478, Proto: "udp"}, {Port: 5349, Proto: "udp"}},
	}

	r := v.checkWebRTCBlocked(context.Background())
	if r.Status != Fail {
		t.Errorf("status = %s, want fail", r.Status)
	}
}

func TestCheckMACRandomized_WarnsWithoutAnIfaceConfigured(t *testing.T) {
	v := &Verifier{}
	r := v.checkMACRandomized(context.Background())
	if r.Status != Warn {
		t.Errorf("status = %s, want warn", r.Status)
	}
}

type fakeRoundTripper struct {
	resp *http.Response
	err  error
}

func (f fakeRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return f.resp, f.err
}

func TestCheckExitReachable_PassesOn200(t *testing.T) {
	v := &Verifier{HTTPClient: &http.Client{Transport: fakeRoundTripper{resp: responseWithBody(200, "1.2.3.4\n")}}}

	r := v.checkExitReachable(context.Background())
	if r.Status != Pass {
		t.Errorf("status = %s, want pass (%s)", r.Status, r.Detail)
	}
}

func TestCheckTorOracle_PassesWhenOracleConfirmsTor(t *testing.T) {
	v := &Verifier{HTTPClient: &http.Client{Transport: fakeRoundTripper{resp: responseWithBody(200, `{"IsTor":true,"IP":"1.2.3.4"}`)}}}

	r := v.checkTorOracle(context.Background())
	if r.Status != Pass {
		t.Errorf("status = %s, want pass (%s)", r.Status, r.Detail)
	}
}

func TestCheckTorOracle_FailsWhenOracleDeniesTor(t *testing.T) {
	v := &Verifier{HTTPClient: &http.Client{Transport: fakeRoundTripper{resp: responseWithBody(200, `{"IsTor":false,"IP":"1.2.3.4"}`)}}}

	r := v.checkTorOracle(context.Background())
	if r.Status != Fail {
		t.Errorf("status = %s, want fail", r.Status)
	}
}

func responseWithBody(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       nopCloser{strings.NewReader(body)},
		Header:     make(http.Header),
	}
}

type nopCloser struct {
	*strings.Reader
}

func (nopCloser) Close() error { return nil }
