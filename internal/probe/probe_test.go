package probe

import (
	"context"
	"testing"

	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/types"
)

func TestParseOSRelease_ExtractsIDAndIDLike(t *testing.T) {
	content := "NAME=\"Ubuntu\"\nID=ubuntu\nID_LIKE=debian\nVERSION_ID=\"22.04\"\n"
	fields := parseOSRelease(content)
	if fields["ID"] != "ubuntu" {
		t.Errorf("ID = %q, want ubuntu", fields["ID"])
	}
	if fields["ID_LIKE"] != "debian" {
		t.Errorf("ID_LIKE = %q, want debian", fields["ID_LIKE"])
	}
}

func TestDetectPackageManager_PrefersAPTOverOthers(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("which", func(args []string) (executil.Result, error) {
		if args[0] == "apt-get" {
			return executil.Result{}, nil
		}
		return executil.Result{}, errMissing
	})
	p := New(runner)

	if got := p.detectPackageManager(); got != types.PkgManagerAPT {
		t.Errorf("detectPackageManager() = %s, want apt", got)
	}
}

func TestDetectPackageManager_FallsBackToPacman(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("which", func(args []string) (executil.Result, error) {
		if args[0] == "pacman" {
			return executil.Result{}, nil
		}
		return executil.Result{}, errMissing
	})
	p := New(runner)

	if got := p.detectPackageManager(); got != types.PkgManagerPacman {
		t.Errorf("detectPackageManager() = %s, want pacman", got)
	}
}

func TestDetectFirewallBackend_PrefersModernWhenNFTListSucceeds(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("nft", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	p := New(runner)

	if got := p.detectFirewallBackend(context.Background(), true); got != types.BackendModern {
		t.Errorf("detectFirewallBackend() = %s, want modern", got)
	}
}

func TestDetectFirewallBackend_FallsBackToLegacyAltOnNFTablesBackedIptables(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("nft", func(args []string) (executil.Result, error) { return executil.Result{}, errMissing })
	runner.On("which", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	runner.On("iptables", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "iptables v1.8.9 (nf_tables)\n"}, nil
	})
	p := New(runner)

	if got := p.detectFirewallBackend(context.Background(), false); got != types.BackendLegacyAlt {
		t.Errorf("detectFirewallBackend() = %s, want legacy_alt", got)
	}
}

func TestDetectFirewallBackend_FallsBackToLegacyOnPlainIptables(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("nft", func(args []string) (executil.Result, error) { return executil.Result{}, errMissing })
	runner.On("which", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	runner.On("iptables", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "iptables v1.8.9 (legacy)\n"}, nil
	})
	p := New(runner)

	if got := p.detectFirewallBackend(context.Background(), false); got != types.BackendLegacy {
		t.Errorf("detectFirewallBackend() = %s, want legacy", got)
	}
}

func TestDetectTorUser_PrefersDebianTor(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("getent", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	p := New(runner)

	if got := p.detectTorUser(context.Background()); got != "debian-tor" {
		t.Errorf("detectTorUser() = %q, want debian-tor", got)
	}
}

func TestDetectTorUser_EmptyWhenNeitherAccountExists(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("getent", func(args []string) (executil.Result, error) { return executil.Result{}, errMissing })
	p := New(runner)

	if got := p.detectTorUser(context.Background()); got != "" {
		t.Errorf("detectTorUser() = %q, want empty", got)
	}
}

var errMissing = errNotInstalled{}

type errNotInstalled struct{}

func (errNotInstalled) Error() string { return "not installed" }
