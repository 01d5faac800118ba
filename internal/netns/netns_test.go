package netns

import (
	"context"
	"testing"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
)

func newTestManager() (*Manager, *executil.FakeRunner) {
	runner := executil.NewFakeRunner()
	return New(config.DefaultTopology(), runner), runner
}

func TestExists_ParsesNamespaceList(t *testing.T) {
	m, runner := newTestManager()
	runner.On("ip", func(args []string) (executil.Result, error) {
		if len(args) >= 2 && args[0] == "netns" && args[1] == "list" {
			return executil.Result{Stdout: "anonspace (id: 0)\nother-ns (id: 1)\n"}, nil
		}
		return executil.Result{}, nil
	})

	if !m.Exists(context.Background()) {
		t.Error("expected Exists to find anonspace in the namespace list")
	}
}

func TestExists_FalseWhenAbsent(t *testing.T) {
	m, runner := newTestManager()
	runner.On("ip", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "other-ns (id: 1)\n"}, nil
	})

	if m.Exists(context.Background()) {
		t.Error("expected Exists to be false when anonspace is not listed")
	}
}

func TestCreate_UnwindsOnVethFailure(t *testing.T) {
	m, runner := newTestManager()
	runner.On("ip", func(args []string) (executil.Result, error) {
		if len(args) >= 2 && args[0] == "netns" && args[1] == "list" {
			return executil.Result{}, nil
		}
		if len(args) >= 2 && args[0] == "link" && args[1] == "add" {
			return executil.Result{}, context.DeadlineExceeded
		}
		return executil.Result{}, nil
	})

	if err := m.Create(context.Background(), "eth0"); err == nil {
		t.Fatal("expected Create to fail when veth creation fails")
	}
	if !runner.AnyCallContains("ip netns delete anonspace") {
		t.Error("expected Create to unwind by deleting the namespace on failure")
	}
}

func TestCreate_Succeeds(t *testing.T) {
	m, runner := newTestManager()
	runner.On("ip", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	runner.On("sysctl", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	runner.On("iptables", func(args []string) (executil.Result, error) { return executil.Result{}, nil })

	if err := m.Create(context.Background(), "eth0"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !runner.AnyCallContains("ip netns add anonspace") {
		t.Error("expected namespace creation call")
	}
	if !runner.AnyCallContains("ip link add veth_host type veth peer name veth_tor") {
		t.Error("expected veth pair creation call")
	}
}

func TestDestroy_IsIdempotent(t *testing.T) {
	m, runner := newTestManager()
	runner.On("ip", func(args []string) (executil.Result, error) {
		return executil.Result{}, context.DeadlineExceeded
	})
	runner.On("iptables", func(args []string) (executil.Result, error) { return executil.Result{}, nil })

	if err := m.Destroy(context.Background(), "eth0"); err != nil {
		t.Fatalf("Destroy should tolerate an already-absent namespace, got: %v", err)
	}
}

func TestExec_RunsInsideNamespace(t *testing.T) {
	m, runner := newTestManager()
	runner.On("ip", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "ok"}, nil
	})

	res, err := m.Exec(context.Background(), "curl", "https://example.com")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if res.Stdout != "ok" {
		t.Errorf("got %q, want ok", res.Stdout)
	}
	if !runner.AnyCallContains("ip netns exec anonspace curl https://example.com") {
		t.Error("expected Exec to route through ip netns exec")
	}
}
