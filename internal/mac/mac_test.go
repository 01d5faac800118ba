package mac

import (
	"context"
	"errors"
	"testing"

	"github.com/anonmanager/anonmanager/internal/executil"
)

var errNotFound = errors.New("nmcli not found")

func TestRandomize_PrefersNetworkManagerWhenConnectionFound(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("nmcli", func(args []string) (executil.Result, error) {
		if args[0] == "-t" {
			return executil.Result{Stdout: "GENERAL.CONNECTION:wired-eth0"}, nil
		}
		return executil.Result{}, nil
	})
	r := New(runner)

	got, err := r.Randomize(context.Background(), "eth0")
	if err != nil {
		t.Fatalf("Randomize: %v", err)
	}
	if !IsRandomized(got) {
		t.Errorf("generated MAC %q does not carry the locally-administered bit", got)
	}
	if !runner.AnyCallContains("nmcli connection modify wired-eth0 802-3-ethernet.cloned-mac-address " + got) {
		t.Error("expected nmcli connection modify with the generated address")
	}
	if !runner.AnyCallContains("nmcli connection up wired-eth0") {
		t.Error("expected nmcli connection up to reapply the cloned address")
	}
	if runner.AnyCallContains("ip link set") {
		t.Error("expected no direct link manipulation when nmcli succeeded")
	}
}

func TestRandomize_FallsBackToLinkManipulationWithoutNetworkManager(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("nmcli", func(args []string) (executil.Result, error) {
		return executil.Result{}, errNotFound
	})
	runner.On("ip", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	r := New(runner)

	got, err := r.Randomize(context.Background(), "eth0")
	if err != nil {
		t.Fatalf("Randomize: %v", err)
	}
	if !runner.AnyCallContains("ip link set eth0 down") {
		t.Error("expected the interface to be brought down")
	}
	if !runner.AnyCallContains("ip link set eth0 address " + got) {
		t.Error("expected the generated address to be applied directly")
	}
	if !runner.AnyCallContains("ip link set eth0 up") {
		t.Error("expected the interface to be brought back up")
	}
}

func TestRestore_NoopOnEmptyOriginal(t *testing.T) {
	runner := executil.NewFakeRunner()
	r := New(runner)

	if err := r.Restore(context.Background(), "eth0", ""); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(runner.CallStrings()) != 0 {
		t.Error("expected no calls when the original MAC is unknown")
	}
}

func TestRestore_SetsBackOriginalAddress(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("nmcli", func(args []string) (executil.Result, error) {
		return executil.Result{}, errNotFound
	})
	runner.On("ip", func(args []string) (executil.Result, error) { return executil.Result{}, nil })
	r := New(runner)

	if err := r.Restore(context.Background(), "eth0", "aa:bb:cc:dd:ee:ff"); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !runner.AnyCallContains("ip link set eth0 address aa:bb:cc:dd:ee:ff") {
		t.Error("expected the original address to be restored")
	}
}

func TestIsRandomized_TrueForLocallyAdministeredBit(t *testing.T) {
	if !IsRandomized("02:11:22:33:44:55") {
		t.Error("expected the locally-administered bit to be detected")
	}
}

func TestIsRandomized_FalseForManufacturerAssignedAddress(t *testing.T) {
	if IsRandomized("00:11:22:33:44:55") {
		t.Error("did not expect a manufacturer-assigned address to read as randomized")
	}
}

func TestIsRandomized_FalseForMalformedInput(t *testing.T) {
	if IsRandomized("") {
		t.Error("expected empty input to read as not randomized")
	}
	if IsRandomized("not-a-mac") {
		t.Error("expected malformed input to read as not randomized")
	}
}

func TestActiveConnection_EmptyWhenDeviceUnmanaged(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("nmcli", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "GENERAL.CONNECTION:--"}, nil
	})
	r := New(runner)

	if got := r.activeConnection(context.Background(), "eth0"); got != "" {
		t.Errorf("activeConnection = %q, want empty for an unmanaged device", got)
	}
}
