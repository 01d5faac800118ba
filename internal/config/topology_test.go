package config

import (
	"testing"

	"github.com/anonmanager/anonmanager/internal/types"
)

func TestDefaultTopology_Literal(t *testing.T) {
	topo := DefaultTopology()
	if topo.NamespaceName != "anonspace" {
		t.Errorf("NamespaceName = %q, want anonspace", topo.NamespaceName)
	}
	if topo.TorIP != "10.200.1.1" || topo.HostIP != "10.200.1.2" {
		t.Errorf("unexpected namespace IPs: tor=%s host=%s", topo.TorIP, topo.HostIP)
	}
	if topo.SubnetCIDR != "10.200.1.0/24" {
		t.Errorf("SubnetCIDR = %q, want 10.200.1.0/24", topo.SubnetCIDR)
	}
}

func TestDefaultTorPorts_Literal(t *testing.T) {
	ports := DefaultTorPorts()
	if ports.SOCKS != 9050 || ports.Control != 9051 || ports.DNS != 5353 || ports.Trans != 9040 {
		t.Errorf("unexpected port assignment: %+v", ports)
	}
}

func TestDefaultKillswitchRules_CarriesTopology(t *testing.T) {
	topo := DefaultTopology()
	ports := DefaultTorPorts()
	rules := DefaultKillswitchRules(topo, ports, 123)

	if rules.TorUID != 123 {
		t.Errorf("TorUID = %d, want 123", rules.TorUID)
	}
	if rules.TorEndpoint.Address != topo.TorIP {
		t.Errorf("TorEndpoint.Address = %q, want %q", rules.TorEndpoint.Address, topo.TorIP)
	}
	if len(rules.DoHBlocklist) == 0 {
		t.Error("expected a non-empty DoH blocklist")
	}
	if len(rules.WebRTCPorts) == 0 {
		t.Error("expected non-empty WebRTC deny ports")
	}
}

func TestSysctlMatrix_NoDuplicateKeys(t *testing.T) {
	seen := map[string]bool{}
	for _, e := range SysctlMatrix() {
		if seen[e.Key] {
			t.Errorf("duplicate sysctl key %s", e.Key)
		}
		seen[e.Key] = true
		if e.Value == "" {
			t.Errorf("sysctl key %s has empty value", e.Key)
		}
	}
}

func TestIPv6DisableMatrix_SetsDisableFlag(t *testing.T) {
	found := false
	for _, e := range IPv6DisableMatrix() {
		if e.Key == "net.ipv6.conf.all.disable_ipv6" {
			found = true
			if e.Value != "1" {
				t.Errorf("disable_ipv6 = %q, want 1", e.Value)
			}
		}
	}
	if !found {
		t.Fatal("expected net.ipv6.conf.all.disable_ipv6 in matrix")
	}
}

func TestPackageManagerForDistro(t *testing.T) {
	cases := map[types.DistroFamily]types.PackageManagerTag{
		types.DistroDebian:  types.PkgManagerAPT,
		types.DistroArch:    types.PkgManagerPacman,
		types.DistroRHEL:    types.PkgManagerDNF,
		types.DistroUnknown: types.PkgManagerUnknown,
	}
	for distro, want := range cases {
		if got := PackageManagerForDistro(distro); got != want {
			t.Errorf("PackageManagerForDistro(%s) = %s, want %s", distro, got, want)
		}
	}
}
