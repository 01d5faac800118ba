// Package firewall compiles the backend-independent killswitch specification
// into either the modern (nftables) or legacy (iptables) rule language. The
// two backends are semantically equivalent: the same traffic is accepted,
// rejected, dropped, or NATed regardless of which one the capability probe
// selected; the choice is made once and never switched at runtime.
package firewall

import (
	"context"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/types"
)

// Engine is the killswitch's public contract. Engage first disengages, so
// repeated calls converge to the same state; Disengage succeeds even when
// the engine's rules are already absent.
type Engine interface {
	Engage(ctx context.Context, rules config.KillswitchRules) error
	Disengage(ctx context.Context) error
	IsActive(ctx context.Context) (bool, error)
}

// New returns the Engine for the detected backend. BackendNone and
// BackendUnknown have no engine: the orchestrator must refuse to enable
// extreme mode before reaching this call for either.
func New(backend types.FirewallBackend, runner executil.Runner) (Engine, error) {
	switch backend {
	case types.BackendModern:
		return newNFTEngine(runner), nil
	case types.BackendLegacy, types.BackendLegacyAlt:
		return newIPTablesEngine(runner, backend), nil
	default:
		return nil, types.NewFault(types.ErrUnsupportedHost,
			"no firewall backend detected", "install nftables or iptables", nil)
	}
}
