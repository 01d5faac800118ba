// Package sysctl applies and verifies the fixed hardening and IPv6-disable
// key/value matrices. Every write goes through `sysctl -w`; there is no
// netlink binding for this in the surrounding corpus, so the command itself
// is the authoritative interface, wrapped the same way every other host
// tool is.
package sysctl

import (
	"context"
	"fmt"
	"strings"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
	"github.com/anonmanager/anonmanager/internal/logger"
)

// Hardener applies and verifies config.SysctlMatrix and config.IPv6DisableMatrix.
type Hardener struct {
	Runner executil.Runner
	log    *logger.Logger
}

// New returns a Hardener issuing every write through runner.
func New(runner executil.Runner) *Hardener {
	return &Hardener{Runner: runner, log: logger.New("sysctl")}
}

func (h *Hardener) run(ctx context.Context, name string, args ...string) (executil.Result, error) {
	return h.Runner.Run(ctx, executil.DefaultTimeout, name, args...)
}

// Apply writes every key/value pair in entries. A failure on one key is
// logged as a warning and does not abort the remaining keys — transient
// faults on individual sysctl writes never abort hardening.
func (h *Hardener) Apply(ctx context.Context, entries []config.SysctlEntry) {
	for _, e := range entries {
		if _, err := h.run(ctx, "sysctl", "-w", e.Key+"="+e.Value); err != nil {
			h.log.Warn("sysctl -w %s=%s failed: %v", e.Key, e.Value, err)
		}
	}
}

// ApplyHardeningMatrix applies config.SysctlMatrix().
func (h *Hardener) ApplyHardeningMatrix(ctx context.Context) {
	h.Apply(ctx, config.SysctlMatrix())
}

// ApplyIPv6Disable applies config.IPv6DisableMatrix().
func (h *Hardener) ApplyIPv6Disable(ctx context.Context) {
	h.Apply(ctx, config.IPv6DisableMatrix())
}

// EnableIPv6 re-enables IPv6 on the "all" and "default" scopes.
func (h *Hardener) EnableIPv6(ctx context.Context) {
	for _, scope := range []string{"all", "default"} {
		if _, err := h.run(ctx, "sysctl", "-w", "net.ipv6.conf."+scope+".disable_ipv6=0"); err != nil {
			h.log.Warn("re-enable IPv6 for scope %s failed: %v", scope, err)
		}
	}
}

// Verify reports every key in entries whose live value does not match what
// was requested. A key that
// fails to read at all is reported as a mismatch rather than silently
// skipped.
func (h *Hardener) Verify(ctx context.Context, entries []config.SysctlEntry) []Mismatch {
	var mismatches []Mismatch
	for _, e := range entries {
		res, err := h.run(ctx, "sysctl", "-n", e.Key)
		if err != nil {
			mismatches = append(mismatches, Mismatch{Key: e.Key, Want: e.Value, Got: fmt.Sprintf("read failed: %v", err)})
			continue
		}
		got := strings.TrimSpace(res.Stdout)
		if got != e.Value {
			mismatches = append(mismatches, Mismatch{Key: e.Key, Want: e.Value, Got: got})
		}
	}
	return mismatches
}

// Mismatch is one hardening key whose live value didn't match what the
// matrix requires.
type Mismatch struct {
	Key  string
	Want string
	Got  string
}
