package firewall

import (
	"context"
	"strings"
	"testing"

	"github.com/anonmanager/anonmanager/internal/config"
	"github.com/anonmanager/anonmanager/internal/executil"
)

func testRules() config.KillswitchRules {
	return config.DefaultKillswitchRules(config.DefaultTopology(), config.DefaultTorPorts(), 123)
}

func TestNFTEngine_EngageDisengagesFirst(t *testing.T) {
	runner := executil.NewFakeRunner()
	e := newNFTEngine(runner)

	if err := e.Engage(context.Background(), testRules()); err != nil {
		t.Fatalf("Engage: %v", err)
	}
	if !runner.AnyCallContains("nft delete table inet anonmanager") {
		t.Error("expected Engage to disengage first")
	}
	if !runner.AnyCallContains("-f -") {
		t.Error("expected Engage to load the ruleset via nft -f -")
	}
}

func TestNFTEngine_RenderedRulesetBindsTorEndpoint(t *testing.T) {
	rules := testRules()
	doc := renderNFTRuleset(rules)

	if !strings.Contains(doc, "meta skuid 123 accept") {
		t.Error("expected tor uid accept rule")
	}
	if !strings.Contains(doc, "dnat to "+rules.TorEndpoint.Address) {
		t.Error("expected dnat target to be the tor endpoint")
	}
	if !strings.Contains(doc, "policy drop") {
		t.Error("expected default-drop policy")
	}
}

func TestNFTEngine_Disengage_ToleratesAbsentTable(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.Err = context.DeadlineExceeded
	e := newNFTEngine(runner)

	if err := e.Disengage(context.Background()); err != nil {
		t.Fatalf("Disengage should tolerate an already-absent table, got: %v", err)
	}
}

func TestNFTEngine_IsActive_TrueWhenTablePresent(t *testing.T) {
	runner := executil.NewFakeRunner()
	runner.On("nft", func(args []string) (executil.Result, error) {
		return executil.Result{Stdout: "table inet anonmanager {\n}\n"}, nil
	})
	e := newNFTEngine(runner)

	active, err := e.IsActive(context.Background())
	if err != nil || !active {
		t.Errorf("expected IsActive true, got active=%v err=%v", active, err)
	}
}
