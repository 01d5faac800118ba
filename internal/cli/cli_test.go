package cli

import (
	"strings"
	"testing"
)

func TestParse_NoFlagsOpensMenu(t *testing.T) {
	opts, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if opts.Action != "" {
		t.Fatalf("Action = %q, want empty", opts.Action)
	}
}

func TestParse_SingleActionFlag(t *testing.T) {
	for _, name := range actionFlags {
		opts, err := Parse([]string{"--" + name})
		if err != nil {
			t.Fatalf("Parse(--%s) error: %v", name, err)
		}
		if opts.Action != name {
			t.Errorf("Parse(--%s).Action = %q, want %q", name, opts.Action, name)
		}
	}
}

func TestParse_MutuallyExclusiveFlagsRejected(t *testing.T) {
	_, err := Parse([]string{"--extreme", "--partial"})
	if err == nil {
		t.Fatal("expected error for --extreme and --partial together")
	}
	if !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("error = %v, want mention of mutual exclusivity", err)
	}
}

func TestParse_ProfileAndForeground(t *testing.T) {
	opts, err := Parse([]string{"--extreme", "--profile", "travel", "--foreground"})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if opts.Profile != "travel" {
		t.Errorf("Profile = %q, want travel", opts.Profile)
	}
	if !opts.Foreground {
		t.Error("Foreground = false, want true")
	}
}

func TestParse_HelpShortAndLongForm(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {"-h"}} {
		opts, err := Parse(args)
		if err != nil {
			t.Fatalf("Parse(%v) error: %v", args, err)
		}
		if !opts.Help {
			t.Errorf("Parse(%v).Help = false, want true", args)
		}
	}
}

func TestParse_LogsFlagsDefaultAndOverride(t *testing.T) {
	opts, err := Parse([]string{"--logs"})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if opts.LogName != "activity" || opts.LogLines != 100 {
		t.Errorf("got LogName=%q LogLines=%d, want activity/100", opts.LogName, opts.LogLines)
	}

	opts, err = Parse([]string{"--logs", "--log", "security", "--lines", "20"})
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if opts.LogName != "security" || opts.LogLines != 20 {
		t.Errorf("got LogName=%q LogLines=%d, want security/20", opts.LogName, opts.LogLines)
	}
}

func TestParse_UnrecognizedArgumentRejected(t *testing.T) {
	_, err := Parse([]string{"bogus"})
	if err == nil {
		t.Fatal("expected error for unrecognized positional argument")
	}
}

func TestParse_UnknownFlagRejected(t *testing.T) {
	_, err := Parse([]string{"--not-a-real-flag"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestUsage_ListsEveryAction(t *testing.T) {
	text := Usage()
	for _, name := range actionFlags {
		if !strings.Contains(text, "--"+name) {
			t.Errorf("Usage() missing --%s", name)
		}
	}
}
