// Package cli parses anonmanager's command-line surface and dispatches into
// the orchestrator, verifier, status API, and Tor control-port helpers. It
// has no TUI dependency of its own — confirm prompts and the no-flags menu
// (both build-tag-split the same way the rest of the tree is), the enable
// banner and the --status dashboard are the places it reaches into
// internal/tui.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// Options holds the parsed command line.
type Options struct {
	Action     string // one of actionFlags, or "" to open the interactive menu
	Profile    string
	Foreground bool
	Help       bool
	LogName    string
	LogLines   int
}

// actionFlags are mutually exclusive; at most one may be set.
var actionFlags = []string{"extreme", "partial", "disable", "status", "verify", "newid", "restore", "logs"}

// Parse parses args (excluding the program name) into Options. A flag.ErrHelp
// result and an unrecognized-flag error both come back as a plain error;
// the caller decides how to report it.
func Parse(args []string) (Options, error) {
	fs := flag.NewFlagSet("anonmanager", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	flagVals := make(map[string]*bool, len(actionFlags))
	for _, name := range actionFlags {
		flagVals[name] = fs.Bool(name, false, "")
	}
	profile := fs.String("profile", "", "")
	foreground := fs.Bool("foreground", false, "")
	help := fs.Bool("help", false, "")
	h := fs.Bool("h", false, "")
	logName := fs.String("log", "activity", "")
	logLines := fs.Int("lines", 100, "")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	if fs.NArg() > 0 {
		return Options{}, fmt.Errorf("unrecognized argument %q", fs.Arg(0))
	}

	var chosen []string
	for _, name := range actionFlags {
		if *flagVals[name] {
			chosen = append(chosen, name)
		}
	}
	if len(chosen) > 1 {
		return Options{}, fmt.Errorf("flags are mutually exclusive, got --%s", strings.Join(chosen, " and --"))
	}

	opts := Options{
		Profile:    *profile,
		Foreground: *foreground,
		Help:       *help || *h,
		LogName:    *logName,
		LogLines:   *logLines,
	}
	if len(chosen) == 1 {
		opts.Action = chosen[0]
	}
	return opts, nil
}

// Usage returns the help text printed for --help/-h and for an unrecognized
// flag.
func Usage() string {
	var b strings.Builder
	b.WriteString("anonmanager - reversible system-state orchestrator\n\n")
	b.WriteString("Usage: anonmanager [flag]\n\n")
	b.WriteString("Flags (mutually exclusive; no flag opens the interactive menu):\n")
	rows := [][2]string{
		{"--extreme", "enable extreme mode: namespace + Tor + killswitch + DNS lock + sysctl hardening + MAC rotation"},
		{"--partial", "enable partial mode: Tor + DNS lock, no killswitch"},
		{"--disable", "clean teardown, restoring the host to its pre-anonymized state"},
		{"--status", "print the current anonymity status"},
		{"--verify", "run the ten-point anonymity verification"},
		{"--newid", "request a new Tor identity (SIGNAL NEWNYM)"},
		{"--restore", "emergency restore, ignoring individual step failures"},
		{"--logs", "show recent activity/security log lines (--log=activity|security --lines=N)"},
		{"--help, -h", "show this text"},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-14s %s\n", r[0], r[1])
	}
	b.WriteString("\nOther flags:\n")
	b.WriteString("  --profile NAME   named profile to use (default \"default\")\n")
	b.WriteString("  --foreground     suppress terminal escape-sequence probing (detached TTYs)\n")
	return b.String()
}
