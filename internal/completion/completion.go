// Package completion provides CLI tab-completion for anonmanager.
//
// The binary itself handles completions: when invoked with COMP_LINE set
// (by the shell), it outputs matching completions and exits.
// Works across bash, zsh, and fish with a one-time install.
//
// This package has no TUI dependency — it compiles in both normal and notui
// builds. It prints no styled messages of its own; main.go only calls Run,
// and nothing in the tree calls Install or Uninstall.
package completion

import (
	"os"

	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/install"
	"github.com/posener/complete/v2/predict"
)

// command defines the flag-based anonmanager CLI completion tree. The
// command surface has no subcommands — anonmanager dispatches purely on
// mutually exclusive top-level flags, so every completion candidate lives
// in this one command's Flags map.
var command = &complete.Command{
	Flags: map[string]complete.Predictor{
		"extreme":    predict.Nothing,
		"partial":    predict.Nothing,
		"disable":    predict.Nothing,
		"status":     predict.Nothing,
		"verify":     predict.Nothing,
		"newid":      predict.Nothing,
		"restore":    predict.Nothing,
		"logs":       predict.Nothing,
		"profile":    predict.Nothing,
		"foreground": predict.Nothing,
		"help":       predict.Nothing,
	},
}

// Run checks if the binary was invoked for shell completion.
// If COMP_LINE is set, it outputs completions and exits (never returns).
// Otherwise it returns false and the program continues normally.
func Run() bool {
	if os.Getenv("COMP_LINE") != "" || os.Getenv("COMP_INSTALL") != "" || os.Getenv("COMP_UNINSTALL") != "" {
		command.Complete("anonmanager")
		return true
	}
	return false
}

// Install sets up shell completion for the detected shells.
// Returns nil on success. The caller handles user-facing output.
func Install() error {
	return install.Install("anonmanager")
}

// Uninstall removes shell completion for the detected shells.
// Returns nil on success. The caller handles user-facing output.
func Uninstall() error {
	return install.Uninstall("anonmanager")
}

// IsInstalled reports whether shell completion is already set up.
func IsInstalled() bool {
	return install.IsInstalled("anonmanager")
}
