package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/anonmanager/anonmanager/internal/cli"
	"github.com/anonmanager/anonmanager/internal/completion"
	"github.com/anonmanager/anonmanager/internal/earlyinit"
)

// Version is set at build time via ldflags: -X main.Version=x.y.z
var Version = "1.0.0"

func main() {
	// Shell completion exits immediately when COMP_LINE/COMP_INSTALL/
	// COMP_UNINSTALL is set; it never reaches flag parsing or the TUI.
	if completion.Run() {
		return
	}

	opts, err := cli.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "anonmanager: %v\n\n", err)
		fmt.Fprint(os.Stderr, cli.Usage())
		os.Exit(2)
	}

	// earlyinit already forced TERM=dumb before bubbletea's own init() ran,
	// to suppress terminal escape-sequence probes on a detached TTY; restore
	// the operator's real TERM now that the TUI's color-profile detection has
	// already run against the neutered value.
	if earlyinit.Foreground {
		os.Setenv("TERM", earlyinit.OrigTERM)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(cli.Run(ctx, opts, Version))
}
