// Package startup implements the interactive menu shown when anonmanager is
// invoked with no top-level flag: pick an action, optionally name a profile,
// and (for the two enabling actions) override a handful of profile fields
// before handing control back to the same dispatch path a flag would have
// taken.
package startup

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/anonmanager/anonmanager/internal/tui"
)

// Action identifies which of the command surface's mutually exclusive
// operations the menu selected.
type Action string

const (
	ActionExtreme Action = "extreme"
	ActionPartial Action = "partial"
	ActionDisable Action = "disable"
	ActionStatus  Action = "status"
	ActionVerify  Action = "verify"
	ActionNewID   Action = "newid"
	ActionRestore Action = "restore"
	ActionLogs    Action = "logs"
)

var actionChoices = []struct {
	action Action
	label  string
}{
	{ActionExtreme, "Enable extreme mode (namespace + killswitch + DNS lock + MAC rotation)"},
	{ActionPartial, "Enable partial mode (Tor + DNS lock, no killswitch)"},
	{ActionDisable, "Disable and restore the host to its pre-anonymized state"},
	{ActionStatus, "Show current status"},
	{ActionVerify, "Run the ten-point anonymity verification"},
	{ActionNewID, "Request a new Tor identity"},
	{ActionRestore, "Emergency restore (forceful, ignores individual failures)"},
	{ActionLogs, "View recent activity and security log lines"},
}

// Config holds the menu's selections.
type Config struct {
	Action  Action
	Profile string

	// Overrides, applied only when Action is ActionExtreme or ActionPartial
	// and the user opted into the advanced group. An empty/zero value means
	// "use the profile's own default".
	EgressInterfaceOverride string
	WatchdogPeriodOverride  int
	BootstrapTimeoutOverride int

	Canceled bool
}

// enablesAnonymity reports whether cfg.Action is one of the two pipelines
// that take profile overrides.
func (c *Config) enablesAnonymity() bool {
	return c.Action == ActionExtreme || c.Action == ActionPartial
}

// DefaultProfile is the profile name offered when the user accepts the
// menu's default instead of naming one.
const DefaultProfile = "default"

// validatePositiveInt parses s as a positive integer, or accepts an empty
// string as "no override".
func validatePositiveInt(s string) error {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("must be a number")
	}
	if n <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

// runStartupReader runs plain text prompts using bufio.Reader. Used as the
// fallback when plain mode is active (piped, NO_COLOR, non-terminal) and as
// the sole implementation in notui builds.
func runStartupReader() (Config, error) {
	reader := bufio.NewReader(os.Stdin)
	cfg := Config{Profile: DefaultProfile}

	fmt.Println(tui.Separator("anonmanager"))
	fmt.Println()
	for i, c := range actionChoices {
		fmt.Printf("  %d) %s\n", i+1, c.label)
	}
	fmt.Println()
	fmt.Print("  > Choose an action [1-8], or q to quit: ")

	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" || strings.EqualFold(line, "q") {
		cfg.Canceled = true
		return cfg, nil
	}
	idx, err := strconv.Atoi(line)
	if err != nil || idx < 1 || idx > len(actionChoices) {
		return cfg, fmt.Errorf("invalid selection %q", line)
	}
	cfg.Action = actionChoices[idx-1].action

	fmt.Printf("  > Profile [%s]: ", DefaultProfile)
	profileLine, _ := reader.ReadString('\n')
	profileLine = strings.TrimSpace(profileLine)
	if profileLine != "" {
		cfg.Profile = profileLine
	}

	if !cfg.enablesAnonymity() {
		return cfg, nil
	}

	fmt.Print("  > Override egress interface? (blank to skip): ")
	iface, _ := reader.ReadString('\n')
	cfg.EgressInterfaceOverride = strings.TrimSpace(iface)

	fmt.Print("  > Override watchdog period in seconds? (blank to skip): ")
	periodLine, _ := reader.ReadString('\n')
	periodLine = strings.TrimSpace(periodLine)
	if periodLine != "" {
		if n, err := strconv.Atoi(periodLine); err == nil && n > 0 {
			cfg.WatchdogPeriodOverride = n
		}
	}

	fmt.Print("  > Override bootstrap timeout in seconds? (blank to skip): ")
	timeoutLine, _ := reader.ReadString('\n')
	timeoutLine = strings.TrimSpace(timeoutLine)
	if timeoutLine != "" {
		if n, err := strconv.Atoi(timeoutLine); err == nil && n > 0 {
			cfg.BootstrapTimeoutOverride = n
		}
	}

	return cfg, nil
}
