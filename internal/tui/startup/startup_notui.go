//go:build notui

package startup

import "fmt"

// RunStartup runs the action menu prompts (plain text, no TUI).
func RunStartup() (Config, error) {
	fmt.Println()
	fmt.Println("anonmanager")
	fmt.Println()
	return runStartupReader()
}
