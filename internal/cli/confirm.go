//go:build !notui

package cli

import (
	"github.com/charmbracelet/huh"

	"github.com/anonmanager/anonmanager/internal/tui"
)

// confirm asks title as a yes/no question, using a huh confirm prompt when
// attached to a color terminal and a plain y/N read otherwise. A prompt
// error (e.g. the user pressed ctrl+c) is treated as "no".
func confirm(title string) bool {
	if tui.IsPlainMode() {
		return plainConfirm(title)
	}
	ok := false
	if err := huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(&ok).Run(); err != nil {
		return false
	}
	return ok
}
