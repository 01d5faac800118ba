//go:build !notui

package startup

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/anonmanager/anonmanager/internal/tui"
	"github.com/anonmanager/anonmanager/internal/tui/banner"
)

// RunStartup runs the interactive menu, using huh forms when a TTY with
// color support is attached and a plain bufio.Reader prompt sequence
// otherwise.
func RunStartup() (Config, error) {
	if tui.IsPlainMode() {
		return runStartupReader()
	}
	return runStartupForm()
}

// runStartupForm runs the interactive huh form-based action menu.
func runStartupForm() (Config, error) {
	cfg := Config{Profile: DefaultProfile}

	fmt.Println()
	banner.PrintBanner("")
	fmt.Println()

	var action = string(ActionStatus)
	var profile = DefaultProfile
	var wantOverrides bool
	var egressOverride string
	var periodStr string
	var timeoutStr string

	actionOptions := make([]huh.Option[string], 0, len(actionChoices))
	for _, c := range actionChoices {
		actionOptions = append(actionOptions, huh.NewOption(c.label, string(c.action)))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("anonmanager").
				Description("Choose an action").
				Options(actionOptions...).
				Value(&action),
			huh.NewInput().
				Title("Profile").
				Description("Named profile to use").
				Placeholder(DefaultProfile).
				Value(&profile),
		),

		huh.NewGroup(
			huh.NewConfirm().
				Title("Override profile settings for this run?").
				Value(&wantOverrides),
		).WithHideFunc(func() bool {
			return action != string(ActionExtreme) && action != string(ActionPartial)
		}),

		huh.NewGroup(
			huh.NewInput().
				Title("Egress interface").
				Description("Blank keeps the profile's default").
				Value(&egressOverride),
			huh.NewInput().
				Title("Watchdog period (seconds)").
				Description("Blank keeps the profile's default").
				Value(&periodStr).
				Validate(validatePositiveInt),
			huh.NewInput().
				Title("Bootstrap timeout (seconds)").
				Description("Blank keeps the profile's default").
				Value(&timeoutStr).
				Validate(validatePositiveInt),
		).WithHideFunc(func() bool {
			return !wantOverrides || (action != string(ActionExtreme) && action != string(ActionPartial))
		}),
	).WithTheme(anonTheme())

	err := form.Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			cfg.Canceled = true
			return cfg, nil
		}
		return cfg, fmt.Errorf("startup form error: %w", err)
	}

	cfg.Action = Action(action)
	if profile != "" {
		cfg.Profile = profile
	}
	if wantOverrides {
		cfg.EgressInterfaceOverride = egressOverride
		if n, err := parsePositiveInt(periodStr); err == nil {
			cfg.WatchdogPeriodOverride = n
		}
		if n, err := parsePositiveInt(timeoutStr); err == nil {
			cfg.BootstrapTimeoutOverride = n
		}
	}

	return cfg, nil
}

func parsePositiveInt(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty")
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be positive")
	}
	return n, nil
}

// anonTheme returns a huh theme using anonmanager's color palette.
func anonTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Base = t.Focused.Base.BorderForeground(tui.ColorPrimary)
	t.Focused.Card = t.Focused.Base
	t.Focused.Title = t.Focused.Title.Foreground(tui.ColorPrimary).Bold(true)
	t.Focused.NoteTitle = t.Focused.NoteTitle.Foreground(tui.ColorPrimary).Bold(true).MarginBottom(1)
	t.Focused.Description = t.Focused.Description.Foreground(tui.ColorMuted)
	t.Focused.ErrorIndicator = t.Focused.ErrorIndicator.Foreground(tui.ColorError)
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(tui.ColorError)
	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(tui.ColorAccent).SetString(tui.IconCheck + " ")
	t.Focused.NextIndicator = t.Focused.NextIndicator.Foreground(tui.ColorAccent)
	t.Focused.PrevIndicator = t.Focused.PrevIndicator.Foreground(tui.ColorAccent)
	t.Focused.Option = t.Focused.Option.Foreground(lipgloss.AdaptiveColor{Light: "235", Dark: "252"})
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(tui.ColorSuccess)
	t.Focused.SelectedPrefix = lipgloss.NewStyle().Foreground(tui.ColorSuccess).SetString(tui.IconCheck + " ")
	t.Focused.UnselectedPrefix = lipgloss.NewStyle().Foreground(tui.ColorMuted).SetString(tui.IconCircle + " ")
	t.Focused.FocusedButton = t.Focused.FocusedButton.Foreground(lipgloss.AdaptiveColor{Light: "#FFF5E0", Dark: "#1A1410"}).Background(tui.ColorAccent).Bold(true)
	t.Focused.BlurredButton = t.Focused.BlurredButton.Foreground(lipgloss.AdaptiveColor{Light: "235", Dark: "252"}).Background(lipgloss.AdaptiveColor{Light: "252", Dark: "237"})
	t.Focused.Next = t.Focused.FocusedButton

	t.Focused.TextInput.Cursor = t.Focused.TextInput.Cursor.Foreground(tui.ColorSuccess)
	t.Focused.TextInput.Placeholder = t.Focused.TextInput.Placeholder.Foreground(tui.ColorMuted)
	t.Focused.TextInput.Prompt = t.Focused.TextInput.Prompt.Foreground(tui.ColorAccent)

	t.Blurred = t.Focused
	t.Blurred.Base = t.Focused.Base.BorderStyle(lipgloss.HiddenBorder())
	t.Blurred.Card = t.Blurred.Base
	t.Blurred.NextIndicator = lipgloss.NewStyle()
	t.Blurred.PrevIndicator = lipgloss.NewStyle()

	t.Group.Title = t.Focused.Title
	t.Group.Description = t.Focused.Description

	return t
}
